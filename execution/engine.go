package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantfall/polyflow/aggregate"
	"github.com/quantfall/polyflow/metrics"
	"github.com/quantfall/polyflow/signal"
	"github.com/quantfall/polyflow/venue"
)

// Config bounds the engine's venue interaction.
type Config struct {
	// ImpactTolerance is the max price impact a leg may cause, as a
	// fraction of the best level.
	ImpactTolerance float64 // 0.01
	// MinDepth is the minimum shares available at acceptable impact; a
	// thinner book abandons the decision.
	MinDepth float64
	// LegTimeout caps each venue round-trip.
	LegTimeout time.Duration
	// Unwind retry schedule.
	UnwindMaxAttempts    int
	UnwindInitialBackoff time.Duration
	UnwindMaxBackoff     time.Duration
}

func (c *Config) defaults() {
	if c.ImpactTolerance <= 0 {
		c.ImpactTolerance = 0.01
	}
	if c.MinDepth <= 0 {
		c.MinDepth = 10
	}
	if c.LegTimeout <= 0 {
		c.LegTimeout = 2 * time.Second
	}
	if c.UnwindMaxAttempts <= 0 {
		c.UnwindMaxAttempts = 5
	}
	if c.UnwindInitialBackoff <= 0 {
		c.UnwindInitialBackoff = 100 * time.Millisecond
	}
	if c.UnwindMaxBackoff <= 0 {
		c.UnwindMaxBackoff = 2 * time.Second
	}
}

// MarketHolder blocks further decisions on a market after an operational
// fault. Satisfied by the risk manager.
type MarketHolder interface {
	HoldMarket(marketID, reason string)
}

// Engine executes decisions one at a time. Concurrency across markets is
// the caller's concern; per-market serialization is enforced upstream by
// the risk manager's in-flight lock.
type Engine struct {
	cfg    Config
	venue  venue.Venue
	holder MarketHolder
	alerts chan<- Alert
	log    zerolog.Logger
}

func NewEngine(cfg Config, v venue.Venue, holder MarketHolder, alerts chan<- Alert, log zerolog.Logger) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg, venue: v, holder: holder, alerts: alerts, log: log}
}

// Execute drives d to a terminal Result. Cancellation is honored only until
// the first leg is submitted; once capital may be at risk the protocol runs
// to completion regardless of ctx.
func (e *Engine) Execute(ctx context.Context, d aggregate.Decision) Result {
	if err := ctx.Err(); err != nil {
		return e.abandon(d, "cancelled before submission")
	}

	d, ok := e.clampToDepth(ctx, d)
	if !ok {
		return e.abandon(d, "insufficient depth at acceptable impact")
	}

	if d.Paired() {
		return e.executePair(ctx, d)
	}
	return e.executeSingle(ctx, d)
}

func (e *Engine) executeSingle(ctx context.Context, d aggregate.Decision) Result {
	leg := d.Legs[0]
	fill, filled := e.submitLeg(ctx, leg, d.Shares)
	if !filled {
		return e.abandon(d, "leg unfilled")
	}
	return Result{
		Decision: d,
		Status:   Complete,
		Legs:     []LegFill{fill},
		Retained: fill.Cost(),
		At:       time.Now(),
	}
}

// executePair emulates atomicity: leg A commits, leg B confirms, and a
// failed leg B is unwound with bounded retries.
func (e *Engine) executePair(ctx context.Context, d aggregate.Decision) Result {
	legA, legB := d.Legs[0], d.Legs[1]

	fillA, filledA := e.submitLeg(ctx, legA, d.Shares)
	if !filledA {
		return e.abandon(d, "leg A unfilled")
	}

	// Leg A is the commit point: no cancellation from here on.
	ctx = context.WithoutCancel(ctx)

	fillB, filledB := e.submitLeg(ctx, legB, d.Shares)
	if filledB {
		res := Result{
			Decision:     d,
			Status:       Complete,
			Legs:         []LegFill{fillA, fillB},
			RealizedCost: fillA.Price + fillB.Price,
			Retained:     fillA.Cost() + fillB.Cost(),
			At:           time.Now(),
		}
		if res.RealizedCost >= d.Payout {
			// Settled trade, nothing to roll back; flag for review.
			e.log.Error().
				Str("decision", d.ID).
				Float64("realized_cost", res.RealizedCost).
				Float64("payout", d.Payout).
				Msg("pricing anomaly: realized cost at or above guaranteed payout")
			res.Reason = "pricing anomaly"
		}
		return res
	}

	return e.unwind(ctx, d, fillA)
}

// unwind flattens the leg-A position after leg B failed. Attempts are
// retried with exponential backoff; exhaustion leaves the position open,
// holds the market, and raises an alert.
func (e *Engine) unwind(ctx context.Context, d aggregate.Decision, fillA LegFill) Result {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.UnwindInitialBackoff
	bo.MaxInterval = e.cfg.UnwindMaxBackoff

	// Zero limit on the offsetting side takes whatever the book offers;
	// flattening beats price here.
	offset := signal.Signal{
		MarketID: d.MarketID,
		TokenID:  fillA.TokenID,
		Action:   fillA.Side.Opposite(),
	}

	for attempt := 1; attempt <= e.cfg.UnwindMaxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(bo.NextBackOff())
		}

		fill, filled := e.submitLeg(ctx, offset, fillA.Size)
		if filled {
			metrics.UnwindsTotal.WithLabelValues("unwound").Inc()
			e.log.Warn().
				Str("decision", d.ID).
				Int("attempts", attempt).
				Float64("slippage", fillA.Price-fill.Price).
				Msg("leg A unwound after leg B failure")
			return Result{
				Decision: d,
				Status:   Unwound,
				Legs:     []LegFill{fillA, fill},
				Retained: 0,
				Realized: -fillA.Cost() - fill.Cost(), // proceeds minus entry
				Reason:   fmt.Sprintf("leg B unfilled, unwound in %d attempts", attempt),
				At:       time.Now(),
			}
		}
	}

	metrics.UnwindsTotal.WithLabelValues("failed").Inc()
	res := Result{
		Decision: d,
		Status:   UnwoundFailed,
		Legs:     []LegFill{fillA},
		Retained: fillA.Cost(),
		Reason:   fmt.Sprintf("unwind exhausted after %d attempts", e.cfg.UnwindMaxAttempts),
		At:       time.Now(),
	}
	e.holder.HoldMarket(d.MarketID, res.Reason)
	e.log.Error().
		Str("decision", d.ID).
		Str("market", d.MarketID).
		Float64("naked_exposure", fillA.Cost()).
		Msg("unwind exhausted, position left open")
	if e.alerts != nil {
		select {
		case e.alerts <- Alert{MarketID: d.MarketID, Msg: res.Reason, Result: res, At: res.At}:
		default:
			e.log.Error().Msg("alert channel full, dropping unwind-failed alert")
		}
	}
	return res
}

// submitLeg sends one fill-or-kill order and resolves ambiguity: a timeout
// with no acknowledgment is settled by querying the same client ID before
// being treated as unfilled.
func (e *Engine) submitLeg(ctx context.Context, leg signal.Signal, size float64) (LegFill, bool) {
	req := venue.OrderRequest{
		ClientID: uuid.NewString(),
		MarketID: leg.MarketID,
		TokenID:  leg.TokenID,
		Side:     leg.Action,
		Price:    leg.Price,
		Size:     size,
		Type:     venue.FOK,
	}

	legCtx, cancel := context.WithTimeout(ctx, e.cfg.LegTimeout)
	res, err := e.venue.SubmitOrder(legCtx, req)
	cancel()

	if err != nil {
		// Ambiguous: the order may have reached the venue. The client ID
		// lets us ask without risking a duplicate.
		res, err = e.queryStatus(req.ClientID)
		if err != nil {
			if !errors.Is(err, venue.ErrUnknownOrder) {
				e.log.Warn().Err(err).Str("client_id", req.ClientID).Msg("leg status unresolved, treating as unfilled")
			}
			metrics.OrdersTotal.WithLabelValues(string(req.Side), "unknown").Inc()
			return LegFill{}, false
		}
	}

	metrics.OrdersTotal.WithLabelValues(string(req.Side), string(res.Status)).Inc()
	if res.Status != venue.Filled {
		return LegFill{}, false
	}
	return LegFill{
		ClientID: req.ClientID,
		OrderID:  res.OrderID,
		TokenID:  req.TokenID,
		Side:     req.Side,
		Price:    res.FillPrice,
		Size:     res.FilledSize,
	}, true
}

func (e *Engine) queryStatus(clientID string) (venue.OrderResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.LegTimeout)
	defer cancel()
	return e.venue.OrderStatus(ctx, clientID)
}

// clampToDepth walks each leg's book and shrinks the decision to the size
// available within the impact tolerance, keeping paired legs equal. Updates
// each leg's limit price to the worst level it may sweep.
func (e *Engine) clampToDepth(ctx context.Context, d aggregate.Decision) (aggregate.Decision, bool) {
	maxShares := d.Shares
	worst := make([]float64, len(d.Legs))

	for i, leg := range d.Legs {
		bookCtx, cancel := context.WithTimeout(ctx, e.cfg.LegTimeout)
		book, err := e.venue.Book(bookCtx, leg.TokenID)
		cancel()
		if err != nil {
			e.log.Debug().Err(err).Str("token", leg.TokenID).Msg("no book for depth check")
			return d, false
		}

		depth, w := book.DepthWithinImpact(leg.Action, e.cfg.ImpactTolerance)
		if depth < e.cfg.MinDepth {
			return d, false
		}
		if depth < maxShares {
			maxShares = depth
		}
		worst[i] = w
	}

	// A pair must still clear the payout at the clamped limit prices.
	if d.Paired() && worst[0]+worst[1] >= d.Payout {
		return d, false
	}

	if maxShares < d.Shares {
		d = d.Scale(maxShares / d.Shares)
	}
	for i := range d.Legs {
		d.Legs[i].Price = worst[i]
	}
	return d, true
}

func (e *Engine) abandon(d aggregate.Decision, reason string) Result {
	e.log.Debug().Str("decision", d.ID).Str("reason", reason).Msg("decision abandoned")
	return Result{
		Decision: d,
		Status:   Abandoned,
		Reason:   reason,
		At:       time.Now(),
	}
}
