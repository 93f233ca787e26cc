package aggregate

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfall/polyflow/market"
	"github.com/quantfall/polyflow/metrics"
	"github.com/quantfall/polyflow/signal"
)

// Config tunes coalescing and dispatch-latency behaviour.
type Config struct {
	// Window is the coalescing interval. Signals arriving within one
	// window for the same market are merged before ranking.
	Window time.Duration

	// ImmediateBudget bounds how stale an immediate-urgency signal may be
	// at dispatch. Past the budget the signal is dropped as expired
	// rather than executed against a stale price.
	ImmediateBudget time.Duration
}

// Aggregator collects signals from all strategy modules, deduplicates and
// pairs competing intents per market, and emits decisions in rank order.
// It holds no capital state.
type Aggregator struct {
	cfg Config
	log zerolog.Logger
	now func() time.Time
}

func New(cfg Config, log zerolog.Logger) *Aggregator {
	if cfg.Window <= 0 {
		cfg.Window = 500 * time.Millisecond
	}
	if cfg.ImmediateBudget <= 0 {
		cfg.ImmediateBudget = 150 * time.Millisecond
	}
	return &Aggregator{cfg: cfg, log: log, now: time.Now}
}

// Run consumes signals until ctx is cancelled or in closes, emitting ranked
// decisions on out. An immediate-urgency signal dispatches its market early;
// other markets keep coalescing until the window tick.
func (a *Aggregator) Run(ctx context.Context, in <-chan signal.Signal, out chan<- Decision) error {
	ticker := time.NewTicker(a.cfg.Window)
	defer ticker.Stop()

	var pending []signal.Signal

	emit := func(sigs []signal.Signal) error {
		if len(sigs) == 0 {
			return nil
		}
		decisions := BuildWindow(sigs)
		now := a.now()
		for _, d := range decisions {
			if d.Urgency == signal.Immediate && now.Sub(d.FirstSignalAt) > a.cfg.ImmediateBudget {
				metrics.SignalsDroppedTotal.WithLabelValues("expired").Inc()
				a.log.Warn().Str("market", d.MarketID).Dur("age", now.Sub(d.FirstSignalAt)).Msg("immediate decision expired before dispatch")
				continue
			}
			select {
			case out <- d:
				kind := "single"
				if d.Paired() {
					kind = "pair"
				}
				metrics.DecisionsTotal.WithLabelValues(kind).Inc()
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	flush := func() error {
		batch := pending
		pending = nil
		return emit(batch)
	}

	// flushImmediate dispatches only the markets carrying an immediate
	// signal; everything else keeps coalescing until the window ticks.
	flushImmediate := func() error {
		urgent := make(map[string]bool)
		for _, s := range pending {
			if s.Urgency == signal.Immediate {
				urgent[s.MarketID] = true
			}
		}
		var batch, rest []signal.Signal
		for _, s := range pending {
			if urgent[s.MarketID] {
				batch = append(batch, s)
			} else {
				rest = append(rest, s)
			}
		}
		pending = rest
		return emit(batch)
	}

	accept := func(s signal.Signal) {
		if err := s.Validate(); err != nil {
			metrics.SignalsDroppedTotal.WithLabelValues("invalid").Inc()
			a.log.Warn().Err(err).Str("module", s.Module).Msg("dropping malformed signal")
			return
		}
		metrics.SignalsTotal.WithLabelValues(s.Module).Inc()
		pending = append(pending, s)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case s, ok := <-in:
			if !ok {
				return flush()
			}
			accept(s)
			if s.Urgency != signal.Immediate {
				continue
			}
			// Drain whatever is already buffered so both legs of a
			// paired opportunity land in the same window.
		drain:
			for {
				select {
				case s2, ok := <-in:
					if !ok {
						break drain
					}
					accept(s2)
				default:
					break drain
				}
			}
			if err := flushImmediate(); err != nil {
				return err
			}

		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// BuildWindow converts one window of signals into ranked decisions. The
// function is pure: identical input (including timestamps) yields an
// identical decision sequence.
func BuildWindow(sigs []signal.Signal) []Decision {
	byMarket := make(map[string][]signal.Signal)
	var order []string
	for _, s := range sigs {
		if _, seen := byMarket[s.MarketID]; !seen {
			order = append(order, s.MarketID)
		}
		byMarket[s.MarketID] = append(byMarket[s.MarketID], s)
	}
	sort.Strings(order)

	var out []Decision
	for _, mkt := range order {
		if d, ok := buildMarket(byMarket[mkt]); ok {
			out = append(out, d)
		}
	}
	Rank(out)
	return out
}

// buildMarket collapses one market's signals into at most one decision.
func buildMarket(sigs []signal.Signal) (Decision, bool) {
	merged := mergeIntents(sigs)

	// Two buy legs on distinct tokens of a binary market form an
	// arbitrage pair when the combined price is under the 1.00 payout.
	if len(merged) == 2 &&
		merged[0].Action == market.Buy && merged[1].Action == market.Buy &&
		merged[0].TokenID != merged[1].TokenID &&
		merged[0].Price+merged[1].Price < 1.0 {
		return pairDecision(merged[0], merged[1]), true
	}

	// Self-competing intents: keep the highest expected value, drop the
	// rest.
	best := merged[0]
	for _, s := range merged[1:] {
		metrics.SignalsDroppedTotal.WithLabelValues("self_competing").Inc()
		if s.ExpectedValue > best.ExpectedValue {
			best = s
		}
	}
	return singleDecision(best), true
}

// mergeIntents combines signals sharing a token and direction: sizes add,
// confidence takes the maximum, expected values add, and the limit price is
// size-weighted. Output is sorted by token then action for determinism.
func mergeIntents(sigs []signal.Signal) []signal.Signal {
	type key struct {
		token  string
		action market.Side
	}
	groups := make(map[key]signal.Signal)
	for _, s := range sigs {
		k := key{s.TokenID, s.Action}
		cur, ok := groups[k]
		if !ok {
			groups[k] = s
			continue
		}
		total := cur.Size + s.Size
		if total > 0 {
			cur.Price = (cur.Price*cur.Size + s.Price*s.Size) / total
		}
		cur.Size = total
		if s.Confidence > cur.Confidence {
			cur.Confidence = s.Confidence
		}
		cur.ExpectedValue += s.ExpectedValue
		if s.Urgency < cur.Urgency {
			cur.Urgency = s.Urgency
		}
		if s.CreatedAt.Before(cur.CreatedAt) || (s.CreatedAt.Equal(cur.CreatedAt) && s.ID < cur.ID) {
			cur.CreatedAt = s.CreatedAt
			cur.ID = s.ID
		}
		groups[k] = cur
	}

	out := make([]signal.Signal, 0, len(groups))
	for _, s := range groups {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TokenID != out[j].TokenID {
			return out[i].TokenID < out[j].TokenID
		}
		return out[i].Action < out[j].Action
	})
	return out
}

func singleDecision(s signal.Signal) Decision {
	return Decision{
		ID:            s.ID,
		MarketID:      s.MarketID,
		Key:           s.MarketID + "|" + string(s.Action),
		Legs:          []signal.Signal{s},
		NetEV:         s.ExpectedValue,
		Shares:        s.Size,
		Urgency:       s.Urgency,
		FirstSignalAt: s.CreatedAt,
	}
}

func pairDecision(a, b signal.Signal) Decision {
	if b.CreatedAt.Before(a.CreatedAt) || (b.CreatedAt.Equal(a.CreatedAt) && b.ID < a.ID) {
		a, b = b, a
	}
	shares := a.Size
	if b.Size < shares {
		shares = b.Size
	}
	cost := a.Price + b.Price
	urgency := a.Urgency
	if b.Urgency < urgency {
		urgency = b.Urgency
	}
	return Decision{
		ID:            a.ID,
		MarketID:      a.MarketID,
		Key:           a.MarketID + "|PAIR",
		Legs:          []signal.Signal{a, b},
		NetEV:         (1.0 - cost) * shares,
		NetCost:       cost,
		Payout:        1.0,
		Shares:        shares,
		Urgency:       urgency,
		FirstSignalAt: a.CreatedAt,
	}
}
