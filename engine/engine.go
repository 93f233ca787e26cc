// Package engine wires the pipeline together: market scan, strategy
// producers, signal aggregation, risk filtering, and execution.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/quantfall/polyflow/aggregate"
	"github.com/quantfall/polyflow/execution"
	"github.com/quantfall/polyflow/journal"
	"github.com/quantfall/polyflow/market"
	"github.com/quantfall/polyflow/risk"
	"github.com/quantfall/polyflow/signal"
	"github.com/quantfall/polyflow/strategies"
)

// Options configures the orchestrator.
type Options struct {
	ScanInterval time.Duration
	MinVolume    float64
	// Parallelism bounds concurrent decision execution across markets.
	// Within one market, decisions always run one at a time.
	Parallelism int
	// SignalBuffer sizes the producer-to-aggregator channel.
	SignalBuffer int
}

func (o *Options) defaults() {
	if o.ScanInterval <= 0 {
		o.ScanInterval = 5 * time.Second
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 4
	}
	if o.SignalBuffer <= 0 {
		o.SignalBuffer = 256
	}
}

// Summary is the session's running tally.
type Summary struct {
	Scans     int
	Signals   int
	Decisions int
	Approved  int
	Rejected  int
	Complete  int
	Abandoned int
	Unwound   int
	Failed    int
	Skipped   int // markets busy at dispatch time
	Realized  float64
}

// Engine runs the full decision pipeline until its context ends.
type Engine struct {
	opts      Options
	source    market.Source
	producers []strategies.Producer
	agg       *aggregate.Aggregator
	riskMgr   *risk.Manager
	exec      *execution.Engine
	journal   journal.Journal
	alerts    chan execution.Alert
	log       zerolog.Logger

	mu  sync.Mutex
	sum Summary
}

// New assembles the pipeline. The alerts channel must be the same one the
// execution engine publishes to.
func New(
	opts Options,
	source market.Source,
	producers []strategies.Producer,
	agg *aggregate.Aggregator,
	riskMgr *risk.Manager,
	exec *execution.Engine,
	alerts chan execution.Alert,
	j journal.Journal,
	log zerolog.Logger,
) *Engine {
	opts.defaults()
	return &Engine{
		opts:      opts,
		source:    source,
		producers: producers,
		agg:       agg,
		riskMgr:   riskMgr,
		exec:      exec,
		journal:   j,
		alerts:    alerts,
		log:       log,
	}
}

// Alerts exposes high-severity operational events (unwind exhaustion).
func (e *Engine) Alerts() <-chan execution.Alert { return e.alerts }

// Run blocks until ctx is cancelled. The scan loop, aggregator, and
// dispatcher run concurrently; everything drains cleanly on shutdown.
func (e *Engine) Run(ctx context.Context) error {
	signals := make(chan signal.Signal, e.opts.SignalBuffer)
	decisions := make(chan aggregate.Decision, e.opts.Parallelism*4)

	var wg conc.WaitGroup

	wg.Go(func() {
		e.scanLoop(ctx, signals)
		close(signals)
	})

	wg.Go(func() {
		// Run returns once signals closes or ctx ends.
		_ = e.agg.Run(ctx, signals, decisions)
		close(decisions)
	})

	wg.Go(func() {
		e.dispatch(ctx, decisions)
	})

	wg.Wait()

	sum := e.Summary()
	e.log.Info().
		Int("scans", sum.Scans).
		Int("signals", sum.Signals).
		Int("decisions", sum.Decisions).
		Int("complete", sum.Complete).
		Int("unwound", sum.Unwound).
		Int("failed", sum.Failed).
		Float64("realized", sum.Realized).
		Msg("session finished")
	return ctx.Err()
}

// scanLoop refreshes the market universe on a fixed interval and fans each
// snapshot out to every strategy producer concurrently.
func (e *Engine) scanLoop(ctx context.Context, signals chan<- signal.Signal) {
	ticker := time.NewTicker(e.opts.ScanInterval)
	defer ticker.Stop()

	for {
		e.scanOnce(ctx, signals)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) scanOnce(ctx context.Context, signals chan<- signal.Signal) {
	markets, err := e.source.Markets(e.opts.MinVolume)
	if err != nil {
		e.log.Warn().Err(err).Msg("market scan failed")
		return
	}
	e.riskMgr.Observe(markets)
	e.count(func(s *Summary) { s.Scans++ })

	var wg conc.WaitGroup
	for _, p := range e.producers {
		p := p
		wg.Go(func() {
			sigs, err := p.Produce(ctx, markets)
			if err != nil {
				e.log.Warn().Err(err).Str("module", p.Name()).Msg("producer failed")
				return
			}
			for _, s := range sigs {
				select {
				case signals <- s:
					e.count(func(sum *Summary) { sum.Signals++ })
				case <-ctx.Done():
					return
				}
			}
		})
	}
	wg.Wait()
}

// dispatch executes ranked decisions with bounded cross-market parallelism.
// A market with a decision already in flight is skipped; its opportunity
// re-emerges on the next scan if still live.
func (e *Engine) dispatch(ctx context.Context, decisions <-chan aggregate.Decision) {
	p := pool.New().WithMaxGoroutines(e.opts.Parallelism)
	defer p.Wait()

	for d := range decisions {
		d := d
		e.count(func(s *Summary) { s.Decisions++ })

		if !e.riskMgr.TryAcquire(d.MarketID) {
			e.count(func(s *Summary) { s.Skipped++ })
			e.log.Debug().Str("market", d.MarketID).Msg("market busy, dropping decision")
			continue
		}

		p.Go(func() {
			defer e.riskMgr.Release(d.MarketID)
			e.process(ctx, d)
		})
	}
}

func (e *Engine) process(ctx context.Context, d aggregate.Decision) {
	approved, rej := e.riskMgr.Evaluate(d)
	if rej != nil {
		e.count(func(s *Summary) { s.Rejected++ })
		e.record(journal.ResultRecord{
			DecisionID:  d.ID,
			MarketID:    d.MarketID,
			Kind:        kind(d),
			Status:      "rejected",
			Shares:      d.Shares,
			NetCost:     d.NetCost,
			NetEV:       d.NetEV,
			Reason:      rej.Error(),
			SignalTime:  d.FirstSignalAt,
			SettledTime: time.Now(),
		})
		return
	}
	e.count(func(s *Summary) { s.Approved++ })

	res := e.exec.Execute(ctx, approved)
	var held []risk.Holding
	if res.Retained > 0 {
		for _, l := range res.Legs {
			if l.Side == market.Buy {
				held = append(held, risk.Holding{TokenID: l.TokenID, Size: l.Size, Basis: l.Cost()})
			}
		}
	}
	e.riskMgr.Record(approved, res.Retained, res.Realized, held...)

	e.count(func(s *Summary) {
		switch res.Status {
		case execution.Complete:
			s.Complete++
		case execution.Abandoned:
			s.Abandoned++
		case execution.Unwound:
			s.Unwound++
		case execution.UnwoundFailed:
			s.Failed++
		}
		s.Realized += res.Realized
	})

	e.record(journal.ResultRecord{
		DecisionID:   res.Decision.ID,
		MarketID:     res.Decision.MarketID,
		Kind:         kind(res.Decision),
		Status:       string(res.Status),
		Shares:       res.Decision.Shares,
		NetCost:      res.Decision.NetCost,
		RealizedCost: res.RealizedCost,
		NetEV:        res.Decision.NetEV,
		Retained:     res.Retained,
		Realized:     res.Realized,
		Reason:       res.Reason,
		SignalTime:   res.Decision.FirstSignalAt,
		SettledTime:  res.At,
	})

	snap := e.riskMgr.Exposure()
	if err := e.journal.RecordExposure(journal.ExposureSnapshot{
		Time:          snap.At,
		Aggregate:     snap.Aggregate,
		DayRealized:   snap.DayRealized,
		TotalRealized: snap.TotalRealized,
		Drawdown:      snap.Drawdown,
		Breaker:       e.riskMgr.Breaker().String(),
	}); err != nil {
		e.log.Warn().Err(err).Msg("exposure journal write failed")
	}
}

func (e *Engine) record(rec journal.ResultRecord) {
	if err := e.journal.RecordResult(rec); err != nil {
		e.log.Warn().Err(err).Str("decision", rec.DecisionID).Msg("result journal write failed")
	}
}

func (e *Engine) count(fn func(*Summary)) {
	e.mu.Lock()
	fn(&e.sum)
	e.mu.Unlock()
}

// Summary returns a copy of the session counters.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sum
}

func kind(d aggregate.Decision) string {
	if d.Paired() {
		return "pair"
	}
	return "single"
}

// HoldMarket and ClearHold pass through to the risk manager for the admin
// surface.
func (e *Engine) HoldMarket(marketID, reason string) { e.riskMgr.HoldMarket(marketID, reason) }
func (e *Engine) ClearHold(marketID string)          { e.riskMgr.ClearHold(marketID) }
