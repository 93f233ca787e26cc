package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfall/polyflow/aggregate"
	"github.com/quantfall/polyflow/market"
	"github.com/quantfall/polyflow/metrics"
)

// Code identifies why a decision was rejected.
type Code string

const (
	CodeMarketHold     Code = "MARKET_HOLD"
	CodeMarketCap      Code = "MARKET_CAP_EXHAUSTED"
	CodeAggregateCap   Code = "AGGREGATE_CAP"
	CodeGroupCap       Code = "GROUP_CAP"
	CodeResolutionRisk Code = "RESOLUTION_RISK"
	CodeDailyHalt      Code = "DAILY_HALT"
	CodeCriticalHalt   Code = "CRITICAL_HALT"
	CodeNonPositiveEV  Code = "RESIZED_EV_NON_POSITIVE"
)

// Rejection is the error returned when a decision fails a check. Rejections
// are expected steady-state behaviour, not faults.
type Rejection struct {
	Code Code
	Msg  string
}

func (r *Rejection) Error() string { return fmt.Sprintf("%s: %s", r.Code, r.Msg) }

// Holding is a token position execution left behind, revalued against the
// latest market prices on every scan.
type Holding struct {
	TokenID string
	Size    float64
	Basis   float64 // USD cost of the position
}

// Manager evaluates decisions against the installed Policy and owns the
// exposure ledger. All state behind one mutex; Evaluate and Record are the
// only writers.
type Manager struct {
	mu       sync.Mutex
	policy   Policy
	ledger   *Ledger
	state    BreakerState
	universe map[string]market.Market
	holdings map[string][]Holding
	holds    map[string]string
	inflight map[string]struct{}
	scorer   Scorer
	log      zerolog.Logger
	now      func() time.Time
}

func NewManager(p Policy, scorer Scorer, log zerolog.Logger) *Manager {
	now := time.Now
	return &Manager{
		policy:   p,
		ledger:   NewLedger(p.Bankroll, now()),
		universe: make(map[string]market.Market),
		holdings: make(map[string][]Holding),
		holds:    make(map[string]string),
		inflight: make(map[string]struct{}),
		scorer:   scorer,
		log:      log,
		now:      now,
	}
}

// Observe refreshes the market registry used for correlation-group and
// resolution-risk lookups, then marks retained positions to the new prices.
// Called on every scan cycle.
func (m *Manager) Observe(ms []market.Market) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mk := range ms {
		m.universe[mk.ID] = mk
	}
	m.remark()
}

// remark revalues every retained position against the universe and re-runs
// the drawdown breakers, so a collapsing naked position halts trading
// before its loss is ever realized. Caller holds the lock.
func (m *Manager) remark() {
	if len(m.holdings) == 0 {
		return
	}
	prices := make(map[string]float64, 2*len(m.universe))
	for _, mk := range m.universe {
		prices[mk.YesTokenID] = mk.YesPrice
		prices[mk.NoTokenID] = mk.NoPrice
	}
	for marketID, held := range m.holdings {
		if m.ledger.Market(marketID) == 0 {
			delete(m.holdings, marketID)
			continue
		}
		var value float64
		for _, h := range held {
			if px, ok := prices[h.TokenID]; ok {
				value += px * h.Size
			} else {
				// No quote: carry at cost rather than guess.
				value += h.Basis
			}
		}
		m.ledger.Mark(marketID, value)
	}
	m.ledger.MarkHighWater(m.policy.Bankroll)
	m.evaluateBreakers()
}

// SetPolicy swaps the whole limit set atomically.
func (m *Manager) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.policy = p
	m.mu.Unlock()
	return nil
}

func (m *Manager) Policy() Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

// Evaluate runs the ordered checks against d and either returns an approved
// decision (possibly shrunk to fit headroom, both legs scaled identically)
// or a Rejection. Approval reserves the decision's notional in the ledger;
// the caller must follow up with Record once execution settles.
func (m *Manager) Evaluate(d aggregate.Decision) (aggregate.Decision, *Rejection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDay()

	if reason, held := m.holds[d.MarketID]; held {
		return d, m.reject(CodeMarketHold, "market %s on manual hold: %s", d.MarketID, reason)
	}

	p := m.policy
	notional := d.Notional()

	// 1. Per-market cap shrinks to remaining headroom.
	if head := p.MarketCap() - m.ledger.Market(d.MarketID); notional > head {
		if head <= 0 {
			return d, m.reject(CodeMarketCap, "market %s at cap %.2f", d.MarketID, p.MarketCap())
		}
		d = d.Scale(head / notional)
		notional = head
	}

	// 2. Per-trade cap clamps a single decision regardless of headroom.
	if lim := p.TradeCap(); notional > lim {
		d = d.Scale(lim / notional)
		notional = lim
	}

	if d.NetEV <= 0 {
		return d, m.reject(CodeNonPositiveEV, "decision %s unprofitable after resize", d.ID)
	}

	// 3. Aggregate exposure cap.
	if m.ledger.Aggregate()+notional > p.AggregateCap() {
		return d, m.reject(CodeAggregateCap, "aggregate %.2f + %.2f exceeds cap %.2f",
			m.ledger.Aggregate(), notional, p.AggregateCap())
	}

	// 4. Correlation-group cap.
	mk, known := m.universe[d.MarketID]
	if g := mk.CorrelationGroup; g != "" {
		if m.ledger.Group(g)+notional > p.GroupCap() {
			return d, m.reject(CodeGroupCap, "group %s %.2f + %.2f exceeds cap %.2f",
				g, m.ledger.Group(g), notional, p.GroupCap())
		}
	}

	// 5. Resolution risk, fail closed on a missing score or unknown market.
	score := 1.0
	if known {
		if s, ok := m.scorer.Score(mk); ok {
			score = s
		}
	}
	if score > p.MaxResolutionRisk {
		return d, m.reject(CodeResolutionRisk, "market %s resolution risk %.2f above %.2f",
			d.MarketID, score, p.MaxResolutionRisk)
	}

	// 6. Drawdown circuit breakers.
	switch m.state {
	case DailyHalt:
		return d, m.reject(CodeDailyHalt, "daily loss limit reached, halted until next trading day")
	case CriticalHalt:
		return d, m.reject(CodeCriticalHalt, "max drawdown reached, halted until administrative clear")
	}

	m.ledger.Commit(d.MarketID, mk.CorrelationGroup, notional)
	metrics.ExposureUSD.Set(m.ledger.Aggregate())
	return d, nil
}

// Record settles an approved decision's reservation: retained is the
// exposure execution actually left behind (zero on abandonment or a clean
// unwind), realized is the booked P&L, and held lists the token positions
// behind any retained exposure so Observe can mark them to market. Always
// called, even for zero-exposure outcomes, so the ledger and breakers track
// every result.
func (m *Manager) Record(d aggregate.Decision, retained, realized float64, held ...Holding) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDay()
	group := m.universe[d.MarketID].CorrelationGroup
	m.ledger.Settle(d.MarketID, group, d.Notional(), retained, realized)
	if retained > 0 && len(held) > 0 {
		m.holdings[d.MarketID] = append(m.holdings[d.MarketID], held...)
	}
	m.ledger.MarkHighWater(m.policy.Bankroll)
	metrics.ExposureUSD.Set(m.ledger.Aggregate())
	m.evaluateBreakers()
}

// evaluateBreakers escalates the breaker state from the ledger's current
// P&L picture. Caller holds the lock.
func (m *Manager) evaluateBreakers() {
	prev := m.state
	if m.ledger.Drawdown(m.policy.Bankroll) >= m.policy.MaxDrawdownPct*m.policy.Bankroll {
		m.state = m.state.escalate(CriticalHalt)
	} else if m.ledger.DayRealized() <= -m.policy.DailyLossPct*m.policy.Bankroll {
		m.state = m.state.escalate(DailyHalt)
	}
	if m.state != prev {
		metrics.BreakerState.Set(float64(m.state))
		m.log.Error().
			Stringer("from", prev).
			Stringer("to", m.state).
			Float64("day_realized", m.ledger.DayRealized()).
			Float64("drawdown", m.ledger.Drawdown(m.policy.Bankroll)).
			Msg("circuit breaker tripped")
	}
}

// rollDay clears a daily halt at the UTC day boundary. Critical halts
// survive the boundary. Caller holds the lock.
func (m *Manager) rollDay() {
	if m.ledger.RollDay(m.now()) && m.state == DailyHalt {
		m.state = Normal
		metrics.BreakerState.Set(float64(Normal))
		m.log.Info().Msg("trading day rolled, daily halt cleared")
	}
}

func (m *Manager) reject(code Code, format string, args ...any) *Rejection {
	metrics.RiskRejectsTotal.WithLabelValues(string(code)).Inc()
	r := &Rejection{Code: code, Msg: fmt.Sprintf(format, args...)}
	m.log.Debug().Str("code", string(code)).Msg(r.Msg)
	return r
}

// Breaker returns the current circuit breaker state.
func (m *Manager) Breaker() BreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ClearCritical is the administrative reset out of critical-halt. It is the
// only way back to normal from that state.
func (m *Manager) ClearCritical() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == CriticalHalt {
		m.state = Normal
		metrics.BreakerState.Set(float64(Normal))
		m.log.Warn().Msg("critical halt cleared by administrator")
	}
}

// ResetLedger wipes all exposure and P&L state. Administrative use only.
func (m *Manager) ResetLedger() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger.Reset(m.policy.Bankroll, m.now())
	m.holdings = make(map[string][]Holding)
	metrics.ExposureUSD.Set(0)
	m.log.Warn().Msg("exposure ledger reset")
}

// HoldMarket blocks all new decisions for a market until ClearHold.
func (m *Manager) HoldMarket(marketID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holds[marketID] = reason
	m.log.Error().Str("market", marketID).Str("reason", reason).Msg("market placed on manual hold")
}

func (m *Manager) ClearHold(marketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.holds, marketID)
}

// Held reports the hold reason for a market, if any.
func (m *Manager) Held(marketID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reason, ok := m.holds[marketID]
	return reason, ok
}

// TryAcquire takes the per-market in-flight lock. While held, no other
// decision for the market may be dispatched, including during an unwind.
func (m *Manager) TryAcquire(marketID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[marketID]; busy {
		return false
	}
	m.inflight[marketID] = struct{}{}
	return true
}

func (m *Manager) Release(marketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, marketID)
}

// Exposure returns a point-in-time ledger snapshot.
func (m *Manager) Exposure() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Snapshot(m.policy.Bankroll, m.now())
}
