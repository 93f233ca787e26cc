package risk

import "time"

// Ledger is the authoritative record of committed capital. It is a plain
// struct: the Manager serializes every access, so the ledger itself carries
// no lock.
type Ledger struct {
	perMarket map[string]float64
	perGroup  map[string]float64
	aggregate float64

	realizedDay   float64
	realizedTotal float64
	unrealized    map[string]float64 // per-market mark-to-market on retained exposure
	highWater     float64            // peak equity
	day           time.Time
}

func NewLedger(bankroll float64, now time.Time) *Ledger {
	return &Ledger{
		perMarket:  make(map[string]float64),
		perGroup:   make(map[string]float64),
		unrealized: make(map[string]float64),
		highWater:  bankroll,
		day:        now.UTC().Truncate(24 * time.Hour),
	}
}

// Commit reserves exposure for an approved decision.
func (l *Ledger) Commit(marketID, group string, usd float64) {
	l.perMarket[marketID] += usd
	if group != "" {
		l.perGroup[group] += usd
	}
	l.aggregate += usd
}

// Settle replaces a reservation with what execution actually left behind
// and books the realized P&L. A clean unwind or abandonment retains zero.
func (l *Ledger) Settle(marketID, group string, committed, retained, realized float64) {
	l.adjust(marketID, group, retained-committed)
	l.realizedDay += realized
	l.realizedTotal += realized
}

// Flatten removes exposure when a position closes, booking its P&L.
func (l *Ledger) Flatten(marketID, group string, usd, realized float64) {
	l.adjust(marketID, group, -usd)
	l.realizedDay += realized
	l.realizedTotal += realized
}

func (l *Ledger) adjust(marketID, group string, delta float64) {
	l.perMarket[marketID] += delta
	if l.perMarket[marketID] <= 0 {
		delete(l.perMarket, marketID)
		delete(l.unrealized, marketID)
	}
	if group != "" {
		l.perGroup[group] += delta
		if l.perGroup[group] <= 0 {
			delete(l.perGroup, group)
		}
	}
	l.aggregate += delta
	if l.aggregate < 0 {
		l.aggregate = 0
	}
}

// Mark revalues a market's retained exposure at its current market value,
// booking the difference from cost as unrealized P&L. A market with no
// retained exposure is left untouched.
func (l *Ledger) Mark(marketID string, value float64) {
	basis, ok := l.perMarket[marketID]
	if !ok {
		return
	}
	l.unrealized[marketID] = value - basis
}

// Unrealized is the mark-to-market P&L across all retained exposure.
func (l *Ledger) Unrealized() float64 {
	var u float64
	for _, v := range l.unrealized {
		u += v
	}
	return u
}

func (l *Ledger) Market(marketID string) float64 { return l.perMarket[marketID] }
func (l *Ledger) Group(group string) float64     { return l.perGroup[group] }
func (l *Ledger) Aggregate() float64             { return l.aggregate }
func (l *Ledger) DayRealized() float64           { return l.realizedDay }
func (l *Ledger) TotalRealized() float64         { return l.realizedTotal }

// Equity is bankroll adjusted by lifetime realized P&L plus the current
// mark-to-market of retained positions, so drawdown sees losses before
// they are realized.
func (l *Ledger) Equity(bankroll float64) float64 {
	return bankroll + l.realizedTotal + l.Unrealized()
}

// MarkHighWater advances the peak-equity mark, never lowering it.
func (l *Ledger) MarkHighWater(bankroll float64) {
	if eq := l.Equity(bankroll); eq > l.highWater {
		l.highWater = eq
	}
}

// Drawdown is the distance from peak equity, non-negative.
func (l *Ledger) Drawdown(bankroll float64) float64 {
	dd := l.highWater - l.Equity(bankroll)
	if dd < 0 {
		return 0
	}
	return dd
}

// RollDay resets the daily realized counter when now crosses a UTC day
// boundary. Reports whether a new trading day started.
func (l *Ledger) RollDay(now time.Time) bool {
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.After(l.day) {
		return false
	}
	l.day = day
	l.realizedDay = 0
	return true
}

// Reset clears all exposure and P&L state. Administrative use only.
func (l *Ledger) Reset(bankroll float64, now time.Time) {
	*l = *NewLedger(bankroll, now)
}

// Snapshot is a point-in-time copy for journaling and inspection.
type Snapshot struct {
	Aggregate     float64
	PerMarket     map[string]float64
	PerGroup      map[string]float64
	DayRealized   float64
	TotalRealized float64
	Unrealized    float64
	Drawdown      float64
	At            time.Time
}

func (l *Ledger) Snapshot(bankroll float64, now time.Time) Snapshot {
	pm := make(map[string]float64, len(l.perMarket))
	for k, v := range l.perMarket {
		pm[k] = v
	}
	pg := make(map[string]float64, len(l.perGroup))
	for k, v := range l.perGroup {
		pg[k] = v
	}
	return Snapshot{
		Aggregate:     l.aggregate,
		PerMarket:     pm,
		PerGroup:      pg,
		DayRealized:   l.realizedDay,
		TotalRealized: l.realizedTotal,
		Unrealized:    l.Unrealized(),
		Drawdown:      l.Drawdown(bankroll),
		At:            now,
	}
}
