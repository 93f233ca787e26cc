// Package risk gates the decision stream against portfolio-level limits.
// The Manager owns the exposure ledger; nothing else mutates it.
package risk

import "fmt"

// Policy holds the configured risk limits. Cap fields are fractions of
// Bankroll. A Policy is immutable once installed; changes go through
// Manager.SetPolicy as a whole-struct swap.
type Policy struct {
	Bankroll float64 // total capital in USD

	// Exposure caps
	PerMarketCapPct float64 // 0.05
	PerTradeCapPct  float64 // 0.02
	AggregateCapPct float64 // 0.50
	GroupCapPct     float64 // 0.10

	// Resolution risk
	MaxResolutionRisk float64 // 0.70, scores above reject outright

	// Circuit breakers
	DailyLossPct   float64 // 0.05, halts for the rest of the day
	MaxDrawdownPct float64 // 0.15, halts until manual clear
}

func DefaultPolicy() Policy {
	return Policy{
		Bankroll:          1000,
		PerMarketCapPct:   0.05,
		PerTradeCapPct:    0.02,
		AggregateCapPct:   0.50,
		GroupCapPct:       0.10,
		MaxResolutionRisk: 0.70,
		DailyLossPct:      0.05,
		MaxDrawdownPct:    0.15,
	}
}

func (p Policy) Validate() error {
	if p.Bankroll <= 0 {
		return fmt.Errorf("risk: bankroll must be positive, got %.2f", p.Bankroll)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"per_market_cap_pct", p.PerMarketCapPct},
		{"per_trade_cap_pct", p.PerTradeCapPct},
		{"aggregate_cap_pct", p.AggregateCapPct},
		{"group_cap_pct", p.GroupCapPct},
		{"daily_loss_pct", p.DailyLossPct},
		{"max_drawdown_pct", p.MaxDrawdownPct},
	} {
		if f.v <= 0 || f.v > 1 {
			return fmt.Errorf("risk: %s must be in (0,1], got %.4f", f.name, f.v)
		}
	}
	if p.MaxResolutionRisk < 0 || p.MaxResolutionRisk > 1 {
		return fmt.Errorf("risk: max_resolution_risk must be in [0,1], got %.4f", p.MaxResolutionRisk)
	}
	if p.DailyLossPct >= p.MaxDrawdownPct {
		return fmt.Errorf("risk: daily_loss_pct %.4f must sit below max_drawdown_pct %.4f", p.DailyLossPct, p.MaxDrawdownPct)
	}
	return nil
}

// Headroom helpers, all in USD.

func (p Policy) MarketCap() float64    { return p.PerMarketCapPct * p.Bankroll }
func (p Policy) TradeCap() float64     { return p.PerTradeCapPct * p.Bankroll }
func (p Policy) AggregateCap() float64 { return p.AggregateCapPct * p.Bankroll }
func (p Policy) GroupCap() float64     { return p.GroupCapPct * p.Bankroll }
