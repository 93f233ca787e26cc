// Package execution drives approved decisions to a terminal state against
// the venue, emulating multi-leg atomicity with a commit-then-unwind
// protocol.
package execution

import (
	"time"

	"github.com/quantfall/polyflow/aggregate"
	"github.com/quantfall/polyflow/market"
)

// Status is the terminal state of a processed decision.
type Status string

const (
	// Complete: every leg filled.
	Complete Status = "complete"
	// Abandoned: nothing filled, no capital was ever committed.
	Abandoned Status = "abandoned"
	// Unwound: leg A filled, leg B failed, and the offsetting order
	// flattened the position.
	Unwound Status = "unwound"
	// UnwoundFailed: the unwind exhausted its retries and a naked
	// position remains. Requires manual intervention.
	UnwoundFailed Status = "unwound-failed"
)

// LegFill records one leg's venue outcome.
type LegFill struct {
	ClientID string
	OrderID  string
	TokenID  string
	Side     market.Side
	Price    float64
	Size     float64
}

// Cost is the signed USD the leg consumed: positive for buys, negative for
// sells.
func (l LegFill) Cost() float64 {
	if l.Side == market.Sell {
		return -l.Price * l.Size
	}
	return l.Price * l.Size
}

// Result is the terminal report for a decision. Always produced, even for
// abandonment, so exposure accounting sees every outcome.
type Result struct {
	Decision aggregate.Decision
	Status   Status
	Legs     []LegFill

	// RealizedCost is the per-share sum of fill prices for a paired
	// decision, compared against the guaranteed payout.
	RealizedCost float64

	// Retained is the USD exposure execution left behind; Realized is the
	// P&L booked now (unwind slippage, typically a small loss).
	Retained float64
	Realized float64

	Reason string
	At     time.Time
}

// Alert is a high-severity operational event surfaced outside the normal
// result flow.
type Alert struct {
	MarketID string
	Msg      string
	Result   Result
	At       time.Time
}
