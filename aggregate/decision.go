// Package aggregate merges the unordered signal stream from all strategy
// modules into a single ranked decision stream.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/quantfall/polyflow/signal"
)

// Decision is the aggregator's output: one or two signals bound together
// with a computed net expected value and a deterministic priority rank.
type Decision struct {
	ID       string
	MarketID string

	// Key deduplicates competing intents: market plus direction for a
	// single leg, market plus "PAIR" for a paired decision.
	Key string

	// Legs holds one signal, or two buy signals on complementary outcome
	// tokens of the same binary market.
	Legs []signal.Signal

	// NetEV is the combined expected value in USD.
	NetEV float64

	// NetCost and Payout are per-share figures for paired decisions:
	// the sum of both leg prices versus the 1.00 a winning token settles
	// at. Zero for single-leg decisions.
	NetCost float64
	Payout  float64

	// Shares is the per-leg share count. Paired legs always carry the
	// same count so the arbitrage guarantee survives resizing.
	Shares float64

	Urgency       signal.Urgency
	FirstSignalAt time.Time
}

// Paired reports whether the decision carries two legs.
func (d Decision) Paired() bool { return len(d.Legs) == 2 }

// Notional is the capital the decision commits if fully filled.
func (d Decision) Notional() float64 {
	var n float64
	for _, leg := range d.Legs {
		n += leg.Price * d.Shares
	}
	return n
}

// Scale returns a copy resized to factor*Shares, both legs scaled
// identically. NetEV scales with the share count.
func (d Decision) Scale(factor float64) Decision {
	out := d
	out.Shares = d.Shares * factor
	out.NetEV = d.NetEV * factor
	out.Legs = make([]signal.Signal, len(d.Legs))
	copy(out.Legs, d.Legs)
	for i := range out.Legs {
		out.Legs[i].Size = d.Legs[i].Size * factor
		out.Legs[i].ExpectedValue = d.Legs[i].ExpectedValue * factor
	}
	return out
}

func (d Decision) String() string {
	kind := "single"
	if d.Paired() {
		kind = "pair"
	}
	return fmt.Sprintf("decision(%s %s %s ev=%.2f shares=%.1f)", d.ID, kind, d.MarketID, d.NetEV, d.Shares)
}

// Rank orders decisions by descending expected value, ties broken by
// ascending urgency index, then earliest signal timestamp, then ID. The
// ordering is total, so identical inputs always produce identical output.
func Rank(ds []Decision) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if a.NetEV != b.NetEV {
			return a.NetEV > b.NetEV
		}
		if a.Urgency != b.Urgency {
			return a.Urgency < b.Urgency
		}
		if !a.FirstSignalAt.Equal(b.FirstSignalAt) {
			return a.FirstSignalAt.Before(b.FirstSignalAt)
		}
		return a.ID < b.ID
	})
}
