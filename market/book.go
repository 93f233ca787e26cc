package market

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// Quote is the top of book for one outcome token. Seq increases
// monotonically per token so consumers can discard stale updates.
type Quote struct {
	TokenID string
	Bid     float64
	Ask     float64
	Seq     uint64
	Time    time.Time
}

// Mid returns the quote midpoint.
func (q Quote) Mid() float64 { return (q.Bid + q.Ask) / 2 }

// Spread returns the bid/ask spread.
func (q Quote) Spread() float64 { return q.Ask - q.Bid }

// Book is a depth snapshot for one outcome token. Bids are sorted best
// (highest) first, asks best (lowest) first.
type Book struct {
	TokenID string
	Bids    []PriceLevel
	Asks    []PriceLevel
	Seq     uint64
	Time    time.Time
}

// BestBid returns the highest resting bid, zero when the side is empty.
func (b Book) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest resting ask, zero when the side is empty.
func (b Book) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// DepthWithinImpact walks the book on the side an order of the given
// direction would take liquidity from and accumulates the size available
// without moving the price beyond tolerance (a fraction, e.g. 0.01 for 1%)
// of the best level. The returned worst price is the deepest level touched.
func (b Book) DepthWithinImpact(side Side, tolerance float64) (size, worst float64) {
	var levels []PriceLevel
	var limit float64

	switch side {
	case Buy:
		if len(b.Asks) == 0 {
			return 0, 0
		}
		levels = b.Asks
		limit = b.Asks[0].Price * (1 + tolerance)
	case Sell:
		if len(b.Bids) == 0 {
			return 0, 0
		}
		levels = b.Bids
		limit = b.Bids[0].Price * (1 - tolerance)
	default:
		return 0, 0
	}

	for _, lv := range levels {
		if side == Buy && lv.Price > limit {
			break
		}
		if side == Sell && lv.Price < limit {
			break
		}
		size += lv.Size
		worst = lv.Price
	}
	return size, worst
}
