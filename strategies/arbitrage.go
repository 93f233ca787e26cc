package strategies

import (
	"context"
	"strconv"
	"time"

	"github.com/quantfall/polyflow/market"
	"github.com/quantfall/polyflow/pkg/id"
	"github.com/quantfall/polyflow/signal"
)

// Metadata keys the arbitrage producer attaches to its signals. The
// aggregator uses PairTokenKey to recognize the two legs of one opportunity.
const (
	PairTokenKey = "pair_token"
	TotalCostKey = "total_cost"
	ProfitPctKey = "profit_pct"
)

// Arbitrage emits paired buy signals when YES+NO trades under the 1.00
// payout. Buying both sides locks in the difference regardless of outcome:
// YES at $0.45 plus NO at $0.52 costs $0.97 and one side pays $1.00.
type Arbitrage struct {
	minSpread   float64
	minVolume   float64
	maxPosition float64
}

// NewArbitrage builds the detector. minSpread is the profit margin required
// to act, as a fraction of cost; maxPosition caps USD committed per market.
func NewArbitrage(minSpread, minVolume, maxPosition float64) *Arbitrage {
	return &Arbitrage{
		minSpread:   minSpread,
		minVolume:   minVolume,
		maxPosition: maxPosition,
	}
}

func (a *Arbitrage) Name() string { return "arbitrage" }

// Produce scans the universe and emits two buy signals per opportunity,
// one per outcome token, linked through PairTokenKey metadata.
func (a *Arbitrage) Produce(ctx context.Context, markets []market.Market) ([]signal.Signal, error) {
	var out []signal.Signal

	for _, m := range markets {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		shares, ok := a.size(m)
		if !ok {
			continue
		}

		cost := m.SpreadSum()
		profitPct := m.ArbSpread() / cost
		// Guaranteed profit for the pair: (payout - cost) per share.
		pairEV := m.ArbSpread() * shares
		now := time.Now().UTC()

		meta := func(pair string) map[string]string {
			return map[string]string{
				PairTokenKey: pair,
				TotalCostKey: strconv.FormatFloat(cost, 'f', 4, 64),
				ProfitPctKey: strconv.FormatFloat(profitPct, 'f', 4, 64),
			}
		}

		out = append(out,
			signal.Signal{
				ID:            id.NewAt(now),
				Module:        a.Name(),
				MarketID:      m.ID,
				TokenID:       m.YesTokenID,
				Action:        market.Buy,
				Confidence:    1.0, // arbitrage is mathematically certain
				ExpectedValue: pairEV / 2,
				Price:         m.YesPrice,
				Size:          shares,
				Urgency:       signal.Immediate,
				Metadata:      meta(m.NoTokenID),
				CreatedAt:     now,
			},
			signal.Signal{
				ID:            id.NewAt(now),
				Module:        a.Name(),
				MarketID:      m.ID,
				TokenID:       m.NoTokenID,
				Action:        market.Buy,
				Confidence:    1.0,
				ExpectedValue: pairEV / 2,
				Price:         m.NoPrice,
				Size:          shares,
				Urgency:       signal.Immediate,
				Metadata:      meta(m.YesTokenID),
				CreatedAt:     now,
			},
		)
	}
	return out, nil
}

// size returns the shares to buy per side, false when the market does not
// qualify. Position is capped by maxPosition and half the market liquidity.
func (a *Arbitrage) size(m market.Market) (float64, bool) {
	if !m.Active || m.YesPrice <= 0 || m.NoPrice <= 0 {
		return 0, false
	}
	if m.Volume24h < a.minVolume {
		return 0, false
	}

	cost := m.SpreadSum()
	if cost >= 1.0 {
		return 0, false
	}
	if m.ArbSpread()/cost < a.minSpread {
		return 0, false
	}

	shares := a.maxPosition / cost
	if m.Liquidity > 0 {
		if lim := m.Liquidity / 2 / cost; lim < shares {
			shares = lim
		}
	}
	if shares <= 0 {
		return 0, false
	}
	return shares, true
}
