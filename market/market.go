// Package market holds the shared data model for binary prediction markets:
// markets and their outcome tokens, quotes, and orderbook snapshots.
package market

import "time"

// Side is the direction of an order or signal.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the offsetting side, used when flattening a position.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Outcome identifies one leg of a binary market.
type Outcome string

const (
	Yes Outcome = "YES"
	No  Outcome = "NO"
)

// Market describes a binary prediction market and its two outcome tokens.
// Prices are quoted in [0,1] and a winning token settles at 1.00.
type Market struct {
	ID       string
	Question string
	Slug     string

	YesTokenID string
	NoTokenID  string

	YesPrice float64
	NoPrice  float64

	Volume24h float64
	Liquidity float64

	// CorrelationGroup tags markets that share an underlying event so the
	// risk layer can cap them together. Empty means uncorrelated.
	CorrelationGroup string

	EndDate time.Time
	Active  bool
}

// SpreadSum is the combined price of both outcomes. Below 1.00 the market
// can be bought on both sides for a guaranteed payout.
func (m Market) SpreadSum() float64 { return m.YesPrice + m.NoPrice }

// ArbSpread is the guaranteed margin from buying both sides, negative when
// no opportunity exists.
func (m Market) ArbSpread() float64 { return 1.0 - m.SpreadSum() }

// HasArb reports whether buying both outcomes costs less than the payout.
func (m Market) HasArb() bool { return m.SpreadSum() < 1.0 }

// TokenFor maps an outcome to its token identifier.
func (m Market) TokenFor(o Outcome) string {
	if o == Yes {
		return m.YesTokenID
	}
	return m.NoTokenID
}

// ComplementOf returns the token on the other side of the market, or ""
// when the token does not belong to this market.
func (m Market) ComplementOf(token string) string {
	switch token {
	case m.YesTokenID:
		return m.NoTokenID
	case m.NoTokenID:
		return m.YesTokenID
	default:
		return ""
	}
}

// Source supplies the current tradable universe. Implemented by venue
// clients and by fixtures in tests.
type Source interface {
	Markets(minVolume float64) ([]Market, error)
}
