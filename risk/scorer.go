package risk

import "github.com/quantfall/polyflow/market"

// Scorer supplies a resolution-risk score in [0,1] for a market: the
// likelihood its outcome is disputed or manipulated rather than objectively
// settled. A missing score (ok == false) is treated as maximum risk.
type Scorer interface {
	Score(m market.Market) (score float64, ok bool)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(m market.Market) (float64, bool)

func (f ScorerFunc) Score(m market.Market) (float64, bool) { return f(m) }

// VolumeScorer grades resolution risk from traded volume alone: thin
// markets are easier to manipulate. Markets at or above FloorVolume score
// zero; score rises linearly toward 1.0 as volume falls to nothing.
type VolumeScorer struct {
	FloorVolume float64
}

func (v VolumeScorer) Score(m market.Market) (float64, bool) {
	if v.FloorVolume <= 0 {
		return 0, true
	}
	if m.Volume24h >= v.FloorVolume {
		return 0, true
	}
	return 1 - m.Volume24h/v.FloorVolume, true
}
