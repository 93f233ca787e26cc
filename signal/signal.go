// Package signal defines the opportunity payload strategy modules emit and
// the aggregator consumes.
package signal

import (
	"fmt"
	"time"

	"github.com/quantfall/polyflow/market"
)

// Urgency orders signals by how quickly they must reach the venue. Lower
// values are more urgent; the zero value is deliberately Immediate so the
// index doubles as the ranking tie-break.
type Urgency int

const (
	Immediate Urgency = iota // execute now, bypasses coalescing
	Normal                   // execute within the current window
	Low                      // can wait for the next window
)

func (u Urgency) String() string {
	switch u {
	case Immediate:
		return "immediate"
	case Normal:
		return "normal"
	case Low:
		return "low"
	default:
		return fmt.Sprintf("urgency(%d)", int(u))
	}
}

// Signal is an immutable trading opportunity produced by a strategy module.
// It is consumed exactly once by the aggregator and never mutated.
type Signal struct {
	ID       string
	Module   string
	MarketID string
	TokenID  string
	Action   market.Side

	Confidence    float64 // 0.0 - 1.0
	ExpectedValue float64 // USD
	Price         float64 // suggested limit price per share, in [0,1]
	Size          float64 // suggested size in shares

	Urgency   Urgency
	Metadata  map[string]string
	CreatedAt time.Time
}

// Validate rejects malformed signals before they enter the pipeline.
// A nonzero size must carry a non-negative expected value estimate.
func (s Signal) Validate() error {
	if s.Module == "" {
		return fmt.Errorf("signal missing module")
	}
	if s.MarketID == "" || s.TokenID == "" {
		return fmt.Errorf("signal %s missing market or token id", s.ID)
	}
	if s.Action != market.Buy && s.Action != market.Sell {
		return fmt.Errorf("signal %s has invalid action %q", s.ID, s.Action)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %s confidence %.3f out of range", s.ID, s.Confidence)
	}
	if s.Size < 0 {
		return fmt.Errorf("signal %s has negative size", s.ID)
	}
	if s.Size > 0 && s.ExpectedValue < 0 {
		return fmt.Errorf("signal %s sized without a non-negative expected value", s.ID)
	}
	if s.Price < 0 || s.Price > 1 {
		return fmt.Errorf("signal %s price %.4f outside [0,1]", s.ID, s.Price)
	}
	return nil
}

// Meta returns a metadata value, "" when absent. Metadata is opaque to the
// core; only strategy modules assign meaning to keys.
func (s Signal) Meta(key string) string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[key]
}
