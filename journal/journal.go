// Package journal persists execution outcomes and exposure snapshots for
// later analysis.
package journal

import "time"

// ResultRecord is the persisted form of one execution outcome.
type ResultRecord struct {
	DecisionID   string
	MarketID     string
	Kind         string // "single" or "pair"
	Status       string // complete, abandoned, unwound, unwound-failed
	Shares       float64
	NetCost      float64 // expected per-share cost for pairs
	RealizedCost float64 // what the fills actually summed to
	NetEV        float64
	Retained     float64 // USD exposure left behind
	Realized     float64 // P&L booked at settlement
	Reason       string
	SignalTime   time.Time
	SettledTime  time.Time
}

// ExposureSnapshot captures the ledger after each settled result.
type ExposureSnapshot struct {
	Time          time.Time
	Aggregate     float64
	DayRealized   float64
	TotalRealized float64
	Drawdown      float64
	Breaker       string
}

type Journal interface {
	RecordResult(ResultRecord) error
	RecordExposure(ExposureSnapshot) error
	Close() error
}

// Nop discards everything. Used when journaling is disabled.
type Nop struct{}

func (Nop) RecordResult(ResultRecord) error       { return nil }
func (Nop) RecordExposure(ExposureSnapshot) error { return nil }
func (Nop) Close() error                          { return nil }
