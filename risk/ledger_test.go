package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLedgerCommitAndFlatten(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	l := NewLedger(1000, now)

	l.Commit("m1", "g1", 40)
	l.Commit("m2", "g1", 30)
	assert.InDelta(t, 70, l.Aggregate(), 1e-9)
	assert.InDelta(t, 70, l.Group("g1"), 1e-9)

	l.Flatten("m1", "g1", 40, 12)
	assert.InDelta(t, 30, l.Aggregate(), 1e-9)
	assert.InDelta(t, 0, l.Market("m1"), 1e-9)
	assert.InDelta(t, 12, l.DayRealized(), 1e-9)
	assert.InDelta(t, 1012, l.Equity(1000), 1e-9)
}

func TestLedgerDrawdownTracksHighWater(t *testing.T) {
	t.Parallel()

	l := NewLedger(1000, time.Now())

	l.Settle("m1", "", 0, 0, 80)
	l.MarkHighWater(1000)
	assert.InDelta(t, 0, l.Drawdown(1000), 1e-9)

	l.Settle("m1", "", 0, 0, -120)
	l.MarkHighWater(1000)
	assert.InDelta(t, 120, l.Drawdown(1000), 1e-9)
}

func TestMarkToMarketFoldsIntoEquity(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	l := NewLedger(1000, now)

	l.Commit("m1", "", 40)
	l.Mark("m1", 25)
	assert.InDelta(t, -15, l.Unrealized(), 1e-9)
	assert.InDelta(t, 985, l.Equity(1000), 1e-9)
	assert.InDelta(t, 15, l.Drawdown(1000), 1e-9)

	// Realizing the loss clears the mark instead of double counting it.
	l.Settle("m1", "", 40, 0, -15)
	assert.InDelta(t, 0, l.Market("m1"), 1e-9)
	assert.InDelta(t, 0, l.Unrealized(), 1e-9)
	assert.InDelta(t, 985, l.Equity(1000), 1e-9)
}

func TestLedgerRollDay(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 23, 0, 0, 0, time.UTC)
	l := NewLedger(1000, now)
	l.Settle("m1", "", 0, 0, -30)

	assert.False(t, l.RollDay(now.Add(30*time.Minute)))
	assert.InDelta(t, -30, l.DayRealized(), 1e-9)

	assert.True(t, l.RollDay(now.Add(2*time.Hour)))
	assert.InDelta(t, 0, l.DayRealized(), 1e-9)
	assert.InDelta(t, -30, l.TotalRealized(), 1e-9)
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	now := time.Now()
	l := NewLedger(1000, now)
	l.Commit("m1", "g1", 25)

	snap := l.Snapshot(1000, now)
	snap.PerMarket["m1"] = 999

	assert.InDelta(t, 25, l.Market("m1"), 1e-9)
}
