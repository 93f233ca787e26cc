package risk

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/polyflow/aggregate"
	"github.com/quantfall/polyflow/market"
	"github.com/quantfall/polyflow/signal"
)

func permissiveScorer() Scorer {
	return ScorerFunc(func(market.Market) (float64, bool) { return 0, true })
}

func testPolicy() Policy {
	return Policy{
		Bankroll:          1000,
		PerMarketCapPct:   0.05, // 50 USD
		PerTradeCapPct:    0.05, // 50 USD
		AggregateCapPct:   0.50, // 500 USD
		GroupCapPct:       0.10, // 100 USD
		MaxResolutionRisk: 0.70,
		DailyLossPct:      0.05, // -50 USD
		MaxDrawdownPct:    0.15, // -150 USD
	}
}

func testMarket(id, group string) market.Market {
	return market.Market{
		ID:               id,
		YesTokenID:       id + "-yes",
		NoTokenID:        id + "-no",
		Volume24h:        100000,
		Active:           true,
		CorrelationGroup: group,
	}
}

func single(id, mkt string, price, size, ev float64) aggregate.Decision {
	leg := signal.Signal{
		ID: id, Module: "test", MarketID: mkt, TokenID: mkt + "-yes",
		Action: market.Buy, Confidence: 0.9,
		ExpectedValue: ev, Price: price, Size: size,
		CreatedAt: time.Now(),
	}
	return aggregate.Decision{
		ID: id, MarketID: mkt, Key: mkt + "|BUY",
		Legs: []signal.Signal{leg}, NetEV: ev, Shares: size,
		FirstSignalAt: leg.CreatedAt,
	}
}

func pair(id, mkt string, pa, pb, shares float64) aggregate.Decision {
	now := time.Now()
	legA := signal.Signal{
		ID: id + "a", Module: "test", MarketID: mkt, TokenID: mkt + "-yes",
		Action: market.Buy, Confidence: 1, Price: pa, Size: shares,
		ExpectedValue: (1 - pa - pb) * shares / 2, CreatedAt: now,
	}
	legB := legA
	legB.ID = id + "b"
	legB.TokenID = mkt + "-no"
	legB.Price = pb
	return aggregate.Decision{
		ID: id, MarketID: mkt, Key: mkt + "|PAIR",
		Legs:  []signal.Signal{legA, legB},
		NetEV: (1 - pa - pb) * shares, NetCost: pa + pb, Payout: 1,
		Shares: shares, FirstSignalAt: now,
	}
}

func newTestManager(t *testing.T, p Policy, s Scorer, markets ...market.Market) *Manager {
	t.Helper()
	require.NoError(t, p.Validate())
	m := NewManager(p, s, zerolog.Nop())
	m.Observe(markets)
	return m
}

func TestEvaluateApprovesWithinLimits(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testPolicy(), permissiveScorer(), testMarket("m1", ""))

	d, rej := m.Evaluate(pair("d1", "m1", 0.20, 0.21, 100)) // notional 41
	require.Nil(t, rej)
	assert.InDelta(t, 100, d.Shares, 1e-9)
	assert.InDelta(t, 41, m.Exposure().Aggregate, 1e-9)
}

func TestEvaluateShrinksToMarketHeadroom(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testPolicy(), permissiveScorer(), testMarket("m1", ""))

	// Fill the market to 30 of its 50 USD cap.
	_, rej := m.Evaluate(single("d0", "m1", 0.50, 60, 5))
	require.Nil(t, rej)

	// A 97 USD pair only fits the remaining 20 USD of headroom.
	d, rej := m.Evaluate(pair("d1", "m1", 0.45, 0.52, 100))
	require.Nil(t, rej)
	assert.True(t, d.Paired())
	assert.InDelta(t, 100*20.0/97.0, d.Shares, 1e-9)
	assert.InDelta(t, 20, d.Notional(), 1e-9)
	assert.InDelta(t, 3.0*20.0/97.0, d.NetEV, 1e-9)

	// Both legs scaled identically.
	assert.InDelta(t, d.Legs[0].Size, d.Legs[1].Size, 1e-9)
	assert.InDelta(t, 50, m.Exposure().PerMarket["m1"], 1e-9)
}

func TestEvaluateRejectsExhaustedMarket(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testPolicy(), permissiveScorer(), testMarket("m1", ""))

	_, rej := m.Evaluate(single("d0", "m1", 0.50, 100, 5)) // exactly at the 50 cap
	require.Nil(t, rej)

	_, rej = m.Evaluate(single("d1", "m1", 0.50, 10, 1))
	require.NotNil(t, rej)
	assert.Equal(t, CodeMarketCap, rej.Code)
}

func TestEvaluateClampsPerTrade(t *testing.T) {
	t.Parallel()

	p := testPolicy()
	p.PerMarketCapPct = 0.20 // 200 USD, so the trade cap binds first
	m := newTestManager(t, p, permissiveScorer(), testMarket("m1", ""))

	d, rej := m.Evaluate(pair("d1", "m1", 0.45, 0.52, 100)) // notional 97 vs 50 cap
	require.Nil(t, rej)
	assert.InDelta(t, 50, d.Notional(), 1e-9)
	assert.InDelta(t, 100*50.0/97.0, d.Shares, 1e-9)
}

func TestEvaluateRejectsAggregateCap(t *testing.T) {
	t.Parallel()

	p := testPolicy()
	p.AggregateCapPct = 0.08 // 80 USD
	m := newTestManager(t, p, permissiveScorer(),
		testMarket("m1", ""), testMarket("m2", ""))

	_, rej := m.Evaluate(single("d0", "m1", 0.50, 100, 5)) // 50 USD
	require.Nil(t, rej)

	_, rej = m.Evaluate(single("d1", "m2", 0.50, 100, 5)) // 50 more, over 80
	require.NotNil(t, rej)
	assert.Equal(t, CodeAggregateCap, rej.Code)
}

func TestEvaluateRejectsGroupCap(t *testing.T) {
	t.Parallel()

	p := testPolicy()
	p.GroupCapPct = 0.08 // 80 USD
	m := newTestManager(t, p, permissiveScorer(),
		testMarket("m1", "election-2026"), testMarket("m2", "election-2026"))

	_, rej := m.Evaluate(single("d0", "m1", 0.50, 100, 5)) // 50 USD in group
	require.Nil(t, rej)

	_, rej = m.Evaluate(single("d1", "m2", 0.50, 100, 5))
	require.NotNil(t, rej)
	assert.Equal(t, CodeGroupCap, rej.Code)
}

func TestEvaluateRejectsResolutionRisk(t *testing.T) {
	t.Parallel()

	risky := ScorerFunc(func(market.Market) (float64, bool) { return 0.9, true })
	m := newTestManager(t, testPolicy(), risky, testMarket("m1", ""))

	_, rej := m.Evaluate(single("d1", "m1", 0.50, 10, 1))
	require.NotNil(t, rej)
	assert.Equal(t, CodeResolutionRisk, rej.Code)
}

func TestEvaluateFailsClosedWithoutScore(t *testing.T) {
	t.Parallel()

	noScore := ScorerFunc(func(market.Market) (float64, bool) { return 0, false })
	m := newTestManager(t, testPolicy(), noScore, testMarket("m1", ""))

	_, rej := m.Evaluate(single("d1", "m1", 0.50, 10, 1))
	require.NotNil(t, rej)
	assert.Equal(t, CodeResolutionRisk, rej.Code)

	// Unknown market: same treatment.
	_, rej2 := m.Evaluate(single("d2", "mystery", 0.50, 10, 1))
	require.NotNil(t, rej2)
	assert.Equal(t, CodeResolutionRisk, rej2.Code)
}

func TestRecordSettlesReservation(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testPolicy(), permissiveScorer(), testMarket("m1", ""))

	d, rej := m.Evaluate(pair("d1", "m1", 0.20, 0.21, 100)) // notional 41
	require.Nil(t, rej)
	assert.InDelta(t, 41, m.Exposure().Aggregate, 1e-9)

	// Abandoned: reservation fully released, nothing realized.
	m.Record(d, 0, 0)
	assert.InDelta(t, 0, m.Exposure().Aggregate, 1e-9)
}

func TestDailyHaltTripsAndRolls(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testPolicy(), permissiveScorer(), testMarket("m1", ""))
	day := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return day }
	m.ResetLedger() // restart the ledger on the fake clock

	d, rej := m.Evaluate(single("d0", "m1", 0.50, 100, 5))
	require.Nil(t, rej)

	// Book a 60 USD loss against the 50 USD daily limit.
	m.Record(d, 0, -60)
	assert.Equal(t, DailyHalt, m.Breaker())

	_, rej = m.Evaluate(single("d1", "m1", 0.50, 10, 1))
	require.NotNil(t, rej)
	assert.Equal(t, CodeDailyHalt, rej.Code)

	// Next trading day clears the halt and the daily counter.
	day = day.Add(24 * time.Hour)
	_, rej = m.Evaluate(single("d2", "m1", 0.50, 10, 1))
	assert.Nil(t, rej)
	assert.Equal(t, Normal, m.Breaker())
}

func TestCriticalHaltNeedsManualClear(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testPolicy(), permissiveScorer(), testMarket("m1", ""))
	day := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return day }
	m.ResetLedger()

	d, rej := m.Evaluate(single("d0", "m1", 0.50, 100, 5))
	require.Nil(t, rej)

	// 160 USD drawdown against the 150 USD limit.
	m.Record(d, 0, -160)
	assert.Equal(t, CriticalHalt, m.Breaker())

	// Neither the day boundary nor later profit clears it.
	day = day.Add(48 * time.Hour)
	_, rej = m.Evaluate(single("d1", "m1", 0.50, 10, 1))
	require.NotNil(t, rej)
	assert.Equal(t, CodeCriticalHalt, rej.Code)

	m.Record(single("dp", "m1", 0.50, 0, 0), 0, 500)
	assert.Equal(t, CriticalHalt, m.Breaker())

	m.ClearCritical()
	assert.Equal(t, Normal, m.Breaker())
	_, rej = m.Evaluate(single("d2", "m1", 0.50, 10, 1))
	assert.Nil(t, rej)
}

func TestUnrealizedLossTripsCriticalHalt(t *testing.T) {
	t.Parallel()

	p := testPolicy()
	p.DailyLossPct = 0.01    // 10 USD
	p.MaxDrawdownPct = 0.015 // 15 USD
	m := newTestManager(t, p, permissiveScorer(), testMarket("m1", ""))

	d, rej := m.Evaluate(pair("d1", "m1", 0.20, 0.21, 100)) // notional 41
	require.Nil(t, rej)

	// Unwind exhaustion left 100 naked yes shares bought for 20 USD.
	m.Record(d, 20, 0, Holding{TokenID: "m1-yes", Size: 100, Basis: 20})
	assert.Equal(t, Normal, m.Breaker())
	assert.InDelta(t, 0, m.Exposure().Drawdown, 1e-9)

	// The market collapses against the position on the next scan.
	crashed := testMarket("m1", "")
	crashed.YesPrice = 0
	crashed.NoPrice = 0.99
	m.Observe([]market.Market{crashed})

	assert.InDelta(t, -20, m.Exposure().Unrealized, 1e-9)
	assert.InDelta(t, 20, m.Exposure().Drawdown, 1e-9)
	assert.Equal(t, CriticalHalt, m.Breaker())

	// A partial rebound never reopens the breaker on its own.
	crashed.YesPrice = 0.10
	m.Observe([]market.Market{crashed})
	assert.Equal(t, CriticalHalt, m.Breaker())
}

func TestManualHoldBlocksMarket(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testPolicy(), permissiveScorer(), testMarket("m1", ""))

	m.HoldMarket("m1", "unwind exhausted")
	_, rej := m.Evaluate(single("d1", "m1", 0.50, 10, 1))
	require.NotNil(t, rej)
	assert.Equal(t, CodeMarketHold, rej.Code)

	reason, held := m.Held("m1")
	assert.True(t, held)
	assert.Equal(t, "unwind exhausted", reason)

	m.ClearHold("m1")
	_, rej = m.Evaluate(single("d2", "m1", 0.50, 10, 1))
	assert.Nil(t, rej)
}

func TestInFlightLock(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testPolicy(), permissiveScorer())

	require.True(t, m.TryAcquire("m1"))
	assert.False(t, m.TryAcquire("m1"))
	assert.True(t, m.TryAcquire("m2"))

	m.Release("m1")
	assert.True(t, m.TryAcquire("m1"))
}

func TestSetPolicySwapsLimits(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testPolicy(), permissiveScorer(), testMarket("m1", ""))

	p := testPolicy()
	p.PerMarketCapPct = 0.001 // 1 USD
	require.NoError(t, m.SetPolicy(p))

	d, rej := m.Evaluate(single("d1", "m1", 0.50, 100, 5)) // wants 50 USD
	require.Nil(t, rej)
	assert.InDelta(t, 1, d.Notional(), 1e-9)

	bad := testPolicy()
	bad.Bankroll = -1
	assert.Error(t, m.SetPolicy(bad))
}

func TestVolumeScorer(t *testing.T) {
	t.Parallel()

	s := VolumeScorer{FloorVolume: 10000}

	score, ok := s.Score(market.Market{Volume24h: 50000})
	require.True(t, ok)
	assert.InDelta(t, 0, score, 1e-9)

	score, _ = s.Score(market.Market{Volume24h: 2500})
	assert.InDelta(t, 0.75, score, 1e-9)
}
