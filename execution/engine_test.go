package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/polyflow/aggregate"
	"github.com/quantfall/polyflow/market"
	"github.com/quantfall/polyflow/signal"
	"github.com/quantfall/polyflow/venue"
)

type holdRecorder struct {
	mu   sync.Mutex
	held map[string]string
}

func (h *holdRecorder) HoldMarket(id, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.held == nil {
		h.held = make(map[string]string)
	}
	h.held[id] = reason
}

func (h *holdRecorder) reason(id string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.held[id]
}

func testConfig() Config {
	return Config{
		ImpactTolerance:      0.01,
		MinDepth:             10,
		LegTimeout:           time.Second,
		UnwindMaxAttempts:    2,
		UnwindInitialBackoff: time.Millisecond,
		UnwindMaxBackoff:     2 * time.Millisecond,
	}
}

func bookFor(token string, ask, bid float64, depth float64) market.Book {
	b := market.Book{TokenID: token, Seq: 1}
	if ask > 0 {
		b.Asks = []market.PriceLevel{{Price: ask, Size: depth}}
	}
	if bid > 0 {
		b.Bids = []market.PriceLevel{{Price: bid, Size: depth}}
	}
	return b
}

func pairDecision(shares float64) aggregate.Decision {
	now := time.Now()
	legA := signal.Signal{
		ID: "a", Module: "test", MarketID: "m1", TokenID: "yes-1",
		Action: market.Buy, Confidence: 1, Price: 0.45, Size: shares,
		ExpectedValue: 0.015 * shares, Urgency: signal.Immediate, CreatedAt: now,
	}
	legB := legA
	legB.ID = "b"
	legB.TokenID = "no-1"
	legB.Price = 0.52
	return aggregate.Decision{
		ID: "d1", MarketID: "m1", Key: "m1|PAIR",
		Legs:  []signal.Signal{legA, legB},
		NetEV: 0.03 * shares, NetCost: 0.97, Payout: 1,
		Shares: shares, Urgency: signal.Immediate, FirstSignalAt: now,
	}
}

func newTestEngine(books *market.BookStore) (*Engine, *venue.Paper, *holdRecorder, chan Alert) {
	paper := venue.NewPaper(10000, books)
	holder := &holdRecorder{}
	alerts := make(chan Alert, 4)
	eng := NewEngine(testConfig(), paper, holder, alerts, zerolog.Nop())
	return eng, paper, holder, alerts
}

func TestExecutePairComplete(t *testing.T) {
	t.Parallel()

	books := market.NewBookStore()
	books.Set(bookFor("yes-1", 0.45, 0.44, 500))
	books.Set(bookFor("no-1", 0.52, 0.51, 500))
	eng, paper, _, _ := newTestEngine(books)

	res := eng.Execute(context.Background(), pairDecision(100))

	assert.Equal(t, Complete, res.Status)
	require.Len(t, res.Legs, 2)
	assert.InDelta(t, 0.97, res.RealizedCost, 1e-9)
	assert.InDelta(t, 97, res.Retained, 1e-9)
	assert.InDelta(t, 100, paper.Position("yes-1"), 1e-9)
	assert.InDelta(t, 100, paper.Position("no-1"), 1e-9)
	assert.Empty(t, res.Reason)
}

func TestExecuteAbandonsWhenLegAUnfilled(t *testing.T) {
	t.Parallel()

	books := market.NewBookStore()
	books.Set(bookFor("yes-1", 0.45, 0.44, 500))
	books.Set(bookFor("no-1", 0.52, 0.51, 500))
	eng, paper, _, _ := newTestEngine(books)
	paper.Refuse("yes-1", -1)

	res := eng.Execute(context.Background(), pairDecision(100))

	assert.Equal(t, Abandoned, res.Status)
	assert.Zero(t, res.Retained)
	assert.InDelta(t, 0, paper.Position("no-1"), 1e-9)
	assert.InDelta(t, 10000, paper.Balance(), 1e-9)
}

func TestExecuteUnwindsWhenLegBFails(t *testing.T) {
	t.Parallel()

	books := market.NewBookStore()
	books.Set(bookFor("yes-1", 0.45, 0.44, 500))
	books.Set(bookFor("no-1", 0.52, 0.51, 500))
	eng, paper, holder, _ := newTestEngine(books)
	paper.Refuse("no-1", -1)

	res := eng.Execute(context.Background(), pairDecision(100))

	assert.Equal(t, Unwound, res.Status)
	require.Len(t, res.Legs, 2)
	assert.Zero(t, res.Retained)
	// Bought 100 at 0.45, flattened at the 0.44 bid: one cent per share.
	assert.InDelta(t, -1.0, res.Realized, 1e-9)
	assert.InDelta(t, 0, paper.Position("yes-1"), 1e-9)
	assert.Empty(t, holder.reason("m1"))
}

func TestExecuteUnwindExhaustionHoldsMarket(t *testing.T) {
	t.Parallel()

	books := market.NewBookStore()
	// No bids on the yes token: the unwind sell can never fill.
	books.Set(bookFor("yes-1", 0.45, 0, 500))
	books.Set(bookFor("no-1", 0.52, 0.51, 500))
	eng, paper, holder, alerts := newTestEngine(books)
	paper.Refuse("no-1", -1)

	res := eng.Execute(context.Background(), pairDecision(100))

	assert.Equal(t, UnwoundFailed, res.Status)
	assert.InDelta(t, 45, res.Retained, 1e-9)
	assert.InDelta(t, 100, paper.Position("yes-1"), 1e-9)
	assert.NotEmpty(t, holder.reason("m1"))

	select {
	case a := <-alerts:
		assert.Equal(t, "m1", a.MarketID)
		assert.Equal(t, UnwoundFailed, a.Result.Status)
	default:
		t.Fatal("expected an unwind-failed alert")
	}
}

// slipVenue fills every order but reports fills at prices worse than the
// submitted limits, as a venue with a pricing bug would.
type slipVenue struct {
	books map[string]market.Book
	slip  float64
}

func (v *slipVenue) SubmitOrder(_ context.Context, req venue.OrderRequest) (venue.OrderResult, error) {
	return venue.OrderResult{
		OrderID:    req.ClientID,
		ClientID:   req.ClientID,
		Status:     venue.Filled,
		FilledSize: req.Size,
		FillPrice:  req.Price + v.slip,
		At:         time.Now(),
	}, nil
}

func (v *slipVenue) OrderStatus(context.Context, string) (venue.OrderResult, error) {
	return venue.OrderResult{}, venue.ErrUnknownOrder
}

func (v *slipVenue) CancelOrder(context.Context, string) error { return nil }

func (v *slipVenue) Book(_ context.Context, tokenID string) (market.Book, error) {
	b, ok := v.books[tokenID]
	if !ok {
		return market.Book{}, market.ErrNoBook
	}
	return b, nil
}

func TestExecutePairFlagsPricingAnomaly(t *testing.T) {
	t.Parallel()

	// Books pass the depth check at 0.45 + 0.52, but every fill lands two
	// cents over its limit, pushing the realized cost past the payout.
	v := &slipVenue{books: map[string]market.Book{
		"yes-1": bookFor("yes-1", 0.45, 0.44, 500),
		"no-1":  bookFor("no-1", 0.52, 0.51, 500),
	}, slip: 0.02}
	holder := &holdRecorder{}
	eng := NewEngine(testConfig(), v, holder, nil, zerolog.Nop())

	res := eng.Execute(context.Background(), pairDecision(100))

	assert.Equal(t, Complete, res.Status)
	assert.InDelta(t, 1.01, res.RealizedCost, 1e-9)
	assert.Equal(t, "pricing anomaly", res.Reason)
	assert.Empty(t, holder.reason("m1"))
}

func TestExecuteClampsToDepth(t *testing.T) {
	t.Parallel()

	books := market.NewBookStore()
	// Only 50 shares inside the 1% impact band on the yes side.
	books.Set(market.Book{
		TokenID: "yes-1", Seq: 1,
		Asks: []market.PriceLevel{{Price: 0.45, Size: 50}, {Price: 0.47, Size: 500}},
		Bids: []market.PriceLevel{{Price: 0.44, Size: 500}},
	})
	books.Set(bookFor("no-1", 0.52, 0.51, 500))
	eng, paper, _, _ := newTestEngine(books)

	res := eng.Execute(context.Background(), pairDecision(100))

	assert.Equal(t, Complete, res.Status)
	assert.InDelta(t, 50, res.Decision.Shares, 1e-9)
	assert.InDelta(t, 50, paper.Position("yes-1"), 1e-9)
	assert.InDelta(t, 50, paper.Position("no-1"), 1e-9)
}

func TestExecuteAbandonsThinBook(t *testing.T) {
	t.Parallel()

	books := market.NewBookStore()
	books.Set(bookFor("yes-1", 0.45, 0.44, 5)) // below MinDepth
	books.Set(bookFor("no-1", 0.52, 0.51, 500))
	eng, _, _, _ := newTestEngine(books)

	res := eng.Execute(context.Background(), pairDecision(100))
	assert.Equal(t, Abandoned, res.Status)
}

func TestExecuteAbandonsWhenEdgeGone(t *testing.T) {
	t.Parallel()

	books := market.NewBookStore()
	// Prices moved: combined asks now at or above the payout.
	books.Set(bookFor("yes-1", 0.49, 0.48, 500))
	books.Set(bookFor("no-1", 0.52, 0.51, 500))
	eng, paper, _, _ := newTestEngine(books)

	res := eng.Execute(context.Background(), pairDecision(100))
	assert.Equal(t, Abandoned, res.Status)
	assert.InDelta(t, 0, paper.Position("yes-1"), 1e-9)
}

func TestExecuteHonorsCancellationBeforeLegA(t *testing.T) {
	t.Parallel()

	books := market.NewBookStore()
	books.Set(bookFor("yes-1", 0.45, 0.44, 500))
	books.Set(bookFor("no-1", 0.52, 0.51, 500))
	eng, paper, _, _ := newTestEngine(books)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := eng.Execute(ctx, pairDecision(100))
	assert.Equal(t, Abandoned, res.Status)
	assert.InDelta(t, 0, paper.Position("yes-1"), 1e-9)
}

func TestExecuteSingleLeg(t *testing.T) {
	t.Parallel()

	books := market.NewBookStore()
	books.Set(bookFor("yes-1", 0.45, 0.44, 500))
	eng, paper, _, _ := newTestEngine(books)

	leg := signal.Signal{
		ID: "s1", Module: "test", MarketID: "m1", TokenID: "yes-1",
		Action: market.Buy, Confidence: 0.8, Price: 0.45, Size: 40,
		ExpectedValue: 2, CreatedAt: time.Now(),
	}
	d := aggregate.Decision{
		ID: "d1", MarketID: "m1", Key: "m1|BUY",
		Legs: []signal.Signal{leg}, NetEV: 2, Shares: 40,
		FirstSignalAt: leg.CreatedAt,
	}

	res := eng.Execute(context.Background(), d)
	assert.Equal(t, Complete, res.Status)
	assert.InDelta(t, 0.45*40, res.Retained, 1e-9)
	assert.InDelta(t, 40, paper.Position("yes-1"), 1e-9)
}
