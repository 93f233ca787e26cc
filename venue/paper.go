package venue

import (
	"context"
	"sync"
	"time"

	"github.com/quantfall/polyflow/market"
	"github.com/quantfall/polyflow/pkg/id"
)

// Paper is an in-process venue that fills orders against a live book store.
// It enforces the same fill-or-kill and idempotency semantics as the real
// exchange so the execution engine runs unchanged against it.
type Paper struct {
	mu        sync.Mutex
	books     *market.BookStore
	balance   float64
	positions map[string]float64     // tokenID -> shares
	orders    map[string]OrderResult // clientID -> terminal result
	refusals  map[string]int         // tokenID -> remaining forced misses, <0 forever
}

func NewPaper(balance float64, books *market.BookStore) *Paper {
	return &Paper{
		books:     books,
		balance:   balance,
		positions: make(map[string]float64),
		orders:    make(map[string]OrderResult),
		refusals:  make(map[string]int),
	}
}

// Refuse forces the next `times` orders on a token to come back unfilled.
// Negative means refuse forever. Test hook for unwind paths.
func (p *Paper) Refuse(tokenID string, times int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refusals[tokenID] = times
}

func (p *Paper) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Replaying a client ID returns the original outcome, never a new order.
	if prior, seen := p.orders[req.ClientID]; seen {
		return prior, nil
	}

	res := OrderResult{
		OrderID:  id.New(),
		ClientID: req.ClientID,
		Status:   Unfilled,
		At:       time.Now(),
	}

	if n, forced := p.refusals[req.TokenID]; forced && n != 0 {
		if n > 0 {
			p.refusals[req.TokenID] = n - 1
		}
		p.orders[req.ClientID] = res
		return res, nil
	}

	book, err := p.books.Get(req.TokenID)
	if err != nil {
		res.Status = Rejected
		p.orders[req.ClientID] = res
		return res, nil
	}

	avg, ok := fillAgainst(book, req.Side, req.Price, req.Size)
	if !ok {
		p.orders[req.ClientID] = res
		return res, nil
	}

	res.Status = Filled
	res.FilledSize = req.Size
	res.FillPrice = avg
	if req.Side == market.Buy {
		p.balance -= avg * req.Size
		p.positions[req.TokenID] += req.Size
	} else {
		p.balance += avg * req.Size
		p.positions[req.TokenID] -= req.Size
	}
	p.orders[req.ClientID] = res
	return res, nil
}

func (p *Paper) OrderStatus(ctx context.Context, clientID string) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.orders[clientID]
	if !ok {
		return OrderResult{}, ErrUnknownOrder
	}
	return res, nil
}

func (p *Paper) CancelOrder(ctx context.Context, clientID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[clientID]; !ok {
		return ErrUnknownOrder
	}
	// All paper orders settle synchronously, nothing left to cancel.
	return nil
}

func (p *Paper) Book(ctx context.Context, tokenID string) (market.Book, error) {
	if err := ctx.Err(); err != nil {
		return market.Book{}, err
	}
	return p.books.Get(tokenID)
}

func (p *Paper) Balance() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

func (p *Paper) Position(tokenID string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positions[tokenID]
}

// fillAgainst walks the opposing side of the book and reports the average
// fill price for the full size within the limit, or ok=false when the order
// cannot fill entirely (the fill-or-kill condition).
func fillAgainst(b market.Book, side market.Side, limit, size float64) (float64, bool) {
	levels := b.Asks
	within := func(px float64) bool { return px <= limit }
	if side == market.Sell {
		levels = b.Bids
		within = func(px float64) bool { return px >= limit }
	}

	var remaining = size
	var cost float64
	for _, lvl := range levels {
		if !within(lvl.Price) {
			break
		}
		take := lvl.Size
		if take > remaining {
			take = remaining
		}
		cost += take * lvl.Price
		remaining -= take
		if remaining <= 0 {
			return cost / size, true
		}
	}
	return 0, false
}
