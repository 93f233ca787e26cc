// Package venue abstracts the exchange: order submission, status queries,
// and orderbook access. Implementations are the live CLOB client and the
// in-process paper venue.
package venue

import (
	"context"
	"errors"
	"time"

	"github.com/quantfall/polyflow/market"
)

// OrderType selects the venue-side execution mode.
type OrderType string

const (
	FOK    OrderType = "FOK" // fill entirely at the limit or not at all
	Limit  OrderType = "GTC"
	Market OrderType = "FAK"
)

// OrderStatus is the venue's terminal answer for an order.
type OrderStatus string

const (
	Filled   OrderStatus = "filled"
	Unfilled OrderStatus = "unfilled"
	Rejected OrderStatus = "rejected"
	Pending  OrderStatus = "pending"
)

// OrderRequest is one order leg. ClientID is a caller-generated idempotency
// token: resubmitting the same ClientID must not create a second order.
type OrderRequest struct {
	ClientID string
	MarketID string
	TokenID  string
	Side     market.Side
	Price    float64 // limit price per share
	Size     float64 // shares
	Type     OrderType
}

// OrderResult reports what the venue did with a request.
type OrderResult struct {
	OrderID    string
	ClientID   string
	Status     OrderStatus
	FilledSize float64
	FillPrice  float64 // average across fills
	At         time.Time
}

// Cost is the USD the fill consumed (or returned, for sells).
func (r OrderResult) Cost() float64 { return r.FillPrice * r.FilledSize }

var (
	ErrUnknownOrder = errors.New("venue: unknown order")
	ErrNoLiquidity  = errors.New("venue: no liquidity at limit")
)

// Venue is the exchange surface the execution engine drives. All calls are
// blocking network round-trips; callers bound them with context deadlines.
type Venue interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	OrderStatus(ctx context.Context, clientID string) (OrderResult, error)
	CancelOrder(ctx context.Context, clientID string) error
	Book(ctx context.Context, tokenID string) (market.Book, error)
}
