package strategies

import (
	"context"

	"github.com/quantfall/polyflow/market"
	"github.com/quantfall/polyflow/signal"
)

// Noop produces nothing. Useful for wiring tests and dry runs.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) Produce(context.Context, []market.Market) ([]signal.Signal, error) {
	return nil, nil
}
