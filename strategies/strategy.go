// Package strategies provides the pluggable signal-producer boundary and
// the built-in producers. Any component that can turn market data into
// signals can be registered without the core knowing its internals.
package strategies

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/quantfall/polyflow/market"
	"github.com/quantfall/polyflow/signal"
)

// Producer is the minimal interface a strategy module must implement.
// It is called once per scan with the current market universe.
type Producer interface {
	Name() string
	Produce(ctx context.Context, markets []market.Market) ([]signal.Signal, error)
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Producer)
)

// Register adds a producer under its name, replacing any previous entry.
func Register(p Producer) {
	mu.Lock()
	defer mu.Unlock()
	registry[p.Name()] = p
}

// Get returns a registered producer, nil when unknown.
func Get(name string) Producer {
	mu.RLock()
	defer mu.RUnlock()
	return registry[name]
}

// Params groups the tunable knobs strategy constructors need.
type Params struct {
	MinSpread   float64 // minimum arbitrage margin as a fraction of cost
	MinVolume   float64 // minimum 24h market volume in USD
	MaxPosition float64 // maximum position per opportunity in USD
}

// ByName constructs a producer for the configured mode.
func ByName(name string, params Params) (Producer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "noop", "none":
		return Noop{}, nil

	case "", "arb", "arbitrage":
		return NewArbitrage(params.MinSpread, params.MinVolume, params.MaxPosition), nil

	default:
		return nil, fmt.Errorf("unknown strategy %q (supported: arbitrage, noop)", name)
	}
}
