// Package strategy defines the pluggable trading logic driven by the
// backtest runner's bar loop. Strategies are registered by name and
// instantiated against the order-entry surface of a simulated
// exchange.
package strategy

import (
	"context"

	"perpsim/internal/sim"
)

// Trader is the slice of the exchange a strategy is allowed to touch.
// *sim.Exchange satisfies it.
type Trader interface {
	PlaceOrder(req sim.OrderRequest) (*sim.Order, error)
	CancelAll(symbol string) []*sim.Order
	Position(symbol string) sim.Position
	LastPrice(symbol string) (float64, bool)
	Equity() float64
}

// Strategy receives lifecycle callbacks from the host. OnBar runs after
// the last price has moved to the bar open and before resting orders
// match, so market orders placed inside it execute at the open.
type Strategy interface {
	OnStart(ctx context.Context) error
	OnBar(ctx context.Context, bar *sim.Bar) error
	OnFinish(ctx context.Context) error
}

// Base provides no-op callbacks for embedding, so strategies only
// implement the hooks they care about.
type Base struct{}

func (Base) OnStart(context.Context) error         { return nil }
func (Base) OnBar(context.Context, *sim.Bar) error { return nil }
func (Base) OnFinish(context.Context) error        { return nil }
