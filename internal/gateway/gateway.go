// Package gateway defines the venue contract the engine trades through.
// Concrete venues live in sub-packages; only the simulated null venue is
// built in.
package gateway

import (
	"context"

	"github.com/yanun0323/errors"

	"marketmaker/internal/schema"
	"marketmaker/pkg/exception"
)

// ReplaceRequest amends the price and size of a live order.
type ReplaceRequest struct {
	Cancel schema.CancelRequest
	Order  schema.OrderRequest
}

// MarketData produces the book sample stream. The channel is closed when the
// feed stops and cannot be restarted.
type MarketData interface {
	MarketData() <-chan schema.MarketSample
}

// OrderEntry places, cancels and replaces orders. Calls only submit the
// request; outcomes arrive on Updates.
type OrderEntry interface {
	Place(ctx context.Context, req schema.OrderRequest) error
	Cancel(ctx context.Context, req schema.CancelRequest) error
	Replace(ctx context.Context, req ReplaceRequest) error
	SupportsReplace() bool
	Updates() <-chan schema.OrderUpdate
	OpenOrders(ctx context.Context) ([]schema.Order, error)
}

// PositionFeed produces balance snapshots.
type PositionFeed interface {
	Balances() <-chan schema.Balance
}

// Gateway is one venue connection for one pair.
type Gateway interface {
	MarketData
	OrderEntry
	PositionFeed

	Exchange() schema.Exchange
	Pair() schema.Pair
	MinTick() float64
	// Connectivity reports connection state changes.
	Connectivity() <-chan bool
	// Run drives the connection until ctx is done.
	Run(ctx context.Context) error
	Close() error
}

// Factory builds a gateway for a pair.
type Factory func(pair schema.Pair) (Gateway, error)

// Registry maps venues to gateway factories.
type Registry struct {
	factories map[schema.Exchange]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[schema.Exchange]Factory)}
}

// Register installs the factory for exchange.
func (r *Registry) Register(exchange schema.Exchange, f Factory) {
	r.factories[exchange] = f
}

// Open builds the gateway for exchange, failing for venues without one.
func (r *Registry) Open(exchange schema.Exchange, pair schema.Pair) (Gateway, error) {
	f, ok := r.factories[exchange]
	if !ok {
		return nil, errors.Wrap(exception.ErrNoGateway, exchange.String())
	}
	g, err := f(pair)
	if err != nil {
		return nil, errors.Wrap(err, "open gateway").With("exchange", exchange.String())
	}
	return g, nil
}
