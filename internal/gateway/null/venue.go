// Package null is a simulated venue. It generates a random-walk book, acks
// orders immediately and fills resting orders the book trades through.
package null

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketmaker/internal/chaos"
	"marketmaker/internal/gateway"
	"marketmaker/internal/schema"
	"marketmaker/pkg/exception"
)

const fundsEpsilon = 1e-9

type Config struct {
	StartPrice  float64       `yaml:"startPrice"`
	MinTick     float64       `yaml:"minTick"`
	SpreadTicks float64       `yaml:"spreadTicks"`
	Volatility  float64       `yaml:"volatility"`
	Depth       int           `yaml:"depth"`
	LevelSize   float64       `yaml:"levelSize"`
	Interval    time.Duration `yaml:"interval"`
	BaseAmount  float64       `yaml:"baseAmount"`
	QuoteAmount float64       `yaml:"quoteAmount"`
	Seed        int64         `yaml:"seed"`
	Chaos       chaos.Config  `yaml:"chaos"`
}

func DefaultConfig() Config {
	return Config{
		StartPrice:  100,
		MinTick:     0.01,
		SpreadTicks: 4,
		Volatility:  0.0005,
		Depth:       5,
		LevelSize:   2,
		Interval:    500 * time.Millisecond,
		BaseAmount:  10,
		QuoteAmount: 1000,
	}
}

// Factory builds null venues for the gateway registry.
func Factory(cfg Config) gateway.Factory {
	return func(pair schema.Pair) (gateway.Gateway, error) {
		return New(pair, cfg)
	}
}

type restingOrder struct {
	order schema.Order
}

// Venue implements gateway.Gateway without any network.
type Venue struct {
	cfg   Config
	pair  schema.Pair
	gen   *Generator
	chaos *chaos.Engine[schema.MarketSample]

	mu        sync.Mutex
	orders    map[string]*restingOrder
	base      float64
	baseHeld  float64
	quote     float64
	quoteHeld float64

	md        chan schema.MarketSample
	updates   chan schema.OrderUpdate
	balances  chan schema.Balance
	conn      chan bool
	connected atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func New(pair schema.Pair, cfg Config) (*Venue, error) {
	if cfg.StartPrice <= 0 || cfg.MinTick <= 0 {
		return nil, errors.Wrap(exception.ErrInvalidConfig, "null venue needs a positive start price and tick").With("startPrice", cfg.StartPrice)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	var eng *chaos.Engine[schema.MarketSample]
	if cfg.Chaos.Enabled() {
		cc := cfg.Chaos
		if cc.Seed == 0 {
			cc.Seed = seed
		}
		e, err := chaos.NewEngine[schema.MarketSample](cc)
		if err != nil {
			return nil, errors.Wrap(err, "null venue chaos")
		}
		eng = e
	}

	rng := rand.New(rand.NewSource(seed))
	return &Venue{
		cfg:      cfg,
		pair:     pair,
		gen:      NewGenerator(rng, cfg.StartPrice, cfg.MinTick, cfg.SpreadTicks, cfg.Volatility, cfg.Depth, cfg.LevelSize),
		chaos:    eng,
		orders:   make(map[string]*restingOrder),
		base:     cfg.BaseAmount,
		quote:    cfg.QuoteAmount,
		md:       make(chan schema.MarketSample, 64),
		updates:  make(chan schema.OrderUpdate, 1024),
		balances: make(chan schema.Balance, 64),
		conn:     make(chan bool, 4),
		done:     make(chan struct{}),
	}, nil
}

func (v *Venue) Exchange() schema.Exchange { return schema.ExchangeNull }

func (v *Venue) Pair() schema.Pair { return v.pair }

func (v *Venue) MinTick() float64 { return v.cfg.MinTick }

func (v *Venue) MarketData() <-chan schema.MarketSample { return v.md }

func (v *Venue) Updates() <-chan schema.OrderUpdate { return v.updates }

func (v *Venue) Balances() <-chan schema.Balance { return v.balances }

func (v *Venue) Connectivity() <-chan bool { return v.conn }

func (v *Venue) SupportsReplace() bool { return true }

// Run generates one book per interval until ctx is done or the venue is closed.
func (v *Venue) Run(ctx context.Context) error {
	defer close(v.md)

	v.setConnected(true)
	v.mu.Lock()
	v.publishBalanceLocked(time.Now())
	v.mu.Unlock()

	ticker := time.NewTicker(v.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			v.setConnected(false)
			return nil
		case <-v.done:
			v.setConnected(false)
			return nil
		case now := <-ticker.C:
			v.Step(now)
		}
	}
}

// Step produces one book, fills the orders it trades through and publishes it.
func (v *Venue) Step(now time.Time) {
	sample := v.gen.Next(now)

	v.mu.Lock()
	v.matchLocked(sample, now)
	v.mu.Unlock()

	for _, s := range v.chaos.Process(sample) {
		select {
		case v.md <- s:
		default:
			logs.Infof("null venue: market data channel full, sample dropped")
		}
	}
}

func (v *Venue) Close() error {
	v.closeOnce.Do(func() { close(v.done) })
	return nil
}

func (v *Venue) Place(_ context.Context, req schema.OrderRequest) error {
	if !v.connected.Load() {
		return exception.ErrGatewayDisconnected
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.placeLocked(req, time.Now())
	return nil
}

func (v *Venue) Cancel(_ context.Context, req schema.CancelRequest) error {
	if !v.connected.Load() {
		return exception.ErrGatewayDisconnected
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cancelLocked(req.ClientID, time.Now())
}

func (v *Venue) Replace(_ context.Context, req gateway.ReplaceRequest) error {
	if !v.connected.Load() {
		return exception.ErrGatewayDisconnected
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	now := time.Now()
	if err := v.cancelLocked(req.Cancel.ClientID, now); err != nil {
		return err
	}
	v.placeLocked(req.Order, now)
	return nil
}

func (v *Venue) OpenOrders(context.Context) ([]schema.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]schema.Order, 0, len(v.orders))
	for _, r := range v.orders {
		out = append(out, r.order)
	}
	return out, nil
}

func (v *Venue) setConnected(up bool) {
	v.connected.Store(up)
	select {
	case v.conn <- up:
	default:
	}
}

func (v *Venue) placeLocked(req schema.OrderRequest, now time.Time) {
	if req.Size <= 0 || req.Price <= 0 {
		v.emit(schema.OrderUpdate{ClientID: req.ClientID, Status: schema.OrderStatusRejected, Reason: "invalid order", Time: now})
		return
	}

	switch req.Side {
	case schema.SideBid:
		need := req.Price * req.Size
		if need > v.quote+fundsEpsilon {
			v.emit(schema.OrderUpdate{ClientID: req.ClientID, Status: schema.OrderStatusRejected, Reason: "insufficient quote funds", Time: now})
			return
		}
		v.quote -= need
		v.quoteHeld += need
	case schema.SideAsk:
		if req.Size > v.base+fundsEpsilon {
			v.emit(schema.OrderUpdate{ClientID: req.ClientID, Status: schema.OrderStatusRejected, Reason: "insufficient base funds", Time: now})
			return
		}
		v.base -= req.Size
		v.baseHeld += req.Size
	default:
		v.emit(schema.OrderUpdate{ClientID: req.ClientID, Status: schema.OrderStatusRejected, Reason: "invalid side", Time: now})
		return
	}

	o := schema.Order{
		ClientID:   req.ClientID,
		ExchangeID: uuid.NewString(),
		Side:       req.Side,
		Price:      req.Price,
		Size:       req.Size,
		Status:     schema.OrderStatusWorking,
		Pong:       req.Pong,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	v.orders[o.ClientID] = &restingOrder{order: o}
	v.emit(schema.OrderUpdate{ClientID: o.ClientID, ExchangeID: o.ExchangeID, Status: schema.OrderStatusWorking, Time: now})
	v.publishBalanceLocked(now)
}

func (v *Venue) cancelLocked(clientID string, now time.Time) error {
	r, ok := v.orders[clientID]
	if !ok {
		return errors.Wrap(exception.ErrGatewayUnknownOrder, "null venue cancel").With("clientId", clientID)
	}
	v.release(r.order)
	delete(v.orders, clientID)
	v.emit(schema.OrderUpdate{ClientID: clientID, ExchangeID: r.order.ExchangeID, Status: schema.OrderStatusCancelled, Time: now})
	v.publishBalanceLocked(now)
	return nil
}

func (v *Venue) release(o schema.Order) {
	left := o.Remaining()
	switch o.Side {
	case schema.SideBid:
		v.quoteHeld -= left * o.Price
		v.quote += left * o.Price
	case schema.SideAsk:
		v.baseHeld -= left
		v.base += left
	}
}

func (v *Venue) matchLocked(sample schema.MarketSample, now time.Time) {
	if len(sample.Bids) == 0 || len(sample.Asks) == 0 {
		return
	}
	bestBid, bestAsk := sample.Bids[0].Price, sample.Asks[0].Price

	filled := false
	for id, r := range v.orders {
		o := r.order
		switch {
		case o.Side == schema.SideBid && o.Price >= bestAsk:
			size := o.Remaining()
			v.quoteHeld -= size * o.Price
			v.base += size
		case o.Side == schema.SideAsk && o.Price <= bestBid:
			size := o.Remaining()
			v.baseHeld -= size
			v.quote += size * o.Price
		default:
			continue
		}
		delete(v.orders, id)
		filled = true
		v.emit(schema.OrderUpdate{
			ClientID:      o.ClientID,
			ExchangeID:    o.ExchangeID,
			Status:        schema.OrderStatusFilled,
			LastFillPrice: o.Price,
			LastFillSize:  o.Remaining(),
			Time:          now,
		})
	}
	if filled {
		v.publishBalanceLocked(now)
	}
}

func (v *Venue) emit(u schema.OrderUpdate) {
	select {
	case v.updates <- u:
	case <-v.done:
	}
}

func (v *Venue) publishBalanceLocked(now time.Time) {
	b := schema.Balance{
		BaseAmount:  v.base,
		BaseHeld:    clampZero(v.baseHeld),
		QuoteAmount: v.quote,
		QuoteHeld:   clampZero(v.quoteHeld),
		Time:        now,
	}
	select {
	case v.balances <- b:
	default:
		// keep the newest snapshot
		select {
		case <-v.balances:
		default:
		}
		select {
		case v.balances <- b:
		default:
		}
	}
}

func clampZero(v float64) float64 {
	if v < fundsEpsilon {
		return 0
	}
	return v
}
