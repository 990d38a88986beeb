package og

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketmaker/internal/gateway"
	"marketmaker/internal/schema"
	"marketmaker/pkg/exception"
)

// Config controls gateway dispatch.
type Config struct {
	// CallTimeout bounds one gateway call.
	CallTimeout time.Duration
	// BreakerFailures consecutive failures open the circuit.
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open.
	BreakerCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 10 * time.Second
	}
	return c
}

// Broker owns the order ledger. Gateway calls are dispatched in the background
// and their failures come back through sink as ordinary order updates.
type Broker struct {
	mu      sync.Mutex
	sm      *StateMachine
	entry   gateway.OrderEntry
	cb      *gobreaker.CircuitBreaker
	cfg     Config
	sink    func(schema.OrderUpdate)
	halted  bool
	changed chan struct{}
	wg      sync.WaitGroup
}

// NewBroker creates a broker dispatching to entry. sink receives synthetic
// updates for failed gateway calls and must not block for long.
func NewBroker(entry gateway.OrderEntry, sink func(schema.OrderUpdate), cfg Config) *Broker {
	cfg = cfg.withDefaults()
	b := &Broker{
		sm:      NewStateMachine(),
		entry:   entry,
		cfg:     cfg,
		sink:    sink,
		changed: make(chan struct{}),
	}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "order-entry",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logs.Infof("circuit breaker %s: %s -> %s", name, from.String(), to.String())
		},
	})
	return b
}

// Place records a new order and submits it to the gateway.
func (b *Broker) Place(req schema.OrderRequest) (schema.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.halted {
		return schema.Order{}, exception.ErrOrderHalted
	}
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	if req.Time.IsZero() {
		req.Time = time.Now()
	}

	o, err := b.sm.ApplyIntent(req)
	if err != nil {
		return o, errors.Wrap(err, "place").With("clientId", req.ClientID)
	}
	b.notifyLocked()

	b.dispatch(func(ctx context.Context) error {
		return b.entry.Place(ctx, req)
	}, func(err error) {
		b.sink(schema.OrderUpdate{
			ClientID: req.ClientID,
			Status:   schema.OrderStatusRejected,
			Reason:   err.Error(),
			Time:     time.Now(),
		})
	})

	return o, nil
}

// Cancel requests cancellation of an open order. The order stays open until
// the gateway confirms.
func (b *Broker) Cancel(clientID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelLocked(clientID, time.Now())
}

func (b *Broker) cancelLocked(clientID string, at time.Time) error {
	o, err := b.sm.MarkCancelRequested(clientID, at)
	if err != nil {
		return errors.Wrap(err, "cancel").With("clientId", clientID)
	}
	b.notifyLocked()

	req := schema.CancelRequest{ClientID: o.ClientID, ExchangeID: o.ExchangeID, Side: o.Side, Time: at}
	b.dispatch(func(ctx context.Context) error {
		return b.entry.Cancel(ctx, req)
	}, func(err error) {
		u := schema.OrderUpdate{ClientID: req.ClientID, Reason: err.Error(), Time: time.Now()}
		if stderrors.Is(err, exception.ErrGatewayUnknownOrder) {
			u.Status = schema.OrderStatusCancelled
		} else {
			u.CancelRejected = true
		}
		b.sink(u)
	})
	return nil
}

// Replace amends a live order in one gateway call. The old order is marked as
// cancelling and a new order takes its place.
func (b *Broker) Replace(clientID string, price, size float64) (schema.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.halted {
		return schema.Order{}, exception.ErrOrderHalted
	}
	if !b.entry.SupportsReplace() {
		return schema.Order{}, exception.ErrGatewayReplace
	}

	old, ok := b.sm.Order(clientID)
	if !ok {
		return schema.Order{}, errors.Wrap(exception.ErrOrderUnknown, "replace").With("clientId", clientID)
	}
	if !old.Status.Open() || old.CancelRequested {
		return old, errors.Wrap(exception.ErrOrderInvalidTransition, "replace").With("clientId", clientID)
	}

	now := time.Now()
	req := schema.OrderRequest{
		ClientID: uuid.NewString(),
		Side:     old.Side,
		Price:    price,
		Size:     size,
		Pong:     old.Pong,
		Time:     now,
	}
	o, err := b.sm.ApplyIntent(req)
	if err != nil {
		return o, errors.Wrap(err, "replace").With("clientId", clientID)
	}
	if _, err := b.sm.MarkCancelRequested(clientID, now); err != nil {
		return o, errors.Wrap(err, "replace").With("clientId", clientID)
	}
	b.notifyLocked()

	rr := gateway.ReplaceRequest{
		Cancel: schema.CancelRequest{ClientID: old.ClientID, ExchangeID: old.ExchangeID, Side: old.Side, Time: now},
		Order:  req,
	}
	b.dispatch(func(ctx context.Context) error {
		return b.entry.Replace(ctx, rr)
	}, func(err error) {
		at := time.Now()
		b.sink(schema.OrderUpdate{ClientID: old.ClientID, CancelRejected: true, Reason: err.Error(), Time: at})
		b.sink(schema.OrderUpdate{ClientID: req.ClientID, Status: schema.OrderStatusRejected, Reason: err.Error(), Time: at})
	})

	return o, nil
}

// SupportsReplace reports whether the gateway can amend orders in place.
func (b *Broker) SupportsReplace() bool {
	return b.entry.SupportsReplace()
}

// OnUpdate applies a gateway update to the ledger and returns the fill it carried.
func (b *Broker) OnUpdate(u schema.OrderUpdate) (schema.Order, *schema.Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, fill, err := b.sm.ApplyUpdate(u)
	if err != nil {
		return o, fill, errors.Wrap(err, "order update").With("clientId", u.ClientID)
	}
	b.notifyLocked()
	return o, fill, nil
}

// Open returns the open orders, oldest first.
func (b *Broker) Open() []schema.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openLocked()
}

func (b *Broker) openLocked() []schema.Order {
	out := b.sm.Open()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out
}

// Order returns one order by client id.
func (b *Broker) Order(clientID string) (schema.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sm.Order(clientID)
}

// Sweep forgets terminal orders older than age.
func (b *Broker) Sweep(age time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sm.Sweep(time.Now().Add(-age))
}

// Halt stops accepting new orders. Cancels are still accepted.
func (b *Broker) Halt() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halted = true
}

// Resume accepts new orders again.
func (b *Broker) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halted = false
}

// Reconcile adopts orders the venue reports as open but the ledger does not
// know, and cancels them. It returns how many were cancelled.
func (b *Broker) Reconcile(ctx context.Context) (int, error) {
	live, err := b.entry.OpenOrders(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list open orders")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, o := range live {
		if !o.Status.Open() {
			continue
		}
		if _, known := b.sm.Order(o.ClientID); known {
			continue
		}
		if err := b.sm.Adopt(o); err != nil {
			logs.Errorf("reconcile: adopt order %s, err: %+v", o.ClientID, err)
			continue
		}
		if err := b.cancelLocked(o.ClientID, time.Now()); err != nil {
			logs.Errorf("reconcile: cancel order %s, err: %+v", o.ClientID, err)
			continue
		}
		n++
	}
	return n, nil
}

// CancelAll halts the broker, requests cancellation of every open order and
// waits for the gateway to confirm until ctx is done. Confirmations must be
// fed through OnUpdate by another goroutine.
func (b *Broker) CancelAll(ctx context.Context) error {
	b.mu.Lock()
	b.halted = true
	for _, o := range b.openLocked() {
		if o.CancelRequested {
			continue
		}
		if err := b.cancelLocked(o.ClientID, time.Now()); err != nil {
			logs.Errorf("cancel all: order %s, err: %+v", o.ClientID, err)
		}
	}
	b.mu.Unlock()

	for {
		b.mu.Lock()
		open := b.sm.Open()
		changed := b.changed
		b.mu.Unlock()

		if len(open) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			ids := make([]string, 0, len(open))
			for _, o := range open {
				ids = append(ids, o.ClientID)
			}
			return errors.Wrap(exception.ErrShutdownTimeout, "cancel all").With("open", ids)
		case <-changed:
		}
	}
}

// Wait blocks until every in-flight gateway call returned.
func (b *Broker) Wait() {
	b.wg.Wait()
}

func (b *Broker) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

func (b *Broker) dispatch(call func(ctx context.Context) error, onErr func(error)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CallTimeout)
		defer cancel()

		_, err := b.cb.Execute(func() (interface{}, error) {
			return nil, call(ctx)
		})
		if err != nil {
			logs.Errorf("gateway call failed, err: %+v", err)
			onErr(err)
		}
	}()
}
