/*
Core runs the quoting decision loop for one pair on one venue.

# Module
  - in-memory bus: gateway pumps, timers and UI requests post events here
  - decision loop: single goroutine, filtration -> fair value -> stats ->
    position/target -> safety -> quoting -> sender, synchronously per event
  - order broker: ledger plus asynchronous gateway dispatch, results come back
    as order update events
  - view: last published state per UI topic, read by the publish server

# Source
 1. market samples, order updates, balances and connectivity from the gateway
 2. parameter changes from the repository (UI or startup restore)
 3. timer ticks and active-state toggles

# Produce
  - orders to the gateway
  - UI frames to the publish hub
  - trades, parameters and statistics to the persistence writer
*/
package core

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketmaker/internal/bus"
	"marketmaker/internal/fairvalue"
	"marketmaker/internal/filtration"
	"marketmaker/internal/gateway"
	"marketmaker/internal/obs"
	"marketmaker/internal/og"
	"marketmaker/internal/params"
	"marketmaker/internal/persist"
	"marketmaker/internal/position"
	"marketmaker/internal/publish"
	"marketmaker/internal/quoting"
	"marketmaker/internal/risk"
	"marketmaker/internal/schema"
	"marketmaker/internal/sender"
	"marketmaker/internal/stats"
	"marketmaker/pkg/exception"
)

// Config tunes the loop around the engine.
type Config struct {
	BotIdentifier        string
	QueueSize            int
	TimerInterval        time.Duration
	StatsPersistInterval time.Duration
	ShutdownTimeout      time.Duration
	TradesHistoryLimit   int
	// TerminalOrderAge is how long finished orders stay in the ledger.
	TerminalOrderAge time.Duration
	AutoStart        bool
	Broker           og.Config
}

func (c Config) withDefaults() Config {
	if c.BotIdentifier == "" {
		c.BotIdentifier = "marketmaker"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.TimerInterval <= 0 {
		c.TimerInterval = time.Second
	}
	if c.StatsPersistInterval <= 0 {
		c.StatsPersistInterval = time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 2 * time.Second
	}
	if c.TradesHistoryLimit <= 0 {
		c.TradesHistoryLimit = 10000
	}
	if c.TerminalOrderAge <= 0 {
		c.TerminalOrderAge = time.Minute
	}
	return c
}

// Deps are the collaborators of a Trader. Store, Writer, Hub and Metrics are
// optional.
type Deps struct {
	Gateway gateway.Gateway
	Params  *params.Repository
	Store   persist.Store
	Writer  *persist.Writer
	Hub     *publish.Hub
	Metrics *obs.Metrics
	Config  Config
}

// Trader owns every engine component and the single loop mutating them.
type Trader struct {
	cfg     Config
	gw      gateway.Gateway
	repo    *params.Repository
	store   persist.Store
	writer  *persist.Writer
	hub     *publish.Hub
	metrics *obs.Metrics
	queue   *bus.Queue
	broker  *og.Broker

	// loop state
	p           params.QuotingParameters
	filter      *filtration.Filter
	fv          *fairvalue.Engine
	stats       *stats.Engine
	pos         *position.Manager
	safety      *risk.Safety
	quoter      *quoting.Engine
	sender      *sender.Sender
	connected   bool
	enabled     bool
	reconciled  bool
	clamps      uint64
	lastPersist time.Time

	view          *view
	stopping      atomic.Bool
	running       atomic.Bool
	resyncPending atomic.Bool
	stop          chan struct{}
	done          chan struct{}
	pumps         sync.WaitGroup
}

// New wires a Trader. Nothing runs until Run.
func New(d Deps) (*Trader, error) {
	if d.Gateway == nil || d.Params == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "trader needs a gateway and a parameter repository")
	}
	cfg := d.Config.withDefaults()
	p := d.Params.Latest()
	minTick := d.Gateway.MinTick()

	t := &Trader{
		cfg:     cfg,
		gw:      d.Gateway,
		repo:    d.Params,
		store:   d.Store,
		writer:  d.Writer,
		hub:     d.Hub,
		metrics: d.Metrics,
		queue:   bus.NewQueue(cfg.QueueSize),
		p:       p,
		filter:  filtration.New(minTick),
		fv:      fairvalue.New(minTick),
		stats:   stats.NewEngine(p),
		pos:     position.NewManager(d.Gateway.Pair(), p.RFVEwmaPeriods),
		safety:  risk.NewSafety(),
		quoter:  quoting.New(minTick),
		enabled: cfg.AutoStart,
		view:    newView(cfg.TradesHistoryLimit),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	t.broker = og.NewBroker(d.Gateway, t.onBrokerFailure, cfg.Broker)
	t.sender = sender.New(t.broker, risk.NewGuard(risk.ConfigFrom(p)), minTick, p)
	t.haltOnKillSwitch()

	t.view.setParams(p)
	t.view.setAdvertisement(advertisement{
		BotIdentifier: cfg.BotIdentifier,
		Exchange:      d.Gateway.Exchange().String(),
		Pair:          d.Gateway.Pair().String(),
		MinTick:       minTick,
	})
	t.registerHub()

	d.Params.OnChange(func(next params.QuotingParameters) {
		t.post(schema.EventParams, time.Now(), next)
	})
	return t, nil
}

// Broker exposes the order ledger.
func (t *Trader) Broker() *og.Broker {
	return t.broker
}

// Run restores persisted state, starts the gateway and consumes events until
// ctx is done or Shutdown completes. A panic in the loop cancels every open
// order on a best-effort basis and is returned as an error.
func (t *Trader) Run(ctx context.Context) (err error) {
	if !t.running.CompareAndSwap(false, true) {
		return errors.New("trader already running")
	}
	defer close(t.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	t.restore(ctx)
	t.startPumps(ctx)
	defer func() {
		cancel()
		t.queue.Close()
		t.pumps.Wait()
		t.broker.Wait()
		t.logSummary()
	}()

	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("decision loop panic: %v", r)
			t.emergencyCancel()
			err = errors.Wrap(exception.ErrInternal, fmt.Sprintf("decision loop panic: %v", r))
		}
	}()

	logs.Infof("trader started, exchange: %s, pair: %s", t.gw.Exchange(), t.gw.Pair())
	t.queue.Run(ctx, t.handle)
	logs.Info("trader stopped")
	return nil
}

// Shutdown stops quoting, cancels every open order and waits for the
// confirmations up to the shutdown timeout, then stops the loop. Incomplete
// cleanup is logged and returned.
func (t *Trader) Shutdown(ctx context.Context) error {
	if !t.stopping.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ShutdownTimeout)
	defer cancel()

	err := t.broker.CancelAll(ctx)
	if err != nil {
		logs.Errorf("shutdown: incomplete order cleanup, err: %+v", err)
	}

	close(t.stop)
	if t.running.Load() {
		select {
		case <-t.done:
		case <-time.After(t.cfg.ShutdownTimeout):
			logs.Errorf("shutdown: decision loop did not stop within %s", t.cfg.ShutdownTimeout)
		}
	}
	return err
}

// emergencyCancel drains order updates on a fresh loop while cancelling
// every open order.
func (t *Trader) emergencyCancel() {
	t.stopping.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ShutdownTimeout)
	defer cancel()

	go t.queue.Run(ctx, func(e bus.Event) {
		if u, ok := e.Payload.(schema.OrderUpdate); ok {
			_, _, _ = t.broker.OnUpdate(u)
		}
	})
	if err := t.broker.CancelAll(ctx); err != nil {
		logs.Errorf("emergency cancel incomplete, err: %+v", err)
	}
}

func (t *Trader) logSummary() {
	if t.writer != nil {
		t.metrics.SetPersisted(t.writer.Written(), t.writer.Failed())
	}
	s := t.metrics.Snapshot()
	logs.Infof("trader summary, events: %d, queue drops: %d, recompute avg: %s, recompute max: %s, persisted: %d, persist failures: %d",
		s.Events(), s.QueueDrops, s.RecomputeLatency.Avg, s.RecomputeLatency.Max, s.PersistWritten, s.PersistFailed)
}

// SetActive toggles quoting on or off.
func (t *Trader) SetActive(on bool) error {
	return t.postWait(schema.EventActiveState, time.Now(), on)
}

func (t *Trader) startPumps(ctx context.Context) {
	t.goPump(func() {
		if err := t.gw.Run(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
			logs.Errorf("gateway stopped, err: %+v", err)
		}
	})
	t.goPump(func() {
		for sample := range t.gw.MarketData() {
			e := t.queue.NewEvent(schema.EventMarketSample, sample.Time, sample)
			if err := t.queue.TryPublish(e); err != nil && stderrors.Is(err, bus.ErrQueueFull) {
				t.metrics.IncQueueDrop()
			}
		}
	})
	t.goPump(func() {
		updates, balances, conn := t.gw.Updates(), t.gw.Balances(), t.gw.Connectivity()
		for updates != nil || balances != nil || conn != nil {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					updates = nil
					continue
				}
				t.publish(ctx, schema.EventOrderUpdate, u.Time, u)
			case b, ok := <-balances:
				if !ok {
					balances = nil
					continue
				}
				t.publish(ctx, schema.EventBalance, b.Time, b)
			case up, ok := <-conn:
				if !ok {
					conn = nil
					continue
				}
				t.publish(ctx, schema.EventConnectivity, time.Now(), up)
			}
		}
	})
	t.goPump(func() {
		ticker := time.NewTicker(t.cfg.TimerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if err := t.queue.TryPublish(t.queue.NewEvent(schema.EventTimer, now, now)); err != nil && stderrors.Is(err, bus.ErrQueueFull) {
					t.metrics.IncQueueDrop()
				}
			}
		}
	})
}

func (t *Trader) goPump(fn func()) {
	t.pumps.Add(1)
	go func() {
		defer t.pumps.Done()
		fn()
	}()
}

func (t *Trader) publish(ctx context.Context, typ schema.EventType, at time.Time, payload any) {
	if err := t.queue.Publish(ctx, t.queue.NewEvent(typ, at, payload)); err != nil && !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, bus.ErrQueueClosed) {
		logs.Errorf("post %s event, err: %+v", typ, err)
	}
}

// post enqueues from outside the loop, bounded by the shutdown timeout.
func (t *Trader) post(typ schema.EventType, at time.Time, payload any) {
	if err := t.postWait(typ, at, payload); err != nil && !stderrors.Is(err, bus.ErrQueueClosed) {
		logs.Errorf("post %s event, err: %+v", typ, err)
	}
}

func (t *Trader) postWait(typ schema.EventType, at time.Time, payload any) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ShutdownTimeout)
	defer cancel()
	return t.queue.Publish(ctx, t.queue.NewEvent(typ, at, payload))
}

// onBrokerFailure feeds synthetic updates for failed gateway calls back
// into the loop.
func (t *Trader) onBrokerFailure(u schema.OrderUpdate) {
	t.post(schema.EventOrderUpdate, u.Time, u)
}
