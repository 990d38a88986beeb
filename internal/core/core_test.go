package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmaker/internal/gateway/null"
	"marketmaker/internal/obs"
	"marketmaker/internal/og"
	"marketmaker/internal/params"
	"marketmaker/internal/persist"
	"marketmaker/internal/publish"
	"marketmaker/internal/risk"
	"marketmaker/internal/schema"
	"marketmaker/internal/sender"
	"marketmaker/internal/stats"
	"marketmaker/pkg/exception"
)

type harness struct {
	trader *Trader
	venue  *null.Venue
	repo   *params.Repository
	store  *persist.Memory
	writer *persist.Writer
	hub    *publish.Hub
	errCh  chan error
}

func newHarness(t *testing.T, store *persist.Memory) *harness {
	t.Helper()
	cfg := null.DefaultConfig()
	cfg.Interval = 5 * time.Millisecond
	cfg.Seed = 3
	cfg.Volatility = 0
	venue, err := null.New(schema.Pair{Base: "BTC", Quote: "EUR"}, cfg)
	require.NoError(t, err)

	repo, err := params.NewRepository(params.Defaults())
	require.NoError(t, err)

	writer := persist.NewWriter(store, 64)
	writer.Start()

	h := &harness{
		venue:  venue,
		repo:   repo,
		store:  store,
		writer: writer,
		hub:    publish.NewHub(),
		errCh:  make(chan error, 1),
	}
	h.trader, err = New(Deps{
		Gateway: venue,
		Params:  repo,
		Store:   store,
		Writer:  writer,
		Hub:     h.hub,
		Metrics: obs.NewMetrics(),
		Config: Config{
			TimerInterval:   10 * time.Millisecond,
			ShutdownTimeout: 2 * time.Second,
			AutoStart:       true,
		},
	})
	require.NoError(t, err)
	return h
}

func (h *harness) start() {
	go func() { h.errCh <- h.trader.Run(context.Background()) }()
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	require.NoError(t, h.trader.Shutdown(context.Background()))
	select {
	case err := <-h.errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("trader did not stop")
	}
	h.writer.Close()
}

func (h *harness) quote() schema.QuoteState {
	v, _ := h.hub.Snapshot(publish.TopicQuote)
	q, _ := v.(schema.QuoteState)
	return q
}

func TestNewRequiresGateway(t *testing.T) {
	_, err := New(Deps{})
	assert.ErrorIs(t, err, exception.ErrNilInstance)
}

func TestTraderQuotesAndCancelsOnShutdown(t *testing.T) {
	h := newHarness(t, persist.NewMemory())
	h.start()

	require.Eventually(t, func() bool {
		open := h.trader.Broker().Open()
		if len(open) != 2 {
			return false
		}
		for _, o := range open {
			if o.Status != schema.OrderStatusWorking {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)

	q := h.quote()
	assert.Equal(t, schema.QuoteReasonLive, q.Reason)
	require.NotNil(t, q.Bid)
	require.NotNil(t, q.Ask)
	assert.Less(t, q.Bid.Price, q.Ask.Price)

	ad, ok := h.hub.Snapshot(publish.TopicAdvertisement)
	require.True(t, ok)
	assert.Equal(t, "BTC/EUR", ad.(advertisement).Pair)

	h.stop(t)

	assert.Empty(t, h.trader.Broker().Open())
	live, err := h.venue.OpenOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestTraderKillSwitchFromUI(t *testing.T) {
	h := newHarness(t, persist.NewMemory())
	h.start()
	defer h.stop(t)

	require.Eventually(t, func() bool {
		return len(h.trader.Broker().Open()) == 2
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, h.hub.Receive(publish.Request{
		Topic: publish.TopicParams,
		Data:  map[string]any{"killSwitch": true},
	}))

	require.Eventually(t, func() bool {
		return h.quote().Reason == schema.QuoteReasonKillSwitch && len(h.trader.Broker().Open()) == 0
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		saved, err := persist.LoadLatest(context.Background(), h.store, persist.CollectionParams, params.QuotingParameters{})
		return err == nil && saved.KillSwitch
	}, 3*time.Second, 10*time.Millisecond)

	_, err := h.trader.Broker().Place(schema.OrderRequest{Side: schema.SideBid, Price: 1, Size: 1})
	assert.ErrorIs(t, err, exception.ErrOrderHalted)

	require.NoError(t, h.hub.Receive(publish.Request{
		Topic: publish.TopicParams,
		Data:  map[string]any{"killSwitch": false},
	}))
	require.Eventually(t, func() bool {
		return h.quote().Reason == schema.QuoteReasonLive && len(h.trader.Broker().Open()) == 2
	}, 3*time.Second, 10*time.Millisecond)
}

// trippingBroker panics on new orders once armed.
type trippingBroker struct {
	*og.Broker
	armed atomic.Bool
}

func (b *trippingBroker) Place(req schema.OrderRequest) (schema.Order, error) {
	if b.armed.Load() {
		panic("place after arm")
	}
	return b.Broker.Place(req)
}

func (b *trippingBroker) Replace(clientID string, price, size float64) (schema.Order, error) {
	if b.armed.Load() {
		panic("replace after arm")
	}
	return b.Broker.Replace(clientID, price, size)
}

func TestTraderLoopPanicCancelsOrders(t *testing.T) {
	h := newHarness(t, persist.NewMemory())
	defer h.writer.Close()

	trip := &trippingBroker{Broker: h.trader.broker}
	p := h.repo.Latest()
	h.trader.sender = sender.New(trip, risk.NewGuard(risk.ConfigFrom(p)), h.venue.MinTick(), p)
	h.start()

	require.Eventually(t, func() bool {
		open := h.trader.Broker().Open()
		if len(open) != 2 {
			return false
		}
		for _, o := range open {
			if o.Status != schema.OrderStatusWorking {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)

	trip.armed.Store(true)
	require.NoError(t, h.hub.Receive(publish.Request{
		Topic: publish.TopicParams,
		Data:  map[string]any{"widthPing": 5.0},
	}))

	select {
	case err := <-h.errCh:
		require.ErrorIs(t, err, exception.ErrInternal)
	case <-time.After(3 * time.Second):
		t.Fatal("trader did not stop after loop panic")
	}

	assert.Empty(t, h.trader.Broker().Open())
	live, err := h.venue.OpenOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestTraderActiveToggle(t *testing.T) {
	h := newHarness(t, persist.NewMemory())
	h.start()
	defer h.stop(t)

	require.Eventually(t, func() bool {
		return h.quote().Reason == schema.QuoteReasonLive
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, h.hub.Receive(publish.Request{Topic: publish.TopicActive, Data: false}))
	require.Eventually(t, func() bool {
		return h.quote().Reason == schema.QuoteReasonInactive && len(h.trader.Broker().Open()) == 0
	}, 3*time.Second, 10*time.Millisecond)

	err := h.hub.Receive(publish.Request{Topic: publish.TopicActive, Data: "yes"})
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func TestTraderRestoresPersistedState(t *testing.T) {
	ctx := context.Background()
	store := persist.NewMemory()

	saved := params.Defaults()
	saved.Version = 7
	saved.WidthPing = 4
	require.NoError(t, persist.Save(ctx, store, persist.CollectionParams, saved))

	fill := schema.Fill{ClientID: "old", Side: schema.SideBid, Price: 98, Size: 0.02, Time: time.Now().Add(-time.Hour)}
	require.NoError(t, persist.Save(ctx, store, persist.CollectionTrades, persist.NewTrade(fill)))

	e := stats.NewEngine(params.Defaults())
	for i := 0; i < 10; i++ {
		e.Add(schema.FairValue{Price: 100 + float64(i)/10, Time: time.Now().Add(time.Duration(i-10) * time.Minute)})
	}
	require.NoError(t, persist.Save(ctx, store, persist.CollectionMarket, e.Snapshot()))

	h := newHarness(t, store)
	h.start()
	defer h.stop(t)

	require.Eventually(t, func() bool {
		return h.repo.Latest().WidthPing == 4
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(2), h.repo.Latest().Version)

	require.Eventually(t, func() bool {
		v, _ := h.hub.Snapshot(publish.TopicTrades)
		trades, _ := v.([]schema.Fill)
		return len(trades) == 1 && trades[0].ClientID == "old"
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		q := h.quote()
		return q.Reason == schema.QuoteReasonLive && q.Bid != nil && q.Ask != nil && q.Ask.Price-q.Bid.Price >= 3.99
	}, 3*time.Second, 10*time.Millisecond)
}
