package core

import (
	"sync"

	"github.com/yanun0323/errors"

	"marketmaker/internal/params"
	"marketmaker/internal/publish"
	"marketmaker/internal/schema"
	"marketmaker/internal/stats"
	"marketmaker/pkg/exception"
)

type advertisement struct {
	BotIdentifier string  `json:"botIdentifier"`
	Exchange      string  `json:"exchange"`
	Pair          string  `json:"pair"`
	MinTick       float64 `json:"minTick"`
}

type statistics struct {
	Trend      stats.Trend           `json:"trend"`
	Protection stats.Protection      `json:"protection"`
	RFV        schema.StatisticValue `json:"rfv"`
}

type activeState struct {
	Connected bool `json:"connected"`
	Active    bool `json:"active"`
}

// view is the last state the loop published. The loop writes it, publish
// server goroutines read it for snapshots.
type view struct {
	mu         sync.RWMutex
	params     params.QuotingParameters
	quote      schema.QuoteState
	fv         schema.FairValue
	position   schema.Position
	target     schema.TargetPosition
	safety     schema.SafetyLimit
	statistics statistics
	active     activeState
	orders     []schema.Order
	trades     []schema.Fill
	tradesCap  int
	ad         advertisement
}

func newView(tradesCap int) *view {
	return &view{tradesCap: tradesCap}
}

func (v *view) setParams(p params.QuotingParameters) {
	v.mu.Lock()
	v.params = p
	v.mu.Unlock()
}

func (v *view) setQuote(q schema.QuoteState) {
	v.mu.Lock()
	v.quote = q
	v.mu.Unlock()
}

func (v *view) setFairValue(fv schema.FairValue) {
	v.mu.Lock()
	v.fv = fv
	v.mu.Unlock()
}

func (v *view) setPosition(p schema.Position, t schema.TargetPosition) {
	v.mu.Lock()
	v.position, v.target = p, t
	v.mu.Unlock()
}

func (v *view) setSafety(l schema.SafetyLimit) {
	v.mu.Lock()
	v.safety = l
	v.mu.Unlock()
}

func (v *view) setStatistics(s statistics) {
	v.mu.Lock()
	v.statistics = s
	v.mu.Unlock()
}

// setActive reports whether the state changed.
func (v *view) setActive(connected, active bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	next := activeState{Connected: connected, Active: active}
	if next == v.active {
		return false
	}
	v.active = next
	return true
}

func (v *view) setOrders(o []schema.Order) {
	v.mu.Lock()
	v.orders = o
	v.mu.Unlock()
}

func (v *view) setTrades(fills []schema.Fill) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(fills) > v.tradesCap {
		fills = fills[len(fills)-v.tradesCap:]
	}
	v.trades = append([]schema.Fill(nil), fills...)
}

func (v *view) addTrade(f schema.Fill) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.trades = append(v.trades, f)
	if len(v.trades) > v.tradesCap {
		v.trades = append([]schema.Fill(nil), v.trades[len(v.trades)-v.tradesCap:]...)
	}
}

func (v *view) setAdvertisement(ad advertisement) {
	v.mu.Lock()
	v.ad = ad
	v.mu.Unlock()
}

func (v *view) read(fn func(v *view) any) any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return fn(v)
}

// registerHub installs the snapshot providers and the inbound handlers.
func (t *Trader) registerHub() {
	if t.hub == nil {
		return
	}
	v := t.view
	snap := func(fn func(v *view) any) func() any {
		return func() any { return v.read(fn) }
	}

	t.hub.RegisterSnapshot(publish.TopicParams, snap(func(v *view) any { return v.params }))
	t.hub.RegisterSnapshot(publish.TopicQuote, snap(func(v *view) any { return v.quote }))
	t.hub.RegisterSnapshot(publish.TopicFairValue, snap(func(v *view) any { return v.fv }))
	t.hub.RegisterSnapshot(publish.TopicPosition, snap(func(v *view) any { return v.position }))
	t.hub.RegisterSnapshot(publish.TopicTarget, snap(func(v *view) any { return v.target }))
	t.hub.RegisterSnapshot(publish.TopicSafety, snap(func(v *view) any { return v.safety }))
	t.hub.RegisterSnapshot(publish.TopicStatistics, snap(func(v *view) any { return v.statistics }))
	t.hub.RegisterSnapshot(publish.TopicActive, snap(func(v *view) any { return v.active.Active }))
	t.hub.RegisterSnapshot(publish.TopicConnectivity, snap(func(v *view) any { return v.active.Connected }))
	t.hub.RegisterSnapshot(publish.TopicOrders, snap(func(v *view) any { return append([]schema.Order(nil), v.orders...) }))
	t.hub.RegisterSnapshot(publish.TopicTrades, snap(func(v *view) any { return append([]schema.Fill(nil), v.trades...) }))
	t.hub.RegisterSnapshot(publish.TopicAdvertisement, snap(func(v *view) any { return v.ad }))

	t.hub.RegisterReceiver(publish.TopicParams, func(data any) error {
		patch, ok := data.(map[string]any)
		if !ok {
			return errors.Wrap(exception.ErrInvalidArgument, "parameters must be an object")
		}
		_, err := t.repo.Apply(patch)
		return err
	})
	t.hub.RegisterReceiver(publish.TopicActive, func(data any) error {
		on, ok := data.(bool)
		if !ok {
			return errors.Wrap(exception.ErrInvalidArgument, "active state must be a boolean")
		}
		return t.SetActive(on)
	})
	t.hub.RegisterReceiver(publish.TopicOrders, func(data any) error {
		id, ok := data.(string)
		if !ok || id == "" {
			return errors.Wrap(exception.ErrInvalidArgument, "order cancel needs a client id")
		}
		return t.broker.Cancel(id)
	})
}
