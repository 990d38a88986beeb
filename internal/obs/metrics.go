// Package obs exposes engine metrics. All methods are safe on a nil *Metrics.
package obs

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketmaker/internal/schema"
)

const (
	namespace    = "marketmaker"
	maxEventType = int(schema.EventResync)
)

// Metrics collects counters and latency stats into its own prometheus registry.
type Metrics struct {
	reg *prometheus.Registry

	eventCounts [maxEventType + 1]uint64
	queueDrops  uint64

	eventLatency     LatencyStats
	recomputeLatency LatencyStats

	events       *prometheus.CounterVec
	recompute    prometheus.Histogram
	quotes       *prometheus.CounterVec
	actions      *prometheus.CounterVec
	filtered     *prometheus.CounterVec
	clamps       prometheus.Counter
	drops        prometheus.Counter
	connected    prometheus.Gauge
	fairValue    prometheus.Gauge
	position     *prometheus.GaugeVec
	safetyLimit  *prometheus.GaugeVec
	openOrders   prometheus.Gauge
	persistFails prometheus.Counter
	persisted    *prometheus.GaugeVec

	written atomic.Uint64
	failed  atomic.Uint64
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts      map[schema.EventType]uint64
	QueueDrops       uint64
	PersistWritten   uint64
	PersistFailed    uint64
	EventLatency     LatencySnapshot
	RecomputeLatency LatencySnapshot
}

// Events sums the handled events over every type.
func (s Snapshot) Events() uint64 {
	var n uint64
	for _, c := range s.EventCounts {
		n += c
	}
	return n
}

// NewMetrics allocates a metrics container with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events handled by the decision loop.",
		}, []string{"type"}),
		recompute: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recompute_seconds",
			Help:      "Time from event to order actions.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		quotes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_emitted_total",
			Help:      "Quote states emitted, by reason.",
		}, []string{"reason"}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_actions_total",
			Help:      "Order actions by outcome.",
		}, []string{"result"}),
		filtered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filtered_samples_total",
			Help:      "Market samples dropped by filtration.",
		}, []string{"reason"}),
		clamps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safety_clamps_total",
			Help:      "Quote sides suppressed or reduced by a safety check.",
		}),
		drops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_drops_total",
			Help:      "Events dropped on a full queue.",
		}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_connected",
			Help:      "1 when the gateway is connected.",
		}),
		fairValue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fair_value",
			Help:      "Latest fair value.",
		}),
		position: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position",
			Help:      "Total holdings per currency.",
		}, []string{"currency"}),
		safetyLimit: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "safety_limit",
			Help:      "Current safety size limit per side, -1 when unlimited.",
		}, []string{"side"}),
		openOrders: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_orders",
			Help:      "Orders not yet terminal.",
		}),
		persistFails: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Documents the persistence queue refused.",
		}),
		persisted: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persisted_documents",
			Help:      "Documents the persistence writer handled, by result.",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// ObserveEvent counts an event and tracks its queueing latency when timestamps are present.
func (m *Metrics) ObserveEvent(header schema.EventHeader) {
	if m == nil {
		return
	}
	idx := int(header.Type)
	if idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
	m.events.WithLabelValues(header.Type.String()).Inc()
	if header.TsEvent > 0 && header.TsRecv > 0 {
		if delta := header.TsRecv - header.TsEvent; delta >= 0 {
			m.eventLatency.Observe(time.Duration(delta))
		}
	}
}

// ObserveRecompute measures one recompute-and-send pass.
func (m *Metrics) ObserveRecompute(d time.Duration) {
	if m == nil {
		return
	}
	m.recomputeLatency.Observe(d)
	m.recompute.Observe(d.Seconds())
}

func (m *Metrics) IncQuote(reason schema.QuoteReason) {
	if m == nil {
		return
	}
	m.quotes.WithLabelValues(reason.String()).Inc()
}

// AddActions counts order actions by result: issued, denied, failed, deferred.
func (m *Metrics) AddActions(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.actions.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) IncFiltered(reason string) {
	if m == nil {
		return
	}
	m.filtered.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddClamps(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.clamps.Add(float64(n))
}

// IncQueueDrop records a queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
	m.drops.Inc()
}

func (m *Metrics) IncPersistFailure() {
	if m == nil {
		return
	}
	m.persistFails.Inc()
}

func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

func (m *Metrics) SetFairValue(v float64) {
	if m == nil {
		return
	}
	m.fairValue.Set(v)
}

func (m *Metrics) SetPosition(p schema.Position) {
	if m == nil {
		return
	}
	m.position.WithLabelValues(p.Pair.Base).Set(p.TotalBase())
	m.position.WithLabelValues(p.Pair.Quote).Set(p.TotalQuote())
}

func (m *Metrics) SetSafety(l schema.SafetyLimit) {
	if m == nil {
		return
	}
	if l.Unlimited {
		m.safetyLimit.WithLabelValues(schema.SideBid.String()).Set(-1)
		m.safetyLimit.WithLabelValues(schema.SideAsk.String()).Set(-1)
		return
	}
	m.safetyLimit.WithLabelValues(schema.SideBid.String()).Set(l.BuySize)
	m.safetyLimit.WithLabelValues(schema.SideAsk.String()).Set(l.SellSize)
}

// SetPersisted records the writer's running totals.
func (m *Metrics) SetPersisted(written, failed uint64) {
	if m == nil {
		return
	}
	m.written.Store(written)
	m.failed.Store(failed)
	m.persisted.WithLabelValues("written").Set(float64(written))
	m.persisted.WithLabelValues("failed").Set(float64(failed))
}

func (m *Metrics) SetOpenOrders(n int) {
	if m == nil {
		return
	}
	m.openOrders.Set(float64(n))
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[schema.EventType]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[schema.EventType(i)] = v
		}
	}
	return Snapshot{
		EventCounts:      eventCounts,
		QueueDrops:       atomic.LoadUint64(&m.queueDrops),
		PersistWritten:   m.written.Load(),
		PersistFailed:    m.failed.Load(),
		EventLatency:     m.eventLatency.Snapshot(),
		RecomputeLatency: m.recomputeLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
