package obs

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmaker/internal/schema"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveEvent(schema.EventHeader{Type: schema.EventTimer})
		m.ObserveRecompute(time.Millisecond)
		m.IncQuote(schema.QuoteReasonLive)
		m.AddActions("issued", 1)
		m.IncQueueDrop()
		m.SetConnected(true)
	})
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.ObserveEvent(schema.NewHeader(schema.EventMarketSample, 1, 100, 150))
	m.ObserveEvent(schema.NewHeader(schema.EventMarketSample, 2, 0, 0))
	m.IncQueueDrop()
	m.AddActions("issued", 3)
	m.AddActions("denied", 0)
	m.AddClamps(2)

	m.ObserveEvent(schema.NewHeader(schema.EventResync, 3, 0, 0))
	m.SetPersisted(7, 1)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.EventCounts[schema.EventMarketSample])
	assert.Equal(t, uint64(1), snap.EventCounts[schema.EventResync])
	assert.Equal(t, uint64(3), snap.Events())
	assert.Equal(t, uint64(7), snap.PersistWritten)
	assert.Equal(t, uint64(1), snap.PersistFailed)
	assert.Equal(t, uint64(1), snap.QueueDrops)
	assert.Equal(t, uint64(1), snap.EventLatency.Count)
	assert.Equal(t, 50*time.Nanosecond, snap.EventLatency.Avg)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `marketmaker_order_actions_total{result="issued"} 3`)
	assert.NotContains(t, body, `result="denied"`)
	assert.Contains(t, body, "marketmaker_safety_clamps_total 2")
	assert.Contains(t, body, `marketmaker_persisted_documents{result="failed"} 1`)
}

func TestLatencyStats(t *testing.T) {
	var l LatencyStats
	assert.Equal(t, LatencySnapshot{}, l.Snapshot())
	l.Observe(3 * time.Millisecond)
	l.Observe(time.Millisecond)
	l.Observe(-time.Second)
	s := l.Snapshot()
	assert.Equal(t, uint64(2), s.Count)
	assert.Equal(t, time.Millisecond, s.Min)
	assert.Equal(t, 3*time.Millisecond, s.Max)
	assert.Equal(t, 2*time.Millisecond, s.Avg)
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.SetSafety(schema.SafetyLimit{Unlimited: true})
	m.SetPosition(schema.Position{Pair: schema.Pair{Base: "BTC", Quote: "EUR"}, BaseAmount: 1, BaseHeld: 0.5})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `marketmaker_safety_limit{side="bid"} -1`))
	assert.True(t, strings.Contains(body, `marketmaker_safety_limit{side="ask"} -1`))
	assert.True(t, strings.Contains(body, `marketmaker_position{currency="BTC"} 1.5`))
}
