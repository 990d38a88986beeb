package publish

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmaker/internal/schema"
	"marketmaker/pkg/exception"
)

func decodeFrame(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, sonic.Unmarshal(raw, &m))
	return m
}

func TestHubPublishOnChange(t *testing.T) {
	h := NewHub()
	_, frames := h.Subscribe(8)

	fv := schema.FairValue{Price: 100}
	assert.True(t, h.Publish(TopicFairValue, fv))
	assert.False(t, h.Publish(TopicFairValue, fv), "unchanged value is not republished")
	fv.Price = 100.5
	assert.True(t, h.Publish(TopicFairValue, fv))

	require.Len(t, frames, 2)
	m := decodeFrame(t, <-frames)
	assert.Equal(t, "fv", m["topic"])
	assert.Equal(t, "update", m["kind"])
	assert.Equal(t, 100.0, m["data"].(map[string]any)["price"])
}

func TestHubSlowSubscriberDrops(t *testing.T) {
	h := NewHub()
	_, frames := h.Subscribe(1)

	assert.True(t, h.Publish(TopicSafety, 1))
	assert.True(t, h.Publish(TopicSafety, 2))
	assert.Len(t, frames, 1)
	assert.Equal(t, uint64(1), h.Dropped())
}

func TestHubSnapshotsAndReceive(t *testing.T) {
	h := NewHub()
	h.RegisterSnapshot(TopicQuote, func() any { return schema.QuoteState{Version: 3} })
	h.RegisterSnapshot(TopicActive, func() any { return true })

	snaps := h.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "a", decodeFrame(t, snaps[0])["topic"])
	assert.Equal(t, "snapshot", decodeFrame(t, snaps[1])["kind"])

	var got any
	h.RegisterReceiver(TopicActive, func(data any) error {
		got = data
		return nil
	})
	require.NoError(t, h.Receive(Request{Topic: TopicActive, Data: false}))
	assert.Equal(t, false, got)

	err := h.Receive(Request{Topic: TopicTrades, Data: nil})
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub()
	id, frames := h.Subscribe(1)
	assert.Equal(t, 1, h.Subscribers())
	h.Unsubscribe(id)
	_, ok := <-frames
	assert.False(t, ok)
	assert.Zero(t, h.Subscribers())
}

func TestServerHTTP(t *testing.T) {
	h := NewHub()
	h.RegisterSnapshot(TopicParams, func() any { return map[string]any{"widthPing": 2} })

	var (
		mu  sync.Mutex
		got map[string]any
	)
	h.RegisterReceiver(TopicParams, func(data any) error {
		mu.Lock()
		defer mu.Unlock()
		got = data.(map[string]any)
		return nil
	})

	ts := httptest.NewServer(NewServer("", h).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/snapshot/qp")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/snapshot/zz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/qp", "application/json", strings.NewReader(`{"widthPing":3}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	mu.Lock()
	assert.Equal(t, 3.0, got["widthPing"])
	mu.Unlock()

	resp, err = http.Post(ts.URL+"/api/qp", "application/json", strings.NewReader(`{`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerWebsocket(t *testing.T) {
	h := NewHub()
	h.RegisterSnapshot(TopicActive, func() any { return true })

	received := make(chan any, 1)
	h.RegisterReceiver(TopicActive, func(data any) error {
		received <- data
		return nil
	})

	ts := httptest.NewServer(NewServer("", h).Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	m := decodeFrame(t, msg)
	assert.Equal(t, "a", m["topic"])
	assert.Equal(t, "snapshot", m["kind"])

	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	h.Publish(TopicConnectivity, true)
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "c", decodeFrame(t, msg)["topic"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"a","data":false}`)))
	select {
	case v := <-received:
		assert.Equal(t, false, v)
	case <-time.After(2 * time.Second):
		t.Fatal("request not received")
	}
}
