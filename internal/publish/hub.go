// Package publish fans engine state out to UI clients and routes their
// requests back into the engine.
package publish

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketmaker/pkg/exception"
)

type Topic string

const (
	TopicParams        Topic = "qp"
	TopicQuote         Topic = "q"
	TopicPosition      Topic = "p"
	TopicTarget        Topic = "tp"
	TopicSafety        Topic = "s"
	TopicStatistics    Topic = "st"
	TopicFairValue     Topic = "fv"
	TopicActive        Topic = "a"
	TopicConnectivity  Topic = "c"
	TopicOrders        Topic = "o"
	TopicTrades        Topic = "t"
	TopicAdvertisement Topic = "pa"
)

type FrameKind string

const (
	FrameSnapshot FrameKind = "snapshot"
	FrameUpdate   FrameKind = "update"
)

// Frame is one message to a client.
type Frame struct {
	Topic Topic     `json:"topic"`
	Kind  FrameKind `json:"kind"`
	Data  any       `json:"data"`
}

// Request is one message from a client.
type Request struct {
	Topic Topic `json:"topic"`
	Data  any   `json:"data"`
}

// Receiver handles an inbound request payload.
type Receiver func(data any) error

// Hub holds the snapshot providers, the last published value per topic and
// the connected subscribers. Publishing never blocks: a subscriber with a
// full buffer misses the frame.
type Hub struct {
	mu        sync.RWMutex
	snapshots map[Topic]func() any
	receivers map[Topic]Receiver
	last      map[Topic][]byte
	subs      map[uint64]chan []byte
	nextID    uint64
	dropped   uint64
}

func NewHub() *Hub {
	return &Hub{
		snapshots: make(map[Topic]func() any),
		receivers: make(map[Topic]Receiver),
		last:      make(map[Topic][]byte),
		subs:      make(map[uint64]chan []byte),
	}
}

// RegisterSnapshot installs the provider sent to every new subscriber.
func (h *Hub) RegisterSnapshot(topic Topic, fn func() any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots[topic] = fn
}

// RegisterReceiver installs the handler for client requests on topic.
func (h *Hub) RegisterReceiver(topic Topic, fn Receiver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.receivers[topic] = fn
}

// Publish sends v to every subscriber unless it equals the last value
// published on topic. It reports whether a frame went out.
func (h *Hub) Publish(topic Topic, v any) bool {
	data, err := sonic.Marshal(v)
	if err != nil {
		logs.Errorf("publish %s: encode, err: %+v", topic, err)
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.last[topic]; ok && bytes.Equal(prev, data) {
		return false
	}
	h.last[topic] = data

	frame, err := sonic.Marshal(Frame{Topic: topic, Kind: FrameUpdate, Data: json.RawMessage(data)})
	if err != nil {
		logs.Errorf("publish %s: encode frame, err: %+v", topic, err)
		return false
	}
	for _, ch := range h.subs {
		select {
		case ch <- frame:
		default:
			h.dropped++
		}
	}
	return true
}

// Receive dispatches a client request to the topic's receiver.
func (h *Hub) Receive(req Request) error {
	h.mu.RLock()
	fn, ok := h.receivers[req.Topic]
	h.mu.RUnlock()
	if !ok {
		return errors.Wrap(exception.ErrInvalidArgument, "no receiver").With("topic", string(req.Topic))
	}
	if err := fn(req.Data); err != nil {
		return errors.Wrap(err, "receive").With("topic", string(req.Topic))
	}
	return nil
}

// Snapshots encodes the current snapshot of every registered topic, ordered by topic.
func (h *Hub) Snapshots() [][]byte {
	h.mu.RLock()
	topics := make([]Topic, 0, len(h.snapshots))
	for t := range h.snapshots {
		topics = append(topics, t)
	}
	fns := make(map[Topic]func() any, len(h.snapshots))
	for t, fn := range h.snapshots {
		fns[t] = fn
	}
	h.mu.RUnlock()

	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })

	out := make([][]byte, 0, len(topics))
	for _, t := range topics {
		frame, err := sonic.Marshal(Frame{Topic: t, Kind: FrameSnapshot, Data: fns[t]()})
		if err != nil {
			logs.Errorf("snapshot %s: encode, err: %+v", t, err)
			continue
		}
		out = append(out, frame)
	}
	return out
}

// Snapshot returns the current value of one topic.
func (h *Hub) Snapshot(topic Topic) (any, bool) {
	h.mu.RLock()
	fn, ok := h.snapshots[topic]
	h.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return fn(), true
}

// Subscribe registers a subscriber with a frame buffer of size buffer.
func (h *Hub) Subscribe(buffer int) (uint64, <-chan []byte) {
	if buffer <= 0 {
		buffer = 256
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ch := make(chan []byte, buffer)
	h.subs[h.nextID] = ch
	return h.nextID, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many frames were skipped for slow subscribers.
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
