package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"marketmaker/internal/schema"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Event is the unit passed through the in-memory bus.
// Payload holds the value matching Header.Type, e.g. schema.MarketSample
// for schema.EventMarketSample.
type Event struct {
	Header  schema.EventHeader
	Payload any
}

// Queue is a bounded, ordered event queue with a single consumer.
type Queue struct {
	ch      chan Event
	done    chan struct{}
	closed  atomic.Bool
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan Event, capacity),
		done: make(chan struct{}),
	}
}

// NewEvent stamps payload with the next sequence number of q.
func (q *Queue) NewEvent(eventType schema.EventType, tsEvent time.Time, payload any) Event {
	var ts int64
	if !tsEvent.IsZero() {
		ts = tsEvent.UnixNano()
	}
	return Event{
		Header:  schema.NewHeader(eventType, q.seq.Add(1), ts, time.Now().UnixNano()),
		Payload: payload,
	}
}

// TryPublish enqueues an event without blocking. A full queue drops the event.
func (q *Queue) TryPublish(e Event) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Publish enqueues an event, waiting for room until ctx is done or the queue closes.
func (q *Queue) Publish(ctx context.Context, e Event) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Dropped returns how many events TryPublish discarded.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close stops the queue from accepting new events and stops Run.
func (q *Queue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.done)
	}
}

// Run consumes events in order until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case e := <-q.ch:
			handler(e)
		}
	}
}
