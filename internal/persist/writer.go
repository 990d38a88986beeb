package persist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketmaker/pkg/exception"
)

type writeRequest struct {
	collection string
	payload    []byte
	at         time.Time
}

// Writer saves documents from a buffered queue so the caller never waits on
// the store. Failed saves are logged and counted.
type Writer struct {
	store   Store
	ch      chan writeRequest
	wg      sync.WaitGroup
	timeout time.Duration

	started atomic.Bool
	closed  atomic.Bool
	failed  atomic.Uint64
	written atomic.Uint64
}

func NewWriter(store Store, queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Writer{
		store:   store,
		ch:      make(chan writeRequest, queueSize),
		timeout: 5 * time.Second,
	}
}

// Start runs the writer loop in a new goroutine.
func (w *Writer) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run()
	}()
}

// Close stops accepting documents and waits until the queue is drained.
func (w *Writer) Close() {
	if w.closed.CompareAndSwap(false, true) {
		close(w.ch)
	}
	w.wg.Wait()
}

// TrySave encodes v and enqueues it without blocking.
func (w *Writer) TrySave(collection string, v any) error {
	if w.closed.Load() {
		return exception.ErrPersistClosed
	}
	if collection == "" {
		return exception.ErrPersistEmptyRecord
	}
	buf, err := sonic.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode record").With("collection", collection)
	}

	select {
	case w.ch <- writeRequest{collection: collection, payload: buf, at: time.Now()}:
		return nil
	default:
		return exception.ErrPersistQueueFull
	}
}

// Written returns the number of saved documents.
func (w *Writer) Written() uint64 {
	return w.written.Load()
}

// Failed returns the number of documents the store refused.
func (w *Writer) Failed() uint64 {
	return w.failed.Load()
}

func (w *Writer) run() {
	for req := range w.ch {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := w.store.Save(ctx, req.collection, req.payload, req.at)
		cancel()
		if err != nil {
			w.failed.Add(1)
			logs.Errorf("persist %s, err: %+v", req.collection, err)
			continue
		}
		w.written.Add(1)
	}
}
