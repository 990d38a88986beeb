package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmaker/internal/schema"
)

func TestQueueOrder(t *testing.T) {
	q := NewQueue(8)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.TryPublish(q.NewEvent(schema.EventTimer, time.Time{}, i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []int
	var seqs []uint64
	q.Run(ctx, func(e Event) {
		got = append(got, e.Payload.(int))
		seqs = append(seqs, e.Header.Seq)
		if len(got) == 5 {
			q.Close()
		}
	})

	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs)
}

func TestQueueFull(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.TryPublish(Event{}))
	assert.ErrorIs(t, q.TryPublish(Event{}), ErrQueueFull)
	assert.Equal(t, uint64(1), q.Dropped())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Event{}), context.DeadlineExceeded)
}

func TestQueueClosed(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.TryPublish(Event{}))

	errCh := make(chan error, 1)
	go func() { errCh <- q.Publish(context.Background(), Event{}) }()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked publish not released by close")
	}

	assert.ErrorIs(t, q.TryPublish(Event{}), ErrQueueClosed)
	q.Close()
}
