package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue[string](1)
	result := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	require.NoError(t, q.Enqueue(context.Background(), "job-1"))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "job-1", got)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := qDequeue.Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	qEnqueue := NewQueue[int](1)
	require.NoError(t, qEnqueue.Enqueue(context.Background(), 1))
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	require.EqualError(t, qEnqueue.Enqueue(ctx, 2), "enqueue canceled: context canceled")
}

func TestQueueTryEnqueueReportsFull(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](1)
	ok, err := q.TryEnqueue(1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = q.TryEnqueue(2)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, q.Len())
}

func TestQueueCloseDrains(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](2)
	require.NoError(t, q.Enqueue(context.Background(), 7))
	q.Close()
	q.Close()

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, got)
	_, err = q.Dequeue(context.Background())
	require.True(t, errors.Is(err, ErrClosed))
	require.ErrorIs(t, q.Enqueue(context.Background(), 1), ErrClosed)
}
