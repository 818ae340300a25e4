package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-monitor/internal/queue/memory"
)

func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	dispatch := New[string](queue, 2, func(context.Context, string) {}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherProcessesUntilQueueClosed(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue[int](10)
	var mu sync.Mutex
	seen := map[int]bool{}
	dispatch := New[int](queue, 3, func(_ context.Context, item int) {
		mu.Lock()
		defer mu.Unlock()
		seen[item] = true
	}, zap.NewNop())

	for i := 0; i < 10; i++ {
		require.NoError(t, dispatch.Enqueue(context.Background(), i))
	}
	queue.Close()
	dispatch.Run(context.Background())

	require.Len(t, seen, 10)
	require.Equal(t, 3, dispatch.Workers())
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New[string](&errorQueue{err: errors.New("boom")}, 0, nil, nil)

	err := dispatch.Enqueue(context.Background(), "job")
	require.EqualError(t, err, "queue enqueue: boom")
	require.Equal(t, 1, dispatch.Workers())
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, string) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return "", fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, string) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (string, error) {
	return "", q.err
}
