// Package dispatcher manages worker fan-out over a job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Queue is the minimal queue contract the dispatcher drains.
type Queue[T any] interface {
	Enqueue(ctx context.Context, item T) error
	Dequeue(ctx context.Context) (T, error)
}

// Handler processes one dequeued item.
type Handler[T any] func(ctx context.Context, item T)

// Dispatcher fans out queue work to a fixed number of workers.
type Dispatcher[T any] struct {
	queue   Queue[T]
	workers int
	handle  Handler[T]
	logger  *zap.Logger
}

// New creates a Dispatcher. workers below one is treated as one.
func New[T any](queue Queue[T], workers int, handle Handler[T], logger *zap.Logger) *Dispatcher[T] {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher[T]{
		queue:   queue,
		workers: workers,
		handle:  handle,
		logger:  logger,
	}
}

// Workers reports the configured worker count.
func (d *Dispatcher[T]) Workers() int {
	return d.workers
}

// Run starts all workers and blocks until every worker has stopped. Workers
// stop when ctx ends or the queue reports an error such as being closed.
func (d *Dispatcher[T]) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.work(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher[T]) work(ctx context.Context, id int) {
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Debug("worker stopping", zap.Int("worker", id), zap.Error(err))
			}
			return
		}
		d.handle(ctx, item)
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher[T]) Enqueue(ctx context.Context, item T) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
