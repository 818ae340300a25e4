package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

type fakeEngine struct {
	closed atomic.Bool
}

func (e *fakeEngine) Fetch(context.Context, crawler.RenderRequest) (crawler.Page, error) {
	return crawler.Page{StatusCode: 200}, nil
}

func (e *fakeEngine) Close() error {
	e.closed.Store(true)
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeEngine
	failAt  int
}

func (f *fakeFactory) NewEngine(context.Context) (crawler.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt > 0 && len(f.created)+1 >= f.failAt {
		return nil, errors.New("chrome: out of memory")
	}
	e := &fakeEngine{}
	f.created = append(f.created, e)
	return e, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxSize: 0}, &fakeFactory{}, nil)
	require.Error(t, err)
	_, err = New(Config{MinSize: 3, MaxSize: 2}, &fakeFactory{}, nil)
	require.Error(t, err)
	_, err = New(Config{MaxSize: 2}, nil, nil)
	require.Error(t, err)
}

func TestStartWarmsMinSize(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	p, err := New(Config{MinSize: 2, MaxSize: 4}, factory, zap.NewNop())
	require.NoError(t, err)
	p.Start(context.Background())
	require.Equal(t, Stats{Engines: 2, Idle: 2, Max: 4}, p.Stats())

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, factory.count())
	lease.Release()
	lease.Release()
	require.Equal(t, Stats{Engines: 2, Idle: 2, Max: 4}, p.Stats())
}

func TestAcquireBlocksAtMax(t *testing.T) {
	t.Parallel()

	p, err := New(Config{MaxSize: 2}, &fakeFactory{}, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	first, err := p.Acquire(ctx)
	require.NoError(t, err)
	second, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NotSame(t, first.Engine(), second.Engine())

	acquired := make(chan *Lease, 1)
	go func() {
		lease, acquireErr := p.Acquire(ctx)
		if acquireErr == nil {
			acquired <- lease
		}
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should block while two leases are out")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()
	select {
	case lease := <-acquired:
		require.Same(t, first.Engine(), lease.Engine())
		lease.Release()
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock after release")
	}
	second.Release()
	require.Equal(t, 0, p.Stats().Leased)
}

func TestAcquireRespectsContext(t *testing.T) {
	t.Parallel()

	p, err := New(Config{MaxSize: 1}, &fakeFactory{}, zap.NewNop())
	require.NoError(t, err)
	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCreationFailureIsPoolExhausted(t *testing.T) {
	t.Parallel()

	p, err := New(Config{MaxSize: 3}, &fakeFactory{failAt: 2}, zap.NewNop())
	require.NoError(t, err)
	first, err := p.Acquire(context.Background())
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	require.ErrorIs(t, err, crawler.ErrPoolExhausted)
	require.Equal(t, crawler.CategoryNetwork, crawler.CategoryOf(err))
	require.Equal(t, Stats{Engines: 1, Leased: 1, Max: 3}, p.Stats())
	first.Release()
}

func TestNeverExceedsMaxUnderLoad(t *testing.T) {
	t.Parallel()

	const maxSize = 3
	p, err := New(Config{MaxSize: maxSize}, &fakeFactory{}, zap.NewNop())
	require.NoError(t, err)

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, acquireErr := p.Acquire(context.Background())
			if acquireErr != nil {
				return
			}
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			current.Add(-1)
			lease.Release()
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, peak.Load(), int32(maxSize))
	require.LessOrEqual(t, p.Stats().Engines, maxSize)
}

func TestRetireIdleKeepsMinSize(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	p, err := New(Config{MinSize: 1, MaxSize: 3, IdleTimeout: time.Minute}, factory, zap.NewNop())
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	var leases []*Lease
	for i := 0; i < 3; i++ {
		lease, acquireErr := p.Acquire(context.Background())
		require.NoError(t, acquireErr)
		leases = append(leases, lease)
	}
	for _, lease := range leases {
		lease.Release()
	}
	require.Equal(t, 0, p.RetireIdle())

	now = now.Add(2 * time.Minute)
	require.Equal(t, 2, p.RetireIdle())
	require.Equal(t, Stats{Engines: 1, Idle: 1, Max: 3}, p.Stats())

	closed := 0
	for _, e := range factory.created {
		if e.closed.Load() {
			closed++
		}
	}
	require.Equal(t, 2, closed)
}

func TestDiscardAndClose(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	p, err := New(Config{MaxSize: 2}, factory, zap.NewNop())
	require.NoError(t, err)

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	lease.Discard()
	require.True(t, factory.created[0].closed.Load())
	require.Equal(t, 0, p.Stats().Engines)

	lease, err = p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Close())
	lease.Release()
	require.True(t, factory.created[1].closed.Load())

	_, err = p.Acquire(context.Background())
	require.ErrorIs(t, err, crawler.ErrPoolClosed)
}
