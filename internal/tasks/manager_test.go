package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

type mapMirror struct {
	mu   sync.Mutex
	jobs map[string]Job
	err  error
}

func newMapMirror() *mapMirror {
	return &mapMirror{jobs: map[string]Job{}}
}

func (m *mapMirror) SaveJob(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *mapMirror) LoadJob(_ context.Context, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, crawler.ErrJobNotFound
	}
	return job, nil
}

func newManager(t *testing.T, cfg Config, mirror Mirror) *Manager {
	t.Helper()
	m := New(cfg, Dependencies{Mirror: mirror}, zap.NewNop())
	t.Cleanup(m.Close)
	return m
}

func waitStatus(t *testing.T, m *Manager, id string, want Status) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		var err error
		job, err = m.Get(context.Background(), id)
		return err == nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestSubmitRunsToCompletionAndKeepsProgress(t *testing.T) {
	t.Parallel()

	mirror := newMapMirror()
	m := newManager(t, Config{MaxConcurrent: 2}, mirror)
	m.Start()

	job, err := m.Submit(KindBatchAdd, func(_ context.Context, report Reporter) (any, error) {
		for i := 1; i <= 3; i++ {
			report(map[string]any{"processed": i, "total": 3})
		}
		return map[string]int{"added": 3}, nil
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, job.Status)
	require.Equal(t, KindBatchAdd, job.Kind)

	final := waitStatus(t, m, job.ID, StatusCompleted)
	require.Equal(t, 3, final.Progress["processed"])
	require.Equal(t, map[string]int{"added": 3}, final.Result)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.FinishedAt)
	require.Empty(t, final.Error)

	mirrored, err := mirror.LoadJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, mirrored.Status)
}

func TestRunnerErrorFailsJob(t *testing.T) {
	t.Parallel()

	m := newManager(t, Config{}, nil)
	m.Start()

	job, err := m.Submit(KindSync, func(context.Context, Reporter) (any, error) {
		return nil, errors.New("bitable unavailable")
	})
	require.NoError(t, err)
	final := waitStatus(t, m, job.ID, StatusFailed)
	require.Equal(t, "bitable unavailable", final.Error)
}

func TestRunnerCanceledErrorCancelsJob(t *testing.T) {
	t.Parallel()

	m := newManager(t, Config{}, nil)
	m.Start()

	job, err := m.Submit(KindCrawl, func(context.Context, Reporter) (any, error) {
		return "partial", fmt.Errorf("crawl run stopped: %w", context.Canceled)
	})
	require.NoError(t, err)
	final := waitStatus(t, m, job.ID, StatusCancelled)
	require.Empty(t, final.Error)
	require.Equal(t, "partial", final.Result)
}

func TestRunnerPanicFailsJob(t *testing.T) {
	t.Parallel()

	m := newManager(t, Config{}, nil)
	m.Start()

	job, err := m.Submit(KindSync, func(context.Context, Reporter) (any, error) {
		panic("boom")
	})
	require.NoError(t, err)
	final := waitStatus(t, m, job.ID, StatusFailed)
	require.Contains(t, final.Error, "boom")
}

func TestCancelPendingJobNeverRuns(t *testing.T) {
	t.Parallel()

	m := newManager(t, Config{MaxConcurrent: 1}, nil)

	ran := make(chan struct{}, 1)
	job, err := m.Submit(KindBatchAdd, func(context.Context, Reporter) (any, error) {
		ran <- struct{}{}
		return nil, nil
	})
	require.NoError(t, err)

	cancelled, err := m.Cancel(job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.FinishedAt)

	_, err = m.Cancel(job.ID)
	require.ErrorIs(t, err, crawler.ErrAlreadyCancelled)

	m.Start()
	follow, err := m.Submit(KindBatchAdd, func(context.Context, Reporter) (any, error) { return nil, nil })
	require.NoError(t, err)
	waitStatus(t, m, follow.ID, StatusCompleted)

	select {
	case <-ran:
		t.Fatal("cancelled job was executed")
	default:
	}
}

func TestCancelRunningJobIsCooperative(t *testing.T) {
	t.Parallel()

	m := newManager(t, Config{}, nil)
	m.Start()

	started := make(chan struct{})
	job, err := m.Submit(KindCrawl, func(ctx context.Context, report Reporter) (any, error) {
		close(started)
		<-ctx.Done()
		report(map[string]any{"current": 4})
		return map[string]int{"current": 4}, ctx.Err()
	})
	require.NoError(t, err)
	<-started

	snapshot, err := m.Cancel(job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, snapshot.Status)

	_, err = m.Cancel(job.ID)
	require.ErrorIs(t, err, crawler.ErrAlreadyCancelled)

	final := waitStatus(t, m, job.ID, StatusCancelled)
	require.Empty(t, final.Error)
	require.Equal(t, map[string]int{"current": 4}, final.Result)
}

func TestCancelFinishedJobIsUnchanged(t *testing.T) {
	t.Parallel()

	m := newManager(t, Config{}, nil)
	m.Start()

	job, err := m.Submit(KindSync, func(context.Context, Reporter) (any, error) { return "ok", nil })
	require.NoError(t, err)
	waitStatus(t, m, job.ID, StatusCompleted)

	got, err := m.Cancel(job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
}

func TestUnknownJob(t *testing.T) {
	t.Parallel()

	m := newManager(t, Config{}, newMapMirror())
	_, err := m.Get(context.Background(), "nope")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
	_, err = m.Cancel("nope")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
}

func TestGetFallsBackToMirror(t *testing.T) {
	t.Parallel()

	mirror := newMapMirror()
	require.NoError(t, mirror.SaveJob(context.Background(), Job{ID: "old", Status: StatusCompleted}))
	m := newManager(t, Config{}, mirror)

	got, err := m.Get(context.Background(), "old")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
}

func TestMirrorFailuresDoNotFailJobs(t *testing.T) {
	t.Parallel()

	mirror := newMapMirror()
	mirror.err = errors.New("redis down")
	m := newManager(t, Config{}, mirror)
	m.Start()

	job, err := m.Submit(KindSync, func(context.Context, Reporter) (any, error) { return nil, nil })
	require.NoError(t, err)
	waitStatus(t, m, job.ID, StatusCompleted)
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	t.Parallel()

	m := newManager(t, Config{QueueDepth: 1}, nil)
	noop := func(context.Context, Reporter) (any, error) { return nil, nil }

	_, err := m.Submit(KindSync, noop)
	require.NoError(t, err)
	_, err = m.Submit(KindSync, noop)
	require.ErrorIs(t, err, ErrQueueFull)
	require.Len(t, m.List(""), 1)

	_, err = m.Submit(KindSync, nil)
	require.Error(t, err)
}

func TestListAndCleanup(t *testing.T) {
	t.Parallel()

	m := newManager(t, Config{Retention: time.Hour}, nil)
	m.Start()
	noop := func(context.Context, Reporter) (any, error) { return nil, nil }

	a, err := m.Submit(KindSync, noop)
	require.NoError(t, err)
	b, err := m.Submit(KindBatchAdd, noop)
	require.NoError(t, err)
	waitStatus(t, m, a.ID, StatusCompleted)
	waitStatus(t, m, b.ID, StatusCompleted)

	require.Len(t, m.List(""), 2)
	batch := m.List(KindBatchAdd)
	require.Len(t, batch, 1)
	require.Equal(t, b.ID, batch[0].ID)

	require.Zero(t, m.Cleanup(time.Now()))
	require.Equal(t, 2, m.Cleanup(time.Now().Add(2*time.Hour)))
	require.Empty(t, m.List(""))
}

func TestCloseCancelsRunningJobs(t *testing.T) {
	t.Parallel()

	m := New(Config{}, Dependencies{}, zap.NewNop())
	m.Start()

	started := make(chan struct{})
	job, err := m.Submit(KindCrawl, func(ctx context.Context, _ Reporter) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	<-started
	m.Close()

	got, err := m.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)
}
