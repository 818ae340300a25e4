package tasks

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-monitor/internal/crawler"
	"github.com/JakeFAU/article-monitor/internal/dispatcher"
	"github.com/JakeFAU/article-monitor/internal/metrics"
	"github.com/JakeFAU/article-monitor/internal/queue/memory"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("task queue full")

const mirrorTimeout = 2 * time.Second

// Config controls worker fan-out and retention.
type Config struct {
	MaxConcurrent   int
	QueueDepth      int
	Retention       time.Duration
	CleanupInterval time.Duration
}

// Dependencies are optional collaborators. Nil IDs and Clock fall back to
// counters and wall time; a nil Mirror disables mirroring.
type Dependencies struct {
	IDs    crawler.IDGenerator
	Clock  crawler.Clock
	Mirror Mirror
}

type entry struct {
	job       Job
	runner    Runner
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled bool
}

// Manager runs submitted jobs on a fixed worker pool.
type Manager struct {
	cfg        Config
	deps       Dependencies
	logger     *zap.Logger
	queue      *memory.Queue[string]
	dispatcher *dispatcher.Dispatcher[string]

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	startOnce  sync.Once
	closeOnce  sync.Once

	mu   sync.Mutex
	jobs map[string]*entry
}

// New builds a Manager. Call Start to begin executing jobs.
func New(cfg Config, deps Dependencies, logger *zap.Logger) *Manager {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 100
	}
	if deps.IDs == nil {
		deps.IDs = &counterIDs{}
	}
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("tasks")
	baseCtx, baseCancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		queue:      memory.NewQueue[string](cfg.QueueDepth),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		jobs:       make(map[string]*entry),
	}
	m.dispatcher = dispatcher.New[string](m.queue, cfg.MaxConcurrent, m.execute, logger)
	return m
}

// Start launches the workers and the retention loop. Repeated calls are no-ops.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.dispatcher.Run(m.baseCtx)
		}()
		if m.cfg.Retention > 0 && m.cfg.CleanupInterval > 0 {
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.cleanupLoop()
			}()
		}
	})
}

// Close cancels running jobs, stops the workers and waits for them.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.baseCancel()
		m.queue.Close()
		m.wg.Wait()
	})
}

// Submit registers a pending job and queues it for execution.
func (m *Manager) Submit(kind Kind, runner Runner) (Job, error) {
	if runner == nil {
		return Job{}, errors.New("tasks: runner is required")
	}
	id, err := m.deps.IDs.NewID()
	if err != nil {
		return Job{}, fmt.Errorf("generate job id: %w", err)
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	e := &entry{
		job: Job{
			ID:        id,
			Kind:      kind,
			Status:    StatusPending,
			CreatedAt: m.deps.Clock.Now(),
		},
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
	}
	m.mu.Lock()
	m.jobs[id] = e
	snapshot := e.job.clone()
	m.mu.Unlock()

	ok, err := m.queue.TryEnqueue(id)
	if err != nil || !ok {
		m.mu.Lock()
		delete(m.jobs, id)
		m.mu.Unlock()
		cancel()
		if err != nil {
			return Job{}, fmt.Errorf("submit %s job: %w", kind, err)
		}
		return Job{}, ErrQueueFull
	}
	metrics.ObserveJob(string(kind), string(StatusPending))
	m.mirror(snapshot)
	m.logger.Info("job submitted", zap.String("job_id", id), zap.String("kind", string(kind)))
	return snapshot, nil
}

// Get returns the job snapshot, consulting the mirror for jobs this process
// no longer tracks.
func (m *Manager) Get(ctx context.Context, id string) (Job, error) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	var snapshot Job
	if ok {
		snapshot = e.job.clone()
	}
	m.mu.Unlock()
	if ok {
		return snapshot, nil
	}
	if m.deps.Mirror != nil {
		job, err := m.deps.Mirror.LoadJob(ctx, id)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, crawler.ErrJobNotFound) {
			m.logger.Warn("job mirror lookup failed", zap.String("job_id", id), zap.Error(err))
		}
	}
	return Job{}, crawler.ErrJobNotFound
}

// List returns tracked jobs, newest first, optionally filtered by kind.
func (m *Manager) List(kind Kind) []Job {
	m.mu.Lock()
	out := make([]Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		if kind != "" && e.job.Kind != kind {
			continue
		}
		out = append(out, e.job.clone())
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}

// Cancel cancels a job. Pending jobs become cancelled immediately; running
// jobs have their context cancelled and finish cooperatively. Completed and
// failed jobs are returned unchanged.
func (m *Manager) Cancel(id string) (Job, error) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return Job{}, crawler.ErrJobNotFound
	}
	switch {
	case e.job.Status == StatusCancelled || e.cancelled:
		m.mu.Unlock()
		return Job{}, crawler.ErrAlreadyCancelled
	case e.job.Status.Terminal():
		snapshot := e.job.clone()
		m.mu.Unlock()
		return snapshot, nil
	}
	e.cancelled = true
	e.cancel()
	if e.job.Status == StatusPending {
		now := m.deps.Clock.Now()
		e.job.Status = StatusCancelled
		e.job.FinishedAt = &now
	}
	snapshot := e.job.clone()
	m.mu.Unlock()

	if snapshot.Status == StatusCancelled {
		metrics.ObserveJob(string(snapshot.Kind), string(StatusCancelled))
	}
	m.mirror(snapshot)
	m.logger.Info("job cancel requested", zap.String("job_id", id), zap.String("status", string(snapshot.Status)))
	return snapshot, nil
}

// Cleanup drops terminal jobs that finished before now minus the retention
// window and returns how many were removed.
func (m *Manager) Cleanup(now time.Time) int {
	if m.cfg.Retention <= 0 {
		return 0
	}
	cutoff := now.Add(-m.cfg.Retention)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, e := range m.jobs {
		if e.job.Status.Terminal() && e.job.FinishedAt != nil && e.job.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.baseCtx.Done():
			return
		case <-ticker.C:
			if n := m.Cleanup(m.deps.Clock.Now()); n > 0 {
				m.logger.Debug("purged finished jobs", zap.Int("count", n))
			}
		}
	}
}

// execute runs one dequeued job on a worker.
func (m *Manager) execute(_ context.Context, id string) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok || e.job.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	now := m.deps.Clock.Now()
	e.job.Status = StatusRunning
	e.job.StartedAt = &now
	snapshot := e.job.clone()
	m.mu.Unlock()
	metrics.ObserveJob(string(snapshot.Kind), string(StatusRunning))
	m.mirror(snapshot)

	result, err := m.invoke(e)

	end := m.deps.Clock.Now()
	m.mu.Lock()
	e.job.Result = result
	e.job.FinishedAt = &end
	switch {
	case e.cancelled || errors.Is(err, context.Canceled) || (err != nil && m.baseCtx.Err() != nil):
		e.job.Status = StatusCancelled
		if err != nil && !errors.Is(err, context.Canceled) {
			e.job.Error = err.Error()
		}
	case err != nil:
		e.job.Status = StatusFailed
		e.job.Error = err.Error()
	default:
		e.job.Status = StatusCompleted
	}
	e.cancel()
	snapshot = e.job.clone()
	m.mu.Unlock()

	metrics.ObserveJob(string(snapshot.Kind), string(snapshot.Status))
	m.mirror(snapshot)
	fields := []zap.Field{
		zap.String("job_id", id),
		zap.String("kind", string(snapshot.Kind)),
		zap.String("status", string(snapshot.Status)),
		zap.Duration("duration", end.Sub(now)),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	m.logger.Info("job finished", fields...)
}

// invoke calls the runner, turning a panic into a job failure.
func (m *Manager) invoke(e *entry) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	report := func(progress map[string]any) {
		m.mu.Lock()
		if e.job.Status != StatusRunning {
			m.mu.Unlock()
			return
		}
		e.job.Progress = maps.Clone(progress)
		snapshot := e.job.clone()
		m.mu.Unlock()
		m.mirror(snapshot)
	}
	return e.runner(e.ctx, report)
}

func (m *Manager) mirror(job Job) {
	if m.deps.Mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := m.deps.Mirror.SaveJob(ctx, job); err != nil {
		m.logger.Warn("job mirror save failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

type counterIDs struct {
	mu sync.Mutex
	n  int
}

func (c *counterIDs) NewID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return fmt.Sprintf("job-%d", c.n), nil
}
