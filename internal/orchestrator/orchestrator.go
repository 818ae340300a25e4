// Package orchestrator drives crawl runs: it admits targets through the
// domain scheduler, leases engines from the pool, applies disguise and retry
// policy, persists outcomes and keeps the observable run progress.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-monitor/internal/crawler"
	"github.com/JakeFAU/article-monitor/internal/pool"
	"github.com/JakeFAU/article-monitor/internal/progress"
	"github.com/JakeFAU/article-monitor/internal/retry"
	"github.com/JakeFAU/article-monitor/internal/scheduler"
)

var tracer = otel.Tracer("github.com/JakeFAU/article-monitor/internal/orchestrator")

// Admission orders targets and hands out fetch slots.
type Admission interface {
	Order(targets []crawler.Target) []crawler.Target
	Acquire(ctx context.Context, domain string) (*scheduler.Slot, error)
}

// EnginePool leases fetch engines.
type EnginePool interface {
	Acquire(ctx context.Context) (*pool.Lease, error)
}

// Disguiser supplies per-request disguise parameters.
type Disguiser interface {
	NextProfile() crawler.Profile
	DelayBeforeRequest() time.Duration
}

// RetryPolicy decides whether a failed attempt is retried.
type RetryPolicy interface {
	Decide(attempt crawler.Attempt) retry.Decision
}

// Config holds orchestrator settings.
type Config struct {
	// FetchTimeout bounds a single fetch+extract attempt.
	FetchTimeout time.Duration
	// ArchivePrefix is prepended to archived page paths.
	ArchivePrefix string
}

// Dependencies are the collaborators used by a run. Archive, Hasher, Events,
// Clock and IDs are optional.
type Dependencies struct {
	Store     crawler.Store
	Fetcher   crawler.Fetcher
	Scheduler Admission
	Pool      EnginePool
	Disguise  Disguiser
	Retry     RetryPolicy
	Archive   crawler.Archive
	Hasher    crawler.Hasher
	Events    progress.Emitter
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
}

// Orchestrator owns the single active crawl run. It is constructed once and
// shared; its mutex guards the Idle/Running transition and the progress state.
type Orchestrator struct {
	cfg    Config
	deps   Dependencies
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	progress crawler.Progress
	cancel   context.CancelFunc
	done     chan struct{}
}

// New validates deps and builds an idle Orchestrator.
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("orchestrator: store is required")
	case deps.Fetcher == nil:
		return nil, errors.New("orchestrator: fetcher is required")
	case deps.Scheduler == nil:
		return nil, errors.New("orchestrator: scheduler is required")
	case deps.Pool == nil:
		return nil, errors.New("orchestrator: pool is required")
	case deps.Disguise == nil:
		return nil, errors.New("orchestrator: disguise manager is required")
	case deps.Retry == nil:
		return nil, errors.New("orchestrator: retry policy is required")
	}
	if deps.Events == nil {
		deps.Events = progress.Discard
	}
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	if deps.IDs == nil {
		deps.IDs = &sequenceIDs{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.Named("orchestrator"),
		sleep:    sleepCtx,
		progress: crawler.Progress{State: crawler.RunIdle},
	}, nil
}

// Start begins a crawl over every registered target and returns the initial
// progress. It fails with ErrAlreadyRunning while a run is active. The run
// outlives ctx; use Stop to cancel it.
func (o *Orchestrator) Start(ctx context.Context) (crawler.Progress, error) {
	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return crawler.Progress{}, fmt.Errorf("generate run id: %w", err)
	}
	o.mu.Lock()
	if o.progress.IsRunning {
		o.mu.Unlock()
		return crawler.Progress{}, crawler.ErrAlreadyRunning
	}
	start := o.deps.Clock.Now()
	previous := o.progress
	o.progress = crawler.Progress{
		RunID:     runID,
		State:     crawler.RunRunning,
		IsRunning: true,
		StartTime: &start,
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel
	done := make(chan struct{})
	o.done = done
	o.mu.Unlock()

	targets, err := o.deps.Store.ListTargets(ctx)
	if err != nil {
		cancel()
		o.mu.Lock()
		o.progress = previous
		o.cancel = nil
		o.mu.Unlock()
		close(done)
		return crawler.Progress{}, fmt.Errorf("list targets: %w", err)
	}

	o.mu.Lock()
	o.progress.Total = len(targets)
	snapshot := o.progress
	o.mu.Unlock()

	o.deps.Events.Emit(progress.Event{RunID: runID, TS: start, Stage: progress.StageRunStart, Run: &snapshot})
	o.logger.Info("crawl run started", zap.String("run_id", runID), zap.Int("total", len(targets)))

	go func() {
		defer cancel()
		spanCtx, span := tracer.Start(runCtx, "crawl.run", trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.Int("targets", len(targets)),
		))
		o.dispatch(spanCtx, targets, runHooks{runID: runID, tracked: true, o: o})
		state := crawler.RunCompleted
		if runCtx.Err() != nil {
			state = crawler.RunCancelled
		}
		span.SetAttributes(attribute.String("state", string(state)))
		span.End()
		o.finish(runID, done, state)
	}()
	return snapshot, nil
}

// Stop requests cancellation of the active run. No new targets are admitted
// afterwards; in-flight targets still reach a terminal state. It reports
// whether a run was signalled and is safe to call repeatedly.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.progress.IsRunning || o.cancel == nil {
		return false
	}
	o.cancel()
	o.logger.Info("crawl stop requested", zap.String("run_id", o.progress.RunID))
	return true
}

// Progress returns a snapshot of the current or last run.
func (o *Orchestrator) Progress() crawler.Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// Wait blocks until the active run (if any) has drained or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for run: %w", ctx.Err())
	}
}

// Run starts a crawl and blocks until it finishes, reporting progress every
// interval. Cancelling ctx stops the run and waits for in-flight work, so a
// task runner and stop_crawl share one cancellation path. A run that ends
// cancelled either way returns an error wrapping context.Canceled.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration, report func(crawler.Progress)) (crawler.Progress, error) {
	if _, err := o.Start(ctx); err != nil {
		return crawler.Progress{}, err
	}
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			final := o.Progress()
			if report != nil {
				report(final)
			}
			if final.State == crawler.RunCancelled {
				return final, fmt.Errorf("crawl run stopped: %w", context.Canceled)
			}
			return final, nil
		case <-ctx.Done():
			o.Stop()
			<-done
			final := o.Progress()
			if report != nil {
				report(final)
			}
			return final, fmt.Errorf("crawl run interrupted: %w", ctx.Err())
		case <-ticker.C:
			if report != nil {
				report(o.Progress())
			}
		}
	}
}

// CrawlTargets crawls an ad-hoc target list with the same admission, pooling
// and retry machinery as a full run, without touching the run progress or the
// store. Cancelling ctx stops admission; outcomes are returned for every
// admitted target in input order of completion.
func (o *Orchestrator) CrawlTargets(ctx context.Context, targets []crawler.Target, report func(done, total int)) []crawler.Outcome {
	runID, err := o.deps.IDs.NewID()
	if err != nil {
		runID = "adhoc"
	}
	var mu sync.Mutex
	outcomes := make([]crawler.Outcome, 0, len(targets))
	hooks := runHooks{
		runID: runID,
		o:     o,
		onOutcome: func(outcome crawler.Outcome) {
			mu.Lock()
			outcomes = append(outcomes, outcome)
			n := len(outcomes)
			mu.Unlock()
			if report != nil {
				report(n, len(targets))
			}
		},
	}
	o.dispatch(ctx, targets, hooks)
	return outcomes
}

func (o *Orchestrator) finish(runID string, done chan struct{}, state crawler.RunState) {
	end := o.deps.Clock.Now()
	o.mu.Lock()
	o.progress.State = state
	o.progress.IsRunning = false
	o.progress.CurrentURL = ""
	o.progress.EndTime = &end
	o.cancel = nil
	snapshot := o.progress
	o.mu.Unlock()
	close(done)

	var dur time.Duration
	if snapshot.StartTime != nil {
		dur = end.Sub(*snapshot.StartTime)
	}
	o.deps.Events.Emit(progress.Event{RunID: runID, TS: end, Stage: progress.StageRunDone, Dur: dur, Run: &snapshot})
	o.logger.Info("crawl run finished",
		zap.String("run_id", runID),
		zap.String("state", string(state)),
		zap.Int("total", snapshot.Total),
		zap.Int("success", snapshot.SuccessCount),
		zap.Int("failed", snapshot.FailedCount),
		zap.Int("retried", snapshot.RetriedCount),
		zap.Duration("duration", dur),
	)
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

type sequenceIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("run-%d", s.n), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
