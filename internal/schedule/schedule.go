// Package schedule triggers crawl runs periodically.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// Starter begins a crawl run.
type Starter interface {
	Start(ctx context.Context) (crawler.Progress, error)
}

// Config selects when runs fire. Spec, when set, is a standard five-field
// cron expression and takes precedence over Interval.
type Config struct {
	Interval time.Duration
	Spec     string
}

// Scheduler fires Starter.Start on a cron schedule. A tick that lands while a
// run is active is skipped.
type Scheduler struct {
	cron    *cron.Cron
	starter Starter
	logger  *zap.Logger

	mu      sync.Mutex
	entry   cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New validates cfg and registers the crawl trigger.
func New(cfg Config, starter Starter, logger *zap.Logger) (*Scheduler, error) {
	if starter == nil {
		return nil, errors.New("schedule: starter is required")
	}
	spec := cfg.Spec
	if spec == "" {
		if cfg.Interval <= 0 {
			return nil, errors.New("schedule: interval must be positive")
		}
		spec = "@every " + cfg.Interval.String()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("schedule")
	cronLogger := zapCronLogger{logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger)), cron.WithLogger(cronLogger)),
		starter: starter,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	entry, err := s.cron.AddFunc(spec, s.Tick)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("schedule: parse %q: %w", spec, err)
	}
	s.entry = entry
	return s, nil
}

// Start begins firing; it is a no-op when already started.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("crawl schedule started", zap.Time("next", s.cron.Entry(s.entry).Next))
}

// Stop halts the schedule and waits for a tick in progress, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	s.cancel()
	if !started {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("schedule stop: %w", ctx.Err())
	}
}

// Next reports when the trigger fires next; zero before Start.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	entry := s.entry
	s.mu.Unlock()
	return s.cron.Entry(entry).Next
}

// Reschedule replaces the trigger with a fixed interval, counted from now.
// A running schedule picks it up without a restart.
func (s *Scheduler) Reschedule(interval time.Duration) error {
	if interval <= 0 {
		return errors.New("schedule: interval must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.cron.AddFunc("@every "+interval.String(), s.Tick)
	if err != nil {
		return fmt.Errorf("schedule: reschedule every %s: %w", interval, err)
	}
	s.cron.Remove(s.entry)
	s.entry = entry
	s.logger.Info("crawl schedule changed",
		zap.Duration("interval", interval),
		zap.Time("next", s.cron.Entry(entry).Next),
	)
	return nil
}

// Tick starts one run now.
func (s *Scheduler) Tick() {
	progress, err := s.starter.Start(s.ctx)
	switch {
	case errors.Is(err, crawler.ErrAlreadyRunning):
		s.logger.Info("scheduled crawl skipped, run already active")
	case err != nil:
		s.logger.Error("scheduled crawl failed to start", zap.Error(err))
	default:
		s.logger.Info("scheduled crawl started",
			zap.String("run_id", progress.RunID),
			zap.Int("targets", progress.Total),
		)
	}
}

type zapCronLogger struct {
	log *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
