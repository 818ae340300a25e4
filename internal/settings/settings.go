// Package settings manages runtime-adjustable options persisted in the
// repository.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// KeyCrawlInterval holds the crawl interval as a Go duration string.
const KeyCrawlInterval = "crawl_interval"

// MinCrawlInterval is the shortest interval a caller may set.
const MinCrawlInterval = time.Hour

// Rescheduler re-arms the periodic crawl trigger.
type Rescheduler interface {
	Reschedule(interval time.Duration) error
}

// Service reads and writes the crawl interval. A stored value overrides the
// configured fallback.
type Service struct {
	store    crawler.SettingsStore
	fallback time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	schedule Rescheduler
}

// New returns a Service backed by store.
func New(store crawler.SettingsStore, fallback time.Duration, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("settings: store is required")
	}
	if fallback <= 0 {
		return nil, errors.New("settings: fallback interval must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, fallback: fallback, logger: logger.Named("settings")}, nil
}

// Bind attaches the schedule that SetCrawlInterval re-arms.
func (s *Service) Bind(schedule Rescheduler) {
	s.mu.Lock()
	s.schedule = schedule
	s.mu.Unlock()
}

// StoredCrawlInterval returns the persisted interval, if any. A value that no
// longer parses is logged and ignored.
func (s *Service) StoredCrawlInterval(ctx context.Context) (time.Duration, bool, error) {
	raw, ok, err := s.store.GetSetting(ctx, KeyCrawlInterval)
	if err != nil {
		return 0, false, fmt.Errorf("load crawl interval: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	interval, err := time.ParseDuration(raw)
	if err != nil || interval <= 0 {
		s.logger.Warn("ignoring stored crawl interval", zap.String("value", raw), zap.Error(err))
		return 0, false, nil
	}
	return interval, true, nil
}

// CrawlInterval returns the effective crawl interval.
func (s *Service) CrawlInterval(ctx context.Context) (time.Duration, error) {
	interval, ok, err := s.StoredCrawlInterval(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return s.fallback, nil
	}
	return interval, nil
}

// SetCrawlInterval persists interval and re-arms the bound schedule. It
// reports whether a schedule was re-armed.
func (s *Service) SetCrawlInterval(ctx context.Context, interval time.Duration) (bool, error) {
	if interval < MinCrawlInterval {
		return false, fmt.Errorf("%w: crawl interval must be at least %s", crawler.ErrInvalidSetting, MinCrawlInterval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.PutSetting(ctx, KeyCrawlInterval, interval.String()); err != nil {
		return false, fmt.Errorf("save crawl interval: %w", err)
	}
	if s.schedule == nil {
		s.logger.Info("crawl interval saved, schedule disabled", zap.Duration("interval", interval))
		return false, nil
	}
	if err := s.schedule.Reschedule(interval); err != nil {
		return false, fmt.Errorf("reschedule crawl: %w", err)
	}
	s.logger.Info("crawl interval updated", zap.Duration("interval", interval))
	return true, nil
}
