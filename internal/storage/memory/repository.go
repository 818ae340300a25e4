// Package memory provides in-process persistence used for development and tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// Repository keeps targets, their read-count history and finished runs in memory.
type Repository struct {
	mu      sync.RWMutex
	targets map[string]crawler.Target
	history  map[string][]crawler.HistoryPoint
	runs     []crawler.Progress
	settings map[string]string
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		targets:  make(map[string]crawler.Target),
		history:  make(map[string][]crawler.HistoryPoint),
		settings: make(map[string]string),
	}
}

// AddTarget registers target unless its URL is already known.
func (r *Repository) AddTarget(_ context.Context, target crawler.Target) (bool, error) {
	if target.URL == "" {
		return false, crawler.ErrInvalidURL
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[target.URL]; ok {
		return false, nil
	}
	if target.Status == "" {
		target.Status = crawler.StatusPending
	}
	if target.CreatedAt.IsZero() {
		target.CreatedAt = time.Now().UTC()
	}
	r.targets[target.URL] = target
	return true, nil
}

// GetTarget returns the target registered under url.
func (r *Repository) GetTarget(_ context.Context, url string) (crawler.Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	target, ok := r.targets[url]
	if !ok {
		return crawler.Target{}, crawler.ErrNotFound
	}
	return target, nil
}

// DeleteTarget removes a target and its history.
func (r *Repository) DeleteTarget(_ context.Context, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[url]; !ok {
		return crawler.ErrNotFound
	}
	delete(r.targets, url)
	delete(r.history, url)
	return nil
}

// ListTargets returns every target, oldest registration first.
func (r *Repository) ListTargets(_ context.Context) ([]crawler.Target, error) {
	r.mu.RLock()
	out := make([]crawler.Target, 0, len(r.targets))
	for _, target := range r.targets {
		out = append(out, target)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b crawler.Target) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.URL, b.URL)
	})
	return out, nil
}

// RecordSuccess stores count as the latest value, appends a history point and
// clears the failure state.
func (r *Repository) RecordSuccess(_ context.Context, target crawler.Target, count int64, title string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.targets[target.URL]
	if !ok {
		return crawler.ErrNotFound
	}
	current.Status = crawler.StatusOK
	current.ReadCount = count
	if title != "" {
		current.Title = title
	}
	current.LastError = ""
	current.LastCategory = ""
	current.LastAttempt = &at
	r.targets[target.URL] = current
	r.history[target.URL] = append(r.history[target.URL], crawler.HistoryPoint{
		URL:        target.URL,
		Count:      count,
		RecordedAt: at,
	})
	return nil
}

// RecordFailure marks the target failed; the last good count is kept.
func (r *Repository) RecordFailure(_ context.Context, target crawler.Target, errText string, category crawler.Category, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.targets[target.URL]
	if !ok {
		return crawler.ErrNotFound
	}
	current.Status = crawler.StatusFailed
	current.LastError = errText
	current.LastCategory = category
	current.LastAttempt = &at
	r.targets[target.URL] = current
	return nil
}

// History returns up to limit points for url, newest first. A non-positive
// limit returns everything.
func (r *Repository) History(_ context.Context, url string, limit int) ([]crawler.HistoryPoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.targets[url]; !ok {
		return nil, crawler.ErrNotFound
	}
	points := r.history[url]
	out := make([]crawler.HistoryPoint, 0, len(points))
	for i := len(points) - 1; i >= 0; i-- {
		out = append(out, points[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// RecordRun stores a finished run, replacing an earlier snapshot of the same run.
func (r *Repository) RecordRun(_ context.Context, run crawler.Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.runs {
		if r.runs[i].RunID == run.RunID {
			r.runs[i] = run
			return nil
		}
	}
	r.runs = append(r.runs, run)
	return nil
}

// ListRuns returns up to limit runs, most recently started first.
func (r *Repository) ListRuns(_ context.Context, limit int) ([]crawler.Progress, error) {
	r.mu.RLock()
	out := slices.Clone(r.runs)
	r.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b crawler.Progress) int {
		return compareStart(b.StartTime, a.StartTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PlatformHealth groups targets by platform. Failed targets are ordered by
// their last attempt, newest first, and cut to failureLimit.
func (r *Repository) PlatformHealth(_ context.Context, failureLimit int) ([]crawler.PlatformStats, error) {
	r.mu.RLock()
	byPlatform := make(map[string]*crawler.PlatformStats)
	for url, target := range r.targets {
		stats, ok := byPlatform[target.Platform]
		if !ok {
			stats = &crawler.PlatformStats{Platform: target.Platform}
			byPlatform[target.Platform] = stats
		}
		stats.ArticleCount++
		switch target.Status {
		case crawler.StatusOK:
			stats.OKCount++
		case crawler.StatusFailed:
			stats.FailedCount++
			stats.Failures = append(stats.Failures, target)
		default:
			stats.PendingCount++
		}
		for _, point := range r.history[url] {
			if stats.LastUpdate == nil || point.RecordedAt.After(*stats.LastUpdate) {
				at := point.RecordedAt
				stats.LastUpdate = &at
			}
		}
	}
	r.mu.RUnlock()

	out := make([]crawler.PlatformStats, 0, len(byPlatform))
	for _, stats := range byPlatform {
		slices.SortFunc(stats.Failures, func(a, b crawler.Target) int {
			if c := compareStart(b.LastAttempt, a.LastAttempt); c != 0 {
				return c
			}
			return cmp.Compare(a.URL, b.URL)
		})
		if failureLimit <= 0 {
			stats.Failures = nil
		} else if len(stats.Failures) > failureLimit {
			stats.Failures = stats.Failures[:failureLimit]
		}
		out = append(out, *stats)
	}
	slices.SortFunc(out, func(a, b crawler.PlatformStats) int {
		return cmp.Compare(a.Platform, b.Platform)
	})
	return out, nil
}

// GetSetting returns the value stored under key.
func (r *Repository) GetSetting(_ context.Context, key string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	value, ok := r.settings[key]
	return value, ok, nil
}

// PutSetting stores value under key, replacing any previous value.
func (r *Repository) PutSetting(_ context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[key] = value
	return nil
}

// Close implements crawler.Repository.
func (r *Repository) Close() error {
	return nil
}

func compareStart(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Compare(*b)
	}
}

var _ crawler.Repository = (*Repository)(nil)
