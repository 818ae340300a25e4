// Package health reports per-platform crawl health.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// DefaultFailureLimit caps the failures listed per platform.
const DefaultFailureLimit = 5

// Status is the health verdict for one platform.
type Status string

// Health verdicts, from best to worst.
const (
	StatusOK      Status = "ok"
	StatusUnknown Status = "unknown"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Failure is one recently failed target.
type Failure struct {
	URL      string           `json:"url"`
	Title    string           `json:"title,omitempty"`
	Error    string           `json:"error"`
	Category crawler.Category `json:"category,omitempty"`
	At       *time.Time       `json:"time,omitempty"`
}

// Platform is the health of one platform.
type Platform struct {
	Platform     string     `json:"platform"`
	Status       Status     `json:"status"`
	Message      string     `json:"message"`
	ArticleCount int        `json:"article_count"`
	OKCount      int        `json:"ok_count"`
	FailedCount  int        `json:"failed_count"`
	PendingCount int        `json:"pending_count"`
	LastUpdate   *time.Time `json:"last_update,omitempty"`
	Failures     []Failure  `json:"failures"`
}

// Report is a point-in-time health snapshot.
type Report struct {
	CheckedAt     time.Time  `json:"checked_at"`
	CrawlInterval string     `json:"crawl_interval"`
	Platforms     []Platform `json:"platforms"`
}

// IntervalSource yields the effective crawl interval.
type IntervalSource interface {
	CrawlInterval(ctx context.Context) (time.Duration, error)
}

// Checker builds Reports from the repository.
type Checker struct {
	source   crawler.HealthSource
	interval IntervalSource
	clock    crawler.Clock
	limit    int
}

// NewChecker wires a Checker. A non-positive failureLimit uses DefaultFailureLimit.
func NewChecker(source crawler.HealthSource, interval IntervalSource, clock crawler.Clock, failureLimit int) (*Checker, error) {
	switch {
	case source == nil:
		return nil, errors.New("health: source is required")
	case interval == nil:
		return nil, errors.New("health: interval source is required")
	case clock == nil:
		return nil, errors.New("health: clock is required")
	}
	if failureLimit <= 0 {
		failureLimit = DefaultFailureLimit
	}
	return &Checker{source: source, interval: interval, clock: clock, limit: failureLimit}, nil
}

// Check assesses every platform that has registered targets.
func (c *Checker) Check(ctx context.Context) (Report, error) {
	interval, err := c.interval.CrawlInterval(ctx)
	if err != nil {
		return Report{}, err
	}
	stats, err := c.source.PlatformHealth(ctx, c.limit)
	if err != nil {
		return Report{}, fmt.Errorf("platform health: %w", err)
	}
	now := c.clock.Now()
	report := Report{
		CheckedAt:     now,
		CrawlInterval: interval.String(),
		Platforms:     make([]Platform, 0, len(stats)),
	}
	for _, s := range stats {
		status, message := Assess(s, interval, now)
		platform := Platform{
			Platform:     s.Platform,
			Status:       status,
			Message:      message,
			ArticleCount: s.ArticleCount,
			OKCount:      s.OKCount,
			FailedCount:  s.FailedCount,
			PendingCount: s.PendingCount,
			LastUpdate:   s.LastUpdate,
			Failures:     make([]Failure, 0, len(s.Failures)),
		}
		for _, target := range s.Failures {
			failure := Failure{
				URL:      target.URL,
				Title:    target.Title,
				Error:    target.LastError,
				Category: target.LastCategory,
				At:       target.LastAttempt,
			}
			platform.Failures = append(platform.Failures, failure)
		}
		report.Platforms = append(report.Platforms, platform)
	}
	return report, nil
}

// Assess grades a platform by the age of its newest read count relative to
// the crawl interval: older than two intervals is a warning, older than four
// an error. Failed targets downgrade an otherwise healthy platform to a warning.
func Assess(stats crawler.PlatformStats, interval time.Duration, now time.Time) (Status, string) {
	var (
		status  Status
		message string
	)
	switch {
	case stats.ArticleCount == 0:
		return StatusOK, "no articles"
	case stats.LastUpdate == nil:
		status, message = StatusUnknown, "no read counts recorded yet"
	default:
		age := now.Sub(*stats.LastUpdate)
		hours := age.Hours()
		switch {
		case age > 4*interval:
			status, message = StatusError, fmt.Sprintf("severely delayed, last update %.1fh ago", hours)
		case age > 2*interval:
			status, message = StatusWarning, fmt.Sprintf("delayed, last update %.1fh ago", hours)
		default:
			status, message = StatusOK, "running normally"
		}
	}
	if stats.FailedCount > 0 {
		if status == StatusOK {
			return StatusWarning, fmt.Sprintf("%d failed", stats.FailedCount)
		}
		message = fmt.Sprintf("%s, %d failed", message, stats.FailedCount)
	}
	return status, message
}
