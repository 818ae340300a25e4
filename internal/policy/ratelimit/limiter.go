// Package ratelimit spaces successive dispatches to the same domain.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/article-monitor/internal/metrics"
)

// Limiter keeps one token bucket per domain. With burst 1 and a refill every
// MinInterval, two dispatches to a domain start at least MinInterval apart,
// measured from the start of the earlier one.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

// Config holds rate limiter configuration.
type Config struct {
	MinInterval time.Duration
}

// New creates a new Limiter. A zero interval disables spacing.
func New(cfg Config) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		interval: cfg.MinInterval,
	}
}

// Enabled reports whether the limiter spaces anything at all.
func (l *Limiter) Enabled() bool {
	return l != nil && l.interval > 0
}

// Wait blocks until the domain may be dispatched to again, respecting ctx.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	if !l.Enabled() {
		return nil
	}
	if domain == "" {
		domain = "unknown"
	}
	l.mu.Lock()
	limiter, exists := l.limiters[domain]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(l.interval), 1)
		l.limiters[domain] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("domain delay wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveDomainDelay(domain, waited)
	}
	return nil
}
