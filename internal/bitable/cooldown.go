package bitable

import (
	"sync"
	"time"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// Gate enforces a process-wide cooldown between accepted syncs. Requests
// inside the window are rejected, never queued.
type Gate struct {
	cooldown time.Duration
	clock    crawler.Clock

	mu   sync.Mutex
	last time.Time
}

// NewGate builds a Gate; a nil clock uses wall time.
func NewGate(cooldown time.Duration, clock crawler.Clock) *Gate {
	if clock == nil {
		clock = wallClock{}
	}
	return &Gate{cooldown: cooldown, clock: clock}
}

// Acquire accepts a sync and returns its acceptance time, or
// crawler.ErrRateLimited while the previous acceptance is still cooling down.
func (g *Gate) Acquire() (time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	if !g.last.IsZero() && now.Sub(g.last) < g.cooldown {
		return time.Time{}, crawler.ErrRateLimited
	}
	g.last = now
	return now, nil
}

// Release forgets the acceptance at accepted, for a sync that was accepted
// but could not be started. A newer acceptance is left alone.
func (g *Gate) Release(accepted time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last.Equal(accepted) {
		g.last = time.Time{}
	}
}

// Remaining reports how long until the next sync is accepted.
func (g *Gate) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last.IsZero() {
		return 0
	}
	return max(g.cooldown-g.clock.Now().Sub(g.last), 0)
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
