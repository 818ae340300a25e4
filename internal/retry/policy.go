// Package retry decides whether a failed fetch is retried and how long to
// wait before the next attempt.
package retry

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// Config holds per-category ceilings and the backoff curve.
type Config struct {
	// MaxAttempts is the total number of attempts allowed per category,
	// including the first one.
	MaxAttempts   map[crawler.Category]int
	BaseDelay     time.Duration
	Multiplier    float64
	MaxDelay      time.Duration
	SSLDelay      time.Duration
	Jitter        bool
	JitterPercent float64
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: map[crawler.Category]int{
			crawler.CategoryNetwork:   10,
			crawler.CategoryParse:     3,
			crawler.CategorySSL:       5,
			crawler.CategoryPermanent: 1,
		},
		BaseDelay:     2 * time.Second,
		Multiplier:    1.5,
		MaxDelay:      30 * time.Second,
		SSLDelay:      5 * time.Second,
		Jitter:        true,
		JitterPercent: 0.2,
	}
}

// Decision is the outcome of a retry decision.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// GiveUp is the decision returned once a category ceiling is reached.
var GiveUp = Decision{}

// Policy implements category-aware exponential backoff. It holds no per-target
// state and is safe for concurrent use.
type Policy struct {
	cfg    Config
	jitter func(limit time.Duration) time.Duration
}

// New builds a Policy, filling unset fields from DefaultConfig.
func New(cfg Config) *Policy {
	def := DefaultConfig()
	if cfg.MaxAttempts == nil {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.SSLDelay < 0 {
		cfg.SSLDelay = 0
	}
	if cfg.JitterPercent <= 0 || cfg.JitterPercent >= 1 {
		cfg.JitterPercent = def.JitterPercent
	}
	return &Policy{cfg: cfg, jitter: randomJitter}
}

// MaxAttempts reports the attempt ceiling for category. Permanent failures are
// always limited to a single attempt.
func (p *Policy) MaxAttempts(category crawler.Category) int {
	if category == crawler.CategoryPermanent {
		return 1
	}
	limit, ok := p.cfg.MaxAttempts[category]
	if !ok {
		limit = p.cfg.MaxAttempts[crawler.CategoryNetwork]
	}
	if limit < 1 {
		return 1
	}
	return limit
}

// Decide returns whether attempt should be followed by another one and the
// delay before it. attempt.Number is the 1-based number of the attempt that
// just failed.
func (p *Policy) Decide(attempt crawler.Attempt) Decision {
	if attempt.Number >= p.MaxAttempts(attempt.Category) {
		return GiveUp
	}
	if attempt.Category == crawler.CategorySSL {
		return Decision{Retry: true, Delay: p.cfg.SSLDelay}
	}
	return Decision{Retry: true, Delay: p.applyJitter(p.Backoff(attempt.Number))}
}

// Backoff returns the un-jittered delay after the given failed attempt:
// min(base * multiplier^(n-1), max).
func (p *Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.Multiplier, float64(n-1))
	if delay > float64(p.cfg.MaxDelay) || math.IsInf(delay, 0) {
		return p.cfg.MaxDelay
	}
	return time.Duration(delay)
}

// applyJitter perturbs delay by up to ±JitterPercent while keeping it within
// MaxDelay.
func (p *Policy) applyJitter(delay time.Duration) time.Duration {
	if !p.cfg.Jitter || delay <= 0 {
		return delay
	}
	span := time.Duration(float64(delay) * p.cfg.JitterPercent)
	jittered := delay - span + p.jitter(2*span)
	if jittered > p.cfg.MaxDelay {
		jittered = p.cfg.MaxDelay
	}
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
