// Package scheduler admits fetches under global and per-domain concurrency
// limits and orders targets so no single domain monopolises the budget.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/article-monitor/internal/crawler"
	"github.com/JakeFAU/article-monitor/internal/metrics"
	"github.com/JakeFAU/article-monitor/internal/policy/ratelimit"
)

// Config holds the admission limits.
type Config struct {
	GlobalMax int
	// PerDomainMax caps in-flight fetches per domain; 0 means unlimited.
	PerDomainMax int
	Interleave   bool
	// MinDomainDelay spaces dispatch starts to the same domain.
	MinDomainDelay time.Duration
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	cfg     Config
	global  *semaphore.Weighted
	spacing *ratelimit.Limiter

	mu       sync.Mutex
	domains  map[string]*semaphore.Weighted
	inflight map[string]int
	total    int
}

// New validates cfg and builds a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.GlobalMax <= 0 {
		return nil, fmt.Errorf("scheduler: global max must be positive, got %d", cfg.GlobalMax)
	}
	if cfg.PerDomainMax < 0 {
		return nil, errors.New("scheduler: per-domain max must not be negative")
	}
	return &Scheduler{
		cfg:      cfg,
		global:   semaphore.NewWeighted(int64(cfg.GlobalMax)),
		spacing:  ratelimit.New(ratelimit.Config{MinInterval: cfg.MinDomainDelay}),
		domains:  make(map[string]*semaphore.Weighted),
		inflight: make(map[string]int),
	}, nil
}

// Order returns targets in dispatch order: round-robin across domains when
// interleaving is enabled, otherwise unchanged.
func (s *Scheduler) Order(targets []crawler.Target) []crawler.Target {
	if !s.cfg.Interleave {
		return append([]crawler.Target(nil), targets...)
	}
	return Interleave(targets)
}

// Acquire blocks until a fetch to domain may start. It takes the domain slot,
// then a global slot, and only then waits out the domain spacing, so the
// returned slot is dispatched no sooner than MinDomainDelay after the
// previous dispatch to the same domain.
func (s *Scheduler) Acquire(ctx context.Context, domain string) (*Slot, error) {
	domainSem := s.domainSemaphore(domain)
	if domainSem != nil {
		if err := domainSem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("acquire domain slot: %w", err)
		}
	}
	if err := s.global.Acquire(ctx, 1); err != nil {
		if domainSem != nil {
			domainSem.Release(1)
		}
		return nil, fmt.Errorf("acquire global slot: %w", err)
	}
	if err := s.spacing.Wait(ctx, domain); err != nil {
		s.global.Release(1)
		if domainSem != nil {
			domainSem.Release(1)
		}
		return nil, err
	}
	s.mu.Lock()
	s.inflight[domain]++
	s.total++
	s.mu.Unlock()
	metrics.IncInflight()
	return &Slot{scheduler: s, domain: domain, domainSem: domainSem}, nil
}

// InFlight reports the total and per-domain in-flight counts.
func (s *Scheduler) InFlight(domain string) (total, perDomain int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total, s.inflight[domain]
}

func (s *Scheduler) domainSemaphore(domain string) *semaphore.Weighted {
	if s.cfg.PerDomainMax == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.domains[domain]
	if !ok {
		sem = semaphore.NewWeighted(int64(s.cfg.PerDomainMax))
		s.domains[domain] = sem
	}
	return sem
}

func (s *Scheduler) release(slot *Slot) {
	s.mu.Lock()
	s.inflight[slot.domain]--
	if s.inflight[slot.domain] == 0 {
		delete(s.inflight, slot.domain)
	}
	s.total--
	s.mu.Unlock()
	s.global.Release(1)
	if slot.domainSem != nil {
		slot.domainSem.Release(1)
	}
	metrics.DecInflight()
}

// Slot is an admitted fetch. Release must be called once the fetch resolves;
// extra calls are ignored.
type Slot struct {
	scheduler *Scheduler
	domain    string
	domainSem *semaphore.Weighted
	once      sync.Once
}

// Domain returns the domain the slot was admitted for.
func (s *Slot) Domain() string {
	return s.domain
}

// Release frees the slot.
func (s *Slot) Release() {
	s.once.Do(func() { s.scheduler.release(s) })
}
