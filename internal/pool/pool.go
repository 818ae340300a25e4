// Package pool leases heavyweight fetch engines to concurrent crawls.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/article-monitor/internal/crawler"
	"github.com/JakeFAU/article-monitor/internal/metrics"
)

// Config bounds the pool. The low-resource profile is just a smaller Config.
type Config struct {
	MinSize         int
	MaxSize         int
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Engines int `json:"engines"`
	Idle    int `json:"idle"`
	Leased  int `json:"leased"`
	Max     int `json:"max"`
}

type entry struct {
	engine   crawler.Engine
	lastUsed time.Time
}

// Pool hands out exclusive engine leases, creating engines lazily up to
// MaxSize and retiring idle ones beyond MinSize.
type Pool struct {
	cfg     Config
	factory crawler.EngineFactory
	logger  *zap.Logger
	slots   *semaphore.Weighted
	now     func() time.Time

	mu      sync.Mutex
	idle    []*entry
	engines int
	leased  int
	closed  bool
}

// New creates a pool. Nothing is started until Start is called.
func New(cfg Config, factory crawler.EngineFactory, logger *zap.Logger) (*Pool, error) {
	if factory == nil {
		return nil, errors.New("pool: engine factory is required")
	}
	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("pool: max size must be positive, got %d", cfg.MaxSize)
	}
	if cfg.MinSize < 0 || cfg.MinSize > cfg.MaxSize {
		return nil, fmt.Errorf("pool: min size %d outside [0,%d]", cfg.MinSize, cfg.MaxSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:     cfg,
		factory: factory,
		logger:  logger.Named("pool"),
		slots:   semaphore.NewWeighted(int64(cfg.MaxSize)),
		now:     time.Now,
	}, nil
}

// Start pre-creates MinSize engines and launches the idle retirement loop,
// which stops when ctx is done. Warm-up failures are logged, not fatal.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.MinSize; i++ {
		engine, err := p.factory.NewEngine(ctx)
		if err != nil {
			p.logger.Warn("engine warm-up failed", zap.Error(err))
			break
		}
		p.mu.Lock()
		p.engines++
		p.idle = append(p.idle, &entry{engine: engine, lastUsed: p.now()})
		p.mu.Unlock()
	}
	p.publish()
	if p.cfg.IdleTimeout <= 0 || p.cfg.CleanupInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(p.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if retired := p.RetireIdle(); retired > 0 {
					p.logger.Debug("retired idle engines", zap.Int("count", retired))
				}
			}
		}
	}()
}

// Acquire leases an engine, blocking while MaxSize leases are outstanding.
// If a new engine cannot be created it fails with ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("pool acquire: %w", err)
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.slots.Release(1)
		return nil, crawler.ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		e := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.leased++
		p.mu.Unlock()
		p.publish()
		return &Lease{pool: p, entry: e}, nil
	}
	p.engines++
	p.leased++
	p.mu.Unlock()

	engine, err := p.factory.NewEngine(ctx)
	if err != nil {
		p.mu.Lock()
		p.engines--
		p.leased--
		p.mu.Unlock()
		p.slots.Release(1)
		p.logger.Warn("engine creation failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", crawler.ErrPoolExhausted, err)
	}
	p.publish()
	return &Lease{pool: p, entry: &entry{engine: engine}}, nil
}

// RetireIdle closes idle engines unused for IdleTimeout while keeping at
// least MinSize engines alive. It returns the number retired.
func (p *Pool) RetireIdle() int {
	cutoff := p.now().Add(-p.cfg.IdleTimeout)
	var retired []*entry
	p.mu.Lock()
	kept := p.idle[:0]
	for _, e := range p.idle {
		if p.engines-len(retired) > p.cfg.MinSize && e.lastUsed.Before(cutoff) {
			retired = append(retired, e)
			continue
		}
		kept = append(kept, e)
	}
	p.idle = kept
	p.engines -= len(retired)
	p.mu.Unlock()
	for _, e := range retired {
		p.closeEngine(e.engine)
	}
	if len(retired) > 0 {
		p.publish()
	}
	return len(retired)
}

// Stats reports the current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Engines: p.engines, Idle: len(p.idle), Leased: p.leased, Max: p.cfg.MaxSize}
}

// Close shuts down idle engines; leased engines are closed on release.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.engines -= len(idle)
	p.mu.Unlock()
	for _, e := range idle {
		p.closeEngine(e.engine)
	}
	p.publish()
	return nil
}

func (p *Pool) release(e *entry, discard bool) {
	p.mu.Lock()
	p.leased--
	if discard || p.closed {
		p.engines--
		p.mu.Unlock()
		p.closeEngine(e.engine)
	} else {
		e.lastUsed = p.now()
		p.idle = append(p.idle, e)
		p.mu.Unlock()
	}
	p.slots.Release(1)
	p.publish()
}

func (p *Pool) closeEngine(engine crawler.Engine) {
	if err := engine.Close(); err != nil {
		p.logger.Warn("engine close failed", zap.Error(err))
	}
}

func (p *Pool) publish() {
	s := p.Stats()
	metrics.SetPoolState(s.Leased, s.Engines)
}

// Lease is exclusive access to one engine until Release or Discard.
type Lease struct {
	pool  *Pool
	entry *entry
	once  sync.Once
}

// Engine returns the leased engine.
func (l *Lease) Engine() crawler.Engine {
	return l.entry.engine
}

// Release returns the engine to the pool. Only the first call has effect.
func (l *Lease) Release() {
	l.once.Do(func() { l.pool.release(l.entry, false) })
}

// Discard closes the engine instead of returning it, for engines left in a
// bad state. Only the first Release or Discard has effect.
func (l *Lease) Discard() {
	l.once.Do(func() { l.pool.release(l.entry, true) })
}
