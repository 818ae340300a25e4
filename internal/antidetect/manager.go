// Package antidetect produces the per-request disguise parameters used to
// make crawl traffic look like ordinary browsing.
package antidetect

import (
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// Config controls randomisation. With Enabled false the manager is fully
// deterministic: the first identity is used forever and every delay equals
// FixedDelay.
type Config struct {
	Enabled    bool
	MinDelay   time.Duration
	MaxDelay   time.Duration
	FixedDelay time.Duration
	RotateMin  int
	RotateMax  int
	// Seed makes the random stream reproducible. Zero seeds from the clock.
	Seed uint64

	UserAgents      []string
	Viewports       []crawler.Viewport
	AcceptLanguages []string
	Referers        []string
}

// Manager is safe for concurrent use; rotation bookkeeping is serialized.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	rng       *rand.Rand
	current   crawler.Profile
	remaining int
	rotations int
}

// New builds a Manager and draws the first identity.
func New(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	if len(cfg.Viewports) == 0 {
		cfg.Viewports = DefaultViewports
	}
	if len(cfg.AcceptLanguages) == 0 {
		cfg.AcceptLanguages = DefaultAcceptLanguages
	}
	if len(cfg.Referers) == 0 {
		cfg.Referers = DefaultReferers
	}
	if cfg.RotateMin < 1 {
		cfg.RotateMin = 1
	}
	if cfg.RotateMax < cfg.RotateMin {
		cfg.RotateMax = cfg.RotateMin
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	m := &Manager{
		cfg:    cfg,
		logger: logger.Named("antidetect"),
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	m.rotateLocked()
	return m
}

// NextProfile returns the disguise for the next request and spends one unit of
// the current identity's budget, rotating when it is exhausted.
func (m *Manager) NextProfile() crawler.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cfg.Enabled {
		return m.current
	}
	if m.remaining <= 0 {
		m.rotateLocked()
	}
	m.remaining--
	profile := m.current
	profile.Referer = m.cfg.Referers[m.rng.IntN(len(m.cfg.Referers))]
	return profile
}

// DelayBeforeRequest returns the pause to observe before a request.
func (m *Manager) DelayBeforeRequest() time.Duration {
	if !m.cfg.Enabled {
		return m.cfg.FixedDelay
	}
	span := m.cfg.MaxDelay - m.cfg.MinDelay
	if span <= 0 {
		return m.cfg.MinDelay
	}
	m.mu.Lock()
	offset := time.Duration(m.rng.Int64N(int64(span) + 1))
	m.mu.Unlock()
	return m.cfg.MinDelay + offset
}

// Rotations reports how many identities have been drawn so far.
func (m *Manager) Rotations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotations
}

func (m *Manager) rotateLocked() {
	m.rotations++
	if !m.cfg.Enabled {
		m.current = crawler.Profile{
			UserAgent:      m.cfg.UserAgents[0],
			Viewport:       m.cfg.Viewports[0],
			AcceptLanguage: m.cfg.AcceptLanguages[0],
		}
		return
	}
	m.current = crawler.Profile{
		UserAgent:      m.cfg.UserAgents[m.rng.IntN(len(m.cfg.UserAgents))],
		Viewport:       m.cfg.Viewports[m.rng.IntN(len(m.cfg.Viewports))],
		AcceptLanguage: m.cfg.AcceptLanguages[m.rng.IntN(len(m.cfg.AcceptLanguages))],
	}
	m.remaining = m.cfg.RotateMin + m.rng.IntN(m.cfg.RotateMax-m.cfg.RotateMin+1)
	m.logger.Debug("identity rotated",
		zap.String("user_agent", m.current.UserAgent),
		zap.Int("budget", m.remaining),
	)
}
