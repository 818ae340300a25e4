package crawler

import (
	"context"
	"time"
)

// Store is the persistence collaborator consumed by the orchestrator.
// Implementations must be safe for concurrent use.
type Store interface {
	RecordSuccess(ctx context.Context, target Target, count int64, title string, at time.Time) error
	RecordFailure(ctx context.Context, target Target, errText string, category Category, at time.Time) error
	ListTargets(ctx context.Context) ([]Target, error)
}

// TargetRegistry extends Store with the target management operations.
type TargetRegistry interface {
	Store
	// AddTarget registers a target and reports whether it was new.
	AddTarget(ctx context.Context, target Target) (bool, error)
	GetTarget(ctx context.Context, url string) (Target, error)
	DeleteTarget(ctx context.Context, url string) error
	History(ctx context.Context, url string, limit int) ([]HistoryPoint, error)
}

// RunStore persists finished crawl runs.
type RunStore interface {
	RecordRun(ctx context.Context, run Progress) error
	ListRuns(ctx context.Context, limit int) ([]Progress, error)
}

// HealthSource aggregates per-platform crawl state.
type HealthSource interface {
	// PlatformHealth returns one entry per platform with at least one target,
	// ordered by platform, each carrying up to failureLimit failed targets.
	PlatformHealth(ctx context.Context, failureLimit int) ([]PlatformStats, error)
}

// SettingsStore persists runtime settings as string values.
type SettingsStore interface {
	// GetSetting reports whether key is set and its value.
	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
}

// Repository is the full storage backend.
type Repository interface {
	TargetRegistry
	RunStore
	HealthSource
	SettingsStore
	Close() error
}

// Engine is a heavyweight fetch session owned by the resource pool.
type Engine interface {
	Fetch(ctx context.Context, req RenderRequest) (Page, error)
	Close() error
}

// EngineFactory creates fetch engines on demand.
type EngineFactory interface {
	NewEngine(ctx context.Context) (Engine, error)
}

// Fetcher is the fetch+extract primitive. It must classify its failures
// with a FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, target Target, profile Profile, engine Engine) (FetchResult, error)
}

// Prober performs a cheap fetch that does not need a pooled engine.
type Prober interface {
	Probe(ctx context.Context, url string, profile Profile) (Page, error)
}

// RenderDetector decides whether a probed page needs a full browser render.
type RenderDetector interface {
	NeedsRender(page Page) bool
}

// Extraction is what an extractor pulls out of a page.
type Extraction struct {
	Value int64
	Title string
}

// Extractor turns a fetched page into a read count.
type Extractor interface {
	Extract(url string, body []byte) (Extraction, error)
	Hints() RenderHints
}

// ExtractorRegistry maps a platform tag to its extractor.
type ExtractorRegistry interface {
	Lookup(platform string) (Extractor, bool)
}

// Archive stores raw page bodies and returns a URI.
type Archive interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher fans serialized events out to a message transport.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
