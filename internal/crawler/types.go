package crawler

import (
	"time"
)

// TargetStatus is the last known crawl status of a target.
type TargetStatus string

// Target status values persisted by the store.
const (
	StatusPending TargetStatus = "pending"
	StatusOK      TargetStatus = "ok"
	StatusFailed  TargetStatus = "failed"
)

// Category classifies a fetch failure for retry purposes.
type Category string

// Failure categories understood by the retry policy.
const (
	CategoryNetwork   Category = "network"
	CategoryParse     Category = "parse"
	CategorySSL       Category = "ssl"
	CategoryPermanent Category = "permanent"
)

// Categories lists every known category in a stable order.
func Categories() []Category {
	return []Category{CategoryNetwork, CategoryParse, CategorySSL, CategoryPermanent}
}

// Target is one monitored article URL and its crawl status.
type Target struct {
	URL          string       `json:"url"`
	Domain       string       `json:"domain"`
	Platform     string       `json:"platform"`
	Title        string       `json:"title,omitempty"`
	Status       TargetStatus `json:"status"`
	ReadCount    int64        `json:"read_count"`
	LastError    string       `json:"last_error,omitempty"`
	LastCategory Category     `json:"last_category,omitempty"`
	LastAttempt  *time.Time   `json:"last_attempt,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// HistoryPoint is one recorded read count for a target.
type HistoryPoint struct {
	URL        string    `json:"url"`
	Count      int64     `json:"count"`
	RecordedAt time.Time `json:"recorded_at"`
}

// PlatformStats summarizes the stored targets of one platform. Failures holds
// the most recently attempted failed targets, newest first.
type PlatformStats struct {
	Platform     string
	ArticleCount int
	OKCount      int
	FailedCount  int
	PendingCount int
	// LastUpdate is the newest history point across the platform's targets.
	LastUpdate *time.Time
	Failures   []Target
}

// Attempt is the immutable input to a retry decision.
type Attempt struct {
	Category Category
	Number   int
}

// Viewport is a browser window size.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Profile holds the disguise parameters applied to a single request.
type Profile struct {
	UserAgent      string   `json:"user_agent"`
	Viewport       Viewport `json:"viewport"`
	AcceptLanguage string   `json:"accept_language"`
	Referer        string   `json:"referer,omitempty"`
}

// Headers renders the profile as request headers.
func (p Profile) Headers() map[string]string {
	headers := map[string]string{}
	if p.UserAgent != "" {
		headers["User-Agent"] = p.UserAgent
	}
	if p.AcceptLanguage != "" {
		headers["Accept-Language"] = p.AcceptLanguage
	}
	if p.Referer != "" {
		headers["Referer"] = p.Referer
	}
	return headers
}

// RenderHints tune a browser render for one platform.
type RenderHints struct {
	// WaitSelector is a CSS selector that must be present before capture.
	WaitSelector string
	// Settle is an extra pause after the page is ready.
	Settle time.Duration
	// Script is evaluated after load; platforms use it to surface counters
	// rendered late into the DOM.
	Script string
}

// RenderRequest is one engine fetch.
type RenderRequest struct {
	URL     string
	Profile Profile
	Hints   RenderHints
}

// Page is the raw response produced by a fetch engine.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// FetchResult is the outcome of a successful fetch and extraction.
type FetchResult struct {
	Value       int64
	Title       string
	Raw         []byte
	StatusCode  int
	UsedBrowser bool
	Duration    time.Duration
}

// RunState is the lifecycle state of a crawl run.
type RunState string

// Run states.
const (
	RunIdle      RunState = "idle"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunCancelled RunState = "cancelled"
)

// Progress is the observable state of the current or last crawl run.
type Progress struct {
	RunID        string     `json:"run_id,omitempty"`
	State        RunState   `json:"state"`
	IsRunning    bool       `json:"is_running"`
	Total        int        `json:"total"`
	Current      int        `json:"current"`
	SuccessCount int        `json:"success_count"`
	FailedCount  int        `json:"failed_count"`
	RetriedCount int        `json:"retried_count"`
	CurrentURL   string     `json:"current_url,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
}

// Outcome is the terminal result of crawling one target.
type Outcome struct {
	URL      string   `json:"url"`
	Value    int64    `json:"value"`
	Title    string   `json:"title,omitempty"`
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Category Category `json:"category,omitempty"`
	Attempts int      `json:"attempts"`
}
