package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned when a crawl run is started while another is active.
	ErrAlreadyRunning = errors.New("crawl already running")
	// ErrRateLimited is returned when a sync is requested inside the cooldown window.
	ErrRateLimited = errors.New("rate limited")
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrAlreadyCancelled is returned when cancelling a job that is already cancelled.
	ErrAlreadyCancelled = errors.New("job already cancelled")
	// ErrPoolExhausted is returned when the pool cannot create an engine.
	ErrPoolExhausted = errors.New("engine pool exhausted")
	// ErrPoolClosed is returned when acquiring from a closed pool.
	ErrPoolClosed = errors.New("engine pool closed")
	// ErrNotFound signals that a target does not exist.
	ErrNotFound = errors.New("target not found")
	// ErrInvalidURL is returned for URLs that cannot be monitored.
	ErrInvalidURL = errors.New("invalid url")
	// ErrUnsupportedPlatform is returned for URLs outside the known platforms.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrInvalidSetting is returned when a runtime setting fails validation.
	ErrInvalidSetting = errors.New("invalid setting")
)

// FetchError is a fetch failure tagged with its retry category.
type FetchError struct {
	Category Category
	Err      error
}

// NewFetchError wraps err with category.
func NewFetchError(category Category, err error) *FetchError {
	return &FetchError{Category: category, Err: err}
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// CategoryOf classifies err. Pool exhaustion and unclassified errors are
// treated as network failures.
func CategoryOf(err error) Category {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Category
	}
	return CategoryNetwork
}
