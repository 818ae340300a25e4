// Package progress defines the events emitted while a crawl run executes.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunDone      Stage = "RUN_DONE"
	StageTargetOK     Stage = "TARGET_OK"
	StageTargetRetry  Stage = "TARGET_RETRY"
	StageTargetFailed Stage = "TARGET_FAILED"
)

// Event captures a single crawl milestone.
type Event struct {
	// RunID identifies the crawl run that produced the event.
	RunID string `json:"run_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time `json:"ts"`
	Stage Stage     `json:"stage"`

	URL      string           `json:"url,omitempty"`
	Domain   string           `json:"domain,omitempty"`
	Platform string           `json:"platform,omitempty"`
	Category crawler.Category `json:"category,omitempty"`
	// Attempt is the 1-based attempt number the event refers to.
	Attempt int `json:"attempt,omitempty"`
	// Value is the extracted read count for TARGET_OK.
	Value int64         `json:"value,omitempty"`
	Dur   time.Duration `json:"dur,omitempty"`
	// Note carries low-volume context such as error text.
	Note string `json:"note,omitempty"`
	// Run is a progress snapshot attached to run-level stages.
	Run *crawler.Progress `json:"run,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
	case StageRunDone:
		if e.Run == nil {
			return errors.New("run done requires a progress snapshot")
		}
	case StageTargetOK:
		if e.URL == "" {
			return errors.New("target ok requires url")
		}
	case StageTargetRetry, StageTargetFailed:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
		if e.Category == "" {
			return fmt.Errorf("%s requires category", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
