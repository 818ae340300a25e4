// Package tasks supervises background jobs: batch registration, spreadsheet
// sync and crawl runs submitted asynchronously. It tracks lifecycle state and
// the last reported progress without knowing what a job does.
package tasks

import (
	"context"
	"maps"
	"time"
)

// Kind names what a job does.
type Kind string

// Known job kinds.
const (
	KindCrawl    Kind = "crawl"
	KindBatchAdd Kind = "batch_add"
	KindSync     Kind = "sync"
)

// Status is a job lifecycle state.
type Status string

// Job states. Completed, failed and cancelled are terminal.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is a snapshot of one tracked unit of background work.
type Job struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	Status     Status         `json:"status"`
	Progress   map[string]any `json:"progress,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

func (j Job) clone() Job {
	j.Progress = maps.Clone(j.Progress)
	return j
}

// Reporter replaces the job's progress payload.
type Reporter func(progress map[string]any)

// Runner performs the job. It must observe ctx between units of work; ctx is
// cancelled by Cancel and by manager shutdown.
type Runner func(ctx context.Context, report Reporter) (any, error)

// Mirror persists job snapshots outside the process, e.g. for status queries
// after a restart.
type Mirror interface {
	SaveJob(ctx context.Context, job Job) error
	LoadJob(ctx context.Context, id string) (Job, error)
}
