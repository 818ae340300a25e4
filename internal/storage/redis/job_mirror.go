// Package redis mirrors Task Manager job snapshots into Redis so job state
// outlives the in-process retention window and survives restarts.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/article-monitor/internal/crawler"
	"github.com/JakeFAU/article-monitor/internal/tasks"
)

// DefaultPrefix namespaces job keys when none is configured.
const DefaultPrefix = "article-monitor:job:"

// Config holds the mirror connection settings.
type Config struct {
	Addr   string
	Prefix string
	TTL    time.Duration
}

// JobMirror stores job snapshots as JSON values with a TTL.
type JobMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewJobMirror connects to cfg.Addr and verifies the server answers.
func NewJobMirror(ctx context.Context, cfg Config) (*JobMirror, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewJobMirrorWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewJobMirrorWithClient wraps an existing client.
func NewJobMirrorWithClient(client *redis.Client, prefix string, ttl time.Duration) *JobMirror {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &JobMirror{client: client, prefix: prefix, ttl: ttl}
}

// Close closes the Redis client.
func (m *JobMirror) Close() error {
	if err := m.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

// SaveJob writes the snapshot, refreshing its TTL.
func (m *JobMirror) SaveJob(ctx context.Context, job tasks.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := m.client.Set(ctx, m.prefix+job.ID, payload, m.ttl).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// LoadJob reads a snapshot; an expired or unknown id yields crawler.ErrJobNotFound.
func (m *JobMirror) LoadJob(ctx context.Context, id string) (tasks.Job, error) {
	val, err := m.client.Get(ctx, m.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return tasks.Job{}, crawler.ErrJobNotFound
		}
		return tasks.Job{}, fmt.Errorf("load job %s: %w", id, err)
	}
	var job tasks.Job
	if err := json.Unmarshal(val, &job); err != nil {
		return tasks.Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

var _ tasks.Mirror = (*JobMirror)(nil)
