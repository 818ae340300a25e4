package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-monitor/internal/crawler"
	"github.com/JakeFAU/article-monitor/internal/tasks"
)

func newMirror(t *testing.T, ttl time.Duration) (*JobMirror, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	mirror := NewJobMirrorWithClient(client, "test:", ttl)
	t.Cleanup(func() { _ = mirror.Close() })
	return mirror, srv
}

func TestJobMirrorRoundTrip(t *testing.T) {
	t.Parallel()

	mirror, srv := newMirror(t, time.Hour)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	job := tasks.Job{
		ID:        "job-1",
		Kind:      tasks.KindSync,
		Status:    tasks.StatusCompleted,
		Progress:  map[string]any{"current": float64(3), "total": float64(3)},
		CreatedAt: created,
	}

	require.NoError(t, mirror.SaveJob(ctx, job))
	require.True(t, srv.Exists("test:job-1"))
	require.Equal(t, time.Hour, srv.TTL("test:job-1"))

	got, err := mirror.LoadJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, tasks.StatusCompleted, got.Status)
	require.Equal(t, tasks.KindSync, got.Kind)
	require.Equal(t, float64(3), got.Progress["current"])
	require.True(t, created.Equal(got.CreatedAt))
}

func TestJobMirrorExpiry(t *testing.T) {
	t.Parallel()

	mirror, srv := newMirror(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, mirror.SaveJob(ctx, tasks.Job{ID: "job-2", Status: tasks.StatusRunning}))
	srv.FastForward(2 * time.Minute)

	_, err := mirror.LoadJob(ctx, "job-2")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
}

func TestJobMirrorCorruptValue(t *testing.T) {
	t.Parallel()

	mirror, srv := newMirror(t, 0)
	require.NoError(t, srv.Set("test:bad", "{not json"))

	_, err := mirror.LoadJob(context.Background(), "bad")
	require.Error(t, err)
	require.NotErrorIs(t, err, crawler.ErrJobNotFound)
}

func TestNewJobMirror(t *testing.T) {
	t.Parallel()

	_, err := NewJobMirror(context.Background(), Config{})
	require.Error(t, err)

	srv := miniredis.RunT(t)
	mirror, err := NewJobMirror(context.Background(), Config{Addr: srv.Addr()})
	require.NoError(t, err)
	defer func() { _ = mirror.Close() }()
	require.Equal(t, DefaultPrefix, mirror.prefix)
}
