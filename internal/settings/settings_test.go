package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-monitor/internal/crawler"
	"github.com/JakeFAU/article-monitor/internal/storage/memory"
)

type recordingSchedule struct {
	intervals []time.Duration
	err       error
}

func (r *recordingSchedule) Reschedule(interval time.Duration) error {
	if r.err != nil {
		return r.err
	}
	r.intervals = append(r.intervals, interval)
	return nil
}

type brokenStore struct{}

func (brokenStore) GetSetting(context.Context, string) (string, bool, error) {
	return "", false, errors.New("db down")
}

func (brokenStore) PutSetting(context.Context, string, string) error {
	return errors.New("db down")
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, time.Hour, nil)
	require.Error(t, err)
	_, err = New(memory.NewRepository(), 0, nil)
	require.Error(t, err)
}

func TestCrawlIntervalFallsBackToConfig(t *testing.T) {
	t.Parallel()

	repo := memory.NewRepository()
	svc, err := New(repo, 6*time.Hour, zap.NewNop())
	require.NoError(t, err)

	got, err := svc.CrawlInterval(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6*time.Hour, got)

	require.NoError(t, repo.PutSetting(context.Background(), KeyCrawlInterval, "not a duration"))
	got, err = svc.CrawlInterval(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6*time.Hour, got)
}

func TestSetCrawlIntervalPersistsAndReschedules(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewRepository()
	svc, err := New(repo, 6*time.Hour, zap.NewNop())
	require.NoError(t, err)

	rearmed, err := svc.SetCrawlInterval(ctx, 2*time.Hour)
	require.NoError(t, err)
	require.False(t, rearmed)

	schedule := &recordingSchedule{}
	svc.Bind(schedule)
	rearmed, err = svc.SetCrawlInterval(ctx, 3*time.Hour)
	require.NoError(t, err)
	require.True(t, rearmed)
	require.Equal(t, []time.Duration{3 * time.Hour}, schedule.intervals)

	stored, ok, err := svc.StoredCrawlInterval(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3*time.Hour, stored)

	raw, _, err := repo.GetSetting(ctx, KeyCrawlInterval)
	require.NoError(t, err)
	require.Equal(t, "3h0m0s", raw)
}

func TestSetCrawlIntervalRejectsShortIntervals(t *testing.T) {
	t.Parallel()

	svc, err := New(memory.NewRepository(), 6*time.Hour, nil)
	require.NoError(t, err)
	schedule := &recordingSchedule{}
	svc.Bind(schedule)

	_, err = svc.SetCrawlInterval(context.Background(), 30*time.Minute)
	require.ErrorIs(t, err, crawler.ErrInvalidSetting)
	require.Empty(t, schedule.intervals)

	got, err := svc.CrawlInterval(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6*time.Hour, got)
}

func TestSetCrawlIntervalFailures(t *testing.T) {
	t.Parallel()

	svc, err := New(brokenStore{}, time.Hour, nil)
	require.NoError(t, err)
	_, err = svc.SetCrawlInterval(context.Background(), time.Hour)
	require.ErrorContains(t, err, "db down")
	_, err = svc.CrawlInterval(context.Background())
	require.ErrorContains(t, err, "db down")

	svc, err = New(memory.NewRepository(), time.Hour, nil)
	require.NoError(t, err)
	svc.Bind(&recordingSchedule{err: errors.New("cron stopped")})
	_, err = svc.SetCrawlInterval(context.Background(), 2*time.Hour)
	require.ErrorContains(t, err, "cron stopped")
}
