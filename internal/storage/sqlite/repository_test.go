package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-monitor/internal/crawler"
	"github.com/JakeFAU/article-monitor/internal/storage/storagetest"
)

func TestRepository(t *testing.T) {
	t.Parallel()

	storagetest.Run(t, func(t *testing.T) crawler.Repository {
		repo, err := New(context.Background(), Config{Path: MemoryPath})
		require.NoError(t, err)
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	})
}

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestRepositoryPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "monitor.db")
	at := time.Date(2024, 6, 1, 12, 30, 0, 500, time.UTC)

	repo, err := New(ctx, Config{Path: path})
	require.NoError(t, err)
	target := crawler.Target{
		URL:       "https://juejin.cn/post/7",
		Domain:    "juejin.cn",
		Platform:  "juejin",
		CreatedAt: at,
	}
	added, err := repo.AddTarget(ctx, target)
	require.NoError(t, err)
	require.True(t, added)
	require.NoError(t, repo.RecordSuccess(ctx, target, 42, "Post", at))
	require.NoError(t, repo.Close())

	repo, err = New(ctx, Config{Path: path})
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	got, err := repo.GetTarget(ctx, target.URL)
	require.NoError(t, err)
	require.EqualValues(t, 42, got.ReadCount)
	require.Equal(t, crawler.StatusOK, got.Status)
	require.True(t, at.Equal(got.CreatedAt))

	points, err := repo.History(ctx, target.URL, 10)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.True(t, at.Equal(points[0].RecordedAt))
}

func TestRecordRunUpserts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, err := New(ctx, Config{Path: MemoryPath})
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	run := crawler.Progress{RunID: "run-1", State: crawler.RunRunning, Total: 5, StartTime: &start}
	require.NoError(t, repo.RecordRun(ctx, run))

	end := start.Add(time.Minute)
	run.State = crawler.RunCancelled
	run.Current = 3
	run.EndTime = &end
	require.NoError(t, repo.RecordRun(ctx, run))

	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, crawler.RunCancelled, runs[0].State)
	require.Equal(t, 3, runs[0].Current)
	require.NotNil(t, runs[0].EndTime)
	require.True(t, end.Equal(*runs[0].EndTime))

	require.Error(t, repo.RecordRun(ctx, crawler.Progress{}))
}
