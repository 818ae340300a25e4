// Package storagetest holds behaviour checks shared by every crawler.Repository
// backend.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// Factory returns a fresh, empty repository for one subtest.
type Factory func(t *testing.T) crawler.Repository

// Run exercises the Repository contract against newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Helper()

	t.Run("AddAndGet", func(t *testing.T) {
		t.Parallel()
		repo := newRepo(t)
		ctx := context.Background()

		target := sampleTarget("https://juejin.cn/post/1", 0)
		added, err := repo.AddTarget(ctx, target)
		require.NoError(t, err)
		require.True(t, added)

		added, err = repo.AddTarget(ctx, target)
		require.NoError(t, err)
		require.False(t, added)

		got, err := repo.GetTarget(ctx, target.URL)
		require.NoError(t, err)
		require.Equal(t, target.URL, got.URL)
		require.Equal(t, "juejin.cn", got.Domain)
		require.Equal(t, "juejin", got.Platform)
		require.Equal(t, crawler.StatusPending, got.Status)

		_, err = repo.GetTarget(ctx, "https://missing.example/")
		require.ErrorIs(t, err, crawler.ErrNotFound)
	})

	t.Run("ListOrder", func(t *testing.T) {
		t.Parallel()
		repo := newRepo(t)
		ctx := context.Background()

		for i := 3; i >= 1; i-- {
			_, err := repo.AddTarget(ctx, sampleTarget(fmt.Sprintf("https://juejin.cn/post/%d", i), i))
			require.NoError(t, err)
		}
		targets, err := repo.ListTargets(ctx)
		require.NoError(t, err)
		require.Len(t, targets, 3)
		require.Equal(t, "https://juejin.cn/post/1", targets[0].URL)
		require.Equal(t, "https://juejin.cn/post/3", targets[2].URL)
	})

	t.Run("SuccessAndFailure", func(t *testing.T) {
		t.Parallel()
		repo := newRepo(t)
		ctx := context.Background()

		target := sampleTarget("https://blog.csdn.net/a/article/details/1", 0)
		_, err := repo.AddTarget(ctx, target)
		require.NoError(t, err)

		first := baseTime.Add(time.Hour)
		require.NoError(t, repo.RecordSuccess(ctx, target, 120, "Hello", first))
		got, err := repo.GetTarget(ctx, target.URL)
		require.NoError(t, err)
		require.Equal(t, crawler.StatusOK, got.Status)
		require.EqualValues(t, 120, got.ReadCount)
		require.Equal(t, "Hello", got.Title)
		require.NotNil(t, got.LastAttempt)
		require.True(t, first.Equal(*got.LastAttempt))

		second := first.Add(time.Hour)
		require.NoError(t, repo.RecordFailure(ctx, target, "timeout", crawler.CategoryNetwork, second))
		got, err = repo.GetTarget(ctx, target.URL)
		require.NoError(t, err)
		require.Equal(t, crawler.StatusFailed, got.Status)
		require.EqualValues(t, 120, got.ReadCount)
		require.Equal(t, "timeout", got.LastError)
		require.Equal(t, crawler.CategoryNetwork, got.LastCategory)

		third := second.Add(time.Hour)
		require.NoError(t, repo.RecordSuccess(ctx, target, 150, "", third))
		got, err = repo.GetTarget(ctx, target.URL)
		require.NoError(t, err)
		require.Equal(t, crawler.StatusOK, got.Status)
		require.Equal(t, "Hello", got.Title)
		require.Empty(t, got.LastError)
		require.Empty(t, got.LastCategory)

		err = repo.RecordSuccess(ctx, sampleTarget("https://juejin.cn/post/404", 0), 1, "", third)
		require.ErrorIs(t, err, crawler.ErrNotFound)
	})

	t.Run("History", func(t *testing.T) {
		t.Parallel()
		repo := newRepo(t)
		ctx := context.Background()

		target := sampleTarget("https://www.cnblogs.com/a/p/1.html", 0)
		_, err := repo.AddTarget(ctx, target)
		require.NoError(t, err)
		for i := 1; i <= 4; i++ {
			require.NoError(t, repo.RecordSuccess(ctx, target, int64(i*10), "", baseTime.Add(time.Duration(i)*time.Minute)))
		}

		points, err := repo.History(ctx, target.URL, 2)
		require.NoError(t, err)
		require.Len(t, points, 2)
		require.EqualValues(t, 40, points[0].Count)
		require.EqualValues(t, 30, points[1].Count)

		points, err = repo.History(ctx, target.URL, 0)
		require.NoError(t, err)
		require.Len(t, points, 4)

		_, err = repo.History(ctx, "https://missing.example/", 10)
		require.ErrorIs(t, err, crawler.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		t.Parallel()
		repo := newRepo(t)
		ctx := context.Background()

		target := sampleTarget("https://segmentfault.com/a/1", 0)
		_, err := repo.AddTarget(ctx, target)
		require.NoError(t, err)
		require.NoError(t, repo.RecordSuccess(ctx, target, 5, "", baseTime))

		require.NoError(t, repo.DeleteTarget(ctx, target.URL))
		require.ErrorIs(t, repo.DeleteTarget(ctx, target.URL), crawler.ErrNotFound)
		_, err = repo.History(ctx, target.URL, 0)
		require.ErrorIs(t, err, crawler.ErrNotFound)

		added, err := repo.AddTarget(ctx, target)
		require.NoError(t, err)
		require.True(t, added)
		points, err := repo.History(ctx, target.URL, 0)
		require.NoError(t, err)
		require.Empty(t, points)
	})

	t.Run("Runs", func(t *testing.T) {
		t.Parallel()
		repo := newRepo(t)
		ctx := context.Background()

		for i := 1; i <= 3; i++ {
			start := baseTime.Add(time.Duration(i) * time.Hour)
			end := start.Add(time.Minute)
			require.NoError(t, repo.RecordRun(ctx, crawler.Progress{
				RunID:        fmt.Sprintf("run-%d", i),
				State:        crawler.RunCompleted,
				Total:        10,
				Current:      10,
				SuccessCount: 9,
				FailedCount:  1,
				RetriedCount: i,
				StartTime:    &start,
				EndTime:      &end,
			}))
		}

		runs, err := repo.ListRuns(ctx, 2)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		require.Equal(t, "run-3", runs[0].RunID)
		require.Equal(t, "run-2", runs[1].RunID)
		require.Equal(t, crawler.RunCompleted, runs[0].State)
		require.Equal(t, 3, runs[0].RetriedCount)
		require.NotNil(t, runs[0].EndTime)

		runs, err = repo.ListRuns(ctx, 0)
		require.NoError(t, err)
		require.Len(t, runs, 3)
	})

	t.Run("PlatformHealth", func(t *testing.T) {
		t.Parallel()
		repo := newRepo(t)
		ctx := context.Background()

		stats, err := repo.PlatformHealth(ctx, 5)
		require.NoError(t, err)
		require.Empty(t, stats)

		ok := sampleTarget("https://juejin.cn/post/10", 0)
		pending := sampleTarget("https://juejin.cn/post/11", 1)
		for _, target := range []crawler.Target{ok, pending} {
			_, err := repo.AddTarget(ctx, target)
			require.NoError(t, err)
		}
		require.NoError(t, repo.RecordSuccess(ctx, ok, 10, "", baseTime.Add(time.Minute)))
		require.NoError(t, repo.RecordSuccess(ctx, ok, 12, "", baseTime.Add(2*time.Minute)))

		for i := 1; i <= 3; i++ {
			target := sampleTarget(fmt.Sprintf("https://blog.csdn.net/a/article/details/%d", i), i)
			_, err := repo.AddTarget(ctx, target)
			require.NoError(t, err)
			require.NoError(t, repo.RecordFailure(ctx, target, fmt.Sprintf("boom %d", i), crawler.CategoryNetwork,
				baseTime.Add(time.Duration(i)*time.Hour)))
		}

		stats, err = repo.PlatformHealth(ctx, 2)
		require.NoError(t, err)
		require.Len(t, stats, 2)

		csdn, juejin := stats[0], stats[1]
		require.Equal(t, "csdn", csdn.Platform)
		require.Equal(t, 3, csdn.ArticleCount)
		require.Equal(t, 3, csdn.FailedCount)
		require.Nil(t, csdn.LastUpdate)
		require.Len(t, csdn.Failures, 2)
		require.Equal(t, "https://blog.csdn.net/a/article/details/3", csdn.Failures[0].URL)
		require.Equal(t, "boom 3", csdn.Failures[0].LastError)
		require.Equal(t, "https://blog.csdn.net/a/article/details/2", csdn.Failures[1].URL)

		require.Equal(t, "juejin", juejin.Platform)
		require.Equal(t, 2, juejin.ArticleCount)
		require.Equal(t, 1, juejin.OKCount)
		require.Equal(t, 1, juejin.PendingCount)
		require.Zero(t, juejin.FailedCount)
		require.NotNil(t, juejin.LastUpdate)
		require.True(t, baseTime.Add(2*time.Minute).Equal(*juejin.LastUpdate))
		require.Empty(t, juejin.Failures)

		stats, err = repo.PlatformHealth(ctx, 0)
		require.NoError(t, err)
		require.Empty(t, stats[0].Failures)
		require.Equal(t, 3, stats[0].FailedCount)
	})

	t.Run("Settings", func(t *testing.T) {
		t.Parallel()
		repo := newRepo(t)
		ctx := context.Background()

		_, ok, err := repo.GetSetting(ctx, "crawl_interval")
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, repo.PutSetting(ctx, "crawl_interval", "6h0m0s"))
		require.NoError(t, repo.PutSetting(ctx, "crawl_interval", "2h0m0s"))

		value, ok, err := repo.GetSetting(ctx, "crawl_interval")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "2h0m0s", value)
	})
}

var baseTime = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func sampleTarget(url string, offset int) crawler.Target {
	domain := crawler.Domain(url)
	platform := "juejin"
	switch domain {
	case "csdn.net":
		platform = "csdn"
	case "cnblogs.com":
		platform = "cnblog"
	case "segmentfault.com":
		platform = "segmentfault"
	}
	return crawler.Target{
		URL:       url,
		Domain:    domain,
		Platform:  platform,
		Status:    crawler.StatusPending,
		CreatedAt: baseTime.Add(time.Duration(offset) * time.Second),
	}
}
