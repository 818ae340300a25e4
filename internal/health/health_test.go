package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-monitor/internal/clock/system"
	"github.com/JakeFAU/article-monitor/internal/crawler"
	"github.com/JakeFAU/article-monitor/internal/storage/memory"
)

type fixedInterval struct {
	d   time.Duration
	err error
}

func (f fixedInterval) CrawlInterval(context.Context) (time.Duration, error) {
	return f.d, f.err
}

type failingSource struct{}

func (failingSource) PlatformHealth(context.Context, int) ([]crawler.PlatformStats, error) {
	return nil, errors.New("db down")
}

var now = time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

func at(ago time.Duration) *time.Time {
	t := now.Add(-ago)
	return &t
}

func TestAssess(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		stats   crawler.PlatformStats
		status  Status
		message string
	}{
		{"empty", crawler.PlatformStats{}, StatusOK, "no articles"},
		{"never crawled", crawler.PlatformStats{ArticleCount: 2}, StatusUnknown, "no read counts recorded yet"},
		{"fresh", crawler.PlatformStats{ArticleCount: 2, LastUpdate: at(time.Hour)}, StatusOK, "running normally"},
		{"delayed", crawler.PlatformStats{ArticleCount: 2, LastUpdate: at(13 * time.Hour)}, StatusWarning, "delayed, last update 13.0h ago"},
		{"severely delayed", crawler.PlatformStats{ArticleCount: 2, LastUpdate: at(25 * time.Hour)}, StatusError, "severely delayed, last update 25.0h ago"},
		{"fresh with failures", crawler.PlatformStats{ArticleCount: 3, FailedCount: 2, LastUpdate: at(time.Hour)}, StatusWarning, "2 failed"},
		{"delayed with failures", crawler.PlatformStats{ArticleCount: 3, FailedCount: 1, LastUpdate: at(13 * time.Hour)}, StatusWarning, "delayed, last update 13.0h ago, 1 failed"},
		{"unknown with failures", crawler.PlatformStats{ArticleCount: 1, FailedCount: 1}, StatusUnknown, "no read counts recorded yet, 1 failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			status, message := Assess(tc.stats, 6*time.Hour, now)
			require.Equal(t, tc.status, status)
			require.Equal(t, tc.message, message)
		})
	}
}

func TestNewCheckerValidates(t *testing.T) {
	t.Parallel()

	repo := memory.NewRepository()
	clock := system.NewManual(now)
	_, err := NewChecker(nil, fixedInterval{d: time.Hour}, clock, 0)
	require.Error(t, err)
	_, err = NewChecker(repo, nil, clock, 0)
	require.Error(t, err)
	_, err = NewChecker(repo, fixedInterval{d: time.Hour}, nil, 0)
	require.Error(t, err)

	c, err := NewChecker(repo, fixedInterval{d: time.Hour}, clock, 0)
	require.NoError(t, err)
	require.Equal(t, DefaultFailureLimit, c.limit)
}

func TestCheckBuildsReport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewRepository()
	fresh := crawler.Target{URL: "https://juejin.cn/post/1", Domain: "juejin.cn", Platform: "juejin", CreatedAt: now}
	broken := crawler.Target{URL: "https://blog.csdn.net/a/article/details/1", Domain: "csdn.net", Platform: "csdn", CreatedAt: now}
	for _, target := range []crawler.Target{fresh, broken} {
		_, err := repo.AddTarget(ctx, target)
		require.NoError(t, err)
	}
	require.NoError(t, repo.RecordSuccess(ctx, fresh, 10, "Post", now.Add(-time.Hour)))
	require.NoError(t, repo.RecordFailure(ctx, broken, "http status 404", crawler.CategoryPermanent, now.Add(-time.Minute)))

	c, err := NewChecker(repo, fixedInterval{d: 6 * time.Hour}, system.NewManual(now), 5)
	require.NoError(t, err)
	report, err := c.Check(ctx)
	require.NoError(t, err)
	require.Equal(t, "6h0m0s", report.CrawlInterval)
	require.True(t, now.Equal(report.CheckedAt))
	require.Len(t, report.Platforms, 2)

	csdn := report.Platforms[0]
	require.Equal(t, "csdn", csdn.Platform)
	require.Equal(t, StatusUnknown, csdn.Status)
	require.Len(t, csdn.Failures, 1)
	require.Equal(t, "http status 404", csdn.Failures[0].Error)
	require.Equal(t, crawler.CategoryPermanent, csdn.Failures[0].Category)

	juejin := report.Platforms[1]
	require.Equal(t, StatusOK, juejin.Status)
	require.Equal(t, 1, juejin.OKCount)
	require.NotNil(t, juejin.Failures)
	require.Empty(t, juejin.Failures)
}

func TestCheckPropagatesErrors(t *testing.T) {
	t.Parallel()

	clock := system.NewManual(now)
	c, err := NewChecker(failingSource{}, fixedInterval{d: time.Hour}, clock, 5)
	require.NoError(t, err)
	_, err = c.Check(context.Background())
	require.ErrorContains(t, err, "db down")

	c, err = NewChecker(memory.NewRepository(), fixedInterval{err: errors.New("settings down")}, clock, 5)
	require.NoError(t, err)
	_, err = c.Check(context.Background())
	require.ErrorContains(t, err, "settings down")
}
