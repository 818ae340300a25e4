package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-monitor/internal/crawler"
	"github.com/JakeFAU/article-monitor/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{RunID: "r1", TS: now, Stage: progress.StageRunStart},
		{RunID: "r1", TS: now, Stage: progress.StageTargetRetry, URL: "https://juejin.cn/post/1", Platform: "juejin", Category: crawler.CategoryNetwork, Attempt: 1},
		{RunID: "r1", TS: now, Stage: progress.StageTargetOK, URL: "https://juejin.cn/post/1", Platform: "juejin", Value: 1200, Dur: 2 * time.Second},
		{RunID: "r1", TS: now, Stage: progress.StageTargetFailed, URL: "https://blog.csdn.net/a/1", Platform: "csdn", Category: crawler.CategoryParse, Attempt: 3},
		{RunID: "r1", TS: now, Stage: progress.StageRunDone, Dur: time.Minute, Run: &crawler.Progress{State: crawler.RunCompleted}},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsFinished.WithLabelValues("completed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.targets.WithLabelValues("juejin", "ok", "")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.targets.WithLabelValues("csdn", "failed", "parse")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.retries.WithLabelValues("juejin", "network")))
	require.Equal(t, 1200.0, testutil.ToFloat64(sink.lastValue.WithLabelValues("juejin")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "article_monitor_fetch_duration_seconds"))
}

func TestPrometheusSinkDoubleRegistrationFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
