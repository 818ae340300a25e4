package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/article-monitor/internal/progress"
)

// PrometheusSink exports run and per-target crawl metrics. It owns its
// collectors so tests can register them against a private registry.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	targets       *prometheus.CounterVec
	retries       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	lastValue     *prometheus.GaugeVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "article_monitor_runs_started_total",
			Help: "Crawl runs started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "article_monitor_runs_finished_total",
			Help: "Crawl runs finished, partitioned by final state.",
		}, []string{"state"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "article_monitor_runs_active",
			Help: "Crawl runs currently executing.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "article_monitor_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
		}, []string{"state"}),
		targets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "article_monitor_target_outcomes_total",
			Help: "Terminal target outcomes by platform, outcome and category.",
		}, []string{"platform", "outcome", "category"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "article_monitor_target_retries_total",
			Help: "Retries scheduled, by platform and category.",
		}, []string{"platform", "category"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "article_monitor_fetch_duration_seconds",
			Help:    "Fetch plus extraction latency for successful targets.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"platform"}),
		lastValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "article_monitor_last_read_count",
			Help: "Most recent read count observed per platform target.",
		}, []string{"platform"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted, s.runsFinished, s.runsActive, s.runDuration,
		s.targets, s.retries, s.fetchDuration, s.lastValue,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		platform := evt.Platform
		if platform == "" {
			platform = "unknown"
		}
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			s.runsActive.Inc()
		case progress.StageRunDone:
			state := string(evt.Run.State)
			s.runsFinished.WithLabelValues(state).Inc()
			s.runsActive.Dec()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(state).Observe(evt.Dur.Seconds())
			}
		case progress.StageTargetOK:
			s.targets.WithLabelValues(platform, "ok", "").Inc()
			s.lastValue.WithLabelValues(platform).Set(float64(evt.Value))
			if evt.Dur > 0 {
				s.fetchDuration.WithLabelValues(platform).Observe(evt.Dur.Seconds())
			}
		case progress.StageTargetRetry:
			s.retries.WithLabelValues(platform, string(evt.Category)).Inc()
		case progress.StageTargetFailed:
			s.targets.WithLabelValues(platform, "failed", string(evt.Category)).Inc()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
