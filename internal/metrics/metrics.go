// Package metrics exposes Prometheus collectors for the article monitor.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	targetsTotal               *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	inflightFetches            prometheus.Gauge
	poolLeases                 prometheus.Gauge
	poolEngines                prometheus.Gauge
	jobsTotal                  *prometheus.CounterVec
	domainDelaySeconds         *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		targetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "article_monitor_targets_total",
				Help: "Terminal crawl outcomes, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "article_monitor_fetch_attempts_total",
				Help: "Fetch attempts, labeled by result category (ok for success).",
			},
			[]string{"category"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		inflightFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "article_monitor_inflight_fetches",
				Help: "Number of admitted fetches currently in flight.",
			},
		)

		poolLeases = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "article_monitor_pool_leases",
				Help: "Number of fetch engines currently leased.",
			},
		)

		poolEngines = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "article_monitor_pool_engines",
				Help: "Number of fetch engines alive in the pool.",
			},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "article_monitor_jobs_total",
				Help: "Background jobs reaching a terminal state, labeled by kind and state.",
			},
			[]string{"kind", "state"},
		)

		domainDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "article_monitor_domain_delay_seconds",
				Help:    "Histogram of per-domain dispatch spacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTarget records a terminal outcome (ok, failed) for a target URL.
func ObserveTarget(rawURL, outcome string) {
	Init()
	targetsTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveAttempt records one fetch attempt with its category.
func ObserveAttempt(category string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(category).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given kind and terminal state.
func ObserveJob(kind, state string) {
	Init()
	jobsTotal.WithLabelValues(kind, state).Inc()
}

// IncInflight increments the in-flight fetch gauge.
func IncInflight() {
	Init()
	inflightFetches.Inc()
}

// DecInflight decrements the in-flight fetch gauge.
func DecInflight() {
	Init()
	inflightFetches.Dec()
}

// SetPoolState publishes the pool's lease and engine counts.
func SetPoolState(leased, engines int) {
	Init()
	poolLeases.Set(float64(leased))
	poolEngines.Set(float64(engines))
}

// ObserveDomainDelay records the duration of a per-domain spacing wait.
func ObserveDomainDelay(domain string, duration time.Duration) {
	Init()
	domainDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
