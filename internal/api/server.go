package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-monitor/internal/bitable"
	"github.com/JakeFAU/article-monitor/internal/crawler"
	"github.com/JakeFAU/article-monitor/internal/health"
	"github.com/JakeFAU/article-monitor/internal/metrics"
	"github.com/JakeFAU/article-monitor/internal/tasks"
)

// CrawlController drives crawl runs.
type CrawlController interface {
	Start(ctx context.Context) (crawler.Progress, error)
	Stop() bool
	Progress() crawler.Progress
	Run(ctx context.Context, interval time.Duration, report func(crawler.Progress)) (crawler.Progress, error)
}

// JobManager supervises background jobs.
type JobManager interface {
	Submit(kind tasks.Kind, runner tasks.Runner) (tasks.Job, error)
	Get(ctx context.Context, id string) (tasks.Job, error)
	List(kind tasks.Kind) []tasks.Job
	Cancel(id string) (tasks.Job, error)
}

// TargetBuilder normalizes a URL into a target.
type TargetBuilder interface {
	NewTarget(rawURL string) (crawler.Target, error)
}

// SyncRunner performs one spreadsheet sync.
type SyncRunner interface {
	Run(ctx context.Context, report func(done, total int)) (bitable.Result, error)
}

// SyncGate rate limits sync requests.
type SyncGate interface {
	Acquire() (time.Time, error)
	Release(accepted time.Time)
	Remaining() time.Duration
}

// HealthChecker reports per-platform crawl health.
type HealthChecker interface {
	Check(ctx context.Context) (health.Report, error)
}

// SettingsService reads and changes the crawl interval.
type SettingsService interface {
	CrawlInterval(ctx context.Context) (time.Duration, error)
	SetCrawlInterval(ctx context.Context, interval time.Duration) (bool, error)
}

// Config tunes request handling.
type Config struct {
	// RequestTimeout bounds every handler; zero means 60s.
	RequestTimeout time.Duration
	// ReportInterval is how often a crawl job refreshes its progress.
	ReportInterval time.Duration
}

// Dependencies are the collaborators behind the routes. Sync and SyncGate
// are optional; without them POST /sync answers 503. Health and Settings
// are optional the same way.
type Dependencies struct {
	Crawl    CrawlController
	Targets  crawler.TargetRegistry
	Runs     crawler.RunStore
	Builder  TargetBuilder
	Jobs     JobManager
	Sync     SyncRunner
	SyncGate SyncGate
	Health   HealthChecker
	Settings SettingsService
}

// Server wires HTTP handlers to the orchestrator, registry and task manager.
type Server struct {
	router chi.Router
	cfg    Config
	deps   Dependencies
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	switch {
	case deps.Crawl == nil:
		return nil, errors.New("api: crawl controller is required")
	case deps.Targets == nil || deps.Runs == nil:
		return nil, errors.New("api: storage is required")
	case deps.Builder == nil:
		return nil, errors.New("api: target builder is required")
	case deps.Jobs == nil:
		return nil, errors.New("api: job manager is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, deps: deps, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/crawl", func(r chi.Router) {
			r.Post("/start", s.startCrawl)
			r.Post("/stop", s.stopCrawl)
			r.Get("/progress", s.crawlProgress)
			r.Get("/runs", s.listRuns)
		})
		r.Route("/articles", func(r chi.Router) {
			r.Get("/", s.listArticles)
			r.Post("/", s.addArticle)
			r.Delete("/", s.deleteArticle)
			r.Post("/batch", s.batchAddArticles)
			r.Get("/history", s.articleHistory)
		})
		r.Post("/sync", s.startSync)
		r.Get("/health/platforms", s.platformHealth)
		r.Route("/settings", func(r chi.Router) {
			r.Get("/", s.getSettings)
			r.Put("/", s.putSettings)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Post("/crawl", s.submitCrawlJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Delete("/", s.cancelJob)
			})
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, crawler.ErrAlreadyRunning), errors.Is(err, crawler.ErrAlreadyCancelled):
		return http.StatusConflict
	case errors.Is(err, crawler.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, crawler.ErrJobNotFound), errors.Is(err, crawler.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, crawler.ErrInvalidURL), errors.Is(err, crawler.ErrUnsupportedPlatform),
		errors.Is(err, crawler.ErrInvalidSetting):
		return http.StatusBadRequest
	case errors.Is(err, tasks.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", requestID(r.Context())),
					zap.Any("panic", rec),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
