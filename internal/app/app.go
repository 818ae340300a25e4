// Package app builds the article monitor's dependency graph and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-monitor/internal/antidetect"
	"github.com/JakeFAU/article-monitor/internal/api"
	gcsarchive "github.com/JakeFAU/article-monitor/internal/archive/gcs"
	localarchive "github.com/JakeFAU/article-monitor/internal/archive/local"
	memoryarchive "github.com/JakeFAU/article-monitor/internal/archive/memory"
	"github.com/JakeFAU/article-monitor/internal/bitable"
	"github.com/JakeFAU/article-monitor/internal/clock/system"
	"github.com/JakeFAU/article-monitor/internal/config"
	"github.com/JakeFAU/article-monitor/internal/crawler"
	"github.com/JakeFAU/article-monitor/internal/extract"
	"github.com/JakeFAU/article-monitor/internal/fetcher"
	collyfetcher "github.com/JakeFAU/article-monitor/internal/fetcher/colly"
	"github.com/JakeFAU/article-monitor/internal/fetcher/headless"
	"github.com/JakeFAU/article-monitor/internal/hash/sha256"
	"github.com/JakeFAU/article-monitor/internal/health"
	"github.com/JakeFAU/article-monitor/internal/headless/detector"
	"github.com/JakeFAU/article-monitor/internal/id/uuid"
	"github.com/JakeFAU/article-monitor/internal/logging"
	"github.com/JakeFAU/article-monitor/internal/orchestrator"
	"github.com/JakeFAU/article-monitor/internal/pool"
	"github.com/JakeFAU/article-monitor/internal/progress"
	progresssinks "github.com/JakeFAU/article-monitor/internal/progress/sinks"
	kafkapublisher "github.com/JakeFAU/article-monitor/internal/publisher/kafka"
	gcppublisher "github.com/JakeFAU/article-monitor/internal/publisher/pubsub"
	"github.com/JakeFAU/article-monitor/internal/retry"
	"github.com/JakeFAU/article-monitor/internal/schedule"
	"github.com/JakeFAU/article-monitor/internal/scheduler"
	"github.com/JakeFAU/article-monitor/internal/settings"
	memorystorage "github.com/JakeFAU/article-monitor/internal/storage/memory"
	pgstore "github.com/JakeFAU/article-monitor/internal/storage/postgres"
	redisstore "github.com/JakeFAU/article-monitor/internal/storage/redis"
	sqlitestore "github.com/JakeFAU/article-monitor/internal/storage/sqlite"
	"github.com/JakeFAU/article-monitor/internal/tasks"
	"github.com/JakeFAU/article-monitor/internal/telemetry"
)

// archiveKeyLength is the number of hex digest characters in archive keys.
const archiveKeyLength = 16

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	opts   options

	tracer       *sdktrace.TracerProvider
	repo         crawler.Repository
	mirror       *redisstore.JobMirror
	gcs          *storage.Client
	archive      crawler.Archive
	publishers   []crawler.Publisher
	hubOwnsPubs  bool
	hub          *progress.Hub
	factory      *headless.Factory
	pool         *pool.Pool
	poolCancel   context.CancelFunc
	startOnce    sync.Once
	registry     *extract.Registry
	orchestrator *orchestrator.Orchestrator
	tasks        *tasks.Manager
	syncer       *bitable.Syncer
	gate         *bitable.Gate
	settings     *settings.Service
	health       *health.Checker
	schedule     *schedule.Scheduler
	apiServer    *api.Server
}

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	publishers []crawler.Publisher
	engines    crawler.EngineFactory
	records    bitable.RecordStore
}

// Option customises Build, mostly for tests.
type Option func(*options)

// WithLogger uses logger instead of building one from the logging config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers progress collectors on reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithPublisher adds an event transport alongside the configured ones.
func WithPublisher(p crawler.Publisher) Option {
	return func(o *options) { o.publishers = append(o.publishers, p) }
}

// WithEngineFactory replaces the browser engine factory.
func WithEngineFactory(f crawler.EngineFactory) Option {
	return func(o *options) { o.engines = f }
}

// WithRecordStore replaces the Feishu client used by the sync.
func WithRecordStore(rs bitable.RecordStore) Option {
	return func(o *options) { o.records = rs }
}

// Build creates the application's dependencies. On error everything opened so
// far is closed again.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	a := &App{cfg: cfg, logger: logger, opts: o}
	defer func() {
		if err != nil {
			a.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()

	a.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("archive", cfg.Archive.Backend),
		zap.Bool("low_resource", cfg.Crawler.LowResource),
	)
	clock := system.New()

	if err = a.setupTracing(ctx); err != nil {
		return nil, err
	}
	if err = a.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err = a.setupMirror(ctx); err != nil {
		return nil, err
	}
	if err = a.setupArchive(ctx); err != nil {
		return nil, err
	}
	if err = a.setupPublishers(ctx); err != nil {
		return nil, err
	}
	if err = a.setupProgress(ctx); err != nil {
		return nil, err
	}
	if err = a.setupPool(); err != nil {
		return nil, err
	}
	if err = a.setupOrchestrator(clock); err != nil {
		return nil, err
	}
	a.setupTasks(clock)
	if err = a.setupSync(clock); err != nil {
		return nil, err
	}
	if err = a.setupSettings(clock); err != nil {
		return nil, err
	}
	if err = a.setupSchedule(ctx); err != nil {
		return nil, err
	}
	if err = a.setupAPI(); err != nil {
		return nil, err
	}
	return a, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Repository returns the storage backend.
func (a *App) Repository() crawler.Repository { return a.repo }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

func (a *App) setupTracing(ctx context.Context) error {
	if !a.cfg.Tracing.Enabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Tracing.ServiceName,
		Exporter:    a.cfg.Tracing.Exporter,
		SampleRatio: a.cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	a.tracer = tp
	a.logger.Info("tracing enabled",
		zap.String("exporter", a.cfg.Tracing.Exporter),
		zap.Float64("sample_ratio", a.cfg.Tracing.SampleRatio),
	)
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case config.DriverMemory:
		a.logger.Warn("using in-memory storage; data is lost on exit")
		a.repo = memorystorage.NewRepository()
	case config.DriverPostgres:
		repo, err := pgstore.New(ctx, pgstore.Config{
			DSN:             a.cfg.Storage.Postgres.DSN,
			MaxConns:        a.cfg.Storage.Postgres.MaxConns,
			MinConns:        a.cfg.Storage.Postgres.MinConns,
			MaxConnLifetime: a.cfg.Storage.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.repo = repo
		a.logger.Info("postgres store initialized")
	default:
		repo, err := sqlitestore.New(ctx, sqlitestore.Config{Path: a.cfg.Storage.SQLitePath})
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.repo = repo
		a.logger.Info("sqlite store initialized", zap.String("path", a.cfg.Storage.SQLitePath))
	}
	return nil
}

func (a *App) setupMirror(ctx context.Context) error {
	if a.cfg.Redis.Addr == "" {
		a.logger.Debug("no redis address configured, job snapshots stay in process")
		return nil
	}
	mirror, err := redisstore.NewJobMirror(ctx, redisstore.Config{
		Addr:   a.cfg.Redis.Addr,
		Prefix: a.cfg.Redis.Prefix,
		TTL:    a.cfg.Redis.TTL,
	})
	if err != nil {
		return fmt.Errorf("redis job mirror init failed: %w", err)
	}
	a.mirror = mirror
	a.logger.Info("redis job mirror initialized", zap.String("addr", a.cfg.Redis.Addr))
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	switch a.cfg.Archive.Backend {
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcs = client
		archive, err := gcsarchive.New(client, gcsarchive.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.archive = archive
		a.logger.Info("archiving pages to GCS", zap.String("bucket", a.cfg.Archive.Bucket))
	case config.ArchiveLocal:
		archive, err := localarchive.New(localarchive.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return fmt.Errorf("local archive init failed: %w", err)
		}
		a.archive = archive
		a.logger.Info("archiving pages locally", zap.String("path", a.cfg.Archive.LocalDir))
	case config.ArchiveMemory:
		a.archive = memoryarchive.New()
		a.logger.Info("archiving pages in memory")
	default:
		a.logger.Debug("page archive disabled")
	}
	return nil
}

func (a *App) setupPublishers(ctx context.Context) error {
	a.publishers = append(a.publishers, a.opts.publishers...)
	if kc := a.cfg.Events.Kafka; len(kc.Brokers) > 0 {
		p, err := kafkapublisher.New(kafkapublisher.Config{Brokers: kc.Brokers, Topic: kc.Topic})
		if err != nil {
			return fmt.Errorf("kafka publisher init failed: %w", err)
		}
		a.publishers = append(a.publishers, p)
		a.logger.Info("kafka publisher initialized", zap.Strings("brokers", kc.Brokers), zap.String("topic", kc.Topic))
	}
	if pc := a.cfg.Events.PubSub; pc.ProjectID != "" {
		p, err := gcppublisher.New(ctx, gcppublisher.Config{ProjectID: pc.ProjectID, TopicID: pc.Topic})
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.publishers = append(a.publishers, p)
		a.logger.Info("Pub/Sub publisher initialized", zap.String("project", pc.ProjectID), zap.String("topic", pc.Topic))
	}
	return nil
}

// setupProgress builds the event hub. Finished runs are always persisted; the
// observational sinks follow progress.enabled.
func (a *App) setupProgress(ctx context.Context) error {
	sinkList := []progress.Sink{
		progresssinks.NewRunStoreSink(a.repo, a.logger),
	}
	if a.cfg.Progress.Enabled {
		if a.cfg.Progress.LogEnabled {
			sinkList = append(sinkList, progresssinks.NewLogSink(a.logger))
		}
		if a.opts.registerer != nil {
			promSink, err := progresssinks.NewPrometheusSink(a.opts.registerer)
			if err != nil {
				return fmt.Errorf("prometheus sink init failed: %w", err)
			}
			sinkList = append(sinkList, promSink)
		}
		for _, p := range a.publishers {
			sinkList = append(sinkList, progresssinks.NewPublisherSink(p))
		}
		a.hubOwnsPubs = len(a.publishers) > 0
	} else {
		a.logger.Info("progress events disabled; only finished runs are recorded")
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.Batch.MaxWaitMS) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMS) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupPool() error {
	factory := a.opts.engines
	switch {
	case factory != nil:
	case a.cfg.Headless.Enabled:
		f, err := headless.NewFactory(headless.Config{
			ExecPath:          a.cfg.Headless.ExecPath,
			NoSandbox:         a.cfg.Headless.NoSandbox,
			NavigationTimeout: a.cfg.Headless.NavigationTimeout,
			WaitTimeout:       a.cfg.Headless.WaitTimeout,
		})
		if err != nil {
			return fmt.Errorf("headless factory init failed: %w", err)
		}
		a.factory = f
		factory = f
	default:
		a.logger.Info("browser rendering disabled, probe fetches only")
		factory = headless.NoopFactory{}
	}
	minSize, maxSize := a.cfg.EffectivePoolSize()
	p, err := pool.New(pool.Config{
		MinSize:         minSize,
		MaxSize:         maxSize,
		IdleTimeout:     a.cfg.Pool.IdleTimeout,
		CleanupInterval: a.cfg.Pool.CleanupInterval,
	}, factory, a.logger)
	if err != nil {
		return fmt.Errorf("engine pool init failed: %w", err)
	}
	a.pool = p
	return nil
}

func (a *App) setupOrchestrator(clock crawler.Clock) error {
	a.registry = extract.NewRegistry(extract.DefaultRules(), a.cfg.Crawler.AllowedPlatforms)

	var prober crawler.Prober
	if a.cfg.Crawler.ProbeEnabled {
		prober = collyfetcher.New(collyfetcher.Config{Timeout: a.cfg.Crawler.ProbeTimeout})
	}
	primitive, err := fetcher.New(
		fetcher.Config{ProbeEnabled: a.cfg.Crawler.ProbeEnabled},
		prober,
		detector.NewHeuristic(a.cfg.Crawler.RenderThreshold),
		a.registry,
		a.logger,
	)
	if err != nil {
		return fmt.Errorf("fetcher init failed: %w", err)
	}

	sched, err := scheduler.New(scheduler.Config{
		GlobalMax:      a.cfg.EffectiveConcurrency(),
		PerDomainMax:   a.cfg.Crawler.PerDomain,
		Interleave:     a.cfg.Crawler.Interleave,
		MinDomainDelay: a.cfg.Crawler.MinDomainDelay,
	})
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}

	disguise := antidetect.New(antidetect.Config{
		Enabled:    a.cfg.AntiDetect.Enabled,
		MinDelay:   a.cfg.AntiDetect.MinDelay,
		MaxDelay:   a.cfg.AntiDetect.MaxDelay,
		FixedDelay: a.cfg.AntiDetect.FixedDelay,
		RotateMin:  a.cfg.AntiDetect.RotateMin,
		RotateMax:  a.cfg.AntiDetect.RotateMax,
		Seed:       a.cfg.AntiDetect.Seed,
		UserAgents: a.cfg.AntiDetect.UserAgents,
	}, a.logger)

	rc := a.cfg.Retry
	policy := retry.New(retry.Config{
		MaxAttempts: map[crawler.Category]int{
			crawler.CategoryNetwork:   rc.Network.MaxAttempts,
			crawler.CategoryParse:     rc.Parse.MaxAttempts,
			crawler.CategorySSL:       rc.SSL.MaxAttempts,
			crawler.CategoryPermanent: 1,
		},
		BaseDelay:     rc.BaseDelay,
		Multiplier:    rc.Multiplier,
		MaxDelay:      rc.MaxDelay,
		SSLDelay:      rc.SSL.FixedDelay,
		Jitter:        rc.Jitter,
		JitterPercent: rc.JitterFraction,
	})

	deps := orchestrator.Dependencies{
		Store:     a.repo,
		Fetcher:   primitive,
		Scheduler: sched,
		Pool:      a.pool,
		Disguise:  disguise,
		Retry:     policy,
		Hasher:    sha256.NewTruncated(archiveKeyLength),
		Events:    a.hub,
		Clock:     clock,
		IDs:       uuid.NewPrefixed("run_"),
	}
	if a.archive != nil {
		deps.Archive = a.archive
	}
	a.orchestrator, err = orchestrator.New(orchestrator.Config{
		FetchTimeout:  a.cfg.Crawler.Timeout,
		ArchivePrefix: a.cfg.Archive.Prefix,
	}, deps, a.logger)
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}
	a.logger.Info("orchestrator initialized",
		zap.Int("concurrency", a.cfg.EffectiveConcurrency()),
		zap.Int("per_domain", a.cfg.Crawler.PerDomain),
		zap.Duration("min_domain_delay", a.cfg.Crawler.MinDomainDelay),
		zap.Strings("platforms", a.registry.Platforms()),
	)
	return nil
}

func (a *App) setupTasks(clock crawler.Clock) {
	deps := tasks.Dependencies{IDs: uuid.New(), Clock: clock}
	if a.mirror != nil {
		deps.Mirror = a.mirror
	}
	a.tasks = tasks.New(tasks.Config{
		MaxConcurrent:   a.cfg.EffectiveTaskSlots(),
		QueueDepth:      a.cfg.Tasks.QueueDepth,
		Retention:       a.cfg.Tasks.Retention,
		CleanupInterval: a.cfg.Tasks.CleanupInterval,
	}, deps, a.logger)
}

func (a *App) setupSync(clock crawler.Clock) error {
	if !a.cfg.BitableEnabled() {
		a.logger.Info("bitable sync not configured")
		return nil
	}
	records := a.opts.records
	if records == nil {
		client, err := bitable.NewClient(bitable.ClientConfig{
			AppID:     a.cfg.Bitable.AppID,
			AppSecret: a.cfg.Bitable.AppSecret,
			BaseURL:   a.cfg.Bitable.BaseURL,
			Timeout:   a.cfg.Bitable.Timeout,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("bitable client init failed: %w", err)
		}
		records = client
	}
	syncer, err := bitable.NewSyncer(bitable.SyncConfig{
		AppToken:       a.cfg.Bitable.AppToken,
		TableID:        a.cfg.Bitable.TableID,
		FieldURL:       a.cfg.Bitable.FieldURL,
		FieldTotalRead: a.cfg.Bitable.FieldTotalRead,
		FieldError:     a.cfg.Bitable.FieldError,
		ErrorMaxLen:    a.cfg.Bitable.ErrorMaxLen,
		PageSize:       a.cfg.Bitable.PageSize,
	}, records, a.orchestrator, a.registry, a.logger)
	if err != nil {
		return fmt.Errorf("bitable syncer init failed: %w", err)
	}
	a.syncer = syncer
	a.gate = bitable.NewGate(a.cfg.Sync.Cooldown, clock)
	a.logger.Info("bitable sync enabled",
		zap.String("table_id", a.cfg.Bitable.TableID),
		zap.Duration("cooldown", a.cfg.Sync.Cooldown),
	)
	return nil
}

func (a *App) setupSettings(clock crawler.Clock) error {
	svc, err := settings.New(a.repo, a.cfg.EffectiveCrawlInterval(), a.logger)
	if err != nil {
		return fmt.Errorf("settings init failed: %w", err)
	}
	checker, err := health.NewChecker(a.repo, svc, clock, health.DefaultFailureLimit)
	if err != nil {
		return fmt.Errorf("health init failed: %w", err)
	}
	a.settings = svc
	a.health = checker
	return nil
}

func (a *App) setupSchedule(ctx context.Context) error {
	if !a.cfg.Schedule.Enabled {
		a.logger.Info("scheduled crawls disabled")
		return nil
	}
	cfg := schedule.Config{
		Interval: a.cfg.Schedule.Interval,
		Spec:     a.cfg.Schedule.Cron,
	}
	stored, ok, err := a.settings.StoredCrawlInterval(ctx)
	if err != nil {
		return fmt.Errorf("schedule init failed: %w", err)
	}
	if ok {
		a.logger.Info("using stored crawl interval", zap.Duration("interval", stored))
		cfg = schedule.Config{Interval: stored}
	}
	s, err := schedule.New(cfg, a.orchestrator, a.logger)
	if err != nil {
		return fmt.Errorf("schedule init failed: %w", err)
	}
	a.schedule = s
	a.settings.Bind(s)
	return nil
}

func (a *App) setupAPI() error {
	deps := api.Dependencies{
		Crawl:    a.orchestrator,
		Targets:  a.repo,
		Runs:     a.repo,
		Builder:  a.registry,
		Jobs:     a.tasks,
		Health:   a.health,
		Settings: a.settings,
	}
	if a.syncer != nil {
		deps.Sync = a.syncer
		deps.SyncGate = a.gate
	}
	server, err := api.NewServer(api.Config{
		RequestTimeout: a.cfg.Server.RequestTimeout,
		ReportInterval: a.cfg.Tasks.ReportInterval,
	}, deps, a.logger)
	if err != nil {
		return fmt.Errorf("api init failed: %w", err)
	}
	a.apiServer = server
	return nil
}

// startWorkers warms the engine pool and starts the job workers.
func (a *App) startWorkers() {
	a.startOnce.Do(func() {
		poolCtx, cancel := context.WithCancel(context.Background())
		a.poolCancel = cancel
		a.pool.Start(poolCtx)
		a.tasks.Start()
	})
}

// Run serves the API and the crawl schedule until ctx is cancelled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.startWorkers()
	if a.schedule != nil {
		a.schedule.Start()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), closeErr)
	default:
		return closeErr
	}
}

// CrawlOnce runs one full crawl and returns its final progress. Cancelling
// ctx stops admission and waits for in-flight targets.
func (a *App) CrawlOnce(ctx context.Context) (crawler.Progress, error) {
	a.startWorkers()
	return a.orchestrator.Run(ctx, a.cfg.Tasks.ReportInterval, func(p crawler.Progress) {
		a.logger.Info("crawl progress",
			zap.String("run_id", p.RunID),
			zap.Int("current", p.Current),
			zap.Int("total", p.Total),
			zap.Int("success", p.SuccessCount),
			zap.Int("failed", p.FailedCount),
		)
	})
}

// SyncOnce runs one spreadsheet sync, bypassing the cooldown.
func (a *App) SyncOnce(ctx context.Context) (bitable.Result, error) {
	if a.syncer == nil {
		return bitable.Result{}, errors.New("bitable sync is not configured")
	}
	a.startWorkers()
	return a.syncer.Run(ctx, func(done, total int) {
		a.logger.Debug("sync progress", zap.Int("done", done), zap.Int("total", total))
	})
}

// Close stops background work and releases every resource. The active crawl
// run, if any, is cancelled and drained first so its events are flushed.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.schedule != nil {
		if err := a.schedule.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.tasks != nil {
		a.tasks.Close()
	}
	if a.orchestrator != nil {
		a.orchestrator.Stop()
		if err := a.orchestrator.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

//nolint:gocognit // Shutdown logic is linear but extensive, ignoring complexity check
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.hub = nil
	}
	if a.poolCancel != nil {
		a.poolCancel()
	}
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			a.logger.Warn("engine pool close failed", zap.Error(err))
		}
		a.pool = nil
	}
	if a.factory != nil {
		a.factory.Close()
		a.factory = nil
	}
	// Publishers wrapped in progress sinks were closed with the hub.
	if !a.hubOwnsPubs {
		for _, p := range a.publishers {
			if err := p.Close(); err != nil {
				a.logger.Warn("publisher close failed", zap.Error(err))
			}
		}
	}
	a.publishers = nil
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcs = nil
	}
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			a.logger.Warn("redis mirror close failed", zap.Error(err))
		}
		a.mirror = nil
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
		a.repo = nil
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracer = nil
	}
}
