// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// ARTICLE_MONITOR_SERVER_PORT=9090.
const EnvPrefix = "ARTICLE_MONITOR"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	AntiDetect AntiDetectConfig `mapstructure:"antidetect"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Bitable    BitableConfig    `mapstructure:"bitable"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Events     EventsConfig     `mapstructure:"events"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs admission and the fetch pipeline.
type CrawlerConfig struct {
	Concurrency            int           `mapstructure:"concurrency"`
	MaxConcurrency         int           `mapstructure:"max_concurrency"`
	PerDomain              int           `mapstructure:"per_domain"`
	Interleave             bool          `mapstructure:"interleave"`
	MinDomainDelay         time.Duration `mapstructure:"min_domain_delay"`
	Timeout                time.Duration `mapstructure:"timeout"`
	LowResource            bool          `mapstructure:"low_resource"`
	LowResourceConcurrency int           `mapstructure:"low_resource_concurrency"`
	ProbeEnabled           bool          `mapstructure:"probe_enabled"`
	ProbeTimeout           time.Duration `mapstructure:"probe_timeout"`
	RenderThreshold        int           `mapstructure:"render_threshold"`
	AllowedPlatforms       []string      `mapstructure:"allowed_platforms"`
}

// AttemptConfig caps attempts for one failure category.
type AttemptConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// SSLRetryConfig caps TLS failures, which retry on a fixed delay.
type SSLRetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	FixedDelay  time.Duration `mapstructure:"fixed_delay"`
}

// RetryConfig shapes backoff.
type RetryConfig struct {
	Network        AttemptConfig  `mapstructure:"network"`
	Parse          AttemptConfig  `mapstructure:"parse"`
	SSL            SSLRetryConfig `mapstructure:"ssl"`
	BaseDelay      time.Duration  `mapstructure:"base_delay"`
	Multiplier     float64        `mapstructure:"multiplier"`
	MaxDelay       time.Duration  `mapstructure:"max_delay"`
	Jitter         bool           `mapstructure:"jitter"`
	JitterFraction float64        `mapstructure:"jitter_fraction"`
}

// PoolConfig sizes the browser engine pool.
type PoolConfig struct {
	MaxSize            int           `mapstructure:"max_size"`
	MinSize            int           `mapstructure:"min_size"`
	LowResourceMaxSize int           `mapstructure:"low_resource_max_size"`
	LowResourceMinSize int           `mapstructure:"low_resource_min_size"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	ExecPath          string        `mapstructure:"exec_path"`
	NoSandbox         bool          `mapstructure:"no_sandbox"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	WaitTimeout       time.Duration `mapstructure:"wait_timeout"`
}

// AntiDetectConfig controls identity rotation and request pacing.
type AntiDetectConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	MinDelay   time.Duration `mapstructure:"min_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	FixedDelay time.Duration `mapstructure:"fixed_delay"`
	RotateMin  int           `mapstructure:"rotate_min"`
	RotateMax  int           `mapstructure:"rotate_max"`
	Seed       uint64        `mapstructure:"seed"`
	UserAgents []string      `mapstructure:"user_agents"`
}

// TasksConfig sizes the background job manager.
type TasksConfig struct {
	MaxConcurrent            int           `mapstructure:"max_concurrent"`
	LowResourceMaxConcurrent int           `mapstructure:"low_resource_max_concurrent"`
	QueueDepth               int           `mapstructure:"queue_depth"`
	Retention                time.Duration `mapstructure:"retention"`
	CleanupInterval          time.Duration `mapstructure:"cleanup_interval"`
	ReportInterval           time.Duration `mapstructure:"report_interval"`
}

// SyncConfig rate limits spreadsheet syncs.
type SyncConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// BitableConfig names the Feishu app and the synced table.
type BitableConfig struct {
	AppID          string        `mapstructure:"app_id"`
	AppSecret      string        `mapstructure:"app_secret"`
	AppToken       string        `mapstructure:"app_token"`
	TableID        string        `mapstructure:"table_id"`
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	FieldURL       string        `mapstructure:"field_url"`
	FieldTotalRead string        `mapstructure:"field_total_read"`
	FieldError     string        `mapstructure:"field_error"`
	ErrorMaxLen    int           `mapstructure:"error_max_len"`
	PageSize       int           `mapstructure:"page_size"`
}

// ScheduleConfig controls the periodic crawl. Cron, when set, overrides
// Interval.
type ScheduleConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Cron     string        `mapstructure:"cron"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver     string         `mapstructure:"driver"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisConfig enables the job snapshot mirror when Addr is set.
type RedisConfig struct {
	Addr   string        `mapstructure:"addr"`
	Prefix string        `mapstructure:"prefix"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// ArchiveConfig selects where raw pages are kept.
type ArchiveConfig struct {
	Backend  string `mapstructure:"backend"`
	LocalDir string `mapstructure:"local_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// ProgressConfig tunes the crawl event hub.
type ProgressConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BufferSize    int           `mapstructure:"buffer_size"`
	Batch         BatchConfig   `mapstructure:"batch"`
	SinkTimeoutMS int           `mapstructure:"sink_timeout_ms"`
	LogEnabled    bool          `mapstructure:"log_enabled"`
	FlushTimeout  time.Duration `mapstructure:"flush_timeout"`
}

// BatchConfig bounds hub batches.
type BatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMS int `mapstructure:"max_wait_ms"`
}

// TracingConfig controls OpenTelemetry spans for crawl runs.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Exporter    string  `mapstructure:"exporter"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// EventsConfig enables crawl event transports.
type EventsConfig struct {
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// KafkaConfig is enabled when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// PubSubConfig is enabled when ProjectID is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Keys without a default are invisible to AutomaticEnv during Unmarshal, so
// optional settings default to their zero value explicitly.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")

	v.SetDefault("crawler.concurrency", 5)
	v.SetDefault("crawler.max_concurrency", 10)
	v.SetDefault("crawler.per_domain", 1)
	v.SetDefault("crawler.interleave", true)
	v.SetDefault("crawler.min_domain_delay", "0s")
	v.SetDefault("crawler.timeout", "60s")
	v.SetDefault("crawler.low_resource", false)
	v.SetDefault("crawler.low_resource_concurrency", 2)
	v.SetDefault("crawler.probe_enabled", true)
	v.SetDefault("crawler.probe_timeout", "15s")
	v.SetDefault("crawler.render_threshold", 2048)
	v.SetDefault("crawler.allowed_platforms", []string{})

	v.SetDefault("retry.network.max_attempts", 10)
	v.SetDefault("retry.parse.max_attempts", 3)
	v.SetDefault("retry.ssl.max_attempts", 5)
	v.SetDefault("retry.ssl.fixed_delay", "5s")
	v.SetDefault("retry.base_delay", "2s")
	v.SetDefault("retry.multiplier", 1.5)
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.jitter", true)
	v.SetDefault("retry.jitter_fraction", 0.2)

	v.SetDefault("pool.max_size", 5)
	v.SetDefault("pool.min_size", 2)
	v.SetDefault("pool.low_resource_max_size", 2)
	v.SetDefault("pool.low_resource_min_size", 1)
	v.SetDefault("pool.idle_timeout", "300s")
	v.SetDefault("pool.cleanup_interval", "60s")

	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.no_sandbox", false)
	v.SetDefault("headless.navigation_timeout", "45s")
	v.SetDefault("headless.wait_timeout", "10s")

	v.SetDefault("antidetect.enabled", true)
	v.SetDefault("antidetect.min_delay", "1s")
	v.SetDefault("antidetect.max_delay", "5s")
	v.SetDefault("antidetect.fixed_delay", "0s")
	v.SetDefault("antidetect.rotate_min", 10)
	v.SetDefault("antidetect.rotate_max", 30)
	v.SetDefault("antidetect.seed", 0)
	v.SetDefault("antidetect.user_agents", []string{})

	v.SetDefault("tasks.max_concurrent", 3)
	v.SetDefault("tasks.low_resource_max_concurrent", 2)
	v.SetDefault("tasks.queue_depth", 100)
	v.SetDefault("tasks.retention", "24h")
	v.SetDefault("tasks.cleanup_interval", "10m")
	v.SetDefault("tasks.report_interval", "1s")

	v.SetDefault("sync.cooldown", "60s")
	v.SetDefault("bitable.app_id", "")
	v.SetDefault("bitable.app_secret", "")
	v.SetDefault("bitable.app_token", "")
	v.SetDefault("bitable.table_id", "")
	v.SetDefault("bitable.base_url", "https://open.feishu.cn")
	v.SetDefault("bitable.timeout", "30s")
	v.SetDefault("bitable.field_url", "URL")
	v.SetDefault("bitable.field_total_read", "Total Read")
	v.SetDefault("bitable.field_error", "Error")
	v.SetDefault("bitable.error_max_len", 200)
	v.SetDefault("bitable.page_size", 500)

	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.interval", "6h")
	v.SetDefault("schedule.cron", "")

	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", "data/article-monitor.db")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.min_conns", 1)
	v.SetDefault("storage.postgres.max_conn_lifetime", "30m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.prefix", "article-monitor:job:")
	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.local_dir", "data/pages")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "pages")

	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch.max_events", 500)
	v.SetDefault("progress.batch.max_wait_ms", 1000)
	v.SetDefault("progress.sink_timeout_ms", 2000)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.flush_timeout", "5s")

	v.SetDefault("events.kafka.brokers", []string{})
	v.SetDefault("events.kafka.topic", "")
	v.SetDefault("events.pubsub.project_id", "")
	v.SetDefault("events.pubsub.topic", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "article-monitor")
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if !c.Crawler.ProbeEnabled && !c.Headless.Enabled {
		return fmt.Errorf("at least one of crawler.probe_enabled and headless.enabled must be true")
	}
	if c.Crawler.Concurrency <= 0 || c.Crawler.MaxConcurrency <= 0 {
		return fmt.Errorf("crawler.concurrency and crawler.max_concurrency must be > 0")
	}
	if c.Crawler.LowResource && c.Crawler.LowResourceConcurrency <= 0 {
		return fmt.Errorf("crawler.low_resource_concurrency must be > 0 in low resource mode")
	}
	if c.Crawler.PerDomain < 0 {
		return fmt.Errorf("crawler.per_domain must be >= 0")
	}
	if c.Crawler.Timeout <= 0 {
		return fmt.Errorf("crawler.timeout must be > 0")
	}
	if c.Crawler.MinDomainDelay < 0 {
		return fmt.Errorf("crawler.min_domain_delay must be >= 0")
	}
	if c.Retry.Network.MaxAttempts < 1 || c.Retry.Parse.MaxAttempts < 1 || c.Retry.SSL.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be >= 1 for every category")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1")
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction >= 1 {
		return fmt.Errorf("retry.jitter_fraction must be in [0,1)")
	}
	minSize, maxSize := c.EffectivePoolSize()
	if maxSize < 1 || minSize < 0 || minSize > maxSize {
		return fmt.Errorf("pool sizes must satisfy 0 <= min_size <= max_size and max_size >= 1")
	}
	if c.AntiDetect.MinDelay > c.AntiDetect.MaxDelay {
		return fmt.Errorf("antidetect.min_delay must be <= antidetect.max_delay")
	}
	if c.AntiDetect.RotateMin < 1 || c.AntiDetect.RotateMin > c.AntiDetect.RotateMax {
		return fmt.Errorf("antidetect rotation bounds must satisfy 1 <= rotate_min <= rotate_max")
	}
	if c.EffectiveTaskSlots() < 1 || c.Tasks.QueueDepth < 1 {
		return fmt.Errorf("tasks.max_concurrent and tasks.queue_depth must be > 0")
	}
	if c.Sync.Cooldown < 0 {
		return fmt.Errorf("sync.cooldown must be >= 0")
	}
	if c.Schedule.Enabled && c.Schedule.Cron == "" && c.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be > 0 when the schedule is enabled")
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	if len(c.Events.Kafka.Brokers) > 0 && c.Events.Kafka.Topic == "" {
		return fmt.Errorf("events.kafka.topic must be set when brokers are configured")
	}
	if c.Events.PubSub.ProjectID != "" && c.Events.PubSub.Topic == "" {
		return fmt.Errorf("events.pubsub.topic must be set when project_id is configured")
	}
	if c.Tracing.Enabled {
		if c.Tracing.Exporter != "none" && c.Tracing.Exporter != "stdout" {
			return fmt.Errorf("tracing.exporter must be none or stdout")
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			return fmt.Errorf("tracing.sample_ratio must be within [0,1]")
		}
	}
	if c.BitableEnabled() && (c.Bitable.AppID == "" || c.Bitable.AppSecret == "") {
		return fmt.Errorf("bitable.app_id and bitable.app_secret must be set when a table is configured")
	}
	return nil
}

func (c Config) validateStorage() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must be set for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of memory, sqlite, postgres", c.Storage.Driver)
	}
	return nil
}

func (c Config) validateArchive() error {
	switch c.Archive.Backend {
	case "", ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set for the local backend")
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of none, memory, local, gcs", c.Archive.Backend)
	}
	return nil
}

// EffectiveConcurrency is the global fetch cap: crawler.concurrency clamped to
// max_concurrency and, in low resource mode, to low_resource_concurrency.
func (c Config) EffectiveConcurrency() int {
	n := min(c.Crawler.Concurrency, c.Crawler.MaxConcurrency)
	if c.Crawler.LowResource {
		n = min(n, c.Crawler.LowResourceConcurrency)
	}
	return n
}

// EffectivePoolSize returns the engine pool bounds for the active profile.
func (c Config) EffectivePoolSize() (minSize, maxSize int) {
	if c.Crawler.LowResource {
		return c.Pool.LowResourceMinSize, c.Pool.LowResourceMaxSize
	}
	return c.Pool.MinSize, c.Pool.MaxSize
}

// EffectiveTaskSlots is the number of jobs run concurrently.
func (c Config) EffectiveTaskSlots() int {
	if c.Crawler.LowResource {
		return min(c.Tasks.MaxConcurrent, c.Tasks.LowResourceMaxConcurrent)
	}
	return c.Tasks.MaxConcurrent
}

// defaultCrawlInterval backs health grading when only a cron spec is set.
const defaultCrawlInterval = 6 * time.Hour

// EffectiveCrawlInterval is the interval used for health grading and as the
// fallback when no interval was stored at runtime.
func (c Config) EffectiveCrawlInterval() time.Duration {
	if c.Schedule.Interval > 0 {
		return c.Schedule.Interval
	}
	return defaultCrawlInterval
}

// BitableEnabled reports whether a sync table is configured.
func (c Config) BitableEnabled() bool {
	return c.Bitable.AppToken != "" && c.Bitable.TableID != ""
}

// ArchiveEnabled reports whether raw pages are kept.
func (c Config) ArchiveEnabled() bool {
	return c.Archive.Backend != "" && c.Archive.Backend != ArchiveNone
}
