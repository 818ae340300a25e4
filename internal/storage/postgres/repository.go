// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS targets (
	url           TEXT PRIMARY KEY,
	domain        TEXT NOT NULL,
	platform      TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	read_count    BIGINT NOT NULL DEFAULT 0,
	last_error    TEXT NOT NULL DEFAULT '',
	last_category TEXT NOT NULL DEFAULT '',
	last_attempt  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS read_history (
	id          BIGSERIAL PRIMARY KEY,
	url         TEXT NOT NULL REFERENCES targets(url) ON DELETE CASCADE,
	count       BIGINT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_read_history_url ON read_history (url, recorded_at DESC);
CREATE TABLE IF NOT EXISTS crawl_runs (
	run_id        TEXT PRIMARY KEY,
	state         TEXT NOT NULL,
	total         INTEGER NOT NULL,
	current       INTEGER NOT NULL,
	success_count INTEGER NOT NULL,
	failed_count  INTEGER NOT NULL,
	retried_count INTEGER NOT NULL,
	start_time    TIMESTAMPTZ,
	end_time      TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Repository implements crawler.Repository on Postgres.
type Repository struct {
	pool pgxPool
}

// New connects using cfg and makes sure the tables exist.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	repo := &Repository{pool: pool}
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// NewWithPool constructs a repository from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool) (*Repository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Repository{pool: pool}, nil
}

// EnsureSchema creates the tables when they are missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (r *Repository) Close() error {
	if r == nil || r.pool == nil {
		return nil
	}
	r.pool.Close()
	return nil
}

// AddTarget inserts target unless its URL already exists.
func (r *Repository) AddTarget(ctx context.Context, target crawler.Target) (bool, error) {
	if target.URL == "" {
		return false, crawler.ErrInvalidURL
	}
	if target.Status == "" {
		target.Status = crawler.StatusPending
	}
	if target.CreatedAt.IsZero() {
		target.CreatedAt = time.Now().UTC()
	}
	tag, err := r.pool.Exec(ctx, `
INSERT INTO targets (url, domain, platform, title, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (url) DO NOTHING`,
		target.URL, target.Domain, target.Platform, target.Title, string(target.Status), target.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert target: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const targetColumns = `url, domain, platform, title, status, read_count, last_error, last_category, last_attempt, created_at`

// GetTarget loads the target stored under url.
func (r *Repository) GetTarget(ctx context.Context, url string) (crawler.Target, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+targetColumns+` FROM targets WHERE url = $1`, url)
	target, err := scanTarget(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Target{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Target{}, fmt.Errorf("get target: %w", err)
	}
	return target, nil
}

// DeleteTarget removes the target; history rows cascade.
func (r *Repository) DeleteTarget(ctx context.Context, url string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM targets WHERE url = $1`, url)
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// ListTargets returns every target, oldest registration first.
func (r *Repository) ListTargets(ctx context.Context) ([]crawler.Target, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+targetColumns+` FROM targets ORDER BY created_at, url`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var targets []crawler.Target
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, target)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	return targets, nil
}

// RecordSuccess updates the target and appends a history point in one transaction.
func (r *Repository) RecordSuccess(ctx context.Context, target crawler.Target, count int64, title string, at time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := recordSuccessTx(ctx, tx, target.URL, count, title, at); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func recordSuccessTx(ctx context.Context, tx pgx.Tx, url string, count int64, title string, at time.Time) error {
	tag, err := tx.Exec(ctx, `
UPDATE targets
SET status = $1, read_count = $2, title = COALESCE(NULLIF($3, ''), title),
	last_error = '', last_category = '', last_attempt = $4
WHERE url = $5`,
		string(crawler.StatusOK), count, title, at, url)
	if err != nil {
		return fmt.Errorf("update target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO read_history (url, count, recorded_at) VALUES ($1, $2, $3)`,
		url, count, at); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// RecordFailure marks the target failed and keeps its last good count.
func (r *Repository) RecordFailure(ctx context.Context, target crawler.Target, errText string, category crawler.Category, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE targets
SET status = $1, last_error = $2, last_category = $3, last_attempt = $4
WHERE url = $5`,
		string(crawler.StatusFailed), errText, string(category), at, target.URL)
	if err != nil {
		return fmt.Errorf("update target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// History returns up to limit points for url, newest first. A non-positive
// limit returns everything.
func (r *Repository) History(ctx context.Context, url string, limit int) ([]crawler.HistoryPoint, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM targets WHERE url = $1)`, url).Scan(&exists); err != nil {
		return nil, fmt.Errorf("lookup target: %w", err)
	}
	if !exists {
		return nil, crawler.ErrNotFound
	}
	query := `SELECT count, recorded_at FROM read_history WHERE url = $1 ORDER BY recorded_at DESC, id DESC`
	args := []any{url}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	points := []crawler.HistoryPoint{}
	for rows.Next() {
		point := crawler.HistoryPoint{URL: url}
		if err := rows.Scan(&point.Count, &point.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		points = append(points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return points, nil
}

// RecordRun upserts a run snapshot.
func (r *Repository) RecordRun(ctx context.Context, run crawler.Progress) error {
	if run.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO crawl_runs (run_id, state, total, current, success_count, failed_count, retried_count, start_time, end_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (run_id) DO UPDATE SET
	state = EXCLUDED.state,
	total = EXCLUDED.total,
	current = EXCLUDED.current,
	success_count = EXCLUDED.success_count,
	failed_count = EXCLUDED.failed_count,
	retried_count = EXCLUDED.retried_count,
	start_time = EXCLUDED.start_time,
	end_time = EXCLUDED.end_time`,
		run.RunID, string(run.State), run.Total, run.Current,
		run.SuccessCount, run.FailedCount, run.RetriedCount,
		run.StartTime, run.EndTime)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, most recently started first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]crawler.Progress, error) {
	query := `
SELECT run_id, state, total, current, success_count, failed_count, retried_count, start_time, end_time
FROM crawl_runs
ORDER BY start_time DESC NULLS LAST, run_id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []crawler.Progress
	for rows.Next() {
		var (
			run   crawler.Progress
			state string
		)
		if err := rows.Scan(&run.RunID, &state, &run.Total, &run.Current,
			&run.SuccessCount, &run.FailedCount, &run.RetriedCount, &run.StartTime, &run.EndTime); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.State = crawler.RunState(state)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// PlatformHealth aggregates targets per platform and attaches the latest
// failed targets of each.
func (r *Repository) PlatformHealth(ctx context.Context, failureLimit int) ([]crawler.PlatformStats, error) {
	rows, err := r.pool.Query(ctx, `
SELECT t.platform,
	COUNT(*)::int,
	COUNT(*) FILTER (WHERE t.status = $1)::int,
	COUNT(*) FILTER (WHERE t.status = $2)::int,
	MAX(h.last_at)
FROM targets t
LEFT JOIN (SELECT url, MAX(recorded_at) AS last_at FROM read_history GROUP BY url) h ON h.url = t.url
GROUP BY t.platform
ORDER BY t.platform`, string(crawler.StatusOK), string(crawler.StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("aggregate platforms: %w", err)
	}
	defer rows.Close()

	var out []crawler.PlatformStats
	for rows.Next() {
		var stats crawler.PlatformStats
		if err := rows.Scan(&stats.Platform, &stats.ArticleCount, &stats.OKCount, &stats.FailedCount, &stats.LastUpdate); err != nil {
			return nil, fmt.Errorf("scan platform: %w", err)
		}
		stats.PendingCount = stats.ArticleCount - stats.OKCount - stats.FailedCount
		out = append(out, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate platforms: %w", err)
	}
	if failureLimit <= 0 || len(out) == 0 {
		return out, nil
	}

	failed, err := r.pool.Query(ctx, `
SELECT `+targetColumns+` FROM (
	SELECT `+targetColumns+`,
		ROW_NUMBER() OVER (PARTITION BY platform ORDER BY last_attempt DESC NULLS LAST, url) AS rn
	FROM targets
	WHERE status = $1
) ranked
WHERE rn <= $2
ORDER BY platform, rn`, string(crawler.StatusFailed), failureLimit)
	if err != nil {
		return nil, fmt.Errorf("list platform failures: %w", err)
	}
	defer failed.Close()

	index := make(map[string]int, len(out))
	for i, stats := range out {
		index[stats.Platform] = i
	}
	for failed.Next() {
		target, err := scanTarget(failed)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		if i, ok := index[target.Platform]; ok {
			out[i].Failures = append(out[i].Failures, target)
		}
	}
	if err := failed.Err(); err != nil {
		return nil, fmt.Errorf("list platform failures: %w", err)
	}
	return out, nil
}

// GetSetting returns the value stored under key.
func (r *Repository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting: %w", err)
	}
	return value, true, nil
}

// PutSetting upserts value under key.
func (r *Repository) PutSetting(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("put setting: %w", err)
	}
	return nil
}

func scanTarget(row pgx.Row) (crawler.Target, error) {
	var (
		target           crawler.Target
		status, category string
	)
	if err := row.Scan(&target.URL, &target.Domain, &target.Platform, &target.Title, &status,
		&target.ReadCount, &target.LastError, &category, &target.LastAttempt, &target.CreatedAt); err != nil {
		return crawler.Target{}, err
	}
	target.Status = crawler.TargetStatus(status)
	target.LastCategory = crawler.Category(category)
	return target, nil
}

var _ crawler.Repository = (*Repository)(nil)
