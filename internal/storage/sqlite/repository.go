// Package sqlite persists targets, read-count history and crawl runs in a
// single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS targets (
	url           TEXT PRIMARY KEY,
	domain        TEXT NOT NULL,
	platform      TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	read_count    INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT NOT NULL DEFAULT '',
	last_category TEXT NOT NULL DEFAULT '',
	last_attempt  TEXT,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_targets_created_at ON targets (created_at, url);

CREATE TABLE IF NOT EXISTS read_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	url         TEXT NOT NULL REFERENCES targets(url) ON DELETE CASCADE,
	count       INTEGER NOT NULL,
	recorded_at TEXT NOT NULL
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
	start_time    TEXT,
	end_time      TEXT
);
CREATE INDEX IF NOT EXISTS idx_crawl_runs_start ON crawl_runs (start_time DESC);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Config locates the database file.
type Config struct {
	// Path is a filesystem path or MemoryPath.
	Path string
}

// Repository implements crawler.Repository on SQLite.
type Repository struct {
	db *sql.DB
}

// New opens (creating when needed) the database and applies the schema.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("storage.sqlite_path is required")
	}
	if cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	dsn := cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if cfg.Path != MemoryPath {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection serializes writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close releases the database handle.
func (r *Repository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close sqlite database: %w", err)
	}
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
	res, err := r.db.ExecContext(ctx, `
INSERT INTO targets (url, domain, platform, title, status, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(url) DO NOTHING`,
		target.URL, target.Domain, target.Platform, target.Title, string(target.Status), formatTime(target.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert target: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert target: %w", err)
	}
	return n > 0, nil
}

const targetColumns = `url, domain, platform, title, status, read_count, last_error, last_category, last_attempt, created_at`

// GetTarget loads the target stored under url.
func (r *Repository) GetTarget(ctx context.Context, url string) (crawler.Target, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE url = ?`, url)
	target, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Target{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Target{}, fmt.Errorf("get target: %w", err)
	}
	return target, nil
}

// DeleteTarget removes the target; its history goes with it.
func (r *Repository) DeleteTarget(ctx context.Context, url string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM targets WHERE url = ?`, url)
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	if n == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// ListTargets returns every target, oldest registration first.
func (r *Repository) ListTargets(ctx context.Context) ([]crawler.Target, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+targetColumns+` FROM targets ORDER BY created_at, url`)
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
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stamp := formatTime(at)
	res, err := tx.ExecContext(ctx, `
UPDATE targets
SET status = ?, read_count = ?, title = COALESCE(NULLIF(?, ''), title),
	last_error = '', last_category = '', last_attempt = ?
WHERE url = ?`,
		string(crawler.StatusOK), count, title, stamp, target.URL)
	if err != nil {
		return fmt.Errorf("update target: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update target: %w", err)
	} else if n == 0 {
		return crawler.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO read_history (url, count, recorded_at) VALUES (?, ?, ?)`,
		target.URL, count, stamp); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RecordFailure marks the target failed and keeps its last good count.
func (r *Repository) RecordFailure(ctx context.Context, target crawler.Target, errText string, category crawler.Category, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE targets
SET status = ?, last_error = ?, last_category = ?, last_attempt = ?
WHERE url = ?`,
		string(crawler.StatusFailed), errText, string(category), formatTime(at), target.URL)
	if err != nil {
		return fmt.Errorf("update target: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update target: %w", err)
	}
	if n == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// History returns up to limit points for url, newest first. A non-positive
// limit returns everything.
func (r *Repository) History(ctx context.Context, url string, limit int) ([]crawler.HistoryPoint, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM targets WHERE url = ?`, url).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, crawler.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup target: %w", err)
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT count, recorded_at FROM read_history
WHERE url = ?
ORDER BY recorded_at DESC, id DESC
LIMIT ?`, url, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	points := []crawler.HistoryPoint{}
	for rows.Next() {
		point := crawler.HistoryPoint{URL: url}
		var recordedAt string
		if err := rows.Scan(&point.Count, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if point.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
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
	_, err := r.db.ExecContext(ctx, `
INSERT INTO crawl_runs (run_id, state, total, current, success_count, failed_count, retried_count, start_time, end_time)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
	state = excluded.state,
	total = excluded.total,
	current = excluded.current,
	success_count = excluded.success_count,
	failed_count = excluded.failed_count,
	retried_count = excluded.retried_count,
	start_time = excluded.start_time,
	end_time = excluded.end_time`,
		run.RunID, string(run.State), run.Total, run.Current,
		run.SuccessCount, run.FailedCount, run.RetriedCount,
		nullTime(run.StartTime), nullTime(run.EndTime))
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, most recently started first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]crawler.Progress, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT run_id, state, total, current, success_count, failed_count, retried_count, start_time, end_time
FROM crawl_runs
ORDER BY start_time DESC, run_id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []crawler.Progress
	for rows.Next() {
		var (
			run        crawler.Progress
			state      string
			start, end sql.NullString
		)
		if err := rows.Scan(&run.RunID, &state, &run.Total, &run.Current,
			&run.SuccessCount, &run.FailedCount, &run.RetriedCount, &start, &end); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.State = crawler.RunState(state)
		if run.StartTime, err = parseNullTime(start); err != nil {
			return nil, err
		}
		if run.EndTime, err = parseNullTime(end); err != nil {
			return nil, err
		}
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
	rows, err := r.db.QueryContext(ctx, `
SELECT t.platform,
	COUNT(*),
	SUM(CASE WHEN t.status = ? THEN 1 ELSE 0 END),
	SUM(CASE WHEN t.status = ? THEN 1 ELSE 0 END),
	MAX(h.last_at)
FROM targets t
LEFT JOIN (SELECT url, MAX(recorded_at) AS last_at FROM read_history GROUP BY url) h ON h.url = t.url
GROUP BY t.platform
ORDER BY t.platform`, string(crawler.StatusOK), string(crawler.StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("aggregate platforms: %w", err)
	}
	defer rows.Close()

	var (
		out   []crawler.PlatformStats
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			stats crawler.PlatformStats
			last  sql.NullString
		)
		if err := rows.Scan(&stats.Platform, &stats.ArticleCount, &stats.OKCount, &stats.FailedCount, &last); err != nil {
			return nil, fmt.Errorf("scan platform: %w", err)
		}
		stats.PendingCount = stats.ArticleCount - stats.OKCount - stats.FailedCount
		if stats.LastUpdate, err = parseNullTime(last); err != nil {
			return nil, err
		}
		index[stats.Platform] = len(out)
		out = append(out, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate platforms: %w", err)
	}
	if failureLimit <= 0 || len(out) == 0 {
		return out, nil
	}

	failed, err := r.db.QueryContext(ctx, `
SELECT `+targetColumns+` FROM (
	SELECT `+targetColumns+`,
		ROW_NUMBER() OVER (PARTITION BY platform ORDER BY last_attempt DESC, url) AS rn
	FROM targets
	WHERE status = ?
)
WHERE rn <= ?
ORDER BY platform, rn`, string(crawler.StatusFailed), failureLimit)
	if err != nil {
		return nil, fmt.Errorf("list platform failures: %w", err)
	}
	defer failed.Close()
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
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting: %w", err)
	}
	return value, true, nil
}

// PutSetting upserts value under key.
func (r *Repository) PutSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("put setting: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTarget(row scanner) (crawler.Target, error) {
	var (
		target           crawler.Target
		status, category string
		lastAttempt      sql.NullString
		createdAt        string
	)
	if err := row.Scan(&target.URL, &target.Domain, &target.Platform, &target.Title, &status,
		&target.ReadCount, &target.LastError, &category, &lastAttempt, &createdAt); err != nil {
		return crawler.Target{}, err
	}
	target.Status = crawler.TargetStatus(status)
	target.LastCategory = crawler.Category(category)
	var err error
	if target.LastAttempt, err = parseNullTime(lastAttempt); err != nil {
		return crawler.Target{}, err
	}
	if target.CreatedAt, err = parseTime(createdAt); err != nil {
		return crawler.Target{}, err
	}
	return target, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var _ crawler.Repository = (*Repository)(nil)
