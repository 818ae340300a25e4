package bitable

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// Error message length bounds for the failure column.
const (
	DefaultErrorMaxLen = 200
	minErrorMaxLen     = 100
	maxErrorMaxLen     = 500
	maxReportedErrors  = 20
)

// RecordStore lists and updates table records.
type RecordStore interface {
	ListAllRecords(ctx context.Context, appToken, tableID string, pageSize int) ([]Record, error)
	BatchUpdate(ctx context.Context, appToken, tableID string, records []Record) error
}

// Crawler crawls an ad-hoc target list.
type Crawler interface {
	CrawlTargets(ctx context.Context, targets []crawler.Target, report func(done, total int)) []crawler.Outcome
}

// TargetBuilder turns a URL into a crawlable target.
type TargetBuilder interface {
	NewTarget(rawURL string) (crawler.Target, error)
}

// SyncConfig names the table and its columns.
type SyncConfig struct {
	AppToken       string
	TableID        string
	FieldURL       string
	FieldTotalRead string
	FieldError     string
	ErrorMaxLen    int
	PageSize       int
}

// RecordError describes one row that could not be crawled.
type RecordError struct {
	RecordID string `json:"record_id"`
	URL      string `json:"url"`
	Error    string `json:"error"`
}

// Result summarises a sync.
type Result struct {
	Processed int           `json:"processed"`
	Updated   int           `json:"updated"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Errors    []RecordError `json:"errors,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// Syncer runs one table sync.
type Syncer struct {
	cfg     SyncConfig
	records RecordStore
	crawler Crawler
	targets TargetBuilder
	logger  *zap.Logger
}

// NewSyncer validates cfg and wires the collaborators.
func NewSyncer(cfg SyncConfig, records RecordStore, c Crawler, targets TargetBuilder, logger *zap.Logger) (*Syncer, error) {
	cfg.AppToken = strings.TrimSpace(cfg.AppToken)
	cfg.TableID = strings.TrimSpace(cfg.TableID)
	switch {
	case cfg.AppToken == "" || cfg.TableID == "":
		return nil, errors.New("bitable.app_token and bitable.table_id are required")
	case cfg.FieldURL == "" || cfg.FieldTotalRead == "" || cfg.FieldError == "":
		return nil, errors.New("bitable field names are required")
	case records == nil || c == nil || targets == nil:
		return nil, errors.New("bitable syncer collaborators are required")
	}
	cfg.ErrorMaxLen = ClampErrorMaxLen(cfg.ErrorMaxLen)
	if cfg.PageSize <= 0 || cfg.PageSize > MaxBatchUpdate {
		cfg.PageSize = MaxBatchUpdate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{cfg: cfg, records: records, crawler: c, targets: targets, logger: logger.Named("bitable_sync")}, nil
}

type row struct {
	recordID string
	url      string
}

// Run lists the table, crawls every row with a usable URL and writes the
// results back. report receives crawl progress. Rows whose URL was never
// crawled because ctx was cancelled are left untouched and counted as skipped.
func (s *Syncer) Run(ctx context.Context, report func(done, total int)) (Result, error) {
	records, err := s.records.ListAllRecords(ctx, s.cfg.AppToken, s.cfg.TableID, s.cfg.PageSize)
	if err != nil {
		return Result{}, fmt.Errorf("list bitable records: %w", err)
	}

	var rows []row
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		if u := URLFromField(rec.Fields[s.cfg.FieldURL]); u != "" {
			rows = append(rows, row{recordID: rec.ID, url: u})
		}
	}
	if len(rows) == 0 {
		return Result{Message: "no article links found"}, nil
	}

	var (
		result   = Result{Processed: len(rows)}
		updates  []Record
		targets  []crawler.Target
		seen     = map[string]bool{}
		rowKey   = make([]string, len(rows))
		buildErr = map[int]error{}
	)
	for i, r := range rows {
		target, err := s.targets.NewTarget(r.url)
		if err != nil {
			buildErr[i] = err
			continue
		}
		rowKey[i] = target.URL
		if !seen[target.URL] {
			seen[target.URL] = true
			targets = append(targets, target)
		}
	}

	outcomes := map[string]crawler.Outcome{}
	if len(targets) > 0 {
		for _, outcome := range s.crawler.CrawlTargets(ctx, targets, report) {
			outcomes[outcome.URL] = outcome
		}
	}

	for i, r := range rows {
		var errText string
		if err := buildErr[i]; err != nil {
			errText = err.Error()
		} else {
			outcome, ok := outcomes[rowKey[i]]
			if !ok {
				result.Skipped++
				continue
			}
			if outcome.OK {
				updates = append(updates, Record{ID: r.recordID, Fields: map[string]any{
					s.cfg.FieldTotalRead: outcome.Value,
					s.cfg.FieldError:     "",
				}})
				result.Updated++
				continue
			}
			errText = outcome.Error
			if errText == "" {
				errText = "unknown error"
			}
		}
		result.Failed++
		if len(result.Errors) < maxReportedErrors {
			result.Errors = append(result.Errors, RecordError{RecordID: r.recordID, URL: r.url, Error: errText})
		}
		updates = append(updates, Record{ID: r.recordID, Fields: map[string]any{
			s.cfg.FieldError: TruncateError(errText, s.cfg.ErrorMaxLen),
		}})
	}

	if len(updates) > 0 {
		// Finished crawls are written back even when ctx is cancelled.
		if err := s.records.BatchUpdate(context.WithoutCancel(ctx), s.cfg.AppToken, s.cfg.TableID, updates); err != nil {
			return result, fmt.Errorf("write back bitable records: %w", err)
		}
	}
	s.logger.Info("bitable sync finished",
		zap.Int("processed", result.Processed),
		zap.Int("updated", result.Updated),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// URLFromField extracts an http(s) URL from a text, link or list cell.
func URLFromField(value any) string {
	switch v := value.(type) {
	case string:
		return httpURL(v)
	case map[string]any:
		for _, key := range []string{"link", "text", "url"} {
			if s, ok := v[key].(string); ok {
				if u := httpURL(s); u != "" {
					return u
				}
			}
		}
	case []any:
		if len(v) > 0 {
			return URLFromField(v[0])
		}
	}
	return ""
}

func httpURL(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}
	return ""
}

// ClampErrorMaxLen applies the default and bounds to a configured length.
func ClampErrorMaxLen(n int) int {
	if n <= 0 {
		return DefaultErrorMaxLen
	}
	return min(maxErrorMaxLen, max(minErrorMaxLen, n))
}

// TruncateError shortens msg to at most maxLen characters, marking the cut
// with an ellipsis.
func TruncateError(msg string, maxLen int) string {
	if utf8.RuneCountInString(msg) <= maxLen {
		return msg
	}
	runes := []rune(msg)
	if maxLen <= 3 {
		return string(runes[:max(maxLen, 0)])
	}
	return string(runes[:maxLen-3]) + "..."
}
