// Package bitable syncs read counts with a Feishu Bitable table: it lists the
// table's records, crawls the article URL found in each row and writes the
// total read count (or the failure reason) back.
package bitable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the Feishu open platform endpoint.
const DefaultBaseURL = "https://open.feishu.cn"

// MaxBatchUpdate is the largest batch_update request Feishu accepts.
const MaxBatchUpdate = 500

const (
	codeForbidden     = 91403
	codeTokenInvalid  = 99991663
	codeTokenExpired  = 99991661
	tokenRefreshSlack = 5 * time.Minute
)

// ClientConfig holds the app credentials.
type ClientConfig struct {
	AppID     string
	AppSecret string
	BaseURL   string
	Timeout   time.Duration
}

// Record is one Bitable row.
type Record struct {
	ID     string         `json:"record_id"`
	Fields map[string]any `json:"fields"`
}

// RecordPage is one page of a record listing.
type RecordPage struct {
	Items     []Record `json:"items"`
	HasMore   bool     `json:"has_more"`
	PageToken string   `json:"page_token"`
}

// APIError is a non-zero Feishu response code.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("feishu api error %d: %s", e.Code, e.Msg)
	if e.Code == codeForbidden {
		msg += " (the app needs edit permission on the table)"
	}
	return msg
}

// Client calls the Feishu Bitable open API. The tenant access token is cached
// until shortly before it expires.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("bitable.app_id and bitable.app_secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("bitable_client"),
		now:    time.Now,
	}, nil
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// ListRecords fetches one page of records.
func (c *Client) ListRecords(ctx context.Context, appToken, tableID string, pageSize int, pageToken string) (RecordPage, error) {
	query := url.Values{}
	if pageSize > 0 {
		query.Set("page_size", strconv.Itoa(pageSize))
	}
	if pageToken != "" {
		query.Set("page_token", pageToken)
	}
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/records", url.PathEscape(appToken), url.PathEscape(tableID))
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var page RecordPage
	if err := c.call(ctx, http.MethodGet, path, nil, &page); err != nil {
		return RecordPage{}, fmt.Errorf("list records: %w", err)
	}
	return page, nil
}

// ListAllRecords follows page tokens until the table is exhausted.
func (c *Client) ListAllRecords(ctx context.Context, appToken, tableID string, pageSize int) ([]Record, error) {
	var (
		all   []Record
		token string
	)
	for {
		page, err := c.ListRecords(ctx, appToken, tableID, pageSize, token)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if !page.HasMore || page.PageToken == "" {
			return all, nil
		}
		token = page.PageToken
	}
}

// BatchUpdate writes records in chunks of at most MaxBatchUpdate.
func (c *Client) BatchUpdate(ctx context.Context, appToken, tableID string, records []Record) error {
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/records/batch_update", url.PathEscape(appToken), url.PathEscape(tableID))
	for start := 0; start < len(records); start += MaxBatchUpdate {
		end := min(start+MaxBatchUpdate, len(records))
		body := map[string]any{"records": records[start:end]}
		if err := c.call(ctx, http.MethodPost, path, body, nil); err != nil {
			return fmt.Errorf("batch update records %d-%d: %w", start, end, err)
		}
		c.logger.Debug("records updated", zap.Int("count", end-start))
	}
	return nil
}

// call performs an authenticated request, refreshing the token once when
// Feishu reports it invalid.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	err := c.callOnce(ctx, method, path, body, out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Code == codeTokenInvalid || apiErr.Code == codeTokenExpired) {
		c.logger.Info("tenant token rejected, refreshing", zap.Int("code", apiErr.Code))
		c.invalidateToken()
		err = c.callOnce(ctx, method, path, body, out)
	}
	return err
}

func (c *Client) callOnce(ctx context.Context, method, path string, body, out any) error {
	token, err := c.tenantToken(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, token, body, out)
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if env.Code != 0 {
		return &APIError{Code: env.Code, Msg: env.Msg}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

type tokenResponse struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Token  string `json:"tenant_access_token"`
	Expire int    `json:"expire"`
}

func (c *Client) tenantToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExp) {
		return c.token, nil
	}

	payload, err := json.Marshal(map[string]string{"app_id": c.cfg.AppID, "app_secret": c.cfg.AppSecret})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/open-apis/auth/v3/tenant_access_token/internal", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request tenant token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode tenant token: %w", err)
	}
	if tr.Code != 0 || tr.Token == "" {
		return "", &APIError{Code: tr.Code, Msg: tr.Msg}
	}
	ttl := time.Duration(tr.Expire)*time.Second - tokenRefreshSlack
	if ttl < time.Minute {
		ttl = time.Minute
	}
	c.token = tr.Token
	c.tokenExp = c.now().Add(ttl)
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
