// Package headless provides pooled browser fetch engines backed by chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

const defaultWaitTimeout = 10 * time.Second

// Config controls browser launch and navigation.
type Config struct {
	ExecPath          string
	NoSandbox         bool
	NavigationTimeout time.Duration
	// WaitTimeout bounds the wait for a platform's counter selector. A missing
	// selector does not fail the fetch.
	WaitTimeout time.Duration
}

// Factory launches one headless browser per engine.
type Factory struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewFactory prepares the exec allocator shared by all engines.
func NewFactory(cfg Config) (*Factory, error) {
	if cfg.NavigationTimeout < 0 || cfg.WaitTimeout < 0 {
		return nil, errors.New("headless: timeouts must be >= 0")
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	return &Factory{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// NewEngine starts a browser process and returns it as a pooled engine.
func (f *Factory) NewEngine(ctx context.Context) (crawler.Engine, error) {
	browserCtx, browserCancel := chromedp.NewContext(f.allocator)
	stop := forwardCancel(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		browserCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return &Engine{cfg: f.cfg, browserCtx: browserCtx, browserCancel: browserCancel}, nil
}

// Close stops the allocator and every browser it launched.
func (f *Factory) Close() {
	f.allocCancel()
}

// Engine is one running browser. Each Fetch opens a fresh tab.
type Engine struct {
	cfg           Config
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// Fetch renders req.URL with the profile's disguise applied and returns the
// DOM snapshot.
func (e *Engine) Fetch(ctx context.Context, req crawler.RenderRequest) (crawler.Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(e.browserCtx)
	defer tabCancel()

	taskCtx, cancel := context.WithTimeout(tabCtx, e.cfg.NavigationTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	var finalURL string
	if err := chromedp.Run(taskCtx, setupAction(req.Profile), chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return crawler.Page{}, fmt.Errorf("chromedp navigate: %w", err)
	}
	if req.Hints.WaitSelector != "" {
		waitCtx, waitCancel := context.WithTimeout(taskCtx, e.cfg.WaitTimeout)
		_ = chromedp.Run(waitCtx, chromedp.WaitVisible(req.Hints.WaitSelector, chromedp.ByQuery))
		waitCancel()
	}
	html, err := capture(taskCtx, req.Hints, &finalURL)
	if err != nil {
		return crawler.Page{}, err
	}

	status, url := meta.snapshotWithFallbacks(req.URL, finalURL)
	return crawler.Page{
		URL:        url,
		StatusCode: status,
		Body:       []byte(html),
		Duration:   time.Since(start),
	}, nil
}

// Close shuts the browser down.
func (e *Engine) Close() error {
	e.browserCancel()
	return nil
}

func capture(ctx context.Context, hints crawler.RenderHints, finalURL *string) (string, error) {
	var html string
	actions := make([]chromedp.Action, 0, 4)
	if hints.Script != "" {
		var ignored any
		actions = append(actions, chromedp.Evaluate(hints.Script, &ignored))
	}
	if hints.Settle > 0 {
		actions = append(actions, chromedp.Sleep(hints.Settle))
	}
	actions = append(actions,
		chromedp.Location(finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", fmt.Errorf("chromedp capture: %w", err)
	}
	return html, nil
}

func setupAction(profile crawler.Profile) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if profile.UserAgent != "" {
			override := emulation.SetUserAgentOverride(profile.UserAgent)
			if profile.AcceptLanguage != "" {
				override = override.WithAcceptLanguage(profile.AcceptLanguage)
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if profile.Viewport.Width > 0 && profile.Viewport.Height > 0 {
			metrics := emulation.SetDeviceMetricsOverride(int64(profile.Viewport.Width), int64(profile.Viewport.Height), 1, false)
			if err := metrics.Do(ctx); err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
		}
		if headers := extraHeaders(profile); len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// extraHeaders carries the profile headers the user-agent override does not.
func extraHeaders(profile crawler.Profile) network.Headers {
	headers := network.Headers{}
	for key, value := range profile.Headers() {
		if key == "User-Agent" {
			continue
		}
		headers[key] = value
	}
	return headers
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 && m.status < 300 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
