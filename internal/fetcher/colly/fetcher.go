// Package collyfetcher implements the lightweight HTTP probe using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	Timeout time.Duration
}

// Prober implements crawler.Prober using the Colly collector.
type Prober struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Prober.
func New(cfg Config) *Prober {
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Prober{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Probe executes a single HTTP GET with the disguise profile applied. Error
// statuses are returned as pages so callers can classify them; only transport
// failures are errors.
func (p *Prober) Probe(ctx context.Context, rawURL string, profile crawler.Profile) (crawler.Page, error) {
	var (
		result   crawler.Page
		fetchErr error
	)
	start := time.Now()
	collector := p.buildCollector(profile, start, &result, &fetchErr)
	if err := p.runCollector(ctx, collector, rawURL, &result, &fetchErr); err != nil {
		return crawler.Page{}, err
	}
	return result, nil
}

func (p *Prober) buildCollector(
	profile crawler.Profile,
	start time.Time,
	result *crawler.Page,
	fetchErr *error,
) *colly.Collector {
	collector := p.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	if profile.UserAgent != "" {
		collector.UserAgent = profile.UserAgent
	}
	timeout := p.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	p.configureCollectorHooks(collector, profile, start, result, fetchErr)
	return collector
}

func (p *Prober) configureCollectorHooks(
	hooks collectorHooks,
	profile crawler.Profile,
	start time.Time,
	result *crawler.Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(profile, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = pageFrom(r, start)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			*result = pageFrom(r, start)
			return
		}
		*fetchErr = err
	})
}

func pageFrom(r *colly.Response, start time.Time) crawler.Page {
	page := crawler.Page{
		StatusCode: r.StatusCode,
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(start),
	}
	if r.Request != nil && r.Request.URL != nil {
		page.URL = r.Request.URL.String()
	}
	return page
}

func (p *Prober) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	url string,
	result *crawler.Page,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("probe response failed: %w", *fetchErr)
		}
		if err != nil && result.StatusCode == 0 {
			return fmt.Errorf("probe visit failed: %w", err)
		}
		return nil
	}
}

func copyHeaders(profile crawler.Profile, r *colly.Request) {
	for key, value := range profile.Headers() {
		r.Headers.Set(key, value)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
