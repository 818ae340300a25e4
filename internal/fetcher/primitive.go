// Package fetcher implements the fetch+extract primitive: an optional cheap
// probe, promotion to a pooled browser engine, counter extraction and failure
// classification.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// Config toggles the probe stage.
type Config struct {
	ProbeEnabled bool
}

// reasoner is implemented by detectors that can explain a promotion.
type reasoner interface {
	Reason(page crawler.Page) string
}

// Primitive implements crawler.Fetcher.
type Primitive struct {
	cfg        Config
	prober     crawler.Prober
	detector   crawler.RenderDetector
	extractors crawler.ExtractorRegistry
	logger     *zap.Logger
}

// New builds a Primitive. prober and detector may be nil; without a prober
// every fetch goes to the browser engine.
func New(
	cfg Config,
	prober crawler.Prober,
	detector crawler.RenderDetector,
	extractors crawler.ExtractorRegistry,
	logger *zap.Logger,
) (*Primitive, error) {
	if extractors == nil {
		return nil, errors.New("fetcher: extractor registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Primitive{
		cfg:        cfg,
		prober:     prober,
		detector:   detector,
		extractors: extractors,
		logger:     logger.Named("fetcher"),
	}, nil
}

// Fetch reads the target's counter. The probe result is used when it returns
// a static page the extractor understands; otherwise the leased engine renders
// the page. Every returned error carries a retry category.
func (p *Primitive) Fetch(
	ctx context.Context,
	target crawler.Target,
	profile crawler.Profile,
	engine crawler.Engine,
) (crawler.FetchResult, error) {
	extractor, ok := p.extractors.Lookup(target.Platform)
	if !ok {
		return crawler.FetchResult{}, crawler.NewFetchError(crawler.CategoryPermanent,
			fmt.Errorf("%w: %s", crawler.ErrUnsupportedPlatform, target.Platform))
	}
	start := time.Now()

	if p.cfg.ProbeEnabled && p.prober != nil {
		result, done, err := p.probe(ctx, target, profile, extractor)
		if done {
			result.Duration = time.Since(start)
			return result, err
		}
	}

	if engine == nil {
		return crawler.FetchResult{}, crawler.NewFetchError(crawler.CategoryNetwork, errors.New("no engine leased"))
	}
	page, err := engine.Fetch(ctx, crawler.RenderRequest{URL: target.URL, Profile: profile, Hints: extractor.Hints()})
	if err != nil {
		return crawler.FetchResult{}, Classify(err)
	}
	if err := StatusError(page.StatusCode); err != nil {
		return crawler.FetchResult{}, err
	}
	extraction, err := extractor.Extract(target.URL, page.Body)
	if err != nil {
		return crawler.FetchResult{}, crawler.NewFetchError(crawler.CategoryParse, err)
	}
	return crawler.FetchResult{
		Value:       extraction.Value,
		Title:       extraction.Title,
		Raw:         page.Body,
		StatusCode:  page.StatusCode,
		UsedBrowser: true,
		Duration:    time.Since(start),
	}, nil
}

// probe reports done when the probe alone settles the attempt, either with a
// value or with a permanent status.
func (p *Primitive) probe(
	ctx context.Context,
	target crawler.Target,
	profile crawler.Profile,
	extractor crawler.Extractor,
) (crawler.FetchResult, bool, error) {
	page, err := p.prober.Probe(ctx, target.URL, profile)
	if err != nil {
		p.logger.Debug("probe failed, rendering", zap.String("url", target.URL), zap.Error(err))
		return crawler.FetchResult{}, false, nil
	}
	if err := StatusError(page.StatusCode); err != nil {
		if crawler.CategoryOf(err) == crawler.CategoryPermanent {
			return crawler.FetchResult{}, true, err
		}
		return crawler.FetchResult{}, false, nil
	}
	if p.detector != nil && p.detector.NeedsRender(page) {
		fields := []zap.Field{zap.String("url", target.URL)}
		if r, ok := p.detector.(reasoner); ok {
			fields = append(fields, zap.String("reason", r.Reason(page)))
		}
		p.logger.Debug("probe promoted to browser", fields...)
		return crawler.FetchResult{}, false, nil
	}
	extraction, err := extractor.Extract(target.URL, page.Body)
	if err != nil {
		p.logger.Debug("probe extraction failed, rendering", zap.String("url", target.URL), zap.Error(err))
		return crawler.FetchResult{}, false, nil
	}
	return crawler.FetchResult{
		Value:      extraction.Value,
		Title:      extraction.Title,
		Raw:        page.Body,
		StatusCode: page.StatusCode,
	}, true, nil
}
