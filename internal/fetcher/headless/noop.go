package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// ErrDisabled is returned by engines from a NoopFactory.
var ErrDisabled = errors.New("browser rendering disabled")

// NoopFactory hands out engines that refuse to render. It is used when
// browser rendering is switched off; probe-only fetches still work.
type NoopFactory struct{}

// NewEngine returns an engine whose fetches fail permanently.
func (NoopFactory) NewEngine(context.Context) (crawler.Engine, error) {
	return noopEngine{}, nil
}

type noopEngine struct{}

func (noopEngine) Fetch(context.Context, crawler.RenderRequest) (crawler.Page, error) {
	return crawler.Page{}, crawler.NewFetchError(crawler.CategoryPermanent, ErrDisabled)
}

func (noopEngine) Close() error { return nil }
