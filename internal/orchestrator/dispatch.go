package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-monitor/internal/crawler"
	"github.com/JakeFAU/article-monitor/internal/metrics"
	"github.com/JakeFAU/article-monitor/internal/progress"
	"github.com/JakeFAU/article-monitor/internal/scheduler"
)

// runHooks routes per-target milestones. Tracked runs persist outcomes and
// update the shared progress; ad-hoc crawls only collect outcomes.
type runHooks struct {
	runID     string
	tracked   bool
	o         *Orchestrator
	onOutcome func(crawler.Outcome)
}

func (h runHooks) attempting(target crawler.Target) {
	if !h.tracked {
		return
	}
	h.o.mu.Lock()
	h.o.progress.CurrentURL = target.URL
	h.o.mu.Unlock()
}

func (h runHooks) finished(outcome crawler.Outcome) {
	if h.tracked {
		h.o.mu.Lock()
		h.o.progress.Current++
		if outcome.OK {
			h.o.progress.SuccessCount++
			if outcome.Attempts > 1 {
				h.o.progress.RetriedCount++
			}
		} else {
			h.o.progress.FailedCount++
		}
		h.o.mu.Unlock()
	}
	if h.onOutcome != nil {
		h.onOutcome(outcome)
	}
}

// dispatch admits targets one by one, checking ctx before each admission,
// and waits for every admitted target to reach a terminal state.
func (o *Orchestrator) dispatch(ctx context.Context, targets []crawler.Target, hooks runHooks) {
	var wg sync.WaitGroup
	for _, target := range o.deps.Scheduler.Order(targets) {
		if ctx.Err() != nil {
			break
		}
		slot, err := o.deps.Scheduler.Acquire(ctx, target.Domain)
		if err != nil {
			o.logger.Debug("admission stopped", zap.String("run_id", hooks.runID), zap.Error(err))
			break
		}
		if ctx.Err() != nil {
			slot.Release()
			break
		}
		wg.Add(1)
		go func(target crawler.Target, slot *scheduler.Slot) {
			defer wg.Done()
			defer slot.Release()
			hooks.finished(o.crawlTarget(ctx, target, hooks))
		}(target, slot)
	}
	wg.Wait()
}

// crawlTarget retries one target until success or give-up. Fetches run on a
// context detached from ctx so cancellation never interrupts a fetch; ctx only
// cuts short the wait before a retry.
func (o *Orchestrator) crawlTarget(ctx context.Context, target crawler.Target, hooks runHooks) (outcome crawler.Outcome) {
	ctx, span := tracer.Start(ctx, "crawl.target", trace.WithAttributes(
		attribute.String("run_id", hooks.runID),
		attribute.String("url", target.URL),
		attribute.String("platform", target.Platform),
	))
	defer func() {
		span.SetAttributes(attribute.Int("attempts", outcome.Attempts))
		if !outcome.OK {
			span.SetStatus(codes.Error, outcome.Error)
		}
		span.End()
	}()
	fetchCtx := context.WithoutCancel(ctx)
	for n := 1; ; n++ {
		hooks.attempting(target)
		started := time.Now()
		result, err := o.attempt(fetchCtx, target)
		if err == nil {
			metrics.ObserveAttempt("ok")
			if result.Duration == 0 {
				result.Duration = time.Since(started)
			}
			return o.succeed(fetchCtx, target, result, n, hooks)
		}

		category := crawler.CategoryOf(err)
		metrics.ObserveAttempt(string(category))
		decision := o.deps.Retry.Decide(crawler.Attempt{Category: category, Number: n})
		if !decision.Retry || ctx.Err() != nil {
			return o.fail(fetchCtx, target, err, category, n, hooks)
		}
		o.deps.Events.Emit(progress.Event{
			RunID:    hooks.runID,
			TS:       o.deps.Clock.Now(),
			Stage:    progress.StageTargetRetry,
			URL:      target.URL,
			Domain:   target.Domain,
			Platform: target.Platform,
			Category: category,
			Attempt:  n,
			Dur:      decision.Delay,
			Note:     err.Error(),
		})
		o.logger.Debug("retrying target",
			zap.String("url", target.URL),
			zap.String("category", string(category)),
			zap.Int("attempt", n),
			zap.Duration("delay", decision.Delay),
			zap.Error(err),
		)
		if sleepErr := o.sleep(ctx, decision.Delay); sleepErr != nil {
			return o.fail(fetchCtx, target, err, category, n, hooks)
		}
	}
}

// attempt performs one leased, disguised fetch.
func (o *Orchestrator) attempt(ctx context.Context, target crawler.Target) (crawler.FetchResult, error) {
	lease, err := o.deps.Pool.Acquire(ctx)
	if err != nil {
		return crawler.FetchResult{}, crawler.NewFetchError(crawler.CategoryNetwork, err)
	}
	defer lease.Release()

	profile := o.deps.Disguise.NextProfile()
	if err := o.sleep(ctx, o.deps.Disguise.DelayBeforeRequest()); err != nil {
		return crawler.FetchResult{}, crawler.NewFetchError(crawler.CategoryNetwork, err)
	}
	if o.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.FetchTimeout)
		defer cancel()
	}
	result, err := o.deps.Fetcher.Fetch(ctx, target, profile, lease.Engine())
	if err != nil {
		return crawler.FetchResult{}, fmt.Errorf("fetch %s: %w", target.URL, err)
	}
	return result, nil
}

func (o *Orchestrator) succeed(ctx context.Context, target crawler.Target, result crawler.FetchResult, attempts int, hooks runHooks) crawler.Outcome {
	now := o.deps.Clock.Now()
	if hooks.tracked {
		if err := o.deps.Store.RecordSuccess(ctx, target, result.Value, result.Title, now); err != nil {
			o.logger.Error("record success failed", zap.String("url", target.URL), zap.Error(err))
		}
		o.archive(ctx, target, result.Raw, now)
	}
	metrics.ObserveTarget(target.URL, "ok")
	o.deps.Events.Emit(progress.Event{
		RunID:    hooks.runID,
		TS:       now,
		Stage:    progress.StageTargetOK,
		URL:      target.URL,
		Domain:   target.Domain,
		Platform: target.Platform,
		Attempt:  attempts,
		Value:    result.Value,
		Dur:      result.Duration,
	})
	o.logger.Info("target crawled",
		zap.String("url", target.URL),
		zap.Int64("value", result.Value),
		zap.Int("attempts", attempts),
		zap.Bool("browser", result.UsedBrowser),
	)
	return crawler.Outcome{URL: target.URL, Value: result.Value, Title: result.Title, OK: true, Attempts: attempts}
}

func (o *Orchestrator) fail(ctx context.Context, target crawler.Target, cause error, category crawler.Category, attempts int, hooks runHooks) crawler.Outcome {
	now := o.deps.Clock.Now()
	errText := cause.Error()
	if hooks.tracked {
		if err := o.deps.Store.RecordFailure(ctx, target, errText, category, now); err != nil {
			o.logger.Error("record failure failed", zap.String("url", target.URL), zap.Error(err))
		}
	}
	metrics.ObserveTarget(target.URL, "failed")
	o.deps.Events.Emit(progress.Event{
		RunID:    hooks.runID,
		TS:       now,
		Stage:    progress.StageTargetFailed,
		URL:      target.URL,
		Domain:   target.Domain,
		Platform: target.Platform,
		Category: category,
		Attempt:  attempts,
		Note:     errText,
	})
	o.logger.Warn("target failed",
		zap.String("url", target.URL),
		zap.String("category", string(category)),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	return crawler.Outcome{URL: target.URL, OK: false, Error: errText, Category: category, Attempts: attempts}
}

func (o *Orchestrator) archive(ctx context.Context, target crawler.Target, raw []byte, at time.Time) {
	if o.deps.Archive == nil || len(raw) == 0 {
		return
	}
	key := fmt.Sprintf("%d", at.UnixNano())
	if o.deps.Hasher != nil {
		if digest, err := o.deps.Hasher.Hash(raw); err == nil {
			key = digest
		}
	}
	platform := target.Platform
	if platform == "" {
		platform = "unknown"
	}
	path := fmt.Sprintf("%s/%s.html", platform, key)
	if o.cfg.ArchivePrefix != "" {
		path = o.cfg.ArchivePrefix + "/" + path
	}
	uri, err := o.deps.Archive.PutObject(ctx, path, "text/html; charset=utf-8", raw)
	if err != nil {
		o.logger.Warn("archive page failed", zap.String("url", target.URL), zap.Error(err))
		return
	}
	o.logger.Debug("page archived", zap.String("url", target.URL), zap.String("uri", uri))
}
