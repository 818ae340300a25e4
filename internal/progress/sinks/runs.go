package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-monitor/internal/crawler"
	"github.com/JakeFAU/article-monitor/internal/progress"
)

// RunStoreSink persists the final snapshot of each run.
type RunStoreSink struct {
	store  crawler.RunStore
	logger *zap.Logger
}

// NewRunStoreSink constructs a RunStoreSink for the provided store.
func NewRunStoreSink(store crawler.RunStore, logger *zap.Logger) *RunStoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunStoreSink{store: store, logger: logger}
}

// Consume records every RUN_DONE snapshot and ignores other stages.
func (s *RunStoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Stage != progress.StageRunDone || evt.Run == nil {
			continue
		}
		if err := s.store.RecordRun(ctx, *evt.Run); err != nil {
			return fmt.Errorf("record run %s: %w", evt.RunID, err)
		}
		s.logger.Debug("run recorded", zap.String("run_id", evt.RunID))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *RunStoreSink) Close(context.Context) error {
	return nil
}
