package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-monitor/internal/progress"
)

// LogSink writes one structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch. Failures log at Warn, everything else
// at Debug so routine runs stay quiet.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL), zap.String("platform", evt.Platform))
		}
		if evt.Category != "" {
			fields = append(fields, zap.String("category", string(evt.Category)), zap.Int("attempt", evt.Attempt))
		}
		if evt.Value > 0 {
			fields = append(fields, zap.Int64("value", evt.Value))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Run != nil {
			fields = append(fields,
				zap.String("state", string(evt.Run.State)),
				zap.Int("total", evt.Run.Total),
				zap.Int("success", evt.Run.SuccessCount),
				zap.Int("failed", evt.Run.FailedCount),
			)
		}
		switch evt.Stage {
		case progress.StageTargetFailed:
			s.logger.Warn("crawl event", fields...)
		case progress.StageRunStart, progress.StageRunDone:
			s.logger.Info("crawl event", fields...)
		default:
			s.logger.Debug("crawl event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
