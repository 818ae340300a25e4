package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/article-monitor/internal/crawler"
	"github.com/JakeFAU/article-monitor/internal/progress"
)

// PublisherSink serializes events as JSON and hands them to a message
// transport. Events are keyed by run id so a partitioned broker keeps a run's
// events in order.
type PublisherSink struct {
	publisher crawler.Publisher
	stages    map[progress.Stage]bool
}

// NewPublisherSink forwards the given stages (all stages when none are listed).
func NewPublisherSink(publisher crawler.Publisher, stages ...progress.Stage) *PublisherSink {
	var filter map[progress.Stage]bool
	if len(stages) > 0 {
		filter = make(map[progress.Stage]bool, len(stages))
		for _, st := range stages {
			filter[st] = true
		}
	}
	return &PublisherSink{publisher: publisher, stages: filter}
}

// Consume publishes each selected event; it keeps going after a failed publish
// and returns the joined errors.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		if s.stages != nil && !s.stages[evt.Stage] {
			continue
		}
		payload, err := json.Marshal(evt)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal event: %w", err))
			continue
		}
		if err := s.publisher.Publish(ctx, evt.RunID, payload); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", evt.Stage, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes the underlying publisher.
func (s *PublisherSink) Close(context.Context) error {
	if err := s.publisher.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	return nil
}
