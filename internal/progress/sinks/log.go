// Package sinks contains progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/quizbot/quizsolver/internal/progress"
)

// LogSink writes every progress event to a structured logger. Intended
// for development; production deployments rely on the Prometheus sink.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Info("progress",
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.String("site", evt.Site),
			zap.String("outcome", evt.Outcome),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
