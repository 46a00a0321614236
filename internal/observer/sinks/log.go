// Package sinks contains observer.Observer implementations that record
// fetch failures.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/webwrapper/internal/observer"
)

// LogSink emits one structured log line per failure.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the observer interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Observe implements observer.Observer.
func (s *LogSink) Observe(_ context.Context, evt observer.Event) error {
	s.logger.Warn("failed url",
		zap.String("id", evt.ID),
		zap.String("kind", string(evt.Kind)),
		zap.String("url", evt.URL),
		zap.Int("attempt", evt.Attempt),
		zap.String("backend", evt.Backend),
		zap.Int("status_code", evt.StatusCode),
		zap.String("error", evt.Err),
	)
	return nil
}
