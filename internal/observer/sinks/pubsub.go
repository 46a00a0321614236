package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/webwrapper/internal/observer"
)

// Publisher is the subset of the Pub/Sub publisher used by PubSubSink.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any) (string, error)
}

// PubSubSink publishes every failure as a JSON message.
type PubSubSink struct {
	pub    Publisher
	logger *zap.Logger
}

// NewPubSubSink constructs a PubSubSink.
func NewPubSubSink(pub Publisher, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSink{pub: pub, logger: logger}
}

// Observe implements observer.Observer.
func (s *PubSubSink) Observe(ctx context.Context, evt observer.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	id, err := s.pub.Publish(ctx, string(evt.Kind), evt)
	if err != nil {
		return fmt.Errorf("publish failure event: %w", err)
	}
	s.logger.Debug("failure event published", zap.String("message_id", id), zap.String("url", evt.URL))
	return nil
}
