package sinks

import (
	"context"
	"fmt"

	"github.com/JakeFAU/webwrapper/internal/observer"
)

// FailureRecorder persists failure events.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, evt observer.Event) error
}

// StoreSink persists failures via a FailureRecorder. Invalid events are
// rejected before they reach the store.
type StoreSink struct {
	repo FailureRecorder
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo FailureRecorder) *StoreSink {
	return &StoreSink{repo: repo}
}

// Observe implements observer.Observer.
func (s *StoreSink) Observe(ctx context.Context, evt observer.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid failure event: %w", err)
	}
	if err := s.repo.RecordFailure(ctx, evt); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}
