// Package observer defines the failure notifications emitted by the fetch
// orchestrator.
package observer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure notification.
type Kind string

// Supported notification kinds.
const (
	// KindTimeout reports a navigation or transport timeout that ended a fetch.
	KindTimeout Kind = "timeout"
	// KindFailure reports any other fetch that returned no result.
	KindFailure Kind = "failure"
)

// Event describes a fetch that ended without a result.
type Event struct {
	// ID is a UUIDv7 assigned by the orchestrator.
	ID string `json:"id"`
	// TS is the UTC time the failure was recorded.
	TS   time.Time `json:"ts"`
	Kind Kind      `json:"kind"`
	// URL is the normalized request URL.
	URL string `json:"url"`
	// Attempt is the attempt number that produced the failure.
	Attempt int    `json:"attempt"`
	Backend string `json:"backend"`
	// StatusCode is set for exhausted HTTP status failures.
	StatusCode int `json:"status_code,omitempty"`
	// Err carries the error text; it must not contain credentials.
	Err string `json:"error,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.URL == "" {
		return errors.New("url is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindTimeout, KindFailure:
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Attempt < 1 {
		return errors.New("attempt must be >= 1")
	}
	return nil
}

// Observer receives failure notifications. Implementations must not block
// for long; the orchestrator calls them inline.
type Observer interface {
	Observe(ctx context.Context, evt Event) error
}

// Func adapts a plain function to the Observer interface.
type Func func(ctx context.Context, evt Event) error

// Observe calls f.
func (f Func) Observe(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Multi fans an event out to every observer and joins their errors.
type Multi []Observer

// Observe implements Observer.
func (m Multi) Observe(ctx context.Context, evt Event) error {
	var errs []error
	for _, o := range m {
		if o == nil {
			continue
		}
		if err := o.Observe(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
