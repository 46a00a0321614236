package headless

import (
	"context"

	"github.com/JakeFAU/webwrapper/internal/backend"
	"github.com/JakeFAU/webwrapper/internal/profile"
)

// Noop is a browser that is never available. It keeps a profile so the
// orchestrator can still be configured, but every session or page
// operation fails with backend.ErrBrowserUnavailable.
type Noop struct {
	*backend.State
}

// NewNoop creates a new Noop browser.
func NewNoop(p profile.Profile) *Noop {
	return &Noop{State: backend.NewState(p)}
}

// NoopFactory is a backend.Factory that always fails.
func NoopFactory(profile.Profile) (backend.Browser, error) {
	return nil, backend.ErrBrowserUnavailable
}

// Kind implements backend.Driver.
func (*Noop) Kind() backend.Kind { return backend.KindNoop }

// CreateSession always fails.
func (*Noop) CreateSession(context.Context) error { return backend.ErrBrowserUnavailable }

// Reset always fails.
func (*Noop) Reset(context.Context) error { return backend.ErrBrowserUnavailable }

// Quit is a no-op.
func (*Noop) Quit() error { return nil }

// RawFetch always fails.
func (*Noop) RawFetch(context.Context, backend.RawRequest) (*backend.RawResponse, error) {
	return nil, backend.ErrBrowserUnavailable
}

// PageMetrics always fails.
func (*Noop) PageMetrics(context.Context) (backend.PageMetrics, error) {
	return backend.PageMetrics{}, backend.ErrBrowserUnavailable
}

// ScrollTo always fails.
func (*Noop) ScrollTo(context.Context, int, int) error { return backend.ErrBrowserUnavailable }

// CaptureViewport always fails.
func (*Noop) CaptureViewport(context.Context) ([]byte, error) {
	return nil, backend.ErrBrowserUnavailable
}

// ElementBox always fails.
func (*Noop) ElementBox(context.Context, string) (backend.Rect, error) {
	return backend.Rect{}, backend.ErrBrowserUnavailable
}

// Evaluate always fails.
func (*Noop) Evaluate(context.Context, string, any) error { return backend.ErrBrowserUnavailable }
