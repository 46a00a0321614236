// Package rotator swaps an orchestrator's identity between retry attempts.
package rotator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/webwrapper/internal/metrics"
	"github.com/JakeFAU/webwrapper/internal/profile"
)

// ErrNotImplemented is returned by sources that cannot produce a value.
var ErrNotImplemented = errors.New("rotation source not implemented")

// ProxySource yields the next proxy to use.
type ProxySource interface {
	NewProxy(ctx context.Context) (*profile.Proxy, error)
}

// HeaderSource yields the next header set to use.
type HeaderSource interface {
	NewHeaders(ctx context.Context) (profile.Headers, error)
}

// Target is the part of a backend a rotation mutates.
type Target interface {
	SetProxy(*profile.Proxy)
	SetHeaders(profile.Headers)
}

// Rotator replaces the proxy and headers of a Target. Rotation failures are
// logged and never returned, so a retry always proceeds.
type Rotator struct {
	proxies ProxySource
	headers HeaderSource
	logger  *zap.Logger
}

// Option configures a Rotator.
type Option func(*Rotator)

// WithProxySource sets the proxy source.
func WithProxySource(s ProxySource) Option {
	return func(r *Rotator) { r.proxies = s }
}

// WithHeaderSource sets the header source.
func WithHeaderSource(s HeaderSource) Option {
	return func(r *Rotator) { r.headers = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Rotator) {
		if l != nil {
			r.logger = l
		}
	}
}

// New builds a Rotator. With no sources every Rotate is a logged no-op.
func New(opts ...Option) *Rotator {
	r := &Rotator{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("rotator")
	return r
}

// Rotate applies a fresh proxy and then fresh headers to t. A panicking
// source is logged and skipped like any other rotation failure.
func (r *Rotator) Rotate(ctx context.Context, t Target) {
	metrics.ObserveRotation()
	r.guard("proxy", func() { r.rotateProxy(ctx, t) })
	r.guard("headers", func() { r.rotateHeaders(ctx, t) })
}

func (r *Rotator) guard(step string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("rotation panicked", zap.String("step", step), zap.Any("panic", rec))
		}
	}()
	fn()
}

func (r *Rotator) rotateProxy(ctx context.Context, t Target) {
	if r.proxies == nil {
		r.logger.Warn("no proxy source configured, keeping current proxy")
		return
	}
	px, err := r.proxies.NewProxy(ctx)
	switch {
	case errors.Is(err, ErrNotImplemented):
		r.logger.Warn("proxy rotation not implemented, keeping current proxy")
		return
	case err != nil:
		r.logger.Error("proxy rotation failed", zap.Error(err))
		return
	}
	t.SetProxy(px)
	r.logger.Debug("proxy rotated", zap.Stringer("proxy", px))
}

func (r *Rotator) rotateHeaders(ctx context.Context, t Target) {
	if r.headers == nil {
		r.logger.Warn("no header source configured, keeping current headers")
		return
	}
	h, err := r.headers.NewHeaders(ctx)
	switch {
	case errors.Is(err, ErrNotImplemented):
		r.logger.Warn("header rotation not implemented, keeping current headers")
		return
	case err != nil:
		r.logger.Error("header rotation failed", zap.Error(err))
		return
	}
	t.SetHeaders(h)
	r.logger.Debug("headers rotated", zap.String("user_agent", h["User-Agent"]))
}
