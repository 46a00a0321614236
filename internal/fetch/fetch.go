package fetch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/webwrapper/internal/backend"
	"github.com/JakeFAU/webwrapper/internal/coerce"
	"github.com/JakeFAU/webwrapper/internal/metrics"
	"github.com/JakeFAU/webwrapper/internal/observer"
	"github.com/JakeFAU/webwrapper/internal/profile"
)

// Fetch retrieves rawURL through the driver and returns the body coerced to
// the requested format.
//
// Only three outcomes produce an error: an empty URL (ErrNilURL), a status
// listed in ReturnOnError (*backend.HTTPStatusError), and ctx ending. Every
// other failure is logged, reported to the observer, and returned as nil, nil.
func (o *Orchestrator) Fetch(ctx context.Context, rawURL string, opts ...RequestOption) (any, error) {
	if rawURL == "" {
		return nil, ErrNilURL
	}
	req := newRequest(opts)
	target := NormalizeURL(rawURL)
	log := o.logger.With(zap.String("url", target))

	ctx, span := otel.Tracer(tracerName).Start(ctx, "fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("url.full", target),
		attribute.String("fetch.backend", string(o.driver.Kind())),
		attribute.String("fetch.format", string(req.format)),
	)

	var cookies profile.Cookies
	if req.cookies != nil {
		c, err := profile.NewCookies(req.cookies)
		if err != nil {
			return nil, fmt.Errorf("cookies: %w", err)
		}
		cookies = c
	}
	extra, dropped := splitExtra(req.extra)
	if len(dropped) > 0 {
		log.Warn("ignoring extra args owned by fetch", zap.Strings("keys", dropped))
	}

	kind := string(o.driver.Kind())
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		o.last = Response{}
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx, target); err != nil {
				return nil, canceled(target, err)
			}
		}

		metrics.ObserveAttempt(target, kind)
		span.SetAttributes(attribute.Int("fetch.attempt", attempt))
		resp, err := o.driver.RawFetch(ctx, backend.RawRequest{
			URL:     target,
			Headers: req.headers,
			Cookies: cookies,
			Timeout: req.timeout,
			Extra:   extra,
		})
		if resp != nil {
			o.last = Response{StatusCode: resp.StatusCode, URL: resp.URL, Body: resp.Body}
		}
		if err == nil {
			return o.succeed(ctx, log, target, attempt, req.format)
		}
		if ctx.Err() != nil {
			return nil, canceled(target, ctx.Err())
		}

		canRetry := req.retry && attempt < o.maxAttempts
		log := log.With(zap.Int("attempt", attempt), zap.String("backend", kind))

		var (
			transportErr *backend.TransportError
			redirectErr  *backend.RedirectLoopError
			statusErr    *backend.HTTPStatusError
		)
		switch {
		case errors.As(err, &transportErr):
			if canRetry {
				log.Info("connection failed, retrying", zap.Error(err))
				if err := o.backoff(ctx, o.transportBackoff); err != nil {
					return nil, canceled(target, err)
				}
				continue
			}
			evtKind := observer.KindFailure
			if transportErr.Timeout() {
				evtKind = observer.KindTimeout
			}
			log.Error("connection failed, giving up", zap.Error(err))
			o.notify(ctx, evtKind, target, attempt, 0, err)
			metrics.ObserveOutcome(target, metrics.OutcomeExhausted)
			return nil, nil

		case errors.As(err, &redirectErr):
			log.Error("redirect loop", zap.Error(err))
			o.notify(ctx, observer.KindFailure, target, attempt, 0, err)
			metrics.ObserveOutcome(target, metrics.OutcomeRedirect)
			return nil, nil

		case errors.As(err, &statusErr):
			if slices.Contains(req.returnOnError, statusErr.Code) {
				metrics.ObserveOutcome(target, metrics.OutcomeAllowed)
				return nil, statusErr
			}
			if canRetry {
				log.Info("http error, retrying", zap.Int("status", statusErr.Code))
				if err := o.backoff(ctx, o.statusBackoff); err != nil {
					return nil, canceled(target, err)
				}
				continue
			}
			log.Warn("http error", zap.Int("status", statusErr.Code))
			o.notify(ctx, observer.KindFailure, target, attempt, statusErr.Code, err)
			metrics.ObserveOutcome(target, metrics.OutcomeExhausted)
			return nil, nil

		default:
			log.Error("unknown fetch error", zap.Error(err))
			o.notify(ctx, observer.KindFailure, target, attempt, 0, err)
			metrics.ObserveOutcome(target, metrics.OutcomeUnknown)
			return nil, nil
		}
	}
	// Unreachable: the final attempt never continues.
	return nil, nil
}

func (o *Orchestrator) succeed(ctx context.Context, log *zap.Logger, target string, attempt int, f coerce.Format) (any, error) {
	val, err := coerce.Coerce(o.last.Body, f)
	if err != nil {
		log.Error("unknown fetch error", zap.Int("attempt", attempt), zap.Error(err))
		o.notify(ctx, observer.KindFailure, target, attempt, 0, err)
		metrics.ObserveOutcome(target, metrics.OutcomeUnknown)
		return nil, nil
	}
	o.lastOK = o.last.URL
	if o.lastOK == "" {
		o.lastOK = target
	}
	metrics.ObserveOutcome(target, metrics.OutcomeSuccess)
	return val, nil
}

// backoff pauses and then rotates the profile so the next attempt never
// reuses the identity that just failed.
func (o *Orchestrator) backoff(ctx context.Context, d time.Duration) error {
	if err := o.sleeper.Sleep(ctx, d); err != nil {
		return err
	}
	o.rotator.Rotate(ctx, o.driver)
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, kind observer.Kind, target string, attempt, status int, cause error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(cause)
	span.SetStatus(codes.Error, string(kind))
	if o.observer == nil {
		return
	}
	id, err := o.ids.NewID()
	if err != nil {
		o.logger.Warn("event id generation failed", zap.Error(err))
	}
	evt := observer.Event{
		ID:         id,
		TS:         o.clock.Now(),
		Kind:       kind,
		URL:        target,
		Attempt:    attempt,
		Backend:    string(o.driver.Kind()),
		StatusCode: status,
		Err:        cause.Error(),
	}
	if err := o.observer.Observe(ctx, evt); err != nil {
		o.logger.Warn("failure observer returned an error", zap.String("url", target), zap.Error(err))
	}
}

func canceled(target string, err error) error {
	metrics.ObserveOutcome(target, metrics.OutcomeCanceled)
	return fmt.Errorf("fetch %s: %w", target, err)
}
