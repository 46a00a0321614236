// Package collybackend implements the plain HTTP backend on top of gocolly.
package collybackend

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/JakeFAU/webwrapper/internal/backend"
	"github.com/JakeFAU/webwrapper/internal/profile"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRedirects = 30
)

// Config controls collector behavior.
type Config struct {
	RespectRobots bool
	// MaxRedirects caps the redirect chain before it is treated as a loop.
	MaxRedirects int
	// MaxBodySize limits response bodies in bytes. Zero keeps colly's default.
	MaxBodySize int
	// Transport replaces the pooled transport. The profile proxy is ignored
	// when it is set.
	Transport http.RoundTripper
	// PersistResponseCookies folds Set-Cookie values from responses into
	// the profile. Otherwise the profile is the only cookie source.
	PersistResponseCookies bool
}

// Backend is the HTTP driver. Profile changes apply to the live collector
// without tearing it down.
type Backend struct {
	*backend.State

	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	base      *colly.Collector
	transport *http.Transport
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Backend seeded with p and opens its session.
func New(p profile.Profile, cfg Config, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	b := &Backend{
		State:  backend.NewState(p),
		cfg:    cfg,
		logger: logger.Named("colly"),
	}
	b.openLocked()
	return b
}

// Kind implements backend.Driver.
func (b *Backend) Kind() backend.Kind {
	return backend.KindHTTP
}

// CreateSession opens a collector if none is live.
func (b *Backend) CreateSession(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.base == nil {
		b.openLocked()
	}
	return nil
}

// Reset drops the collector, its cookie jar and pooled connections, and
// starts over with the default profile.
func (b *Backend) Reset(ctx context.Context) error {
	if err := b.Quit(); err != nil {
		return err
	}
	b.Replace(profile.New())
	b.TakeDirty()
	return b.CreateSession(ctx)
}

// Quit releases the collector and idle connections.
func (b *Backend) Quit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.transport != nil {
		b.transport.CloseIdleConnections()
	}
	b.base = nil
	b.transport = nil
	return nil
}

func (b *Backend) openLocked() {
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	// The profile owns cookies; a client jar would add ones it never saw.
	c.DisableCookies()
	c.IgnoreRobotsTxt = !b.cfg.RespectRobots
	if b.cfg.MaxBodySize > 0 {
		c.MaxBodySize = b.cfg.MaxBodySize
	}
	// Attempt deadlines come from the request context.
	c.SetRequestTimeout(0)

	maxRedirects := b.cfg.MaxRedirects
	c.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: stopped after %d redirects", backend.ErrRedirectLoop, len(via))
		}
		return nil
	})

	if b.cfg.Transport != nil {
		c.WithTransport(b.cfg.Transport)
	} else {
		b.transport = newHTTPTransport(b.proxyFor)
		c.WithTransport(b.transport)
	}
	b.base = c
}

func (b *Backend) proxyFor(req *http.Request) (*url.URL, error) {
	if px := b.Proxy(); px != nil {
		return px.URL(), nil
	}
	return http.ProxyFromEnvironment(req)
}

// RawFetch executes a single GET using a clone of the session collector.
func (b *Backend) RawFetch(ctx context.Context, req backend.RawRequest) (*backend.RawResponse, error) {
	b.mu.Lock()
	base := b.base
	b.mu.Unlock()
	if base == nil {
		return nil, backend.ErrSessionClosed
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snap := b.Snapshot()
	headers := snap.Headers.Merge(req.Headers)
	cookies := snap.Cookies.Clone()
	cookies.Put(req.Cookies.List()...)

	var (
		result   backend.RawResponse
		fetchErr error
	)
	collector := b.buildCollector(attemptCtx, base, req.Extra)
	b.configureCollectorHooks(collector, headers, cookies, &result, &fetchErr)

	if err := b.runCollector(attemptCtx, collector, req.URL, &fetchErr); err != nil {
		return nil, backend.ClassifyNetError(req.URL, err)
	}
	b.logger.Debug("fetched",
		zap.String("url", result.URL),
		zap.Int("status", result.StatusCode),
		zap.Int("bytes", len(result.Body)),
	)
	return &result, backend.CheckStatus(result.StatusCode)
}

func (b *Backend) buildCollector(ctx context.Context, base *colly.Collector, extra map[string]any) *colly.Collector {
	collector := base.Clone()
	collector.Context = ctx
	if v, ok := extra["respect_robots"]; ok {
		collector.IgnoreRobotsTxt = !cast.ToBool(v)
	}
	if v, ok := extra["max_body_size"]; ok {
		if size := cast.ToInt(v); size > 0 {
			collector.MaxBodySize = size
		}
	}
	return collector
}

func (b *Backend) configureCollectorHooks(
	hooks collectorHooks,
	headers profile.Headers,
	cookies profile.Cookies,
	result *backend.RawResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(headers, cookies, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		if b.cfg.PersistResponseCookies && r.Headers != nil {
			if set := responseCookies(*r.Headers); len(set) > 0 {
				b.UpdateCookies(set...)
			}
		}
		*result = backend.RawResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (b *Backend) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// copyHeaders makes the outgoing header set exactly the merged profile
// headers plus the cookie header.
func copyHeaders(headers profile.Headers, cookies profile.Cookies, r *colly.Request) {
	if r.Headers == nil {
		r.Headers = &http.Header{}
	}
	for key := range *r.Headers {
		r.Headers.Del(key)
	}
	for key, value := range headers {
		r.Headers.Set(key, value)
	}
	if len(cookies) > 0 {
		r.Headers.Set("Cookie", cookies.Header())
	}
}

// responseCookies converts Set-Cookie headers into profile cookies.
// Deletions (Max-Age < 0) are skipped.
func responseCookies(h http.Header) []profile.Cookie {
	parsed := (&http.Response{Header: h}).Cookies()
	out := make([]profile.Cookie, 0, len(parsed))
	for _, ck := range parsed {
		if ck.MaxAge < 0 {
			continue
		}
		out = append(out, profile.Cookie{Name: ck.Name, Value: ck.Value, Domain: ck.Domain, Path: ck.Path})
	}
	return out
}

func newHTTPTransport(proxy func(*http.Request) (*url.URL, error)) *http.Transport {
	return &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
