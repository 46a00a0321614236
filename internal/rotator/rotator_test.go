package rotator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/webwrapper/internal/profile"
)

type fakeTarget struct {
	calls   []string
	proxy   *profile.Proxy
	headers profile.Headers
}

func (f *fakeTarget) SetProxy(p *profile.Proxy) {
	f.calls = append(f.calls, "proxy")
	f.proxy = p
}

func (f *fakeTarget) SetHeaders(h profile.Headers) {
	f.calls = append(f.calls, "headers")
	f.headers = h
}

type proxyFunc func(context.Context) (*profile.Proxy, error)

func (f proxyFunc) NewProxy(ctx context.Context) (*profile.Proxy, error) { return f(ctx) }

type headerFunc func(context.Context) (profile.Headers, error)

func (f headerFunc) NewHeaders(ctx context.Context) (profile.Headers, error) { return f(ctx) }

func TestRotateAppliesProxyThenHeaders(t *testing.T) {
	t.Parallel()

	r := New(
		WithProxySource(proxyFunc(func(context.Context) (*profile.Proxy, error) {
			return &profile.Proxy{Scheme: "http", Host: "p1", Port: "8080"}, nil
		})),
		WithHeaderSource(headerFunc(func(context.Context) (profile.Headers, error) {
			return profile.Headers{"User-Agent": "ua-1"}, nil
		})),
	)
	target := &fakeTarget{}
	r.Rotate(context.Background(), target)

	require.Equal(t, []string{"proxy", "headers"}, target.calls)
	require.Equal(t, "p1", target.proxy.Host)
	require.Equal(t, profile.Headers{"User-Agent": "ua-1"}, target.headers)
}

func TestRotateSwallowsFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	r := New(
		WithLogger(zap.New(core)),
		WithProxySource(proxyFunc(func(context.Context) (*profile.Proxy, error) {
			return nil, ErrNotImplemented
		})),
		WithHeaderSource(headerFunc(func(context.Context) (profile.Headers, error) {
			return nil, errors.New("header service down")
		})),
	)
	target := &fakeTarget{}
	r.Rotate(context.Background(), target)

	require.Empty(t, target.calls)
	require.Equal(t, 1, logs.FilterMessage("proxy rotation not implemented, keeping current proxy").Len())
	require.Equal(t, 1, logs.FilterMessage("header rotation failed").Len())
}

func TestRotateWithoutSourcesIsNoop(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	r := New(WithLogger(zap.New(core)))
	target := &fakeTarget{}
	r.Rotate(context.Background(), target)

	require.Empty(t, target.calls)
	require.Equal(t, 2, logs.Len())
}

func TestRoundRobinProxies(t *testing.T) {
	t.Parallel()

	src, err := NewRoundRobinProxies([]string{"p1:8080", "https://user:pw@p2:443"})
	require.NoError(t, err)

	ctx := context.Background()
	first, err := src.NewProxy(ctx)
	require.NoError(t, err)
	second, err := src.NewProxy(ctx)
	require.NoError(t, err)
	third, err := src.NewProxy(ctx)
	require.NoError(t, err)

	require.Equal(t, "p1", first.Host)
	require.Equal(t, "p2", second.Host)
	require.True(t, second.HasAuth())
	require.Equal(t, "p1", third.Host)

	third.Host = "mutated"
	again, err := src.NewProxy(ctx)
	require.NoError(t, err)
	require.Equal(t, "p2", again.Host)

	_, err = NewRoundRobinProxies([]string{""})
	require.Error(t, err)

	empty, err := NewRoundRobinProxies(nil)
	require.NoError(t, err)
	_, err = empty.NewProxy(ctx)
	require.ErrorIs(t, err, ErrNotImplemented)
}

func TestRoundRobinUserAgents(t *testing.T) {
	t.Parallel()

	base := profile.DefaultHeaders()
	src := NewRoundRobinUserAgents(base, []string{"ua-a", "ua-b"})
	ctx := context.Background()

	h1, err := src.NewHeaders(ctx)
	require.NoError(t, err)
	h2, err := src.NewHeaders(ctx)
	require.NoError(t, err)
	h3, err := src.NewHeaders(ctx)
	require.NoError(t, err)

	require.Equal(t, "ua-a", h1["User-Agent"])
	require.Equal(t, "ua-b", h2["User-Agent"])
	require.Equal(t, "ua-a", h3["User-Agent"])
	require.Equal(t, "*/*", h1["Accept"])
	require.Equal(t, "webwrapper/1.0", base["User-Agent"])

	_, err = NewRoundRobinUserAgents(base, nil).NewHeaders(ctx)
	require.ErrorIs(t, err, ErrNotImplemented)
}

func TestRotateRecoversPanickingSource(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	r := New(
		WithLogger(zap.New(core)),
		WithProxySource(proxyFunc(func(context.Context) (*profile.Proxy, error) {
			panic("proxy pool exploded")
		})),
		WithHeaderSource(headerFunc(func(context.Context) (profile.Headers, error) {
			return profile.Headers{"User-Agent": "ua-1"}, nil
		})),
	)
	target := &fakeTarget{}
	require.NotPanics(t, func() { r.Rotate(context.Background(), target) })

	require.Equal(t, []string{"headers"}, target.calls, "header rotation still runs")
	entries := logs.FilterMessage("rotation panicked").All()
	require.Len(t, entries, 1)
	require.Equal(t, "proxy", entries[0].ContextMap()["step"])
}

func TestSourcesStartAt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	proxies, err := NewRoundRobinProxies([]string{"p0:1", "p1:1", "p2:1"})
	require.NoError(t, err)
	px, err := proxies.StartAt(4).NewProxy(ctx)
	require.NoError(t, err)
	require.Equal(t, "p1", px.Host)

	agents := NewRoundRobinUserAgents(profile.DefaultHeaders(), []string{"ua-0", "ua-1"})
	h, err := agents.StartAt(1).NewHeaders(ctx)
	require.NoError(t, err)
	require.Equal(t, "ua-1", h["User-Agent"])

	h, err = agents.StartAt(-3).NewHeaders(ctx)
	require.NoError(t, err)
	require.Equal(t, "ua-0", h["User-Agent"])
}
