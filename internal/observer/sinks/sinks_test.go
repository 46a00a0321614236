package sinks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	wobserver "github.com/JakeFAU/webwrapper/internal/observer"
	"github.com/JakeFAU/webwrapper/internal/publisher/memory"
)

func sampleEvent() wobserver.Event {
	return wobserver.Event{
		ID:         "evt-1",
		TS:         time.Unix(1700000000, 0).UTC(),
		Kind:       wobserver.KindFailure,
		URL:        "https://Shop.example/item",
		Attempt:    3,
		Backend:    "http",
		StatusCode: 503,
		Err:        "http status 503",
	}
}

func TestLogSinkWritesStructuredLine(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Observe(context.Background(), sampleEvent()))

	entries := logs.FilterMessage("failed url").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "failure", fields["kind"])
	require.Equal(t, int64(503), fields["status_code"])

	require.NoError(t, NewLogSink(nil).Observe(context.Background(), sampleEvent()))
}

func TestPrometheusSinkCounts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Observe(ctx, sampleEvent()))
	timeout := sampleEvent()
	timeout.Kind = wobserver.KindTimeout
	timeout.StatusCode = 0
	require.NoError(t, sink.Observe(ctx, timeout))

	require.InDelta(t, 1, testutil.ToFloat64(sink.failures.WithLabelValues("shop.example", "failure", "503")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(sink.failures.WithLabelValues("shop.example", "timeout", "none")), 0)

	expected := `
# HELP webwrapper_failed_urls_total Fetches that returned no result, partitioned by site, kind and status.
# TYPE webwrapper_failed_urls_total counter
webwrapper_failed_urls_total{kind="failure",site="shop.example",status="503"} 1
webwrapper_failed_urls_total{kind="timeout",site="shop.example",status="none"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "webwrapper_failed_urls_total"))

	_, err = NewPrometheusSink(reg)
	require.Error(t, err, "registering twice must fail")
}

func TestPubSubSinkPublishesEvent(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewPubSubSink(pub, nil)
	evt := sampleEvent()
	require.NoError(t, sink.Observe(context.Background(), evt))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "failure", msgs[0].Kind)
	require.Equal(t, evt, msgs[0].Payload)

	boom := errors.New("quota")
	pub.FailWith(boom)
	require.ErrorIs(t, sink.Observe(context.Background(), evt), boom)

	require.NoError(t, NewPubSubSink(nil, nil).Observe(context.Background(), evt))
}

type fakeRecorder struct {
	events []wobserver.Event
	err    error
}

func (f *fakeRecorder) RecordFailure(_ context.Context, evt wobserver.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, evt)
	return nil
}

func TestStoreSink(t *testing.T) {
	t.Parallel()

	repo := &fakeRecorder{}
	sink := NewStoreSink(repo)
	ctx := context.Background()

	require.NoError(t, sink.Observe(ctx, sampleEvent()))
	require.Len(t, repo.events, 1)

	require.Error(t, sink.Observe(ctx, wobserver.Event{}))
	require.Len(t, repo.events, 1)

	repo.err = errors.New("db down")
	require.ErrorIs(t, sink.Observe(ctx, sampleEvent()), repo.err)

	require.NoError(t, NewStoreSink(nil).Observe(ctx, sampleEvent()))
}

var (
	_ wobserver.Observer = (*LogSink)(nil)
	_ wobserver.Observer = (*PrometheusSink)(nil)
	_ wobserver.Observer = (*PubSubSink)(nil)
	_ wobserver.Observer = (*StoreSink)(nil)
)
