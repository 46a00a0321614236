package sinks

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/webwrapper/internal/metrics"
	"github.com/JakeFAU/webwrapper/internal/observer"
)

// PrometheusSink counts failures by site, kind and status.
type PrometheusSink struct {
	failures *prometheus.CounterVec
	attempts *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webwrapper_failed_urls_total",
			Help: "Fetches that returned no result, partitioned by site, kind and status.",
		}, []string{"site", "kind", "status"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webwrapper_failed_url_attempts",
			Help:    "Attempt number at which a fetch was given up.",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}, []string{"backend"}),
	}
	for _, collector := range []prometheus.Collector{s.failures, s.attempts} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register failure collector: %w", err)
		}
	}
	return s, nil
}

// Observe implements observer.Observer.
func (s *PrometheusSink) Observe(_ context.Context, evt observer.Event) error {
	status := "none"
	if evt.StatusCode > 0 {
		status = strconv.Itoa(evt.StatusCode)
	}
	s.failures.WithLabelValues(metrics.SanitizeSite(evt.URL), string(evt.Kind), status).Inc()
	backend := evt.Backend
	if backend == "" {
		backend = "unknown"
	}
	s.attempts.WithLabelValues(backend).Observe(float64(evt.Attempt))
	return nil
}
