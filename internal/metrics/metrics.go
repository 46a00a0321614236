// Package metrics exposes Prometheus collectors for fetch orchestration and
// the fetchd service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes recorded by ObserveOutcome.
const (
	OutcomeSuccess   = "success"
	OutcomeAllowed   = "allowed_status"
	OutcomeExhausted = "exhausted"
	OutcomeRedirect  = "redirect_loop"
	OutcomeUnknown   = "unknown_error"
	OutcomeCanceled  = "canceled"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchOutcomesTotal         *prometheus.CounterVec
	profileRotationsTotal      prometheus.Counter
	screenshotTilesTotal       prometheus.Counter
	downloadsTotal             *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webwrapper_fetch_attempts_total",
				Help: "Total number of backend fetch attempts, labeled by site and backend.",
			},
			[]string{"site", "backend"},
		)

		fetchOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webwrapper_fetch_outcomes_total",
				Help: "Total number of completed fetch calls, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		profileRotationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webwrapper_profile_rotations_total",
				Help: "Total number of profile rotations between attempts.",
			},
		)

		screenshotTilesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webwrapper_screenshot_tiles_total",
				Help: "Total number of viewport tiles captured for stitched screenshots.",
			},
		)

		downloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webwrapper_downloads_total",
				Help: "Total number of downloads, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webwrapper_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webwrapper_active_workers",
				Help: "Number of orchestrators currently checked out of the worker pool.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAttempt counts one backend attempt.
func ObserveAttempt(site, backend string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(site), backend).Inc()
}

// ObserveOutcome counts a finished fetch call.
func ObserveOutcome(site, outcome string) {
	Init()
	fetchOutcomesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveRotation counts a profile rotation.
func ObserveRotation() {
	Init()
	profileRotationsTotal.Inc()
}

// ObserveScreenshotTiles counts captured tiles.
func ObserveScreenshotTiles(n int) {
	Init()
	screenshotTilesTotal.Add(float64(n))
}

// ObserveDownload counts a download by result.
func ObserveDownload(result string) {
	Init()
	downloadsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}
