package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if fetchAttemptsTotal == nil || fetchOutcomesTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveFetchCounters(t *testing.T) {
	ObserveAttempt("https://Counters.example/page", "http")
	ObserveAttempt("https://counters.example/other", "http")
	if val := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("counters.example", "http")); val != 2 {
		t.Errorf("Expected 2 attempts for counters.example, got %f", val)
	}

	ObserveOutcome("https://counters.example", OutcomeExhausted)
	if val := testutil.ToFloat64(fetchOutcomesTotal.WithLabelValues("counters.example", OutcomeExhausted)); val != 1 {
		t.Errorf("Expected 1 exhausted outcome, got %f", val)
	}

	before := testutil.ToFloat64(profileRotationsTotal)
	ObserveRotation()
	if val := testutil.ToFloat64(profileRotationsTotal); val != before+1 {
		t.Errorf("Expected rotations to grow by 1, got %f -> %f", before, val)
	}

	beforeTiles := testutil.ToFloat64(screenshotTilesTotal)
	ObserveScreenshotTiles(5)
	if val := testutil.ToFloat64(screenshotTilesTotal); val != beforeTiles+5 {
		t.Errorf("Expected tiles to grow by 5, got %f -> %f", beforeTiles, val)
	}

	ObserveDownload("skipped-test")
	if val := testutil.ToFloat64(downloadsTotal.WithLabelValues("skipped-test")); val != 1 {
		t.Errorf("Expected 1 skipped download, got %f", val)
	}

	ObserveRateLimitDelay("delay.example", 200*time.Millisecond)
	if val := testutil.CollectAndCount(rateLimitDelaysSeconds); val <= 0 {
		t.Errorf("Expected rate limit delays to be observed, got %d", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
