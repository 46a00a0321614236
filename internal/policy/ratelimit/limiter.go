// Package ratelimit gates fetch attempts with a token bucket per host.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/webwrapper/internal/metrics"
)

// Config holds rate limiter configuration. A non-positive RPS disables limiting.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// Limiter hands out one token bucket per host. A single Limiter is shared by
// every pooled orchestrator so parallel workers do not multiply the rate.
type Limiter struct {
	every rate.Limit
	burst int

	mu      sync.RWMutex
	buckets map[string]*rate.Limiter
}

// New creates a Limiter. Burst defaults to 1.
func New(cfg Config) *Limiter {
	l := &Limiter{
		every:   rate.Inf,
		burst:   max(cfg.DefaultBurst, 1),
		buckets: make(map[string]*rate.Limiter),
	}
	if cfg.DefaultRPS > 0 {
		l.every = rate.Limit(cfg.DefaultRPS)
	}
	return l
}

// Enabled reports whether Wait can ever block.
func (l *Limiter) Enabled() bool { return l.every != rate.Inf }

// Wait blocks until the host of rawURL has a token or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if !l.Enabled() {
		return nil
	}
	host := metrics.SanitizeSite(rawURL)
	began := time.Now()
	if err := l.bucket(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	// Immediate grants are not delays.
	if waited := time.Since(began); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Hosts reports how many hosts currently have a bucket.
func (l *Limiter) Hosts() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.RLock()
	b, ok := l.buckets[host]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[host]; !ok {
		b = rate.NewLimiter(l.every, l.burst)
		l.buckets[host] = b
	}
	return b
}
