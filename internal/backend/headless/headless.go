// Package headless contains browser backends that render pages before
// returning them.
package headless

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webwrapper/internal/backend"
	"github.com/JakeFAU/webwrapper/internal/profile"
)

const (
	defaultNavTimeout  = 45 * time.Second
	defaultSettleDelay = 500 * time.Millisecond
	restoreTimeout     = 5 * time.Second
)

// Config controls browser sessions.
type Config struct {
	// Bin overrides the browser executable. Empty means autodetect.
	Bin       string
	NoSandbox bool
	// NavigationTimeout bounds a navigation when the request carries no timeout.
	NavigationTimeout time.Duration
	// SettleDelay is waited after load so late scripts can finish.
	SettleDelay time.Duration
	// Stealth injects go-rod/stealth into every rod page.
	Stealth bool
}

func (c Config) navTimeout(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	if c.NavigationTimeout > 0 {
		return c.NavigationTimeout
	}
	return defaultNavTimeout
}

func (c Config) settleDelay() time.Duration {
	if c.SettleDelay > 0 {
		return c.SettleDelay
	}
	return defaultSettleDelay
}

// managedHeaders are owned by the browser network stack and never injected.
var managedHeaders = map[string]struct{}{
	"Accept-Encoding": {},
	"Connection":      {},
	"Content-Length":  {},
	"Host":            {},
}

// injectableHeaders drops headers the browser manages itself. The result is
// keyed by canonical header name.
func injectableHeaders(h profile.Headers) profile.Headers {
	out := make(profile.Headers, len(h))
	for k, v := range h {
		key := http.CanonicalHeaderKey(k)
		if _, managed := managedHeaders[key]; managed {
			continue
		}
		out[key] = v
	}
	return out
}

// headerPairs flattens h into sorted name/value pairs.
func headerPairs(h profile.Headers) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, h[k])
	}
	return pairs
}

func mergedCookies(base profile.Cookies, overrides profile.Cookies) []profile.Cookie {
	out := base.Clone()
	out.Put(overrides.List()...)
	return out.List()
}

// cookieRestore lists what undoes per-call overrides in a browser jar:
// overrides to delete, and profile cookies they shadowed to write back.
func cookieRestore(base, overrides profile.Cookies) (drop, reset []profile.Cookie) {
	for _, ck := range overrides.List() {
		orig, shadowed := base[ck.Name]
		if !shadowed || orig.Domain != ck.Domain || orig.Path != ck.Path {
			drop = append(drop, ck)
		}
		if shadowed {
			reset = append(reset, orig)
		}
	}
	return drop, reset
}

func elementBoxExpr(selector string) (string, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return "", fmt.Errorf("quote selector: %w", err)
	}
	return fmt.Sprintf(backend.ElementBoxScript, quoted), nil
}

func boxToRect(box *backend.BoxResult, selector string) (backend.Rect, error) {
	if box == nil {
		return backend.Rect{}, fmt.Errorf("%w: %s", backend.ErrElementNotFound, selector)
	}
	return backend.Rect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

func defaultStatus(code int) int {
	if code == 0 {
		return http.StatusOK
	}
	return code
}

var (
	_ backend.Browser          = (*Chromedp)(nil)
	_ backend.Browser          = (*Rod)(nil)
	_ backend.FullPageCapturer = (*Rod)(nil)
	_ backend.Browser          = (*Noop)(nil)
)

// ChromedpFactory returns a backend.Factory producing Chromedp browsers.
func ChromedpFactory(cfg Config, logger *zap.Logger) backend.Factory {
	return func(p profile.Profile) (backend.Browser, error) {
		return NewChromedp(p, cfg, logger), nil
	}
}

// RodFactory returns a backend.Factory producing Rod browsers.
func RodFactory(cfg Config, logger *zap.Logger) backend.Factory {
	return func(p profile.Profile) (backend.Browser, error) {
		return NewRod(p, cfg, logger), nil
	}
}
