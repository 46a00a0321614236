package backend

import (
	"context"
	"fmt"

	"github.com/JakeFAU/webwrapper/internal/profile"
)

// WindowWidth and WindowHeight are the browser window size every browser
// session opens with.
const (
	WindowWidth  = 1920
	WindowHeight = 1080
)

// PageMetrics describes the scrollable document and the visible viewport.
type PageMetrics struct {
	TotalWidth     int
	TotalHeight    int
	ViewportWidth  int
	ViewportHeight int
}

// Rect is an axis-aligned box in CSS pixels.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Browser is a Driver that renders pages and can be screenshotted.
type Browser interface {
	Driver

	PageMetrics(ctx context.Context) (PageMetrics, error)
	ScrollTo(ctx context.Context, x, y int) error
	// CaptureViewport returns the visible viewport as PNG bytes.
	CaptureViewport(ctx context.Context) ([]byte, error)
	// ElementBox returns the bounding box of the first node matching selector.
	ElementBox(ctx context.Context, selector string) (Rect, error)
	// Evaluate runs expr in the page and decodes the result into out when
	// out is non-nil.
	Evaluate(ctx context.Context, expr string, out any) error
}

// FullPageCapturer is implemented by engines that capture the whole
// document natively.
type FullPageCapturer interface {
	CaptureFullPage(ctx context.Context) ([]byte, error)
}

// Factory builds a browser configured with p. Callers own the result and
// must Quit it.
type Factory func(p profile.Profile) (Browser, error)

// ScrollToBottom scrolls b to the end of the document.
func ScrollToBottom(ctx context.Context, b Browser) error {
	if err := b.Evaluate(ctx, "window.scrollTo(0, document.body.scrollHeight)", nil); err != nil {
		if fallbackErr := b.Evaluate(ctx, "window.scrollTo(0, 50000)", nil); fallbackErr != nil {
			return fmt.Errorf("scroll to bottom: %w", err)
		}
	}
	return nil
}

// Reload stops any pending load and reloads the current page.
func Reload(ctx context.Context, b Browser) error {
	if err := b.Evaluate(ctx, "(window.stop(), location.reload())", nil); err != nil {
		return fmt.Errorf("reload page: %w", err)
	}
	return nil
}

// MetricsScript reads the document and viewport dimensions in one round trip.
const MetricsScript = `(() => ({
	totalWidth: document.body.offsetWidth,
	totalHeight: document.body.parentNode.scrollHeight,
	viewportWidth: document.body.clientWidth,
	viewportHeight: window.innerHeight
}))()`

// MetricsResult mirrors MetricsScript's return value.
type MetricsResult struct {
	TotalWidth     int `json:"totalWidth"`
	TotalHeight    int `json:"totalHeight"`
	ViewportWidth  int `json:"viewportWidth"`
	ViewportHeight int `json:"viewportHeight"`
}

// PageMetrics converts the script result.
func (m MetricsResult) PageMetrics() PageMetrics {
	return PageMetrics(m)
}

// ElementBoxScript returns the bounding box of the first match of a selector
// in document coordinates. It is formatted with the quoted selector.
const ElementBoxScript = `(() => {
	const el = document.querySelector(%s);
	if (!el) { return null; }
	const r = el.getBoundingClientRect();
	return {x: Math.round(r.left + window.scrollX), y: Math.round(r.top + window.scrollY),
		width: Math.round(r.width), height: Math.round(r.height)};
})()`

// BoxResult mirrors ElementBoxScript's return value.
type BoxResult struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}
