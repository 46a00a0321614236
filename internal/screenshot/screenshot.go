// Package screenshot captures full-page images through a browser backend,
// tiling and stitching when the engine cannot capture the whole document.
package screenshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/JakeFAU/webwrapper/internal/backend"
	"github.com/JakeFAU/webwrapper/internal/clock/system"
	"github.com/JakeFAU/webwrapper/internal/metrics"
	"github.com/JakeFAU/webwrapper/internal/profile"
)

// DefaultExt is appended to save paths that carry no extension.
const DefaultExt = ".png"

// ErrNoPage is returned when a temporary browser is needed but nothing has
// been fetched yet.
var ErrNoPage = errors.New("no page fetched yet")

// Sleeper waits for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Request describes one capture.
type Request struct {
	// Path is where the PNG is written. DefaultExt is appended when missing.
	Path string
	// URL is loaded in the temporary browser when the active driver cannot render.
	URL string
	// Selector crops the image to the first matching element when set.
	Selector string
	// Delay is waited before capturing and between tiles.
	Delay time.Duration
}

// Capturer takes screenshots.
type Capturer struct {
	factory backend.Factory
	sleeper Sleeper
	logger  *zap.Logger
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithFactory sets the factory used for temporary browsers.
func WithFactory(f backend.Factory) Option {
	return func(c *Capturer) { c.factory = f }
}

// WithSleeper overrides the sleeper.
func WithSleeper(s Sleeper) Option {
	return func(c *Capturer) { c.sleeper = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Capturer) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Capturer.
func New(opts ...Option) *Capturer {
	c := &Capturer{sleeper: system.New(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("screenshot")
	return c
}

// Capture renders req through active when it is a browser. Otherwise a
// temporary browser is built from active's profile, pointed at req.URL, and
// quit before Capture returns. It returns the path written.
func (c *Capturer) Capture(ctx context.Context, active backend.Driver, req Request) (path string, err error) {
	if strings.TrimSpace(req.Path) == "" {
		return "", fmt.Errorf("save path is required")
	}
	path, err = filepath.Abs(req.Path)
	if err != nil {
		return "", fmt.Errorf("resolve save path: %w", err)
	}
	if filepath.Ext(path) == "" {
		path += DefaultExt
	}
	c.logger.Info("taking screenshot", zap.String("path", path))

	b, ok := active.(backend.Browser)
	if !ok {
		tmp, err := c.openTemporary(ctx, active, req.URL)
		if err != nil {
			return "", err
		}
		defer func() {
			if qerr := tmp.Quit(); qerr != nil {
				c.logger.Warn("temporary browser quit failed", zap.Error(qerr))
			}
		}()
		b = tmp
	}

	if err := c.sleeper.Sleep(ctx, req.Delay); err != nil {
		return "", fmt.Errorf("screenshot delay: %w", err)
	}
	img, err := c.render(ctx, b, req.Delay)
	if err != nil {
		return "", err
	}
	if req.Selector != "" {
		box, err := b.ElementBox(ctx, req.Selector)
		if err != nil {
			return "", fmt.Errorf("locate element: %w", err)
		}
		if box.Width <= 0 || box.Height <= 0 {
			return "", fmt.Errorf("%w: %s has an empty box", backend.ErrElementNotFound, req.Selector)
		}
		img = Crop(img, box)
	}
	if err := writePNG(path, img); err != nil {
		return "", err
	}
	return path, nil
}

func (c *Capturer) openTemporary(ctx context.Context, active backend.Driver, rawURL string) (backend.Browser, error) {
	if c.factory == nil {
		return nil, backend.ErrBrowserUnavailable
	}
	if rawURL == "" {
		return nil, ErrNoPage
	}
	c.logger.Debug("creating temporary browser for screenshot", zap.String("backend", string(active.Kind())))
	p := profile.Profile{Headers: active.Headers(), Cookies: active.Cookies(), Proxy: active.Proxy()}
	b, err := c.factory(p)
	if err != nil {
		return nil, fmt.Errorf("create temporary browser: %w", err)
	}
	if _, err := b.RawFetch(ctx, backend.RawRequest{URL: rawURL}); err != nil {
		var statusErr *backend.HTTPStatusError
		if !errors.As(err, &statusErr) {
			if qerr := b.Quit(); qerr != nil {
				c.logger.Warn("temporary browser quit failed", zap.Error(qerr))
			}
			return nil, fmt.Errorf("load %s: %w", rawURL, err)
		}
		// Error pages are still worth a picture.
	}
	return b, nil
}

func (c *Capturer) render(ctx context.Context, b backend.Browser, delay time.Duration) (image.Image, error) {
	if fp, ok := b.(backend.FullPageCapturer); ok {
		data, err := fp.CaptureFullPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("capture full page: %w", err)
		}
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode full page: %w", err)
		}
		metrics.ObserveScreenshotTiles(1)
		return img, nil
	}
	return c.stitch(ctx, b, delay)
}

func (c *Capturer) stitch(ctx context.Context, b backend.Browser, delay time.Duration) (image.Image, error) {
	m, err := b.PageMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page metrics: %w", err)
	}
	tiles := PlanTiles(m.TotalWidth, m.TotalHeight, m.ViewportWidth, m.ViewportHeight)
	if len(tiles) == 0 {
		return nil, fmt.Errorf("empty page metrics %+v", m)
	}
	c.logger.Info("stitching full page screenshot",
		zap.Int("total_width", m.TotalWidth), zap.Int("total_height", m.TotalHeight),
		zap.Int("viewport_width", m.ViewportWidth), zap.Int("viewport_height", m.ViewportHeight),
		zap.Int("tiles", len(tiles)))

	canvas := image.NewRGBA(image.Rect(0, 0, m.TotalWidth, m.TotalHeight))
	for i, t := range tiles {
		if i > 0 {
			if err := b.ScrollTo(ctx, t.X, t.Y); err != nil {
				return nil, fmt.Errorf("scroll to %d,%d: %w", t.X, t.Y, err)
			}
			if err := c.sleeper.Sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("tile delay: %w", err)
			}
		}
		data, err := b.CaptureViewport(ctx)
		if err != nil {
			return nil, fmt.Errorf("capture tile %d: %w", i, err)
		}
		part, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode tile %d: %w", i, err)
		}
		Paste(canvas, part, t.OffsetX, t.OffsetY, m.ViewportWidth, m.ViewportHeight)
	}
	metrics.ObserveScreenshotTiles(len(tiles))
	return canvas, nil
}

// Paste draws part onto canvas at (x, y). A part whose pixel size differs
// from the CSS viewport (high-DPI screens) is scaled to viewW x viewH first.
func Paste(canvas draw.Image, part image.Image, x, y, viewW, viewH int) {
	pb := part.Bounds()
	if pb.Dx() == viewW && pb.Dy() == viewH {
		draw.Draw(canvas, image.Rect(x, y, x+pb.Dx(), y+pb.Dy()), part, pb.Min, draw.Src)
		return
	}
	draw.ApproxBiLinear.Scale(canvas, image.Rect(x, y, x+viewW, y+viewH), part, pb, draw.Src, nil)
}

// Crop returns the part of img inside box, clipped to img's bounds.
func Crop(img image.Image, box backend.Rect) image.Image {
	r := image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height).Intersect(img.Bounds())
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create screenshot dir: %w", err)
	}
	f, err := os.Create(path) //nolint:gosec // caller chooses the path
	if err != nil {
		return fmt.Errorf("create screenshot: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode screenshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close screenshot: %w", err)
	}
	return nil
}
