package screenshot

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webwrapper/internal/backend"
	"github.com/JakeFAU/webwrapper/internal/profile"
)

type fakeBrowser struct {
	*backend.State
	metrics  backend.PageMetrics
	scrolls  [][2]int
	captures int
	box      backend.Rect
	fetched  []string
	fetchErr error
	quits    int
}

func newFakeBrowser(m backend.PageMetrics) *fakeBrowser {
	return &fakeBrowser{State: backend.NewState(profile.New()), metrics: m}
}

func (*fakeBrowser) Kind() backend.Kind                  { return backend.KindChromedp }
func (*fakeBrowser) CreateSession(context.Context) error { return nil }
func (*fakeBrowser) Reset(context.Context) error         { return nil }
func (f *fakeBrowser) Quit() error                       { f.quits++; return nil }

func (f *fakeBrowser) RawFetch(_ context.Context, req backend.RawRequest) (*backend.RawResponse, error) {
	f.fetched = append(f.fetched, req.URL)
	return &backend.RawResponse{StatusCode: 200, URL: req.URL}, f.fetchErr
}

func (f *fakeBrowser) PageMetrics(context.Context) (backend.PageMetrics, error) {
	return f.metrics, nil
}

func (f *fakeBrowser) ScrollTo(_ context.Context, x, y int) error {
	f.scrolls = append(f.scrolls, [2]int{x, y})
	return nil
}

// CaptureViewport paints each tile a distinct gray level.
func (f *fakeBrowser) CaptureViewport(context.Context) ([]byte, error) {
	f.captures++
	shade := uint8(f.captures * 40)
	return solidPNG(f.metrics.ViewportWidth, f.metrics.ViewportHeight, color.Gray{Y: shade}), nil
}

func (f *fakeBrowser) ElementBox(context.Context, string) (backend.Rect, error) {
	return f.box, nil
}

func (*fakeBrowser) Evaluate(context.Context, string, any) error { return nil }

type fullPageBrowser struct {
	*fakeBrowser
}

func (f *fullPageBrowser) CaptureFullPage(context.Context) ([]byte, error) {
	return solidPNG(f.metrics.TotalWidth, f.metrics.TotalHeight, color.White), nil
}

type recordingSleeper struct {
	calls []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return nil
}

// plainDriver is a Driver that cannot render.
type plainDriver struct {
	*backend.State
}

func (plainDriver) Kind() backend.Kind                  { return backend.KindHTTP }
func (plainDriver) CreateSession(context.Context) error { return nil }
func (plainDriver) Reset(context.Context) error         { return nil }
func (plainDriver) Quit() error                         { return nil }
func (plainDriver) RawFetch(context.Context, backend.RawRequest) (*backend.RawResponse, error) {
	return nil, errors.New("not used")
}

func solidPNG(w, h int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func readPNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	return img
}

func TestPlanTiles(t *testing.T) {
	t.Parallel()

	tiles := PlanTiles(1920, 5000, 1920, 1080)
	require.Len(t, tiles, 5)
	for i, tile := range tiles[:4] {
		assert.Equal(t, i*1080, tile.Y)
		assert.Equal(t, tile.Y, tile.OffsetY)
	}
	last := tiles[4]
	require.Equal(t, 4320, last.Y)
	require.Equal(t, 5000-1080, last.OffsetY)

	grid := PlanTiles(2500, 1500, 1000, 1000)
	require.Equal(t, []Tile{
		{X: 0, Y: 0, OffsetX: 0, OffsetY: 0},
		{X: 1000, Y: 0, OffsetX: 1000, OffsetY: 0},
		{X: 2000, Y: 0, OffsetX: 2000, OffsetY: 0},
		{X: 0, Y: 1000, OffsetX: 0, OffsetY: 500},
		{X: 1000, Y: 1000, OffsetX: 1000, OffsetY: 500},
		{X: 2000, Y: 1000, OffsetX: 2000, OffsetY: 500},
	}, grid)

	short := PlanTiles(800, 300, 800, 600)
	require.Equal(t, []Tile{{}}, short)
	require.Nil(t, PlanTiles(0, 100, 10, 10))
}

func TestCaptureStitchesTiles(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(backend.PageMetrics{TotalWidth: 1920, TotalHeight: 5000, ViewportWidth: 1920, ViewportHeight: 1080})
	sleeper := &recordingSleeper{}
	c := New(WithSleeper(sleeper))

	out := filepath.Join(t.TempDir(), "nested", "page")
	path, err := c.Capture(context.Background(), b, Request{Path: out, Delay: time.Second})
	require.NoError(t, err)
	require.Equal(t, out+".png", path)

	require.Equal(t, 5, b.captures)
	require.Equal(t, [][2]int{{0, 1080}, {0, 2160}, {0, 3240}, {0, 4320}}, b.scrolls)
	require.Len(t, sleeper.calls, 5, "initial delay plus one per scrolled tile")

	img := readPNG(t, path)
	require.Equal(t, image.Pt(1920, 5000), img.Bounds().Size())
	gray := func(x, y int) uint8 { return color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y }
	require.Equal(t, uint8(40), gray(0, 0))
	require.Equal(t, uint8(160), gray(0, 3919))
	require.Equal(t, uint8(200), gray(0, 4999))
	require.Equal(t, uint8(200), gray(0, 3920), "last tile is clamped to the bottom edge")
}

func TestCaptureUsesFullPageAndCrops(t *testing.T) {
	t.Parallel()

	inner := newFakeBrowser(backend.PageMetrics{TotalWidth: 400, TotalHeight: 900, ViewportWidth: 400, ViewportHeight: 300})
	inner.box = backend.Rect{X: 10, Y: 20, Width: 100, Height: 50}
	b := &fullPageBrowser{fakeBrowser: inner}

	path, err := New().Capture(context.Background(), b, Request{Path: filepath.Join(t.TempDir(), "shot.png"), Selector: "#hero"})
	require.NoError(t, err)
	require.Zero(t, inner.captures, "full-page engines are not tiled")

	img := readPNG(t, path)
	require.Equal(t, image.Pt(100, 50), img.Bounds().Size())
}

func TestCaptureEmptyElementFails(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(backend.PageMetrics{TotalWidth: 10, TotalHeight: 10, ViewportWidth: 10, ViewportHeight: 10})
	_, err := New().Capture(context.Background(), b, Request{Path: filepath.Join(t.TempDir(), "x.png"), Selector: "#gone"})
	require.ErrorIs(t, err, backend.ErrElementNotFound)
}

func TestCaptureTemporaryBrowserGetsProfileAndQuits(t *testing.T) {
	t.Parallel()

	active := plainDriver{State: backend.NewState(profile.New())}
	active.UpdateHeaders(profile.Headers{"X-Token": "abc"})
	active.SetProxy(&profile.Proxy{Scheme: "http", Host: "proxy.local", Port: "3128"})

	var seeded profile.Profile
	tmp := newFakeBrowser(backend.PageMetrics{TotalWidth: 100, TotalHeight: 100, ViewportWidth: 100, ViewportHeight: 100})
	factory := func(p profile.Profile) (backend.Browser, error) {
		seeded = p
		return tmp, nil
	}

	c := New(WithFactory(factory))
	path, err := c.Capture(context.Background(), active, Request{Path: filepath.Join(t.TempDir(), "a.png"), URL: "http://example.com/"})
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, "abc", seeded.Headers["X-Token"])
	require.Equal(t, "proxy.local", seeded.Proxy.Host)
	require.Equal(t, []string{"http://example.com/"}, tmp.fetched)
	require.Equal(t, 1, tmp.quits)
}

func TestCaptureTemporaryBrowserQuitsOnLoadError(t *testing.T) {
	t.Parallel()

	active := plainDriver{State: backend.NewState(profile.New())}
	tmp := newFakeBrowser(backend.PageMetrics{})
	tmp.fetchErr = &backend.TransportError{URL: "http://x", Err: errors.New("refused")}
	c := New(WithFactory(func(profile.Profile) (backend.Browser, error) { return tmp, nil }))

	_, err := c.Capture(context.Background(), active, Request{Path: filepath.Join(t.TempDir(), "a.png"), URL: "http://x"})
	var te *backend.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, 1, tmp.quits)
}

func TestCaptureTemporaryBrowserQuitsOnRenderError(t *testing.T) {
	t.Parallel()

	active := plainDriver{State: backend.NewState(profile.New())}
	tmp := newFakeBrowser(backend.PageMetrics{})
	c := New(WithFactory(func(profile.Profile) (backend.Browser, error) { return tmp, nil }))

	_, err := c.Capture(context.Background(), active, Request{Path: filepath.Join(t.TempDir(), "a.png"), URL: "http://x"})
	require.ErrorContains(t, err, "empty page metrics")
	require.Equal(t, 1, tmp.quits)
}

func TestCaptureTemporaryBrowserPreconditions(t *testing.T) {
	t.Parallel()

	active := plainDriver{State: backend.NewState(profile.New())}
	dir := t.TempDir()

	_, err := New().Capture(context.Background(), active, Request{Path: filepath.Join(dir, "a"), URL: "http://x"})
	require.ErrorIs(t, err, backend.ErrBrowserUnavailable)

	c := New(WithFactory(func(profile.Profile) (backend.Browser, error) { return nil, errors.New("unused") }))
	_, err = c.Capture(context.Background(), active, Request{Path: filepath.Join(dir, "a")})
	require.ErrorIs(t, err, ErrNoPage)

	_, err = c.Capture(context.Background(), active, Request{})
	require.Error(t, err)
}

func TestPasteScalesHighDPITiles(t *testing.T) {
	t.Parallel()

	canvas := image.NewRGBA(image.Rect(0, 0, 100, 200))
	part, err := png.Decode(bytes.NewReader(solidPNG(200, 200, color.White)))
	require.NoError(t, err)

	Paste(canvas, part, 0, 100, 100, 100)
	require.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, canvas.RGBAAt(99, 199))
	require.Equal(t, color.RGBA{}, canvas.RGBAAt(0, 99))
}
