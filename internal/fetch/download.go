package fetch

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"github.com/JakeFAU/webwrapper/internal/backend"
	"github.com/JakeFAU/webwrapper/internal/metrics"
	"github.com/JakeFAU/webwrapper/internal/profile"
)

// Download results recorded in metrics.
const (
	downloadSaved    = "saved"
	downloadSkipped  = "skipped"
	downloadNotFound = "not_found"
	downloadFailed   = "failed"
)

func (o *Orchestrator) defaultClient() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = func(*http.Request) (*url.URL, error) {
		if p := o.driver.Proxy(); p != nil {
			return p.URL(), nil
		}
		return nil, nil
	}
	// No client timeout: large files are bounded by ctx instead.
	return &http.Client{Transport: tr}
}

// Download saves rawURL to savePath using the profile's headers, cookies and
// proxy plus extraHeaders. An existing file is kept unless redownload is set.
//
// It returns the absolute path written. A 404 returns "", nil quietly; any
// other failure is logged and also returns "", nil.
func (o *Orchestrator) Download(
	ctx context.Context,
	rawURL, savePath string,
	extraHeaders profile.Headers,
	redownload bool,
) (string, error) {
	if rawURL == "" {
		return "", ErrNilURL
	}
	if strings.TrimSpace(savePath) == "" {
		return "", fmt.Errorf("save path is required")
	}
	path, err := filepath.Abs(savePath)
	if err != nil {
		return "", fmt.Errorf("resolve save path: %w", err)
	}
	target := NormalizeURL(rawURL)
	log := o.logger.With(zap.String("url", target), zap.String("path", path))

	if !redownload {
		if _, err := os.Stat(path); err == nil {
			log.Debug("file already downloaded")
			metrics.ObserveDownload(downloadSkipped)
			return path, nil
		}
	}

	if err := o.downloadTo(ctx, target, path, extraHeaders); err != nil {
		var statusErr *backend.HTTPStatusError
		switch {
		case errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound:
			log.Debug("download not found")
			metrics.ObserveDownload(downloadNotFound)
			return "", nil
		case ctx.Err() != nil:
			metrics.ObserveDownload(downloadFailed)
			return "", fmt.Errorf("download %s: %w", target, ctx.Err())
		default:
			log.Error("download failed", zap.Error(err))
			metrics.ObserveDownload(downloadFailed)
			return "", nil
		}
	}
	metrics.ObserveDownload(downloadSaved)
	return path, nil
}

func (o *Orchestrator) downloadTo(ctx context.Context, target, path string, extra profile.Headers) error {
	resp, err := o.get(ctx, target, extra)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move download into place: %w", err)
	}
	return nil
}

// get issues a profile-dressed GET and converts error statuses into
// *backend.HTTPStatusError. The caller closes the body.
func (o *Orchestrator) get(ctx context.Context, target string, extra profile.Headers) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range o.driver.Headers().Merge(extra) {
		// The transport negotiates and decodes compression itself.
		if strings.EqualFold(k, "Accept-Encoding") {
			continue
		}
		req.Header.Set(k, v)
	}
	if cookie := o.driver.Cookies().Header(); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, backend.ClassifyNetError(target, err)
	}
	if err := backend.CheckStatus(resp.StatusCode); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// ImageDimensions fetches an image and returns its width and height without
// decoding the pixels. Failures are logged and return 0, 0.
func (o *Orchestrator) ImageDimensions(ctx context.Context, rawURL string) (int, int) {
	if rawURL == "" {
		return 0, 0
	}
	target := NormalizeURL(rawURL)
	w, h, err := o.imageDimensions(ctx, target)
	if err != nil {
		o.logger.Warn("error getting image size", zap.String("url", target), zap.Error(err))
		return 0, 0
	}
	return w, h
}

func (o *Orchestrator) imageDimensions(ctx context.Context, target string) (int, int, error) {
	resp, err := o.get(ctx, target, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	cfg, format, err := image.DecodeConfig(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("decode image config: %w", err)
	}
	o.logger.Debug("image size", zap.String("format", format), zap.Int("width", cfg.Width), zap.Int("height", cfg.Height))
	return cfg.Width, cfg.Height, nil
}
