package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/webwrapper/internal/backend"
	"github.com/JakeFAU/webwrapper/internal/coerce"
	"github.com/JakeFAU/webwrapper/internal/fetch"
	"github.com/JakeFAU/webwrapper/internal/profile"
)

type fetchRequest struct {
	URL            string            `json:"url"`
	Format         string            `json:"format"`
	Headers        map[string]string `json:"headers"`
	Cookies        json.RawMessage   `json:"cookies"`
	TimeoutSeconds *int              `json:"timeout_seconds"`
	Retry          *bool             `json:"retry"`
	ReturnOnError  []int             `json:"return_on_error"`
}

type fetchResponse struct {
	Status  int    `json:"status"`
	URL     string `json:"url"`
	Content any    `json:"content"`
}

type screenshotRequest struct {
	URL          string  `json:"url"`
	Path         string  `json:"path"`
	Selector     string  `json:"selector"`
	DelaySeconds float64 `json:"delay_seconds"`
}

type downloadRequest struct {
	URL        string            `json:"url"`
	Path       string            `json:"path"`
	Headers    map[string]string `json:"headers"`
	Redownload bool              `json:"redownload"`
}

type artifactResponse struct {
	Path   string `json:"path"`
	URI    string `json:"uri,omitempty"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

const (
	kindScreenshot = "screenshot"
	kindDownload   = "download"
)

// errFetchFailed marks a fetch that exhausted its attempts; the orchestrator
// already logged and reported the cause.
var errFetchFailed = errors.New("fetch failed")

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	format := coerce.ParseFormat(req.Format)
	if !format.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", req.Format))
		return
	}
	opts, err := s.fetchOptions(req, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var resp fetchResponse
	err = s.pool.Do(r.Context(), func(o *fetch.Orchestrator) error {
		val, err := o.Fetch(r.Context(), req.URL, opts...)
		last := o.Last()
		resp.Status, resp.URL = last.StatusCode, last.URL
		if err != nil {
			return err
		}
		if val == nil {
			return errFetchFailed
		}
		resp.Content, err = coerce.Render(val)
		return err
	})

	var statusErr *backend.HTTPStatusError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.As(err, &statusErr):
		resp.Status = statusErr.Code
		writeJSON(w, http.StatusOK, resp)
	default:
		s.writeFailure(w, r, req.URL, err)
	}
}

func (s *Server) fetchOptions(req fetchRequest, format coerce.Format) ([]fetch.RequestOption, error) {
	opts := []fetch.RequestOption{fetch.Format(format)}
	if len(req.Headers) > 0 {
		opts = append(opts, fetch.Headers(profile.Headers(req.Headers)))
	}
	if len(req.Cookies) > 0 && string(req.Cookies) != "null" {
		var raw any
		if err := json.Unmarshal(req.Cookies, &raw); err != nil {
			return nil, fmt.Errorf("invalid cookies: %w", err)
		}
		if _, err := profile.NewCookies(raw); err != nil {
			return nil, fmt.Errorf("invalid cookies: %w", err)
		}
		opts = append(opts, fetch.Cookies(raw))
	}
	timeout := s.cfg.RequestTimeout()
	if req.TimeoutSeconds != nil {
		if *req.TimeoutSeconds <= 0 {
			return nil, errors.New("timeout_seconds must be positive")
		}
		timeout = time.Duration(*req.TimeoutSeconds) * time.Second
	}
	opts = append(opts, fetch.Timeout(timeout))
	if req.Retry != nil {
		opts = append(opts, fetch.RetryEnabled(*req.Retry))
	}
	if len(req.ReturnOnError) > 0 {
		opts = append(opts, fetch.ReturnOnError(req.ReturnOnError...))
	}
	return opts, nil
}

func (s *Server) screenshot(w http.ResponseWriter, r *http.Request) {
	var req screenshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	if req.DelaySeconds < 0 {
		writeError(w, http.StatusBadRequest, "delay_seconds must not be negative")
		return
	}
	dest, err := s.artifactPath(kindScreenshot, req.Path, "", ".png")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	delay := time.Duration(req.DelaySeconds * float64(time.Second))

	var saved string
	err = s.pool.Do(r.Context(), func(o *fetch.Orchestrator) error {
		val, err := o.Fetch(r.Context(), req.URL, fetch.Format(coerce.Raw), fetch.Timeout(s.cfg.NavTimeout()))
		if err != nil {
			return err
		}
		if val == nil {
			return errFetchFailed
		}
		saved, err = o.Screenshot(r.Context(), dest, req.Selector, delay)
		return err
	})
	if err != nil {
		if errors.Is(err, backend.ErrElementNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeFailure(w, r, req.URL, err)
		return
	}
	s.archive(w, r, kindScreenshot, req.URL, saved)
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	dest, err := s.artifactPath(kindDownload, req.Path, req.URL, "")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var saved string
	err = s.pool.Do(r.Context(), func(o *fetch.Orchestrator) error {
		var err error
		saved, err = o.Download(r.Context(), req.URL, dest, profile.Headers(req.Headers), req.Redownload)
		if err == nil && saved == "" {
			return errFetchFailed
		}
		return err
	})
	if err != nil {
		s.writeFailure(w, r, req.URL, err)
		return
	}
	s.archive(w, r, kindDownload, req.URL, saved)
}

func (s *Server) archive(w http.ResponseWriter, r *http.Request, kind, sourceURL, saved string) {
	resp := artifactResponse{Path: saved}
	if s.archiver != nil {
		art, err := s.archiver.Archive(r.Context(), kind, sourceURL, saved)
		if err != nil {
			s.logger.Error("archive artifact",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("path", saved),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, "archive artifact failed")
			return
		}
		resp.URI, resp.SHA256, resp.Size = art.URI, art.SHA256, art.Size
	}
	writeJSON(w, http.StatusOK, resp)
}

// artifactPath resolves a caller supplied path beneath the work directory.
// Without one, the name comes from the source URL or a fresh UUID.
func (s *Server) artifactPath(kind, requested, sourceURL, ext string) (string, error) {
	root := s.cfg.Storage.WorkDir
	if requested == "" {
		name := nameFromURL(sourceURL)
		if name == "" {
			name = uuid.NewString() + ext
		}
		return filepath.Join(root, kind, name), nil
	}
	clean := filepath.Clean(requested)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q must stay inside the work directory", requested)
	}
	return filepath.Join(root, clean), nil
}

func nameFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(fetch.NormalizeURL(raw))
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return ""
	}
	return base
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, target string, err error) {
	switch {
	case errors.Is(err, fetch.ErrNilURL):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the body.
		w.WriteHeader(http.StatusRequestTimeout)
	case errors.Is(err, errFetchFailed):
		writeError(w, http.StatusBadGateway, fmt.Sprintf("could not retrieve %s", target))
	default:
		s.logger.Error("request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("url", target),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
