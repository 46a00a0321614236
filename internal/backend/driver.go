// Package backend defines the contract every transport satisfies so the fetch
// loop can stay identical whether a plain HTTP client or a browser executes a
// request.
package backend

import (
	"context"
	"net/http"
	"time"

	"github.com/JakeFAU/webwrapper/internal/profile"
)

// Kind identifies a concrete backend.
type Kind string

// Known backend kinds.
const (
	KindHTTP     Kind = "http"
	KindChromedp Kind = "chromedp"
	KindRod      Kind = "rod"
	KindNoop     Kind = "noop"
)

// IsBrowser reports whether k drives an automated browser.
func IsBrowser(k Kind) bool {
	switch k {
	case KindChromedp, KindRod, KindNoop:
		return true
	default:
		return false
	}
}

// RawRequest is one attempt's worth of input to a backend.
type RawRequest struct {
	URL string
	// Headers and Cookies are per-call overrides layered over the profile.
	Headers profile.Headers
	Cookies profile.Cookies
	Timeout time.Duration
	// Extra carries backend-specific arguments. Unknown keys are ignored.
	Extra map[string]any
}

// RawResponse is what a backend observed for one attempt.
type RawResponse struct {
	StatusCode int
	// URL is the final URL after redirects.
	URL     string
	Body    []byte
	Headers http.Header
}

// Driver is the capability set shared by every backend.
type Driver interface {
	Kind() Kind

	Headers() profile.Headers
	SetHeaders(profile.Headers)
	UpdateHeaders(profile.Headers)

	Cookies() profile.Cookies
	SetCookies(...profile.Cookie)
	UpdateCookies(...profile.Cookie)

	Proxy() *profile.Proxy
	SetProxy(*profile.Proxy)

	// CreateSession opens the live session if none is open.
	CreateSession(ctx context.Context) error
	// Reset destroys the live session and opens a fresh one.
	Reset(ctx context.Context) error
	// Quit destroys the live session.
	Quit() error

	// RawFetch performs a single GET. Status codes >= 400 are returned as
	// *HTTPStatusError alongside the response.
	RawFetch(ctx context.Context, req RawRequest) (*RawResponse, error)
}
