package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrRedirectLoop marks a redirect chain that never settles.
	ErrRedirectLoop = errors.New("redirect loop")
	// ErrSessionClosed is returned when a driver is used after Quit.
	ErrSessionClosed = errors.New("session closed")
	// ErrBrowserUnavailable is returned by browser drivers that cannot run.
	ErrBrowserUnavailable = errors.New("browser backend not configured")
	// ErrElementNotFound is returned when a selector matches nothing.
	ErrElementNotFound = errors.New("element not found")
)

// TransportError covers connection refusals, resets and attempt timeouts.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the attempt ran out of time.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(e.Err.Error(), "ERR_TIMED_OUT")
}

// RedirectLoopError reports a redirect chain that exceeded the hop budget.
type RedirectLoopError struct {
	URL string
	Err error
}

func (e *RedirectLoopError) Error() string {
	return fmt.Sprintf("redirect loop on %s: %v", e.URL, e.Err)
}

func (e *RedirectLoopError) Unwrap() error {
	return e.Err
}

// HTTPStatusError is the single shape every backend uses for status >= 400.
type HTTPStatusError struct {
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}

// CheckStatus returns *HTTPStatusError for codes >= 400.
func CheckStatus(code int) error {
	if code >= 400 {
		return &HTTPStatusError{Code: code}
	}
	return nil
}

// ClassifyNetError wraps errors from a Go HTTP client. Connection-level
// failures and timeouts become *TransportError, a redirect loop becomes
// *RedirectLoopError, anything else is returned unchanged.
func ClassifyNetError(url string, err error) error {
	if err == nil {
		return nil
	}
	var (
		transportErr *TransportError
		redirectErr  *RedirectLoopError
	)
	if errors.As(err, &transportErr) || errors.As(err, &redirectErr) {
		return err
	}
	if errors.Is(err, ErrRedirectLoop) {
		return &RedirectLoopError{URL: url, Err: err}
	}
	if isTransportFailure(err) {
		return &TransportError{URL: url, Err: err}
	}
	return err
}

func isTransportFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var browserTransportCodes = []string{
	"net::ERR_CONNECTION_",
	"net::ERR_TIMED_OUT",
	"net::ERR_NAME_NOT_RESOLVED",
	"net::ERR_PROXY_CONNECTION_FAILED",
	"net::ERR_TUNNEL_CONNECTION_FAILED",
	"net::ERR_INTERNET_DISCONNECTED",
	"net::ERR_ADDRESS_UNREACHABLE",
	"net::ERR_EMPTY_RESPONSE",
	"net::ERR_NETWORK_CHANGED",
}

// ClassifyBrowserError maps the net::ERR_* text browsers report for failed
// navigations onto the same taxonomy ClassifyNetError produces.
func ClassifyBrowserError(url string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "net::ERR_TOO_MANY_REDIRECTS") {
		return &RedirectLoopError{URL: url, Err: fmt.Errorf("%w: %w", ErrRedirectLoop, err)}
	}
	for _, code := range browserTransportCodes {
		if strings.Contains(msg, code) {
			return &TransportError{URL: url, Err: err}
		}
	}
	return ClassifyNetError(url, err)
}
