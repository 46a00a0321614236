package fetch

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/webwrapper/internal/coerce"
	"github.com/JakeFAU/webwrapper/internal/profile"
)

// request is the per-call input assembled from RequestOptions.
type request struct {
	format        coerce.Format
	headers       profile.Headers
	cookies       any
	timeout       time.Duration
	retry         bool
	returnOnError []int
	extra         map[string]any
}

func newRequest(opts []RequestOption) request {
	r := request{format: coerce.HTML, timeout: DefaultTimeout, retry: true}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// RequestOption customizes a single Fetch call. Nothing it sets outlives the call.
type RequestOption func(*request)

// Format selects how the body is coerced. The default is HTML.
func Format(f coerce.Format) RequestOption {
	return func(r *request) { r.format = f }
}

// Headers layers h over the profile headers for this call.
func Headers(h profile.Headers) RequestOption {
	return func(r *request) { r.headers = h }
}

// Cookies layers cookies over the profile cookies for this call. in takes any
// shape profile.NormalizeCookies accepts.
func Cookies(in any) RequestOption {
	return func(r *request) { r.cookies = in }
}

// Timeout bounds each attempt. The default is 30s.
func Timeout(d time.Duration) RequestOption {
	return func(r *request) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// RetryEnabled toggles retries. They are on by default.
func RetryEnabled(enabled bool) RequestOption {
	return func(r *request) { r.retry = enabled }
}

// ReturnOnError lists status codes that are returned to the caller as
// *backend.HTTPStatusError immediately instead of being retried.
func ReturnOnError(codes ...int) RequestOption {
	return func(r *request) { r.returnOnError = append(r.returnOnError, codes...) }
}

// Extra passes backend-specific arguments through to the driver.
func Extra(args map[string]any) RequestOption {
	return func(r *request) { r.extra = args }
}

// ownedExtraKeys are set through dedicated options and may not be smuggled in
// through Extra.
var ownedExtraKeys = map[string]struct{}{
	"headers": {},
	"cookies": {},
	"timeout": {},
}

// splitExtra returns a copy of extra without orchestrator-owned keys and the
// sorted list of keys it dropped.
func splitExtra(extra map[string]any) (map[string]any, []string) {
	if len(extra) == 0 {
		return nil, nil
	}
	kept := make(map[string]any, len(extra))
	var dropped []string
	for k, v := range extra {
		if _, owned := ownedExtraKeys[strings.ToLower(k)]; owned {
			dropped = append(dropped, k)
			continue
		}
		kept[k] = v
	}
	sort.Strings(dropped)
	return kept, dropped
}

var schemePrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*://`)

// NormalizeURL prefixes scheme-relative URLs with "http:" and bare hosts with
// "http://". Anything that already has a scheme is returned unchanged.
func NormalizeURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "//"):
		return "http:" + raw
	case !schemePrefix.MatchString(raw):
		return "http://" + raw
	default:
		return raw
	}
}
