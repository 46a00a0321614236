// Package profile models the request identity an orchestrator presents to
// remote hosts: headers, cookies, and an optional proxy.
package profile

import "maps"

// Headers maps header names to values. Keys are case-sensitive and a later
// write to the same key replaces the earlier one.
type Headers map[string]string

// Clone returns an independent copy of h.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	maps.Copy(out, h)
	return out
}

// Merge returns a new map holding h overlaid with overrides.
func (h Headers) Merge(overrides Headers) Headers {
	out := h.Clone()
	maps.Copy(out, overrides)
	return out
}

// DefaultHeaders returns the headers a fresh session starts with.
func DefaultHeaders() Headers {
	return Headers{
		"User-Agent":      "webwrapper/1.0",
		"Accept":          "*/*",
		"Accept-Encoding": "gzip",
		"Connection":      "keep-alive",
	}
}

// Profile is the identity owned by exactly one orchestrator.
type Profile struct {
	Headers Headers
	Cookies Cookies
	Proxy   *Proxy
}

// New returns a Profile seeded with DefaultHeaders and no cookies or proxy.
func New() Profile {
	return Profile{
		Headers: DefaultHeaders(),
		Cookies: Cookies{},
	}
}

// Clone deep-copies p so the copy can be handed to another session.
func (p Profile) Clone() Profile {
	out := Profile{
		Headers: p.Headers.Clone(),
		Cookies: p.Cookies.Clone(),
	}
	if p.Proxy != nil {
		px := *p.Proxy
		out.Proxy = &px
	}
	return out
}
