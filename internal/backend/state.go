package backend

import (
	"sync"

	"github.com/JakeFAU/webwrapper/internal/profile"
)

// State holds a driver's profile and tracks whether it changed since the
// live session was opened. Drivers embed it to satisfy the profile half of
// Driver.
type State struct {
	mu      sync.RWMutex
	profile profile.Profile
	dirty   bool
}

// NewState seeds a State from p.
func NewState(p profile.Profile) *State {
	p = p.Clone()
	if p.Headers == nil {
		p.Headers = profile.Headers{}
	}
	if p.Cookies == nil {
		p.Cookies = profile.Cookies{}
	}
	return &State{profile: p}
}

// Snapshot returns a copy of the current profile.
func (s *State) Snapshot() profile.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.Clone()
}

// Replace swaps in p wholesale and marks the state dirty.
func (s *State) Replace(p profile.Profile) {
	p = p.Clone()
	if p.Headers == nil {
		p.Headers = profile.Headers{}
	}
	if p.Cookies == nil {
		p.Cookies = profile.Cookies{}
	}
	s.mu.Lock()
	s.profile = p
	s.dirty = true
	s.mu.Unlock()
}

// Headers returns a copy of the header map.
func (s *State) Headers() profile.Headers {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.Headers.Clone()
}

// SetHeaders replaces the header map. Keys absent from h are dropped.
func (s *State) SetHeaders(h profile.Headers) {
	s.mu.Lock()
	s.profile.Headers = h.Clone()
	s.dirty = true
	s.mu.Unlock()
}

// UpdateHeaders merges h into the header map, keeping untouched keys.
func (s *State) UpdateHeaders(h profile.Headers) {
	s.mu.Lock()
	s.profile.Headers = s.profile.Headers.Merge(h)
	s.dirty = true
	s.mu.Unlock()
}

// Cookies returns a copy of the cookie set.
func (s *State) Cookies() profile.Cookies {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.Cookies.Clone()
}

// SetCookies replaces every cookie.
func (s *State) SetCookies(cookies ...profile.Cookie) {
	next := profile.Cookies{}
	next.Put(cookies...)
	s.mu.Lock()
	s.profile.Cookies = next
	s.dirty = true
	s.mu.Unlock()
}

// UpdateCookies merges cookies by name.
func (s *State) UpdateCookies(cookies ...profile.Cookie) {
	s.mu.Lock()
	next := s.profile.Cookies.Clone()
	next.Put(cookies...)
	s.profile.Cookies = next
	s.dirty = true
	s.mu.Unlock()
}

// Proxy returns a copy of the proxy, or nil.
func (s *State) Proxy() *profile.Proxy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile.Proxy == nil {
		return nil
	}
	px := *s.profile.Proxy
	return &px
}

// SetProxy replaces the proxy. A nil proxy means a direct connection.
func (s *State) SetProxy(p *profile.Proxy) {
	s.mu.Lock()
	if p == nil {
		s.profile.Proxy = nil
	} else {
		px := *p
		s.profile.Proxy = &px
	}
	s.dirty = true
	s.mu.Unlock()
}

// Dirty reports whether the profile changed since the last TakeDirty.
func (s *State) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// TakeDirty returns the dirty flag and clears it.
func (s *State) TakeDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.dirty
	s.dirty = false
	return was
}
