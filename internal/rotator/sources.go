package rotator

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/webwrapper/internal/profile"
)

// RoundRobinProxies cycles through a fixed proxy list.
type RoundRobinProxies struct {
	mu      sync.Mutex
	proxies []*profile.Proxy
	next    int
}

// NewRoundRobinProxies parses raw proxy addresses. An empty list yields a
// source that reports ErrNotImplemented.
func NewRoundRobinProxies(raw []string) (*RoundRobinProxies, error) {
	out := &RoundRobinProxies{}
	for _, r := range raw {
		px, err := profile.ParseProxy(r)
		if err != nil {
			return nil, fmt.Errorf("rotation proxy %q: %w", r, err)
		}
		out.proxies = append(out.proxies, px)
	}
	return out, nil
}

// StartAt moves the cursor to i so sources built for different workers
// begin on different proxies.
func (s *RoundRobinProxies) StartAt(i int) *RoundRobinProxies {
	s.mu.Lock()
	s.next = max(i, 0)
	s.mu.Unlock()
	return s
}

// NewProxy implements ProxySource.
func (s *RoundRobinProxies) NewProxy(context.Context) (*profile.Proxy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.proxies) == 0 {
		return nil, ErrNotImplemented
	}
	px := *s.proxies[s.next%len(s.proxies)]
	s.next++
	return &px, nil
}

// RoundRobinUserAgents cycles the User-Agent over a base header set.
type RoundRobinUserAgents struct {
	mu     sync.Mutex
	base   profile.Headers
	agents []string
	next   int
}

// NewRoundRobinUserAgents clones base and rotates agents through it.
func NewRoundRobinUserAgents(base profile.Headers, agents []string) *RoundRobinUserAgents {
	return &RoundRobinUserAgents{
		base:   base.Clone(),
		agents: append([]string(nil), agents...),
	}
}

// StartAt moves the cursor to i.
func (s *RoundRobinUserAgents) StartAt(i int) *RoundRobinUserAgents {
	s.mu.Lock()
	s.next = max(i, 0)
	s.mu.Unlock()
	return s
}

// NewHeaders implements HeaderSource.
func (s *RoundRobinUserAgents) NewHeaders(context.Context) (profile.Headers, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.agents) == 0 {
		return nil, ErrNotImplemented
	}
	h := s.base.Clone()
	h["User-Agent"] = s.agents[s.next%len(s.agents)]
	s.next++
	return h, nil
}
