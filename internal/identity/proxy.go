package identity

import (
	"sync"
	"time"
)

// ProxyEndpoint is a proxy with a rolling health score. Endpoints whose
// recent failure/block count crosses the threshold are disabled until a
// cooldown elapses. Owned by the Pool; callers only report outcomes.
type ProxyEndpoint struct {
	URL string

	recentFailures int
	disabled       bool
	disabledUntil  time.Time
}

const (
	defaultDisableThreshold = 5
	defaultCooldown         = 5 * time.Minute
)

type proxySet struct {
	mu        sync.Mutex
	endpoints []*ProxyEndpoint
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func newProxySet(urls []string, threshold int, cooldown time.Duration) *proxySet {
	if threshold <= 0 {
		threshold = defaultDisableThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	s := &proxySet{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
	for _, u := range urls {
		if u == "" {
			continue
		}
		s.endpoints = append(s.endpoints, &ProxyEndpoint{URL: u})
	}
	return s
}

func (s *proxySet) pick() *ProxyEndpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	enabled := s.enabledLocked()
	if len(enabled) == 0 {
		return nil
	}
	return enabled[randIndex(len(enabled))]
}

// enabledLocked re-enables endpoints whose cooldown has elapsed, then
// returns every usable endpoint.
func (s *proxySet) enabledLocked() []*ProxyEndpoint {
	now := s.now()
	var enabled []*ProxyEndpoint
	for _, e := range s.endpoints {
		if e.disabled && now.After(e.disabledUntil) {
			e.disabled = false
			e.recentFailures = 0
		}
		if !e.disabled {
			enabled = append(enabled, e)
		}
	}
	return enabled
}

func (s *proxySet) report(endpoint *ProxyEndpoint, healthy bool) {
	if endpoint == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if healthy {
		endpoint.recentFailures = 0
		return
	}
	endpoint.recentFailures++
	if endpoint.recentFailures >= s.threshold {
		endpoint.disabled = true
		endpoint.disabledUntil = s.now().Add(s.cooldown)
		endpoint.recentFailures = 0
	}
}

func (s *proxySet) counts() (total, enabled int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.endpoints), len(s.enabledLocked())
}
