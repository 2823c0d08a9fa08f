package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soccerdata/tmfetch/internal/fetch"
	"github.com/soccerdata/tmfetch/internal/identity"
	"github.com/soccerdata/tmfetch/internal/monitor"
	"github.com/soccerdata/tmfetch/internal/pacing"
)

// Config controls the session pool.
type Config struct {
	// SessionTimeout is the idle age after which a session expires.
	SessionTimeout time.Duration
	// MaxSessions caps live sessions in the process.
	MaxSessions int
	// MaxConcurrent caps outstanding requests per session.
	MaxConcurrent int
	// AcquireTimeout bounds the cooperative wait for a free slot.
	AcquireTimeout time.Duration
	// RequestTimeout is the per-attempt connect/read ceiling.
	RequestTimeout time.Duration
}

// Manager allocates, reuses and expires sessions drawn from the identity
// pool. It implements fetch.SessionPool.
type Manager struct {
	cfg        Config
	identities *identity.Pool
	pacer      *pacing.Pacer
	mon        *monitor.Monitor
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	waiters  []chan struct{}
}

// NewManager constructs a Manager.
func NewManager(
	cfg Config,
	identities *identity.Pool,
	pacer *pacing.Pacer,
	mon *monitor.Monitor,
	logger *zap.Logger,
) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:        cfg,
		identities: identities,
		pacer:      pacer,
		mon:        mon,
		logger:     logger,
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}
}

// Acquire returns a session with a free concurrency slot. Reuse of a
// non-expired session (least recently used first) is preferred over
// creation, to keep cookie continuity; creation over eviction; eviction only
// touches idle sessions. When nothing frees up within the acquire timeout it
// fails with CapacityExceededError.
func (m *Manager) Acquire(ctx context.Context) (fetch.SessionHandle, error) {
	return m.acquire(ctx, "")
}

// Release returns the handle's concurrency slot and wakes one waiter.
// Safe to call on every exit path; a nil handle is a no-op.
func (m *Manager) Release(h fetch.SessionHandle) {
	hh, ok := h.(*handle)
	if !ok || hh == nil {
		return
	}
	m.mu.Lock()
	if hh.s.outstanding > 0 {
		hh.s.outstanding--
	}
	hh.s.lastUsed = m.now()
	m.notifyLocked()
	m.mu.Unlock()
}

// Rotate swaps the handle for one with a different identity, used after a
// blocked response. The released slot is what usually makes room for the
// replacement, so the handle is released before the re-acquire; if the
// re-acquire then fails, the handle is already gone and the caller must
// not release it a second time.
func (m *Manager) Rotate(ctx context.Context, h fetch.SessionHandle) (fetch.SessionHandle, error) {
	prevUA := h.UserAgent()
	m.Release(h)
	return m.acquire(ctx, prevUA)
}

func (m *Manager) acquire(ctx context.Context, avoidUserAgent string) (fetch.SessionHandle, error) {
	waitStart := m.now()
	timer := time.NewTimer(m.cfg.AcquireTimeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		m.cleanupLocked()

		if s := m.claimLocked(avoidUserAgent); s != nil {
			m.mu.Unlock()
			return &handle{m: m, s: s}, nil
		}

		s, err := m.createLocked(avoidUserAgent)
		if err == nil && s != nil {
			m.mu.Unlock()
			return &handle{m: m, s: s}, nil
		}
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}

		// Identity avoidance is a preference, not a deadlock: fall back to
		// any free slot before suspending.
		if avoidUserAgent != "" {
			if s := m.claimLocked(""); s != nil {
				m.mu.Unlock()
				return &handle{m: m, s: s}, nil
			}
		}

		// Saturated: suspend until a release or eviction opportunity.
		ch := make(chan struct{})
		m.waiters = append(m.waiters, ch)
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			m.dropWaiter(ch)
			return nil, fmt.Errorf("session acquire canceled: %w", ctx.Err())
		case <-timer.C:
			m.dropWaiter(ch)
			return nil, &fetch.CapacityExceededError{Waited: m.now().Sub(waitStart)}
		}
	}
}

// claimLocked finds the least-recently-used non-expired session with a free
// slot, skipping the avoided user-agent when alternatives could exist.
func (m *Manager) claimLocked(avoidUserAgent string) *Session {
	now := m.now()
	var candidate *Session
	for _, s := range m.sessions {
		if s.expired(now, m.cfg.SessionTimeout) {
			continue
		}
		if s.outstanding >= m.cfg.MaxConcurrent {
			continue
		}
		if avoidUserAgent != "" && s.identity.UserAgent == avoidUserAgent {
			continue
		}
		if candidate == nil || s.lastUsed.Before(candidate.lastUsed) {
			candidate = s
		}
	}
	if candidate == nil {
		return nil
	}
	candidate.outstanding++
	candidate.lastUsed = now
	candidate.totalRequests++
	return candidate
}

// createLocked makes a new session when the cap allows it, evicting the
// oldest idle session if that is what makes room. Returns (nil, nil) when
// the pool is saturated and nothing is evictable.
func (m *Manager) createLocked(avoidUserAgent string) (*Session, error) {
	if len(m.sessions) >= m.cfg.MaxSessions {
		victim := m.evictableLocked()
		if victim == nil {
			return nil, nil
		}
		delete(m.sessions, victim.id)
		m.logger.Debug("evicted session",
			zap.String("session", victim.id),
			zap.Time("last_used", victim.lastUsed),
		)
	}

	now := m.now()
	s, err := newSession(m.identities.Select(avoidUserAgent), m.identities.PickProxy(), m.cfg.RequestTimeout, now)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.outstanding = 1
	s.totalRequests = 1
	m.sessions[s.id] = s
	m.mon.RecordSessionCreated()
	m.logger.Debug("created session",
		zap.String("session", s.id),
		zap.String("user_agent", s.identity.UserAgent),
		zap.Int("live_sessions", len(m.sessions)),
	)
	return s, nil
}

// evictableLocked picks the oldest expired idle session, falling back to the
// least-recently-used idle one. Sessions with outstanding requests are never
// evicted.
func (m *Manager) evictableLocked() *Session {
	now := m.now()
	var expired, lru *Session
	for _, s := range m.sessions {
		if s.outstanding > 0 {
			continue
		}
		if s.expired(now, m.cfg.SessionTimeout) {
			if expired == nil || s.lastUsed.Before(expired.lastUsed) {
				expired = s
			}
			continue
		}
		if lru == nil || s.lastUsed.Before(lru.lastUsed) {
			lru = s
		}
	}
	if expired != nil {
		return expired
	}
	return lru
}

// cleanupLocked drops expired sessions that hold no outstanding requests.
func (m *Manager) cleanupLocked() {
	now := m.now()
	for id, s := range m.sessions {
		if s.outstanding == 0 && s.expired(now, m.cfg.SessionTimeout) {
			delete(m.sessions, id)
		}
	}
}

func (m *Manager) notifyLocked() {
	if len(m.waiters) == 0 {
		return
	}
	ch := m.waiters[0]
	m.waiters = m.waiters[1:]
	close(ch)
}

func (m *Manager) dropWaiter(ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.waiters {
		if w == ch {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
	// Already signaled: pass the wake-up on so it is not lost.
	m.notifyLocked()
}

func (m *Manager) touch(s *Session) {
	m.mu.Lock()
	s.lastUsed = m.now()
	m.mu.Unlock()
}

// Stats describes pool occupancy for the observability surface.
type Stats struct {
	LiveSessions          int     `json:"live_sessions"`
	MaxSessions           int     `json:"max_sessions"`
	OutstandingRequests   int     `json:"outstanding_requests"`
	MaxConcurrentRequests int     `json:"max_concurrent_requests"`
	UserAgentsAvailable   int     `json:"user_agents_available"`
	ProxiesConfigured     int     `json:"proxies_configured"`
	ProxiesEnabled        int     `json:"proxies_enabled"`
	SessionTimeoutSeconds float64 `json:"session_timeout_seconds"`
}

// Stats returns a point-in-time view of pool occupancy.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	live := 0
	outstanding := 0
	now := m.now()
	for _, s := range m.sessions {
		if !s.expired(now, m.cfg.SessionTimeout) {
			live++
		}
		outstanding += s.outstanding
	}
	m.mu.Unlock()

	total, enabled := m.identities.ProxyCounts()
	return Stats{
		LiveSessions:          live,
		MaxSessions:           m.cfg.MaxSessions,
		OutstandingRequests:   outstanding,
		MaxConcurrentRequests: m.cfg.MaxConcurrent,
		UserAgentsAvailable:   m.identities.UserAgentCount(),
		ProxiesConfigured:     total,
		ProxiesEnabled:        enabled,
		SessionTimeoutSeconds: m.cfg.SessionTimeout.Seconds(),
	}
}
