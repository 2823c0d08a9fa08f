// Package monitor tracks anti-scraping performance counters.
//
// The Monitor is an explicitly-owned aggregate passed to every component
// rather than a process-global, so tests can instantiate isolated instances.
// All counters are monotone and updated with atomic increments; snapshots
// never require callers to coordinate locking.
package monitor

import (
	"sync/atomic"
	"time"
)

// Monitor aggregates request outcome counters for the whole process.
type Monitor struct {
	start time.Time

	requestsTotal      atomic.Int64
	requestsSuccessful atomic.Int64
	requestsFailed     atomic.Int64
	blocksDetected     atomic.Int64
	retriesPerformed   atomic.Int64
	sessionsCreated    atomic.Int64
	browserRequests    atomic.Int64
	browserSuccesses   atomic.Int64
	responseTimeSumNs  atomic.Int64

	mirror bool
}

// New constructs a Monitor. When mirrorPrometheus is set, every increment is
// also reflected in the process Prometheus collectors.
func New(mirrorPrometheus bool) *Monitor {
	if mirrorPrometheus {
		initCollectors()
	}
	return &Monitor{start: time.Now(), mirror: mirrorPrometheus}
}

// RecordSuccess counts one successful attempt.
func (m *Monitor) RecordSuccess(responseTime time.Duration) {
	m.requestsTotal.Add(1)
	m.requestsSuccessful.Add(1)
	m.addResponseTime(responseTime)
	if m.mirror {
		requestsTotal.WithLabelValues("success").Inc()
		responseSeconds.Observe(responseTime.Seconds())
	}
}

// RecordBlocked counts one attempt classified as blocked.
func (m *Monitor) RecordBlocked(responseTime time.Duration) {
	m.requestsTotal.Add(1)
	m.blocksDetected.Add(1)
	m.addResponseTime(responseTime)
	if m.mirror {
		requestsTotal.WithLabelValues("blocked").Inc()
		responseSeconds.Observe(responseTime.Seconds())
	}
}

// RecordFailure counts one attempt that failed without being a block
// (transient network errors, fatal input).
func (m *Monitor) RecordFailure(responseTime time.Duration) {
	m.requestsTotal.Add(1)
	m.requestsFailed.Add(1)
	m.addResponseTime(responseTime)
	if m.mirror {
		requestsTotal.WithLabelValues("failed").Inc()
		responseSeconds.Observe(responseTime.Seconds())
	}
}

// RecordRetry counts one retry (attempts beyond the first).
func (m *Monitor) RecordRetry() {
	m.retriesPerformed.Add(1)
	if m.mirror {
		retriesTotal.Inc()
	}
}

// RecordSessionCreated counts one new session in the pool.
func (m *Monitor) RecordSessionCreated() {
	m.sessionsCreated.Add(1)
	if m.mirror {
		sessionsCreatedTotal.Inc()
	}
}

// RecordBrowserRequest counts one browser-fallback render.
func (m *Monitor) RecordBrowserRequest(success bool) {
	m.browserRequests.Add(1)
	outcome := "failure"
	if success {
		m.browserSuccesses.Add(1)
		outcome = "success"
	}
	if m.mirror {
		browserRequestsTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Monitor) addResponseTime(d time.Duration) {
	if d > 0 {
		m.responseTimeSumNs.Add(int64(d))
	}
}

// Snapshot is a consistent point-in-time view of the counters with derived
// rates. Rates report 0 on a zero total rather than failing.
type Snapshot struct {
	UptimeSeconds      float64 `json:"uptime_seconds"`
	RequestsTotal      int64   `json:"requests_total"`
	RequestsSuccessful int64   `json:"requests_successful"`
	RequestsFailed     int64   `json:"requests_failed"`
	BlocksDetected     int64   `json:"blocks_detected"`
	RetriesPerformed   int64   `json:"retries_performed"`
	SessionsCreated    int64   `json:"sessions_created"`
	BrowserRequests    int64   `json:"browser_requests"`
	BrowserSuccesses   int64   `json:"browser_successes"`
	SuccessRate        float64 `json:"success_rate"`
	BlockRate          float64 `json:"block_rate"`
	BrowserSuccessRate float64 `json:"browser_success_rate"`
	AvgResponseSeconds float64 `json:"avg_response_time_seconds"`
}

// Snapshot returns the current counter values and derived rates.
func (m *Monitor) Snapshot() Snapshot {
	total := m.requestsTotal.Load()
	successful := m.requestsSuccessful.Load()
	blocked := m.blocksDetected.Load()
	browserReqs := m.browserRequests.Load()
	browserOK := m.browserSuccesses.Load()
	sumNs := m.responseTimeSumNs.Load()

	s := Snapshot{
		UptimeSeconds:      time.Since(m.start).Seconds(),
		RequestsTotal:      total,
		RequestsSuccessful: successful,
		RequestsFailed:     m.requestsFailed.Load(),
		BlocksDetected:     blocked,
		RetriesPerformed:   m.retriesPerformed.Load(),
		SessionsCreated:    m.sessionsCreated.Load(),
		BrowserRequests:    browserReqs,
		BrowserSuccesses:   browserOK,
	}
	if total > 0 {
		s.SuccessRate = float64(successful) / float64(total)
		s.BlockRate = float64(blocked) / float64(total)
		s.AvgResponseSeconds = (time.Duration(sumNs) / time.Duration(total)).Seconds()
	}
	if browserReqs > 0 {
		s.BrowserSuccessRate = float64(browserOK) / float64(browserReqs)
	}
	return s
}
