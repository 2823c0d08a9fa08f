// Package fetch defines the resilient fetch core: outcome classification,
// the bounded retry loop, and the escalation to browser rendering.
package fetch

import (
	"net/http"
	"time"
)

// Classification tags the outcome of a single fetch attempt. The four
// classes are mutually exclusive and exhaustive.
type Classification int

const (
	// ClassSuccess is a well-formed response with the expected structural
	// markers present.
	ClassSuccess Classification = iota
	// ClassBlocked is an anti-bot denial: 403/429 status, a known block or
	// CAPTCHA signature, or missing structural markers despite a 200.
	ClassBlocked
	// ClassTransient is an infrastructure failure worth retrying: network
	// timeout, connection reset, HTTP 5xx.
	ClassTransient
	// ClassFatal is a caller error (malformed target, definitive 4xx);
	// never retried.
	ClassFatal
)

// String returns the classification label used in logs and errors.
func (c Classification) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassBlocked:
		return "blocked"
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Page is the raw content returned by a fetch or render.
type Page struct {
	URL         string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
	UsedBrowser bool
}

// Attempt is the transient record of one try inside a retry loop. It is
// created and discarded within a single Execute call, never persisted.
type Attempt struct {
	URL       string
	SessionID string
	Number    int
	StartedAt time.Time
	Outcome   Classification
	Elapsed   time.Duration
}
