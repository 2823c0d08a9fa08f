package fetch

import (
	"fmt"
	"time"
)

// FatalInputError is a non-retryable caller error such as a malformed
// target URL or a definitive 4xx.
type FatalInputError struct {
	URL    string
	Reason string
}

func (e *FatalInputError) Error() string {
	return fmt.Sprintf("fatal input for %s: %s", e.URL, e.Reason)
}

// BlockedError marks a single attempt classified as an anti-bot block.
type BlockedError struct {
	URL        string
	StatusCode int
	Reason     string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked (status %d) for %s: %s", e.StatusCode, e.URL, e.Reason)
}

// TransientNetworkError wraps a retryable infrastructure failure.
type TransientNetworkError struct {
	URL string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient failure for %s: %v", e.URL, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// CapacityExceededError is returned when the session pool stays saturated
// past the acquisition wait timeout.
type CapacityExceededError struct {
	Waited time.Duration
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("session pool capacity exceeded after waiting %s", e.Waited)
}

// RetriesExhaustedError is returned when the attempt budget runs out. The
// Class distinguishes blocked-exhausted from transient-exhausted.
type RetriesExhaustedError struct {
	URL      string
	Class    Classification
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted (%s) after %d attempts for %s: %v",
		e.Class, e.Attempts, e.URL, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// OperationTimeoutError is returned when the caller-supplied overall ceiling
// spanning all retries expires. Distinct from retry-count exhaustion.
type OperationTimeoutError struct {
	URL     string
	Elapsed time.Duration
}

func (e *OperationTimeoutError) Error() string {
	return fmt.Sprintf("operation deadline exceeded after %s for %s", e.Elapsed, e.URL)
}

// RenderTimeoutError is returned when the browser fallback exceeds its
// render ceiling. Treated as transient by callers; never retried here.
type RenderTimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *RenderTimeoutError) Error() string {
	return fmt.Sprintf("browser render timed out after %s for %s", e.Timeout, e.URL)
}
