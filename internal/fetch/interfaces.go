package fetch

import (
	"context"
	"time"
)

// SessionHandle is an acquired slot on a pooled session. The handle carries
// the session's accumulated cookies and identity headers; Do applies the
// pre-request pacing delay before the outbound call.
type SessionHandle interface {
	ID() string
	UserAgent() string
	Do(ctx context.Context, target string) (Page, error)
}

// SessionPool allocates, reuses and expires sessions. Acquire blocks
// cooperatively until a slot frees or its wait timeout elapses, then fails
// with CapacityExceededError. Release must be called on every exit path.
type SessionPool interface {
	Acquire(ctx context.Context) (SessionHandle, error)
	Release(handle SessionHandle)
	// Rotate releases the handle and acquires a fresh session with a
	// different identity, used after a blocked classification. On failure
	// the passed handle has already been released and must not be
	// released again.
	Rotate(ctx context.Context, handle SessionHandle) (SessionHandle, error)
}

// Renderer is the browser fallback: a full page render in a real browser
// engine, isolated per call.
type Renderer interface {
	Render(ctx context.Context, target string, timeout time.Duration) (Page, error)
}

// FetchFunc performs one raw attempt through the given session.
type FetchFunc func(ctx context.Context, handle SessionHandle, target string) (Page, error)

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
