package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/soccerdata/tmfetch/internal/monitor"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(10 * time.Millisecond)
	return c.now
}

type fakeHandle struct {
	id string
	ua string
}

func (h *fakeHandle) ID() string        { return h.id }
func (h *fakeHandle) UserAgent() string { return h.ua }
func (h *fakeHandle) Do(context.Context, string) (Page, error) {
	return Page{}, errors.New("fakeHandle.Do must not be reached")
}

type fakePool struct {
	mu         sync.Mutex
	nextID     int
	rotations  int
	released   []string
	acquireErr error
	rotateErr  error
}

func (p *fakePool) Acquire(context.Context) (SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	return p.newHandleLocked(), nil
}

func (p *fakePool) Release(h SessionHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h != nil {
		p.released = append(p.released, h.ID())
	}
}

// Rotate mirrors the production pool: the old handle is released before the
// re-acquire, so a failed rotation still consumes it.
func (p *fakePool) Rotate(_ context.Context, h SessionHandle) (SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h != nil {
		p.released = append(p.released, h.ID())
	}
	if p.rotateErr != nil {
		return nil, p.rotateErr
	}
	p.rotations++
	return p.newHandleLocked(), nil
}

func (p *fakePool) newHandleLocked() *fakeHandle {
	p.nextID++
	return &fakeHandle{
		id: fmt.Sprintf("session-%d", p.nextID),
		ua: fmt.Sprintf("agent-%d", p.nextID),
	}
}

type attemptResult struct {
	page Page
	err  error
}

// scriptFetch replays the given results in order, repeating the last one when
// the script runs out.
func scriptFetch(calls *int, results ...attemptResult) FetchFunc {
	return func(context.Context, SessionHandle, string) (Page, error) {
		i := *calls
		*calls++
		if i >= len(results) {
			i = len(results) - 1
		}
		return results[i].page, results[i].err
	}
}

func testClassifier() *Classifier {
	return NewClassifier(ClassifierOptions{
		MinHTMLBytes: 10,
		BrandToken:   "transfermarkt",
	})
}

func okPage() Page {
	return Page{StatusCode: 200, Body: []byte("<html><body>transfermarkt squad table</body></html>")}
}

func blockedPage() Page {
	return Page{StatusCode: 403, Body: []byte("<html>Access Denied</html>")}
}

func newTestRetry(pool SessionPool, cfg RetryConfig) (*RetryManager, *monitor.Monitor, *[]time.Duration) {
	mon := monitor.New(false)
	rm := NewRetryManager(testClassifier(), pool, mon, cfg, zap.NewNop())
	rm.clock = &fakeClock{now: time.Unix(1700000000, 0)}
	delays := &[]time.Duration{}
	rm.pause = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return rm, mon, delays
}

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	t.Parallel()

	pool := &fakePool{}
	handle, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	rm, mon, delays := newTestRetry(pool, RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 8 * time.Second})

	calls := 0
	page, final, err := rm.Execute(context.Background(), "https://example.test/players", handle,
		scriptFetch(&calls, attemptResult{page: okPage()}))
	require.NoError(t, err)
	require.Equal(t, 200, page.StatusCode)
	require.Equal(t, handle.ID(), final.ID())
	require.Equal(t, 1, calls)
	require.Empty(t, *delays)

	snap := mon.Snapshot()
	require.EqualValues(t, 1, snap.RequestsTotal)
	require.EqualValues(t, 1, snap.RequestsSuccessful)
	require.EqualValues(t, 0, snap.RetriesPerformed)
}

func TestExecuteTransientBackoffExhaustion(t *testing.T) {
	t.Parallel()

	pool := &fakePool{}
	handle, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	rm, mon, delays := newTestRetry(pool, RetryConfig{MaxRetries: 4, BaseDelay: time.Second, MaxDelay: 8 * time.Second})

	calls := 0
	netErr := &net.OpError{Op: "read", Err: errors.New("connection reset by peer")}
	_, final, err := rm.Execute(context.Background(), "https://example.test/players", handle,
		scriptFetch(&calls, attemptResult{err: netErr}))

	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, ClassTransient, exhausted.Class)
	require.Equal(t, 5, exhausted.Attempts)
	require.Equal(t, 5, calls)

	// Exponential schedule: 1s, 2s, 4s, then the 8s cap.
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, *delays)

	// Transient failures never rotate the session.
	require.Zero(t, pool.rotations)
	require.Equal(t, handle.ID(), final.ID())

	snap := mon.Snapshot()
	require.EqualValues(t, 5, snap.RequestsTotal)
	require.EqualValues(t, 5, snap.RequestsFailed)
	require.EqualValues(t, 4, snap.RetriesPerformed)
	require.EqualValues(t, 0, snap.BlocksDetected)
}

func TestExecuteBlockedRotatesThenSucceeds(t *testing.T) {
	t.Parallel()

	pool := &fakePool{}
	handle, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	rm, mon, delays := newTestRetry(pool, RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 8 * time.Second})

	calls := 0
	page, final, err := rm.Execute(context.Background(), "https://example.test/players", handle,
		scriptFetch(&calls,
			attemptResult{page: blockedPage()},
			attemptResult{page: okPage()},
		))
	require.NoError(t, err)
	require.Equal(t, 200, page.StatusCode)
	require.Equal(t, 1, pool.rotations)
	require.NotEqual(t, handle.ID(), final.ID())
	require.Len(t, *delays, 1)

	snap := mon.Snapshot()
	require.EqualValues(t, 2, snap.RequestsTotal)
	require.EqualValues(t, 1, snap.RequestsSuccessful)
	require.EqualValues(t, 1, snap.BlocksDetected)
	require.EqualValues(t, 1, snap.RetriesPerformed)
}

func TestExecuteBlockedExhaustion(t *testing.T) {
	t.Parallel()

	pool := &fakePool{}
	handle, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	rm, mon, _ := newTestRetry(pool, RetryConfig{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: 8 * time.Second})

	calls := 0
	_, _, err = rm.Execute(context.Background(), "https://example.test/players", handle,
		scriptFetch(&calls, attemptResult{page: blockedPage()}))

	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, ClassBlocked, exhausted.Class)
	require.Equal(t, 3, exhausted.Attempts)
	require.Equal(t, 2, pool.rotations)

	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	require.Equal(t, 403, blocked.StatusCode)

	snap := mon.Snapshot()
	require.EqualValues(t, 3, snap.BlocksDetected)
	require.EqualValues(t, 2, snap.RetriesPerformed)
}

func TestExecuteFatalStopsImmediately(t *testing.T) {
	t.Parallel()

	pool := &fakePool{}
	handle, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	rm, mon, delays := newTestRetry(pool, RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 8 * time.Second})

	calls := 0
	_, _, err = rm.Execute(context.Background(), "https://example.test/players/missing", handle,
		scriptFetch(&calls, attemptResult{page: Page{StatusCode: 404, Body: []byte("not found")}}))

	var fatal *FatalInputError
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, 1, calls)
	require.Empty(t, *delays)
	require.Zero(t, pool.rotations)

	snap := mon.Snapshot()
	require.EqualValues(t, 1, snap.RequestsTotal)
	require.EqualValues(t, 1, snap.RequestsFailed)
}

func TestExecuteRejectsMalformedTarget(t *testing.T) {
	t.Parallel()

	pool := &fakePool{}
	handle, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	rm, mon, _ := newTestRetry(pool, RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 8 * time.Second})

	for _, target := range []string{"", "not a url", "ftp://example.test/file", "/relative/path"} {
		calls := 0
		_, _, err := rm.Execute(context.Background(), target, handle,
			scriptFetch(&calls, attemptResult{page: okPage()}))

		var fatal *FatalInputError
		require.ErrorAs(t, err, &fatal, "target %q", target)
		require.Zero(t, calls, "no attempt for target %q", target)
	}

	snap := mon.Snapshot()
	require.EqualValues(t, 4, snap.RequestsFailed)
	require.EqualValues(t, 0, snap.RetriesPerformed)
}

func TestExecuteOperationDeadline(t *testing.T) {
	t.Parallel()

	pool := &fakePool{}
	handle, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	rm, _, _ := newTestRetry(pool, RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 8 * time.Second})
	rm.pause = func(ctx context.Context, _ time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	_, _, err = rm.Execute(ctx, "https://example.test/players", handle,
		scriptFetch(&calls, attemptResult{err: errors.New("i/o timeout")}))

	var timedOut *OperationTimeoutError
	require.ErrorAs(t, err, &timedOut)
	require.Equal(t, 1, calls)
}

func TestExecuteRotateFailureReturnsNilHandle(t *testing.T) {
	t.Parallel()

	pool := &fakePool{rotateErr: errors.New("pool draining")}
	handle := &fakeHandle{id: "session-0", ua: "agent-0"}

	rm, mon, _ := newTestRetry(pool, RetryConfig{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: 8 * time.Second})

	calls := 0
	_, final, err := rm.Execute(context.Background(), "https://example.test/players", handle,
		scriptFetch(&calls, attemptResult{page: blockedPage()}))
	require.ErrorContains(t, err, "rotate session after block")

	// The pool consumed the handle inside the failed rotation: Execute must
	// not hand it back, or the caller would release it a second time and
	// free a slot owned by another in-flight request.
	require.Nil(t, final)
	require.Equal(t, []string{"session-0"}, pool.released)

	// No follow-up attempt happened, so no retry is counted either.
	require.EqualValues(t, 0, mon.Snapshot().RetriesPerformed)
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	t.Parallel()

	rm, _, _ := newTestRetry(&fakePool{}, RetryConfig{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: 8 * time.Second})

	require.Equal(t, time.Second, rm.backoff(0))
	require.Equal(t, 2*time.Second, rm.backoff(1))
	require.Equal(t, 4*time.Second, rm.backoff(2))
	require.Equal(t, 8*time.Second, rm.backoff(3))
	require.Equal(t, 8*time.Second, rm.backoff(4))
	// Shift overflow collapses to the cap rather than going negative.
	require.Equal(t, 8*time.Second, rm.backoff(70))
}

func TestBackoffJitterStaysWithinWindow(t *testing.T) {
	t.Parallel()

	rm, _, _ := newTestRetry(&fakePool{}, RetryConfig{
		MaxRetries:   3,
		BaseDelay:    time.Second,
		MaxDelay:     8 * time.Second,
		JitterFactor: 0.5,
	})

	for i := 0; i < 100; i++ {
		d := rm.backoff(1)
		require.GreaterOrEqual(t, d, 2*time.Second)
		require.LessOrEqual(t, d, 3*time.Second)
	}
}
