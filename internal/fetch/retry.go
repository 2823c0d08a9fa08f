package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/soccerdata/tmfetch/internal/monitor"
	"github.com/soccerdata/tmfetch/internal/pacing"
)

// RetryConfig controls the attempt loop.
type RetryConfig struct {
	// MaxRetries bounds retries beyond the first attempt.
	MaxRetries int
	// BaseDelay and MaxDelay shape the exponential backoff
	// min(base*2^attempt, max).
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// JitterFactor widens each backoff by a random fraction of itself.
	JitterFactor float64
}

// RetryManager wraps a single logical fetch with classification, backoff and
// bounded retry. A blocked classification rotates the session before the
// next attempt; a transient one keeps it. The monitor is write-only here:
// it observes every attempt but never feeds back into retry decisions.
type RetryManager struct {
	classifier *Classifier
	pool       SessionPool
	mon        *monitor.Monitor
	cfg        RetryConfig
	clock      Clock
	pause      func(ctx context.Context, d time.Duration) error
	logger     *zap.Logger
}

// NewRetryManager constructs a RetryManager.
func NewRetryManager(
	classifier *Classifier,
	pool SessionPool,
	mon *monitor.Monitor,
	cfg RetryConfig,
	logger *zap.Logger,
) *RetryManager {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryManager{
		classifier: classifier,
		pool:       pool,
		mon:        mon,
		cfg:        cfg,
		clock:      systemClock{},
		pause:      pacing.Pause,
		logger:     logger,
	}
}

// Execute runs the attempt loop for target through the acquired session.
// It returns the session handle in effect when the loop ends; rotation on
// blocked attempts may have replaced the one passed in, and the caller owns
// releasing whichever comes back. A failed rotation returns a nil handle:
// the pool released the old one during the swap, so there is nothing left
// for the caller to release.
func (r *RetryManager) Execute(
	ctx context.Context,
	target string,
	handle SessionHandle,
	fn FetchFunc,
) (Page, SessionHandle, error) {
	if err := validateTarget(target); err != nil {
		r.mon.RecordFailure(0)
		return Page{}, handle, err
	}

	opStart := r.clock.Now()
	var (
		lastClass Classification
		lastErr   error
	)

	for attempt := 0; ; attempt++ {
		start := r.clock.Now()
		page, fetchErr := fn(ctx, handle, target)
		att := Attempt{
			URL:       target,
			SessionID: handle.ID(),
			Number:    attempt,
			StartedAt: start,
			Elapsed:   r.clock.Now().Sub(start),
		}
		att.Outcome, lastErr = r.classify(page, fetchErr, target)
		r.record(att)

		switch att.Outcome {
		case ClassSuccess:
			return page, handle, nil
		case ClassFatal:
			return Page{}, handle, lastErr
		}
		lastClass = att.Outcome

		if attempt >= r.cfg.MaxRetries {
			break
		}

		if err := r.pause(ctx, r.backoff(attempt)); err != nil {
			return Page{}, handle, r.deadlineError(ctx, target, opStart, err)
		}

		if att.Outcome == ClassBlocked {
			rotated, err := r.pool.Rotate(ctx, handle)
			if err != nil {
				// The pool has already released the old handle; a nil
				// result keeps the caller from releasing it twice.
				return Page{}, nil, fmt.Errorf("rotate session after block: %w", err)
			}
			r.logger.Debug("session rotated after block",
				zap.String("url", target),
				zap.String("old_session", handle.ID()),
				zap.String("new_session", rotated.ID()),
			)
			handle = rotated
		}
		r.mon.RecordRetry()
	}

	return Page{}, handle, &RetriesExhaustedError{
		URL:      target,
		Class:    lastClass,
		Attempts: r.cfg.MaxRetries + 1,
		Last:     lastErr,
	}
}

// classify tags the attempt and builds the matching taxonomy error.
func (r *RetryManager) classify(page Page, fetchErr error, target string) (Classification, error) {
	class, reason := r.classifier.Classify(page, fetchErr)
	switch class {
	case ClassSuccess:
		return class, nil
	case ClassBlocked:
		return class, &BlockedError{URL: target, StatusCode: page.StatusCode, Reason: reason}
	case ClassFatal:
		return class, &FatalInputError{URL: target, Reason: reason}
	default:
		if fetchErr == nil {
			fetchErr = errors.New(reason)
		}
		return ClassTransient, &TransientNetworkError{URL: target, Err: fetchErr}
	}
}

// record updates the monitor exactly once per attempt.
func (r *RetryManager) record(att Attempt) {
	switch att.Outcome {
	case ClassSuccess:
		r.mon.RecordSuccess(att.Elapsed)
	case ClassBlocked:
		r.mon.RecordBlocked(att.Elapsed)
	default:
		r.mon.RecordFailure(att.Elapsed)
	}
	r.logger.Debug("fetch attempt",
		zap.String("url", att.URL),
		zap.String("session", att.SessionID),
		zap.Int("attempt", att.Number),
		zap.String("outcome", att.Outcome.String()),
		zap.Duration("elapsed", att.Elapsed),
	)
}

// backoff computes min(base*2^attempt, max) plus independent random jitter.
func (r *RetryManager) backoff(attempt int) time.Duration {
	delay := r.cfg.BaseDelay << uint(attempt)
	if delay > r.cfg.MaxDelay || delay <= 0 {
		delay = r.cfg.MaxDelay
	}
	if r.cfg.JitterFactor > 0 {
		window := time.Duration(float64(delay) * r.cfg.JitterFactor)
		delay += pacing.Jitter(0, window)
	}
	return delay
}

func (r *RetryManager) deadlineError(ctx context.Context, target string, opStart time.Time, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &OperationTimeoutError{URL: target, Elapsed: r.clock.Now().Sub(opStart)}
	}
	return fmt.Errorf("fetch aborted: %w", err)
}

func validateTarget(target string) error {
	u, err := url.ParseRequestURI(target)
	if err != nil {
		return &FatalInputError{URL: target, Reason: "malformed target URL"}
	}
	if !strings.HasPrefix(u.Scheme, "http") || u.Host == "" {
		return &FatalInputError{URL: target, Reason: "target must be an absolute http(s) URL"}
	}
	return nil
}
