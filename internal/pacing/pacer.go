// Package pacing implements human-like request pacing: a jittered
// pre-request delay plus an optional process-wide rate ceiling.
package pacing

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/time/rate"
)

// Pacer delays outbound requests. All waits are cooperative suspensions
// driven by timers and hold no locks.
type Pacer struct {
	min     time.Duration
	max     time.Duration
	limiter *rate.Limiter
}

// New builds a Pacer with a jitter window of [min, max] and, when globalRPS
// is positive, a process-wide requests-per-second ceiling.
func New(min, max time.Duration, globalRPS float64) *Pacer {
	if max < min {
		max = min
	}
	var limiter *rate.Limiter
	if globalRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(globalRPS), 1)
	}
	return &Pacer{min: min, max: max, limiter: limiter}
}

// Wait blocks until the rate ceiling admits a request and the jittered
// pacing delay has elapsed, or the context finishes.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate ceiling wait: %w", err)
		}
	}
	return Pause(ctx, Jitter(p.min, p.max))
}

// Jitter draws a duration uniformly from [min, max].
func Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := max - min
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)))
	if err != nil {
		return min + span/2
	}
	return min + time.Duration(n.Int64())
}

// Pause suspends for the given delay or until the context finishes,
// whichever comes first. A canceled context surfaces as its error so callers
// do not treat an aborted wait as a completed one.
func Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
