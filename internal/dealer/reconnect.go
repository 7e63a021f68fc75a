package dealer

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hollowresonance/spotconnect/internal/errs"
)

// Reconnect implements C2: exponential backoff with a cap and an optional
// attempt ceiling, adapted from the teacher's calculateBackoff/ConnectSignaling
// retry loop.
type Reconnect struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	maxAttempts  int // 0 = unlimited
	logger       *slog.Logger

	mu            sync.Mutex
	reconnecting  bool
	attempt       int
}

// NewReconnect creates a scheduler with the given backoff parameters.
func NewReconnect(initialDelay, maxDelay time.Duration, maxAttempts int, logger *slog.Logger) *Reconnect {
	if initialDelay <= 0 {
		initialDelay = 1 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 300 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconnect{initialDelay: initialDelay, maxDelay: maxDelay, maxAttempts: maxAttempts, logger: logger}
}

// Reset zeroes the attempt counter. Call it after a successful external
// connect outside of Trigger's own retry loop (e.g. the very first connect).
func (r *Reconnect) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempt = 0
}

// Trigger starts the reconnect loop if one is not already running. It calls
// connect repeatedly with exponential backoff until connect succeeds, ctx is
// cancelled, or maxAttempts is exhausted. onSucceeded/onFailed are invoked
// exactly once each on their respective terminal outcome; onFailed is also
// invoked if ctx is cancelled mid-loop (error = ctx.Err()). If a reconnect
// loop is already in flight, Trigger is a no-op.
func (r *Reconnect) Trigger(ctx context.Context, connect func(context.Context) error, onSucceeded func(), onFailed func(error)) {
	r.mu.Lock()
	if r.reconnecting {
		r.mu.Unlock()
		return
	}
	r.reconnecting = true
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			r.reconnecting = false
			r.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				onFailed(ctx.Err())
				return
			default:
			}

			r.mu.Lock()
			r.attempt++
			attempt := r.attempt
			r.mu.Unlock()

			if r.maxAttempts > 0 && attempt > r.maxAttempts {
				r.logger.Warn("reconnect attempts exhausted", "attempts", r.maxAttempts)
				onFailed(errs.ErrConnectionFailed)
				return
			}

			delay := r.delayFor(attempt)
			r.logger.Info("reconnecting", "attempt", attempt, "delay", delay)

			select {
			case <-ctx.Done():
				onFailed(ctx.Err())
				return
			case <-time.After(delay):
			}

			if err := connect(ctx); err != nil {
				r.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
				continue
			}

			r.Reset()
			onSucceeded()
			return
		}
	}()
}

// delayFor returns min(initial*2^(attempt-1), max).
func (r *Reconnect) delayFor(attempt int) time.Duration {
	if attempt <= 1 {
		return r.initialDelay
	}
	scaled := float64(r.initialDelay) * math.Pow(2, float64(attempt-1))
	if scaled > float64(r.maxDelay) {
		return r.maxDelay
	}
	return time.Duration(scaled)
}
