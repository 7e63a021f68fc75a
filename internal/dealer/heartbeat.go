package dealer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hollowresonance/spotconnect/internal/errs"
)

// cachedPingFrame and cachedPongFrame are pre-encoded, allocation-free
// outbound frames per spec.md §4.1's "zero-allocation hot path" for the
// heartbeat's most frequent writes.
var (
	cachedPingFrame = []byte(`{"type":"ping"}`)
	cachedPongFrame = []byte(`{"type":"pong"}`)
)

// Heartbeat implements C1: periodic PING with PONG-timeout detection. Timeout
// detection is evaluated at tick boundaries only, so it never races a PONG
// that arrives between ticks.
type Heartbeat struct {
	pingInterval time.Duration
	pongTimeout  time.Duration
	logger       *slog.Logger

	mu           sync.Mutex
	waitingPong  bool
	pongDeadline time.Time
	lastPong     time.Time
	timeoutFired bool
}

// tickResolution is the granularity of the heartbeat's internal clock tick.
// A single tick drives both "is a ping due" and "has the pong deadline
// passed" checks, so the two never race each other the way two independent
// timers could.
const tickResolution = 250 * time.Millisecond

// NewHeartbeat creates a scheduler with the given cadence. Zero durations
// fall back to the spec defaults (30s ping interval, 3s pong timeout).
func NewHeartbeat(pingInterval, pongTimeout time.Duration, logger *slog.Logger) *Heartbeat {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if pongTimeout <= 0 {
		pongTimeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{pingInterval: pingInterval, pongTimeout: pongTimeout, logger: logger}
}

// Run sends a PING every pingInterval via send, and calls onTimeout exactly
// once if a PONG has not arrived (via RecordPong) by the next tick after
// pongTimeout has elapsed. Run blocks until ctx is cancelled or onTimeout
// fires.
func (h *Heartbeat) Run(ctx context.Context, send func([]byte) error, onTimeout func(error)) {
	ticker := time.NewTicker(tickResolution)
	defer ticker.Stop()

	nextPingDue := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.mu.Lock()
			if h.waitingPong && !h.pongDeadline.IsZero() && !now.Before(h.pongDeadline) && !h.timeoutFired {
				h.timeoutFired = true
				h.mu.Unlock()
				h.logger.Warn("heartbeat pong timeout")
				onTimeout(errs.ErrHeartbeatTimeout)
				return
			}
			h.mu.Unlock()

			if now.Before(nextPingDue) {
				continue
			}
			nextPingDue = now.Add(h.pingInterval)

			h.mu.Lock()
			h.waitingPong = true
			h.pongDeadline = now.Add(h.pongTimeout)
			h.mu.Unlock()

			if err := send(cachedPingFrame); err != nil {
				h.logger.Warn("failed to send ping", "error", err)
			}
		}
	}
}

// RecordPong clears the waiting-for-pong flag and records the time a PONG
// was observed.
func (h *Heartbeat) RecordPong() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.waitingPong = false
	h.pongDeadline = time.Time{}
	h.lastPong = time.Now()
}

// PongFrame returns the cached outbound PONG frame bytes.
func PongFrame() []byte { return cachedPongFrame }
