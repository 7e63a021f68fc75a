package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hollowresonance/spotconnect/internal/errs"
)

// replyEnvelope is the wire shape of an outbound reply frame (spec.md §6):
// {"type":"reply","key":"<key>","payload":{"success":<bool>}}. Only the
// boolean success is conveyed at this wire level; the richer ReplyResult
// enum stays local for observability and tests.
type replyEnvelope struct {
	Type    string `json:"type"`
	Key     string `json:"key"`
	Payload struct {
		Success bool `json:"success"`
	} `json:"payload"`
}

// sentKeyRetention is how long a key's "already replied" marker is kept
// around to dedupe a straggling second SendReply call; keys are one-shot
// per command, so anything older than this is pruned to keep the map from
// growing unbounded over a long-lived dealer session.
const sentKeyRetention = 5 * time.Minute

// ReplyTracker implements C12: it serializes reply envelopes onto the wire
// and lets callers wait for a reply by key with a bounded timeout, using a
// hash map of one-shot channels guarded by a short mutex (spec.md §9).
type ReplyTracker struct {
	send   func([]byte) error
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan ReplyResult
	sent    map[string]time.Time
}

// NewReplyTracker creates a tracker that writes reply frames via send.
func NewReplyTracker(send func([]byte) error, logger *slog.Logger) *ReplyTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplyTracker{
		send:    send,
		logger:  logger,
		pending: make(map[string]chan ReplyResult),
		sent:    make(map[string]time.Time),
	}
}

// pruneSentLocked drops sent-key markers older than sentKeyRetention.
// Caller must hold r.mu.
func (r *ReplyTracker) pruneSentLocked(now time.Time) {
	for key, at := range r.sent {
		if now.Sub(at) > sentKeyRetention {
			delete(r.sent, key)
		}
	}
}

// SendReply writes the reply envelope for key and completes any pending
// WaitForReply call for the same key. Writing a second reply for a key that
// has already been replied to is a no-op on the wire (spec.md §8: "a reply
// frame is written at most once per key"), though the in-process completion
// still happens so a late WaitForReply caller doesn't hang.
func (r *ReplyTracker) SendReply(key string, result ReplyResult) error {
	now := time.Now()

	r.mu.Lock()
	_, alreadySent := r.sent[key]
	ch := r.pending[key]
	delete(r.pending, key)
	if !alreadySent {
		r.sent[key] = now
	}
	r.pruneSentLocked(now)
	r.mu.Unlock()

	if ch != nil {
		select {
		case ch <- result:
		default:
		}
	}

	if alreadySent {
		return nil
	}

	env := replyEnvelope{Type: "reply", Key: key}
	env.Payload.Success = result == Success

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshalling reply envelope: %w", err)
	}
	return r.send(data)
}

// WaitForReply blocks until SendReply(key, ...) is called or timeout
// elapses, whichever is first. On timeout it returns (UpstreamError,
// errs.ErrReplyTimeout) and removes the pending slot.
func (r *ReplyTracker) WaitForReply(ctx context.Context, key string, timeout time.Duration) (ReplyResult, error) {
	ch := make(chan ReplyResult, 1)

	r.mu.Lock()
	r.pending[key] = ch
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-ch:
		return result, nil
	case <-timer.C:
		r.mu.Lock()
		delete(r.pending, key)
		r.mu.Unlock()
		return UpstreamError, errs.ErrReplyTimeout
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, key)
		r.mu.Unlock()
		return UpstreamError, ctx.Err()
	}
}
