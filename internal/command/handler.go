package command

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/hollowresonance/spotconnect/internal/dealer"
	"github.com/hollowresonance/spotconnect/internal/pubsub"
)

// messageIdentPrefix is the only dealer message_ident namespace the handler
// accepts REQUEST frames from (spec.md §4.6).
const messageIdentPrefix = "hm://connect-state/v1/"

// defaultQueueCapacity bounds the single-consumer command queue when the
// caller doesn't configure one (spec.md §4.6).
const defaultQueueCapacity = 100

type queuedCommand struct {
	cmd      *Command
	replyKey string
}

// Handler implements C6: it subscribes to the dealer's classified frame
// stream, parses REQUEST frames into Commands (C5), and fans each one out to
// per-kind subscribers through a bounded single-consumer queue. Reply
// tracking (C12) is delegated to an embedded ReplyTracker.
type Handler struct {
	frames  *pubsub.Subject[*dealer.Frame]
	replies *ReplyTracker
	logger  *slog.Logger

	queue chan queuedCommand

	mu   sync.Mutex
	subs map[Kind]*pubsub.Subject[*Command]
}

// NewHandler creates a Handler. send is the dealer transport's write
// function, used by the embedded ReplyTracker to emit reply envelopes.
// queueCapacity bounds the single-consumer command queue; a value <= 0 falls
// back to defaultQueueCapacity.
func NewHandler(frames *pubsub.Subject[*dealer.Frame], send func([]byte) error, queueCapacity int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}
	return &Handler{
		frames:  frames,
		replies: NewReplyTracker(send, logger),
		logger:  logger,
		queue:   make(chan queuedCommand, queueCapacity),
		subs:    make(map[Kind]*pubsub.Subject[*Command]),
	}
}

// Replies exposes the reply tracker so playback/connect-state consumers can
// call SendReply once a dispatched command finishes processing.
func (h *Handler) Replies() *ReplyTracker { return h.replies }

// Subscribe returns a channel of Commands of the given kind. Subscribers are
// isolated from one another: a slow subscriber only drops its own buffer,
// never blocks the dispatch worker or other subscribers (spec.md §4.6).
func (h *Handler) Subscribe(kind Kind, buffer int) (<-chan *Command, func()) {
	h.mu.Lock()
	sub, ok := h.subs[kind]
	if !ok {
		sub = pubsub.NewSubject[*Command](h.logger)
		h.subs[kind] = sub
	}
	h.mu.Unlock()
	return sub.Subscribe(buffer)
}

// Run subscribes to frames and drives the dispatch worker until ctx is
// cancelled.
func (h *Handler) Run(ctx context.Context) {
	frameCh, cancel := h.frames.Subscribe(64)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.worker(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			close(h.queue)
			wg.Wait()
			return
		case f, ok := <-frameCh:
			if !ok {
				close(h.queue)
				wg.Wait()
				return
			}
			h.handleFrame(f)
		}
	}
}

func (h *Handler) handleFrame(f *dealer.Frame) {
	if f == nil || f.Type != dealer.FrameRequest {
		return
	}
	if !strings.HasPrefix(f.MessageIdent, messageIdentPrefix) {
		return
	}

	body := f.CommandBody
	if f.IsPlayerCommand() {
		if nested, ok := body["command"].(map[string]any); ok {
			body = nested
		}
	}

	endpoint, _ := body["endpoint"].(string)
	env := Envelope{
		MessageIdent:   f.MessageIdent,
		MessageID:      f.MessageID,
		SenderDeviceID: f.SenderDevice,
		ReplyKey:       f.Key,
	}

	cmd, err := Parse(endpoint, body, env)
	if err != nil {
		h.logger.Warn("command parse failed", "endpoint", endpoint, "error", err)
		if f.Key != "" {
			_ = h.replies.SendReply(f.Key, DeviceDoesNotSupportCommand)
		}
		return
	}

	select {
	case h.queue <- queuedCommand{cmd: cmd, replyKey: f.Key}:
	default:
		h.logger.Warn("command queue full, dropping", "kind", cmd.Kind)
		if f.Key != "" {
			_ = h.replies.SendReply(f.Key, UpstreamError)
		}
	}
}

func (h *Handler) worker(ctx context.Context) {
	for qc := range h.queue {
		h.mu.Lock()
		sub, ok := h.subs[qc.cmd.Kind]
		h.mu.Unlock()
		if !ok {
			if qc.replyKey != "" {
				_ = h.replies.SendReply(qc.replyKey, DeviceDoesNotSupportCommand)
			}
			continue
		}
		sub.Publish(qc.cmd)
		_ = ctx
	}
}
