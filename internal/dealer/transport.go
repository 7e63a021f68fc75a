package dealer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hollowresonance/spotconnect/internal/errs"
)

// ConnectionState mirrors spec.md §3's monotonic-per-attempt connection
// state machine.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// AccessToken is the opaque credential handed back by the auth provider
// collaborator (non-goal: the OAuth exchange itself is out of scope).
type AccessToken struct {
	Token  string
	Expiry time.Time
}

// AuthProvider is the external collaborator that supplies dealer access
// tokens.
type AuthProvider interface {
	GetAccessToken(ctx context.Context) (AccessToken, error)
}

// APResolver is the external collaborator that resolves candidate dealer
// hosts, e.g. "gae2-dealer.spotify.com:443".
type APResolver interface {
	ResolveDealer(ctx context.Context) ([]string, error)
}

// Transport implements C3: one persistent dealer WebSocket with a
// backpressured receive pipe and a dedicated dispatch goroutine, adapted
// from the teacher's dial-then-read-loop shape in ConnectSignaling/
// runSignalingSession.
type Transport struct {
	dialer websocket.Dialer
	logger *slog.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	state ConnectionState
	pipe  *framePipe

	// writeMu serializes WriteMessage calls across the heartbeat goroutine,
	// the receive-loop's SendPong, and the command-dispatch goroutines'
	// SendText/SendReply; gorilla's Conn permits at most one writer at a
	// time.
	writeMu sync.Mutex

	onStateChange func(ConnectionState)
}

// NewTransport creates a Transport. handshakeTimeout of zero uses gorilla's
// default.
func NewTransport(handshakeTimeout time.Duration, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		dialer: websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		logger: logger,
		state:  Disconnected,
	}
}

// OnStateChange registers a callback invoked whenever the connection state
// transitions.
func (t *Transport) OnStateChange(fn func(ConnectionState)) {
	t.mu.Lock()
	t.onStateChange = fn
	t.mu.Unlock()
}

func (t *Transport) setState(s ConnectionState) {
	t.mu.Lock()
	t.state = s
	cb := t.onStateChange
	t.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// State returns the current connection state.
func (t *Transport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect resolves a dealer host via resolver, attaches a short-lived access
// token from auth as a query parameter, and dials the first candidate that
// succeeds. It fails with ErrResolveFailed if the resolver yields nothing,
// or ErrConnectionFailed if every candidate dial fails.
func (t *Transport) Connect(ctx context.Context, resolver APResolver, auth AuthProvider) error {
	t.setState(Connecting)

	hosts, err := resolver.ResolveDealer(ctx)
	if err != nil {
		t.setState(Disconnected)
		return fmt.Errorf("%w: %v", errs.ErrResolveFailed, err)
	}
	if len(hosts) == 0 {
		t.setState(Disconnected)
		return errs.ErrResolveFailed
	}

	token, err := auth.GetAccessToken(ctx)
	if err != nil {
		t.setState(Disconnected)
		return fmt.Errorf("%w: %v", errs.ErrInvalidToken, err)
	}

	var lastErr error
	for _, host := range hosts {
		u := url.URL{Scheme: "wss", Host: host, Path: "/", RawQuery: url.Values{"access_token": {token.Token}}.Encode()}
		conn, _, derr := t.dialer.DialContext(ctx, u.String(), http.Header{})
		if derr != nil {
			lastErr = derr
			t.logger.Warn("dealer dial failed", "host", host, "error", derr)
			continue
		}

		t.mu.Lock()
		t.conn = conn
		t.pipe = newFramePipe()
		t.mu.Unlock()

		t.setState(Connected)
		t.logger.Info("dealer connected", "host", host)
		return nil
	}

	t.setState(Disconnected)
	return fmt.Errorf("%w: %v", errs.ErrConnectionFailed, lastErr)
}

// Run drives the receive pipe: one goroutine reads WebSocket message
// boundaries into the backpressured framePipe, while the calling goroutine
// drains it, classifies each frame via ParseFrame, and invokes onFrame. Parse
// errors on individual frames are passed to onParseError and the frame is
// discarded; they never terminate the transport (spec.md §7). Run blocks
// until the connection closes, errors, or ctx is cancelled, at which point it
// transitions to Disconnected and returns errs.ErrConnectionLost (nil on
// clean ctx cancellation).
func (t *Transport) Run(ctx context.Context, onFrame func(*Frame), onParseError func(error)) error {
	t.mu.Lock()
	conn := t.conn
	pipe := t.pipe
	t.mu.Unlock()
	if conn == nil || pipe == nil {
		return errs.ErrConnectionLost
	}

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer pipe.Close()
		for {
			_, r, err := conn.NextReader()
			if err != nil {
				return
			}
			buf := &bytes.Buffer{}
			segment := make([]byte, readSegmentSize)
			if _, err := io.CopyBuffer(buf, r, segment); err != nil {
				return
			}
			if !pipe.Push(readCtx, buf.Bytes()) {
				return
			}
		}
	}()

	for {
		frame, ok := pipe.Pop(readCtx)
		if !ok {
			break
		}
		parsed, err := ParseFrame(frame)
		if err != nil {
			if onParseError != nil {
				onParseError(err)
			}
			continue
		}
		onFrame(parsed)
	}

	cancelRead()
	wg.Wait()

	t.setState(Disconnected)

	if ctx.Err() != nil {
		return nil
	}
	return errs.ErrConnectionLost
}

// SendPing writes the cached zero-allocation PING frame.
func (t *Transport) SendPing() error { return t.send(websocket.TextMessage, cachedPingFrame) }

// SendPong writes the cached zero-allocation PONG frame.
func (t *Transport) SendPong() error { return t.send(websocket.TextMessage, cachedPongFrame) }

// SendText writes an arbitrary textual frame, e.g. a reply envelope (C12).
func (t *Transport) SendText(data []byte) error { return t.send(websocket.TextMessage, data) }

func (t *Transport) send(messageType int, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errs.ErrConnectionLost
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

// Close closes the underlying connection and resets for re-use on the next
// Connect call.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	pipe := t.pipe
	t.pipe = nil
	t.mu.Unlock()

	if pipe != nil {
		pipe.Close()
	}
	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	return conn.Close()
}
