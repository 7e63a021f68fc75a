package dealer

import (
	"context"
	"log/slog"
	"time"

	"github.com/hollowresonance/spotconnect/internal/pubsub"
)

// ClientOptions configures a Client's heartbeat and reconnect cadence. Zero
// durations fall back to spec.md §6's defaults; EnableAutoReconnect has no
// such fallback, so its zero value (false) disables reconnection.
type ClientOptions struct {
	PingInterval          time.Duration
	PongTimeout           time.Duration
	EnableAutoReconnect   bool
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	MaxReconnectAttempts  int
}

// Client wires the heartbeat scheduler (C1), reconnect scheduler (C2), and
// transport (C3) together into the single long-lived dealer connection the
// rest of the core depends on. Classified frames are published on Frames()
// for C6/C7/C8 to subscribe to.
type Client struct {
	opts     ClientOptions
	resolver APResolver
	auth     AuthProvider
	logger   *slog.Logger

	transport *Transport
	frames    *pubsub.Subject[*Frame]
}

// NewClient creates a Client. resolver and auth are the external
// collaborators consumed at connect time.
func NewClient(opts ClientOptions, resolver APResolver, auth AuthProvider, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:      opts,
		resolver:  resolver,
		auth:      auth,
		logger:    logger,
		transport: NewTransport(15*time.Second, logger),
		frames:    pubsub.NewSubject[*Frame](logger),
	}
}

// Frames returns the classified-frame stream. MESSAGE and REQUEST frames are
// published here; PING/PONG are handled internally and never published.
func (c *Client) Frames() *pubsub.Subject[*Frame] { return c.frames }

// State returns the transport's current connection state.
func (c *Client) State() ConnectionState { return c.transport.State() }

// OnStateChange forwards to the underlying transport.
func (c *Client) OnStateChange(fn func(ConnectionState)) { c.transport.OnStateChange(fn) }

// SendReply writes a reply envelope (C12) on the wire.
func (c *Client) SendReply(data []byte) error { return c.transport.SendText(data) }

// Run connects and then serves the dealer connection, auto-reconnecting on
// loss if EnableAutoReconnect is set, until ctx is cancelled or reconnection
// is exhausted/disabled and a connection attempt fails.
func (c *Client) Run(ctx context.Context) error {
	reconnect := NewReconnect(c.opts.InitialReconnectDelay, c.opts.MaxReconnectDelay, c.opts.MaxReconnectAttempts, c.logger)

	if err := c.transport.Connect(ctx, c.resolver, c.auth); err != nil {
		return err
	}

	for {
		sessionErr := c.serveOneConnection(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if sessionErr == nil {
			return nil
		}
		if !c.opts.EnableAutoReconnect {
			return sessionErr
		}

		done := make(chan error, 1)
		reconnect.Trigger(ctx, func(rctx context.Context) error {
			return c.transport.Connect(rctx, c.resolver, c.auth)
		}, func() {
			done <- nil
		}, func(err error) {
			done <- err
		})

		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			if err != nil {
				return err
			}
			// fall through to serve the freshly reconnected session
		}
	}
}

// serveOneConnection runs the heartbeat and the transport's receive loop for
// the current connection, returning when the connection is lost or ctx is
// cancelled.
func (c *Client) serveOneConnection(ctx context.Context) error {
	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()

	hb := NewHeartbeat(c.opts.PingInterval, c.opts.PongTimeout, c.logger)
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		hb.Run(hbCtx, c.transport.SendPing, func(error) {
			cancelHB()
			// Closing the socket ends transport.Run with ErrConnectionLost,
			// which hands the session over to the reconnect scheduler.
			_ = c.transport.Close()
		})
	}()

	runErr := c.transport.Run(ctx, func(f *Frame) {
		switch f.Type {
		case FramePing:
			_ = c.transport.SendPong()
		case FramePong:
			hb.RecordPong()
		default:
			c.frames.Publish(f)
		}
	}, func(err error) {
		c.logger.Warn("dropping unparseable dealer frame", "error", err)
	})

	cancelHB()
	<-heartbeatDone

	return runErr
}
