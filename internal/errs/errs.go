// Package errs defines the sentinel error kinds shared across the dealer
// transport, control plane, and playback orchestrator. Call sites wrap one
// of these with fmt.Errorf("...: %w", ErrX) so callers can still recover the
// kind with errors.Is after the message has been annotated with context.
package errs

import "errors"

var (
	// ErrResolveFailed means the AP resolver collaborator returned no candidate hosts.
	ErrResolveFailed = errors.New("ap resolver returned no candidates")

	// ErrConnectionFailed means every candidate host failed to establish a WebSocket.
	ErrConnectionFailed = errors.New("dealer connection failed")

	// ErrInvalidToken means the auth provider could not supply an access token.
	ErrInvalidToken = errors.New("invalid access token")

	// ErrHeartbeatTimeout means a PONG was not observed within pong_timeout of the last PING.
	ErrHeartbeatTimeout = errors.New("heartbeat pong timeout")

	// ErrConnectionLost means the dealer WebSocket closed or errored outside a clean shutdown.
	ErrConnectionLost = errors.New("dealer connection lost")

	// ErrMessageError means a dealer frame was missing a required field.
	ErrMessageError = errors.New("malformed dealer message")

	// ErrCommandParseFailed means a REQUEST command body could not be parsed into a known variant.
	ErrCommandParseFailed = errors.New("command parse failed")

	// ErrReplyTimeout means WaitForReply exceeded its deadline with no SendReply call.
	ErrReplyTimeout = errors.New("reply wait timed out")

	// ErrAudioDeviceUnavailable means the sink could not reacquire the output device on resume.
	ErrAudioDeviceUnavailable = errors.New("audio device unavailable")

	// ErrDecodeError means the decoder collaborator failed mid-stream.
	ErrDecodeError = errors.New("decode error")

	// ErrNetworkError means the PUT-state HTTP call failed or returned a non-2xx status.
	ErrNetworkError = errors.New("network error")

	// ErrTrackUnavailable means the requested track/episode could not be resolved.
	ErrTrackUnavailable = errors.New("track unavailable")

	// ErrDisposed means an operation was attempted after the owning component shut down.
	ErrDisposed = errors.New("component disposed")

	// ErrQueueFull means the bounded command queue (C6) rejected a command.
	ErrQueueFull = errors.New("command queue full")

	// ErrUnsupportedCommand means the dispatch endpoint has no known command variant.
	ErrUnsupportedCommand = errors.New("unsupported command")
)
