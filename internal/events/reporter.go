// Package events implements the event reporter (C11): session/playback id
// management and track-transition telemetry.
package events

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// newID returns a 32 hex-character identifier, matching Spotify's
// session_id/playback_id shape (a UUIDv4 with its dashes stripped).
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Reporter maintains the current session-id and playback-id and turns
// track-start/track-end notifications into EventSink events (spec.md
// §4.11).
type Reporter struct {
	sink     EventSink
	deviceID string
	logger   *slog.Logger

	mu             sync.Mutex
	sessionID      string
	lastContextURI string
	playbackID     string
	windowOpen     bool
	lastCommandDev string
}

// NewReporter creates a Reporter. sink may be nil, in which case events are
// computed but never delivered (the event sink is optional per spec.md §6).
func NewReporter(sink EventSink, deviceID string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{sink: sink, deviceID: deviceID, logger: logger}
}

// TrackStarted regenerates the playback-id (always) and the session-id (only
// if contextURI differs from the last track's), emitting NewSessionId and
// NewPlaybackId accordingly, and opens a new metrics window.
func (r *Reporter) TrackStarted(contextURI string, contextSize int, lastCommandDeviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastCommandDev = lastCommandDeviceID

	if contextURI != r.lastContextURI || r.sessionID == "" {
		r.sessionID = newID()
		r.lastContextURI = contextURI
		r.emit(Event{
			Kind:        EventNewSessionID,
			SessionID:   r.sessionID,
			ContextURI:  contextURI,
			ContextSize: contextSize,
		})
	}

	r.playbackID = newID()
	r.windowOpen = true
	r.emit(Event{
		Kind:       EventNewPlaybackID,
		SessionID:  r.sessionID,
		PlaybackID: r.playbackID,
	})
}

// TrackEnded closes the current metrics window (if any) and emits
// TrackTransition.
func (r *Reporter) TrackEnded(reason EndReason, durationMs, decodedLengthMs int64, bitrateKbps int, encoding string, content ContentMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.windowOpen {
		return
	}
	r.windowOpen = false

	metrics := PlaybackMetrics{
		DurationMs:      durationMs,
		DecodedLengthMs: decodedLengthMs,
		BitrateKbps:     bitrateKbps,
		Encoding:        encoding,
		EndReason:       reason,
		ContentMetrics:  content,
	}

	r.emit(Event{
		Kind:                EventTrackTransition,
		DeviceID:            r.deviceID,
		LastCommandDeviceID: r.lastCommandDev,
		Metrics:             metrics,
	})
}

func (r *Reporter) emit(e Event) {
	if r.sink == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("event sink panicked", "panic", p)
		}
	}()
	r.sink.Emit(e)
}
