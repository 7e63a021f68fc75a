package connectstate

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hollowresonance/spotconnect/internal/errs"
	"github.com/hollowresonance/spotconnect/internal/pubsub"
)

// Status is the derived playback status (spec.md §3).
type Status int

const (
	Stopped Status = iota
	Playing
	Paused
	Buffering
)

func (s Status) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Buffering:
		return "buffering"
	default:
		return "stopped"
	}
}

// Source distinguishes a dealer-origin cluster snapshot from one the
// orchestrator produced locally.
type Source int

const (
	SourceCluster Source = iota
	SourceLocal
)

// StateChanges is the bitset describing which PlaybackState fields differ
// from the previous snapshot.
type StateChanges uint8

const (
	ChangedTrack StateChanges = 1 << iota
	ChangedPosition
	ChangedStatus
	ChangedContext
	ChangedOptions
	ChangedActiveDevice
	ChangedSource
)

// Has reports whether flag is set.
func (c StateChanges) Has(flag StateChanges) bool { return c&flag != 0 }

// TrackInfo identifies the currently loaded track.
type TrackInfo struct {
	URI string
	UID string
}

// PlaybackState is the domain snapshot described in spec.md §3.
type PlaybackState struct {
	Track          *TrackInfo
	PositionMs     int64
	DurationMs     int64
	Status         Status
	ContextURI     string
	Options        PlayerOptions
	ActiveDeviceID string
	TimestampMs    int64
	Source         Source
	Changes        StateChanges
}

// nominalStartTime is "timestamp - position": invariant during uninterrupted
// playback (spec.md §3, glossary).
func (s *PlaybackState) nominalStartTime() int64 {
	return s.TimestampMs - s.PositionMs
}

// Manager implements C8: it parses Cluster protobufs into domain
// PlaybackStates, computes the StateChanges delta against the retained
// previous snapshot, and republishes both cluster-origin and local-origin
// snapshots through a single latest-value subject.
type Manager struct {
	threshold time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	previous *PlaybackState

	states *pubsub.Subject[*PlaybackState]
}

// NewManager creates a Manager. threshold is the position-change filter from
// spec.md §9's resolved open question (default 100ms).
func NewManager(threshold time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		threshold: threshold,
		logger:    logger,
		states:    pubsub.NewSubject[*PlaybackState](logger),
	}
}

// States returns the published-state stream.
func (m *Manager) States() *pubsub.Subject[*PlaybackState] { return m.states }

// IngestCluster decodes raw (already gunzipped by C4) as a Cluster protobuf,
// converts it to a domain PlaybackState, computes its StateChanges, and
// publishes it.
func (m *Manager) IngestCluster(raw []byte, timestampMs int64) (*PlaybackState, error) {
	c, err := UnmarshalCluster(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: cluster: %v", errs.ErrMessageError, err)
	}
	state := clusterToDomain(c, timestampMs)
	return m.publish(state), nil
}

// PublishLocal lets the orchestrator (the sole writer of "local" state)
// publish a state it computed directly, bypassing protobuf decode.
func (m *Manager) PublishLocal(state *PlaybackState) *PlaybackState {
	state.Source = SourceLocal
	return m.publish(state)
}

// Latest returns the most recently published snapshot, if any.
func (m *Manager) Latest() (*PlaybackState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.previous == nil {
		return nil, false
	}
	return m.previous, true
}

func (m *Manager) publish(state *PlaybackState) *PlaybackState {
	m.mu.Lock()
	prev := m.previous
	state.Changes = diff(prev, state, m.threshold)
	m.previous = state
	m.mu.Unlock()

	m.states.Publish(state)
	return state
}

// clusterToDomain converts a decoded Cluster to a domain PlaybackState,
// deriving Status from the triple-flag pattern: paused first, then
// buffering, then playing, else stopped (spec.md §4.8 step 3).
func clusterToDomain(c *ClusterWire, timestampMs int64) *PlaybackState {
	state := &PlaybackState{
		ActiveDeviceID: c.ActiveDeviceID,
		Source:         SourceCluster,
		TimestampMs:    timestampMs,
	}

	ps := c.PlayerState
	if ps == nil {
		state.Status = Stopped
		return state
	}

	if ps.TrackURI != "" {
		state.Track = &TrackInfo{URI: ps.TrackURI, UID: ps.TrackUID}
	}
	state.PositionMs = ps.PositionAsOfTimestampMs
	state.DurationMs = int64(ps.DurationMs)
	state.ContextURI = ps.ContextURI
	state.Options = ps.Options
	state.Status = statusFromFlags(ps.IsPlaying, ps.IsPaused, ps.IsBuffering)

	return state
}

func statusFromFlags(isPlaying, isPaused, isBuffering bool) Status {
	switch {
	case isPaused:
		return Paused
	case isBuffering:
		return Buffering
	case isPlaying:
		return Playing
	default:
		return Stopped
	}
}

// ToPlayerState converts a domain PlaybackState back into the wire
// PlayerState, honoring the triple-flag quirk required for outbound
// publication (spec.md §4.8, tested by the round-trip property in §8).
func ToPlayerState(s *PlaybackState) *PlayerStateWire {
	ps := &PlayerStateWire{
		TimestampMs:             s.TimestampMs,
		PositionAsOfTimestampMs: s.PositionMs,
		DurationMs:              uint64(s.DurationMs),
		ContextURI:              s.ContextURI,
		Options:                 s.Options,
		IsPlaying:               s.Status == Playing || s.Status == Paused,
		IsPaused:                s.Status == Paused || s.Status == Stopped,
		IsBuffering:             s.Status == Buffering || s.Status == Paused,
	}
	if s.Status != Paused {
		ps.PlaybackSpeed = 1
	}
	if s.Track != nil {
		ps.TrackURI = s.Track.URI
		ps.TrackUID = s.Track.UID
	}
	return ps
}

// diff computes StateChanges between prev and next per spec.md §4.8 step 4.
// A nil prev (first snapshot ever observed) reports every field changed.
func diff(prev, next *PlaybackState, threshold time.Duration) StateChanges {
	if prev == nil {
		return ChangedTrack | ChangedPosition | ChangedStatus | ChangedContext | ChangedOptions | ChangedActiveDevice | ChangedSource
	}

	var c StateChanges

	if trackURI(prev.Track) != trackURI(next.Track) {
		c |= ChangedTrack
	}

	delta := next.nominalStartTime() - prev.nominalStartTime()
	if delta < 0 {
		delta = -delta
	}
	if time.Duration(delta)*time.Millisecond > threshold {
		c |= ChangedPosition
	}

	if prev.Status != next.Status {
		c |= ChangedStatus
		c &^= ChangedPosition
	}

	if prev.ContextURI != next.ContextURI {
		c |= ChangedContext
	}
	if prev.Options != next.Options {
		c |= ChangedOptions
	}
	if prev.ActiveDeviceID != next.ActiveDeviceID {
		c |= ChangedActiveDevice
	}
	if prev.Source != next.Source {
		c |= ChangedSource
	}

	return c
}

func trackURI(t *TrackInfo) string {
	if t == nil {
		return ""
	}
	return t.URI
}
