package connectstate

import (
	"testing"
	"time"
)

func TestIngestClusterFirstSnapshotReportsAllChanged(t *testing.T) {
	m := NewManager(100*time.Millisecond, nil)

	c := &ClusterWire{
		ActiveDeviceID: "device-1",
		PlayerState: &PlayerStateWire{
			TrackURI:    "spotify:track:1",
			IsPlaying:   true,
			TimestampMs: 1000,
		},
	}

	state, err := m.IngestCluster(c.Marshal(), 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != Playing {
		t.Errorf("got status %v, want Playing", state.Status)
	}
	if !state.Changes.Has(ChangedTrack) || !state.Changes.Has(ChangedStatus) {
		t.Errorf("expected every field flagged changed on the first snapshot, got %v", state.Changes)
	}
}

func TestIngestClusterSmallPositionDriftBelowThresholdIsNotFlagged(t *testing.T) {
	m := NewManager(150*time.Millisecond, nil)

	first := &ClusterWire{PlayerState: &PlayerStateWire{TrackURI: "t1", IsPlaying: true, TimestampMs: 0, PositionAsOfTimestampMs: 0}}
	m.IngestCluster(first.Marshal(), 0)

	second := &ClusterWire{PlayerState: &PlayerStateWire{TrackURI: "t1", IsPlaying: true, TimestampMs: 1000, PositionAsOfTimestampMs: 1000}}
	state, err := m.IngestCluster(second.Marshal(), 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Changes.Has(ChangedPosition) {
		t.Error("expected uninterrupted nominal-start-time playback not to flag ChangedPosition")
	}
}

func TestIngestClusterSeekBeyondThresholdFlagsPosition(t *testing.T) {
	m := NewManager(150*time.Millisecond, nil)

	first := &ClusterWire{PlayerState: &PlayerStateWire{TrackURI: "t1", IsPlaying: true, TimestampMs: 0, PositionAsOfTimestampMs: 0}}
	m.IngestCluster(first.Marshal(), 0)

	// Jump to position 50000ms at the same wall-clock tick: nominal start time
	// shifts by 50s, far past the threshold.
	second := &ClusterWire{PlayerState: &PlayerStateWire{TrackURI: "t1", IsPlaying: true, TimestampMs: 0, PositionAsOfTimestampMs: 50000}}
	state, err := m.IngestCluster(second.Marshal(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !state.Changes.Has(ChangedPosition) {
		t.Error("expected a seek to flag ChangedPosition")
	}
}

func TestIngestClusterStatusChangeSuppressesPositionFlag(t *testing.T) {
	m := NewManager(10*time.Millisecond, nil)

	first := &ClusterWire{PlayerState: &PlayerStateWire{TrackURI: "t1", IsPlaying: true, TimestampMs: 0, PositionAsOfTimestampMs: 0}}
	m.IngestCluster(first.Marshal(), 0)

	// Pausing freezes position but necessarily looks like a big nominal-start
	// jump; status changes take precedence over the position flag.
	second := &ClusterWire{PlayerState: &PlayerStateWire{TrackURI: "t1", IsPaused: true, TimestampMs: 5000, PositionAsOfTimestampMs: 2500}}
	state, err := m.IngestCluster(second.Marshal(), 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !state.Changes.Has(ChangedStatus) {
		t.Error("expected ChangedStatus to be set")
	}
	if state.Changes.Has(ChangedPosition) {
		t.Error("expected ChangedStatus to suppress ChangedPosition in the same diff")
	}
}

func TestIngestClusterNoPlayerStateYieldsStopped(t *testing.T) {
	m := NewManager(100*time.Millisecond, nil)

	c := &ClusterWire{ActiveDeviceID: "device-1"}
	state, err := m.IngestCluster(c.Marshal(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != Stopped {
		t.Errorf("got status %v, want Stopped", state.Status)
	}
}

func TestToPlayerStateTripleFlagsForEachStatus(t *testing.T) {
	cases := []struct {
		status                            Status
		wantPlaying, wantPaused, wantBuff bool
	}{
		{Playing, true, false, false},
		{Paused, true, true, true},
		{Buffering, false, false, true},
		{Stopped, false, true, false},
	}

	for _, tc := range cases {
		ps := ToPlayerState(&PlaybackState{Status: tc.status})
		if ps.IsPlaying != tc.wantPlaying || ps.IsPaused != tc.wantPaused || ps.IsBuffering != tc.wantBuff {
			t.Errorf("status %v: got (playing=%v, paused=%v, buffering=%v), want (%v, %v, %v)",
				tc.status, ps.IsPlaying, ps.IsPaused, ps.IsBuffering, tc.wantPlaying, tc.wantPaused, tc.wantBuff)
		}
	}
}

func TestToPlayerStatePlaybackSpeedZeroOnlyWhenPaused(t *testing.T) {
	paused := ToPlayerState(&PlaybackState{Status: Paused})
	if paused.PlaybackSpeed != 0 {
		t.Errorf("got playback speed %d, want 0 while paused", paused.PlaybackSpeed)
	}

	playing := ToPlayerState(&PlaybackState{Status: Playing})
	if playing.PlaybackSpeed != 1 {
		t.Errorf("got playback speed %d, want 1 while playing", playing.PlaybackSpeed)
	}
}

func TestPublishLocalMarksSourceLocal(t *testing.T) {
	m := NewManager(100*time.Millisecond, nil)

	state := m.PublishLocal(&PlaybackState{Status: Playing})
	if state.Source != SourceLocal {
		t.Errorf("got source %v, want SourceLocal", state.Source)
	}

	latest, ok := m.Latest()
	if !ok || latest.Source != SourceLocal {
		t.Errorf("got %+v, want the local snapshot retained as latest", latest)
	}
}

func TestLatestReportsFalseBeforeAnyPublish(t *testing.T) {
	m := NewManager(100*time.Millisecond, nil)
	if _, ok := m.Latest(); ok {
		t.Error("expected Latest to report false before any state is published")
	}
}
