package command

import "testing"

func TestParsePlayWithExplicitSkipTo(t *testing.T) {
	body := map[string]any{
		"context": map[string]any{
			"uri": "spotify:playlist:abc",
			"pages": []any{
				map[string]any{
					"tracks": []any{
						map[string]any{"uri": "spotify:track:1", "uid": "u1"},
						map[string]any{"uri": "spotify:track:2", "uid": "u2"},
					},
				},
			},
		},
		"options": map[string]any{
			"skip_to": map[string]any{"track_uid": "u2"},
			"seek_to": float64(5000),
		},
	}

	cmd, err := Parse("play", body, Envelope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cmd.Kind != Play {
		t.Fatalf("got kind %v, want Play", cmd.Kind)
	}
	if cmd.ContextURI != "spotify:playlist:abc" {
		t.Errorf("got context uri %q", cmd.ContextURI)
	}
	if len(cmd.Tracks) != 2 {
		t.Fatalf("got %d tracks, want 2", len(cmd.Tracks))
	}
	if cmd.SkipToUID != "u2" {
		t.Errorf("got skip_to uid %q, want u2", cmd.SkipToUID)
	}
	if cmd.PositionMs == nil || *cmd.PositionMs != 5000 {
		t.Errorf("got position %v, want 5000", cmd.PositionMs)
	}
}

func TestParsePlayFallsBackToFirstTrackWithoutSkipTo(t *testing.T) {
	body := map[string]any{
		"context": map[string]any{
			"pages": []any{
				map[string]any{
					"tracks": []any{
						map[string]any{"uri": "spotify:track:1"},
					},
				},
			},
		},
	}

	cmd, err := Parse("play", body, Envelope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.SkipToIndex == nil || *cmd.SkipToIndex != 0 {
		t.Errorf("got skip_to index %v, want 0", cmd.SkipToIndex)
	}
}

func TestParseSeekToAcceptsNumericString(t *testing.T) {
	cmd, err := Parse("seek_to", map[string]any{"position": "12345"}, Envelope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.PositionMs == nil || *cmd.PositionMs != 12345 {
		t.Errorf("got position %v, want 12345", cmd.PositionMs)
	}
}

func TestParseSeekToMissingValueFails(t *testing.T) {
	if _, err := Parse("seek_to", map[string]any{}, Envelope{}); err == nil {
		t.Error("expected error for seek_to with no position/value")
	}
}

func TestParseSetShufflingContext(t *testing.T) {
	cmd, err := Parse("set_shuffling_context", map[string]any{"value": true}, Envelope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Kind != SetShuffle || cmd.BoolValue == nil || !*cmd.BoolValue {
		t.Errorf("got %+v, want SetShuffle{true}", cmd)
	}
}

func TestParseSetOptionsReadsNestedOrTopLevel(t *testing.T) {
	cmd, err := Parse("set_options", map[string]any{
		"options": map[string]any{"shuffling_context": true},
		"repeating_track": false,
	}, Envelope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.OptShuffling == nil || !*cmd.OptShuffling {
		t.Error("expected shuffling_context to be read from the nested options object")
	}
	if cmd.OptRepeatTrack == nil || *cmd.OptRepeatTrack {
		t.Error("expected repeating_track to be read from the top-level body")
	}
}

func TestParseAddToQueueRequiresTrackURI(t *testing.T) {
	if _, err := Parse("add_to_queue", map[string]any{}, Envelope{}); err == nil {
		t.Error("expected error when track_uri is missing")
	}
}

func TestParseTransferDecodesBase64Payload(t *testing.T) {
	// "hi" base64-encoded.
	cmd, err := Parse("transfer", map[string]any{"data": "aGk="}, Envelope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(cmd.TransferState) != "hi" {
		t.Errorf("got %q, want %q", cmd.TransferState, "hi")
	}
}

func TestParseUnsupportedEndpoint(t *testing.T) {
	_, err := Parse("not_a_real_endpoint", map[string]any{}, Envelope{})
	if err == nil {
		t.Error("expected error for an unrecognized endpoint")
	}
}
