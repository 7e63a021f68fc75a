package command

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/hollowresonance/spotconnect/internal/errs"
)

// Parse maps a REQUEST frame's dispatch endpoint (matched case-insensitively)
// and command body to a typed Command, per spec.md §4.5's endpoint table.
// Unsupported endpoints return (nil, errs.ErrUnsupportedCommand) rather than
// a Kind=Unknown Command, so callers can distinguish "reply
// DeviceDoesNotSupportCommand" from "parse failed".
func Parse(endpoint string, body map[string]any, env Envelope) (*Command, error) {
	env.Endpoint = endpoint

	switch strings.ToLower(endpoint) {
	case "play":
		return parsePlay(body, env)
	case "pause":
		return &Command{Kind: Pause, Envelope: env}, nil
	case "resume":
		return &Command{Kind: Resume, Envelope: env}, nil
	case "skip_next":
		return &Command{Kind: SkipNext, Envelope: env}, nil
	case "skip_prev":
		return &Command{Kind: SkipPrev, Envelope: env}, nil
	case "seek_to":
		return parseSeekTo(body, env)
	case "set_shuffling_context":
		return parseBoolValueCommand(SetShuffle, body, env)
	case "set_repeating_context":
		return parseBoolValueCommand(SetRepeatContext, body, env)
	case "set_repeating_track":
		return parseBoolValueCommand(SetRepeatTrack, body, env)
	case "set_options":
		return parseSetOptions(body, env)
	case "set_queue":
		return parseSetQueue(body, env)
	case "add_to_queue":
		return parseAddToQueue(body, env)
	case "update_context":
		return parseUpdateContext(body, env)
	case "transfer":
		return parseTransfer(body, env)
	default:
		return nil, fmt.Errorf("%w: endpoint %q", errs.ErrUnsupportedCommand, endpoint)
	}
}

func parsePlay(body map[string]any, env Envelope) (*Command, error) {
	cmd := &Command{Kind: Play, Envelope: env}

	context, _ := body["context"].(map[string]any)
	if uri, ok := context["uri"].(string); ok {
		cmd.ContextURI = uri
	}

	pages, _ := context["pages"].([]any)
	for _, p := range pages {
		page, ok := p.(map[string]any)
		if !ok {
			continue
		}
		tracks, _ := page["tracks"].([]any)
		for _, t := range tracks {
			trackObj, ok := t.(map[string]any)
			if !ok {
				continue
			}
			ref := TrackRef{}
			if uri, ok := trackObj["uri"].(string); ok {
				ref.URI = uri
			}
			if uid, ok := trackObj["uid"].(string); ok {
				ref.UID = uid
			}
			cmd.Tracks = append(cmd.Tracks, ref)
		}
	}

	options, _ := body["options"].(map[string]any)

	if skipTo, ok := options["skip_to"].(map[string]any); ok {
		if uid, ok := skipTo["track_uid"].(string); ok && uid != "" {
			cmd.SkipToUID = uid
		} else if uri, ok := skipTo["track_uri"].(string); ok && uri != "" {
			cmd.SkipToURI = uri
		} else if idx, ok := parseNumberOrString(skipTo["track_index"]); ok {
			i := int(idx)
			cmd.SkipToIndex = &i
		}
	}

	// Play fallback (spec.md §4.5): if nothing was selected via skip_to but
	// pages yielded at least one track, the first page's first track is
	// implicitly current.
	if cmd.SkipToUID == "" && cmd.SkipToURI == "" && cmd.SkipToIndex == nil && len(cmd.Tracks) > 0 {
		zero := 0
		cmd.SkipToIndex = &zero
	}

	if seekTo, ok := parseNumberOrString(options["seek_to"]); ok {
		cmd.PositionMs = &seekTo
	}

	if override, ok := options["player_options_override"].(map[string]any); ok {
		if v, ok := override["shuffling_context"].(bool); ok {
			cmd.ShuffleOverride = &v
		}
		if v, ok := override["repeating_context"].(bool); ok {
			cmd.RepeatContextOverride = &v
		}
		if v, ok := override["repeating_track"].(bool); ok {
			cmd.RepeatTrackOverride = &v
		}
	}

	if origin, ok := body["play_origin"].(map[string]any); ok {
		cmd.PlayOrigin = origin
	}

	return cmd, nil
}

func parseSeekTo(body map[string]any, env Envelope) (*Command, error) {
	if v, ok := parseNumberOrString(body["position"]); ok {
		return &Command{Kind: Seek, Envelope: env, PositionMs: &v}, nil
	}
	if v, ok := parseNumberOrString(body["value"]); ok {
		return &Command{Kind: Seek, Envelope: env, PositionMs: &v}, nil
	}
	return nil, fmt.Errorf("%w: seek_to missing position/value", errs.ErrCommandParseFailed)
}

func parseBoolValueCommand(kind Kind, body map[string]any, env Envelope) (*Command, error) {
	v, ok := body["value"].(bool)
	if !ok {
		return nil, fmt.Errorf("%w: %s missing boolean value", errs.ErrCommandParseFailed, kind)
	}
	return &Command{Kind: kind, Envelope: env, BoolValue: &v}, nil
}

func parseSetOptions(body map[string]any, env Envelope) (*Command, error) {
	cmd := &Command{Kind: SetOptions, Envelope: env}

	nested, _ := body["options"].(map[string]any)
	lookup := func(key string) *bool {
		if v, ok := body[key].(bool); ok {
			return &v
		}
		if v, ok := nested[key].(bool); ok {
			return &v
		}
		return nil
	}

	cmd.OptShuffling = lookup("shuffling_context")
	cmd.OptRepeatContext = lookup("repeating_context")
	cmd.OptRepeatTrack = lookup("repeating_track")

	return cmd, nil
}

func parseSetQueue(body map[string]any, env Envelope) (*Command, error) {
	cmd := &Command{Kind: SetQueue, Envelope: env}
	next, _ := body["next_tracks"].([]any)
	for _, t := range next {
		trackObj, ok := t.(map[string]any)
		if !ok {
			continue
		}
		if uri, ok := trackObj["uri"].(string); ok {
			cmd.QueueURIs = append(cmd.QueueURIs, uri)
		}
	}
	return cmd, nil
}

func parseAddToQueue(body map[string]any, env Envelope) (*Command, error) {
	uri, ok := body["track_uri"].(string)
	if !ok || uri == "" {
		return nil, fmt.Errorf("%w: add_to_queue missing track_uri", errs.ErrCommandParseFailed)
	}
	return &Command{Kind: AddToQueue, Envelope: env, TrackURI: uri}, nil
}

func parseUpdateContext(body map[string]any, env Envelope) (*Command, error) {
	cmd := &Command{Kind: UpdateContext, Envelope: env}
	if uri, ok := body["context_uri"].(string); ok {
		cmd.ContextURI = uri
	}
	if sid, ok := body["session_id"].(string); ok {
		cmd.SessionID = sid
	}
	return cmd, nil
}

func parseTransfer(body map[string]any, env Envelope) (*Command, error) {
	encoded, ok := body["data"].(string)
	if !ok {
		// Some dealer payloads carry the field as "transfer_data"; try both
		// before failing.
		encoded, ok = body["transfer_data"].(string)
	}
	if !ok || encoded == "" {
		return nil, fmt.Errorf("%w: transfer missing base64 payload", errs.ErrCommandParseFailed)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: transfer payload base64: %v", errs.ErrCommandParseFailed, err)
	}
	return &Command{Kind: Transfer, Envelope: env, TransferState: raw}, nil
}

// parseNumberOrString accepts a JSON number or a numeric string, per the
// spec's resolved open question that seek_to/skip_to positions must parse
// both kinds everywhere. Any other JSON kind is rejected.
func parseNumberOrString(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
