package connectstate

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers for the wire messages below. These are this module's own
// protobuf schema for the Connect control-plane payloads (D1): since protoc
// isn't available to generate the real Spotify .proto definitions, the
// messages are hand-encoded/decoded directly against
// google.golang.org/protobuf/encoding/protowire's low-level tag/varint/bytes
// primitives. Field numbers only need to be self-consistent between
// Marshal/Unmarshal in this package, not to match Spotify's private wire
// format byte-for-byte.
const (
	fieldPlayerTrackURI       = 1
	fieldPlayerTrackUID       = 2
	fieldPlayerTimestamp      = 3
	fieldPlayerPositionAsOf   = 4
	fieldPlayerIsPlaying      = 5
	fieldPlayerIsPaused       = 6
	fieldPlayerIsBuffering    = 7
	fieldPlayerPlaybackSpeed  = 8
	fieldPlayerContextURI     = 9
	fieldPlayerOptions        = 10
	fieldPlayerDurationMs     = 11

	fieldOptionsShuffling = 1
	fieldOptionsRepeatCtx = 2
	fieldOptionsRepeatTrk = 3

	fieldClusterActiveDevice = 1
	fieldClusterPlayerState  = 2

	fieldDeviceName            = 1
	fieldDeviceType            = 2
	fieldDeviceSoftwareVersion = 3
	fieldDeviceClientID        = 4
	fieldDeviceSpircVersion    = 5
	fieldDeviceVolume          = 6
	fieldDeviceCapabilities    = 7

	fieldPutStateDeviceID    = 1
	fieldPutStateDeviceInfo  = 2
	fieldPutStatePlayerState = 3
	fieldPutStateIsActive    = 4
	fieldPutStateClientTs    = 5
	fieldPutStateMessageID   = 6
	fieldPutStateReason      = 7

	fieldSetVolumeValue = 1
)

// PlayerOptions is the nested options sub-message of PlayerStateWire.
type PlayerOptions struct {
	ShufflingContext bool
	RepeatingContext bool
	RepeatingTrack   bool
}

// PlayerStateWire is the wire shape of a Cluster's embedded player state and
// of the PlayerState sent back up in a PUT-state request.
type PlayerStateWire struct {
	TrackURI                string
	TrackUID                string
	TimestampMs             int64
	PositionAsOfTimestampMs int64
	IsPlaying               bool
	IsPaused                bool
	IsBuffering             bool
	// PlaybackSpeed is 0 when paused, 1 otherwise (spec.md §4.8); stored as a
	// plain varint rather than the real protocol's float32.
	PlaybackSpeed uint64
	ContextURI    string
	Options       PlayerOptions
	DurationMs    uint64
}

// Marshal encodes a PlayerStateWire.
func (p *PlayerStateWire) Marshal() []byte {
	var b []byte
	b = appendString(b, fieldPlayerTrackURI, p.TrackURI)
	b = appendString(b, fieldPlayerTrackUID, p.TrackUID)
	b = protowire.AppendTag(b, fieldPlayerTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.TimestampMs))
	b = protowire.AppendTag(b, fieldPlayerPositionAsOf, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.PositionAsOfTimestampMs))
	b = appendBool(b, fieldPlayerIsPlaying, p.IsPlaying)
	b = appendBool(b, fieldPlayerIsPaused, p.IsPaused)
	b = appendBool(b, fieldPlayerIsBuffering, p.IsBuffering)
	b = protowire.AppendTag(b, fieldPlayerPlaybackSpeed, protowire.VarintType)
	b = protowire.AppendVarint(b, p.PlaybackSpeed)
	b = appendString(b, fieldPlayerContextURI, p.ContextURI)

	opts := p.Options.marshal()
	b = protowire.AppendTag(b, fieldPlayerOptions, protowire.BytesType)
	b = protowire.AppendBytes(b, opts)

	b = protowire.AppendTag(b, fieldPlayerDurationMs, protowire.VarintType)
	b = protowire.AppendVarint(b, p.DurationMs)
	return b
}

// UnmarshalPlayerState decodes a PlayerStateWire.
func UnmarshalPlayerState(data []byte) (*PlayerStateWire, error) {
	p := &PlayerStateWire{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		switch num {
		case fieldPlayerTrackURI:
			p.TrackURI = string(v.bytes)
		case fieldPlayerTrackUID:
			p.TrackUID = string(v.bytes)
		case fieldPlayerTimestamp:
			p.TimestampMs = int64(v.varint)
		case fieldPlayerPositionAsOf:
			p.PositionAsOfTimestampMs = int64(v.varint)
		case fieldPlayerIsPlaying:
			p.IsPlaying = v.varint != 0
		case fieldPlayerIsPaused:
			p.IsPaused = v.varint != 0
		case fieldPlayerIsBuffering:
			p.IsBuffering = v.varint != 0
		case fieldPlayerPlaybackSpeed:
			p.PlaybackSpeed = v.varint
		case fieldPlayerContextURI:
			p.ContextURI = string(v.bytes)
		case fieldPlayerOptions:
			opts, err := unmarshalOptions(v.bytes)
			if err != nil {
				return err
			}
			p.Options = *opts
		case fieldPlayerDurationMs:
			p.DurationMs = v.varint
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (o *PlayerOptions) marshal() []byte {
	var b []byte
	b = appendBool(b, fieldOptionsShuffling, o.ShufflingContext)
	b = appendBool(b, fieldOptionsRepeatCtx, o.RepeatingContext)
	b = appendBool(b, fieldOptionsRepeatTrk, o.RepeatingTrack)
	return b
}

func unmarshalOptions(data []byte) (*PlayerOptions, error) {
	o := &PlayerOptions{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		switch num {
		case fieldOptionsShuffling:
			o.ShufflingContext = v.varint != 0
		case fieldOptionsRepeatCtx:
			o.RepeatingContext = v.varint != 0
		case fieldOptionsRepeatTrk:
			o.RepeatingTrack = v.varint != 0
		}
		return nil
	})
	return o, err
}

// ClusterWire is the decoded Cluster (or the Cluster embedded in a
// ClusterUpdate) received from the dealer or as a PUT-state response body.
type ClusterWire struct {
	ActiveDeviceID string
	PlayerState    *PlayerStateWire
}

// UnmarshalCluster decodes a Cluster message.
func UnmarshalCluster(data []byte) (*ClusterWire, error) {
	c := &ClusterWire{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		switch num {
		case fieldClusterActiveDevice:
			c.ActiveDeviceID = string(v.bytes)
		case fieldClusterPlayerState:
			ps, err := UnmarshalPlayerState(v.bytes)
			if err != nil {
				return err
			}
			c.PlayerState = ps
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Marshal encodes a ClusterWire, used by tests exercising the round-trip.
func (c *ClusterWire) Marshal() []byte {
	var b []byte
	b = appendString(b, fieldClusterActiveDevice, c.ActiveDeviceID)
	if c.PlayerState != nil {
		ps := c.PlayerState.Marshal()
		b = protowire.AppendTag(b, fieldClusterPlayerState, protowire.BytesType)
		b = protowire.AppendBytes(b, ps)
	}
	return b
}

// DeviceInfoWire is the device-descriptor half of a PutStateRequest.
type DeviceInfoWire struct {
	Name            string
	DeviceType      string
	SoftwareVersion string
	ClientID        string
	SpircVersion    string
	Volume          uint64
	Capabilities    uint64
}

func (d *DeviceInfoWire) marshal() []byte {
	var b []byte
	b = appendString(b, fieldDeviceName, d.Name)
	b = appendString(b, fieldDeviceType, d.DeviceType)
	b = appendString(b, fieldDeviceSoftwareVersion, d.SoftwareVersion)
	b = appendString(b, fieldDeviceClientID, d.ClientID)
	b = appendString(b, fieldDeviceSpircVersion, d.SpircVersion)
	b = protowire.AppendTag(b, fieldDeviceVolume, protowire.VarintType)
	b = protowire.AppendVarint(b, d.Volume)
	b = protowire.AppendTag(b, fieldDeviceCapabilities, protowire.VarintType)
	b = protowire.AppendVarint(b, d.Capabilities)
	return b
}

// PutStateRequestWire is the body of the PUT-state HTTP call (C7).
type PutStateRequestWire struct {
	DeviceID            string
	DeviceInfo          *DeviceInfoWire
	PlayerState         *PlayerStateWire
	IsActive            bool
	ClientSideTimestamp int64
	MessageID           uint64
	PutStateReason      string
}

// Marshal encodes a PutStateRequestWire.
func (r *PutStateRequestWire) Marshal() []byte {
	var b []byte
	b = appendString(b, fieldPutStateDeviceID, r.DeviceID)
	if r.DeviceInfo != nil {
		info := r.DeviceInfo.marshal()
		b = protowire.AppendTag(b, fieldPutStateDeviceInfo, protowire.BytesType)
		b = protowire.AppendBytes(b, info)
	}
	if r.PlayerState != nil {
		ps := r.PlayerState.Marshal()
		b = protowire.AppendTag(b, fieldPutStatePlayerState, protowire.BytesType)
		b = protowire.AppendBytes(b, ps)
	}
	b = appendBool(b, fieldPutStateIsActive, r.IsActive)
	b = protowire.AppendTag(b, fieldPutStateClientTs, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.ClientSideTimestamp))
	b = protowire.AppendTag(b, fieldPutStateMessageID, protowire.VarintType)
	b = protowire.AppendVarint(b, r.MessageID)
	b = appendString(b, fieldPutStateReason, r.PutStateReason)
	return b
}

// SetVolumeWire is the SetVolume command body delivered on the
// connect/volume MESSAGE (spec.md §4.7).
type SetVolumeWire struct {
	Volume uint64
}

// UnmarshalSetVolume decodes a SetVolume message.
func UnmarshalSetVolume(data []byte) (*SetVolumeWire, error) {
	v := &SetVolumeWire{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, fv fieldValue) error {
		if num == fieldSetVolumeValue {
			v.Volume = fv.varint
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// --- shared wire helpers ---

type fieldValue struct {
	varint uint64
	bytes  []byte
}

// walkFields iterates every top-level field in a protobuf message, calling
// visit once per field with whichever of varint/bytes the wire type
// populated. It is the shared decode loop behind every Unmarshal* above.
func walkFields(data []byte, visit func(num protowire.Number, typ protowire.Type, v fieldValue) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("connectstate: invalid field tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			val, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("connectstate: invalid varint field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			if err := visit(num, typ, fieldValue{varint: val}); err != nil {
				return err
			}
		case protowire.BytesType:
			val, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("connectstate: invalid bytes field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			if err := visit(num, typ, fieldValue{bytes: val}); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("connectstate: skipping unsupported field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

func appendString(b []byte, field protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, []byte(s))
}

func appendBool(b []byte, field protowire.Number, v bool) []byte {
	b = protowire.AppendTag(b, field, protowire.VarintType)
	if v {
		return protowire.AppendVarint(b, 1)
	}
	return protowire.AppendVarint(b, 0)
}
