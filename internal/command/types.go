// Package command implements the command parser (C5) and command handler
// (C6): it turns dealer REQUEST frames into a typed Command variant and
// fans each one out to per-kind subscribers with reply tracking.
package command

// Kind tags which Command variant a parsed request carries.
type Kind int

const (
	Unknown Kind = iota
	Play
	Pause
	Resume
	Seek
	SkipNext
	SkipPrev
	SetShuffle
	SetRepeatContext
	SetRepeatTrack
	SetOptions
	SetQueue
	AddToQueue
	UpdateContext
	Transfer
)

func (k Kind) String() string {
	switch k {
	case Play:
		return "play"
	case Pause:
		return "pause"
	case Resume:
		return "resume"
	case Seek:
		return "seek"
	case SkipNext:
		return "skip_next"
	case SkipPrev:
		return "skip_prev"
	case SetShuffle:
		return "set_shuffle"
	case SetRepeatContext:
		return "set_repeat_context"
	case SetRepeatTrack:
		return "set_repeat_track"
	case SetOptions:
		return "set_options"
	case SetQueue:
		return "set_queue"
	case AddToQueue:
		return "add_to_queue"
	case UpdateContext:
		return "update_context"
	case Transfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Envelope carries the fields every Command variant shares, regardless of
// kind.
type Envelope struct {
	Endpoint       string
	MessageIdent   string
	MessageID      int32
	SenderDeviceID string
	ReplyKey       string
}

// TrackRef is one {uri, uid} pair collected while walking a Play command's
// context pages.
type TrackRef struct {
	URI string
	UID string
}

// Command is the tagged variant over the set described in spec.md §3. Only
// the fields relevant to Kind are populated; the rest remain zero values.
type Command struct {
	Kind     Kind
	Envelope Envelope

	// Play
	ContextURI            string
	Tracks                []TrackRef
	SkipToUID             string
	SkipToURI             string
	SkipToIndex           *int
	PlayOrigin            map[string]any
	ShuffleOverride       *bool
	RepeatContextOverride *bool
	RepeatTrackOverride   *bool

	// Seek / Play's seek_to
	PositionMs *int64

	// SetShuffle / SetRepeatContext / SetRepeatTrack
	BoolValue *bool

	// SetOptions
	OptShuffling       *bool
	OptRepeatContext   *bool
	OptRepeatTrack     *bool

	// SetQueue
	QueueURIs []string

	// AddToQueue
	TrackURI string

	// UpdateContext
	SessionID string

	// Transfer
	TransferState []byte
}

// ReplyResult is the closed set of PendingReply completion values (spec.md §3).
type ReplyResult int

const (
	Success ReplyResult = iota
	DeviceNotFound
	DeviceDoesNotSupportCommand
	ContextPlayerError
	DeviceDisappeared
	UpstreamError
	RateLimited
	ReplyUnknown
)
