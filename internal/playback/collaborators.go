// Package playback implements the playback orchestrator (C10), the queue
// loading it drives, and the external collaborator boundary described in
// spec.md §6. Non-goals (OGG decoding math, audio-device I/O,
// metadata/library caching) are all behind these interfaces.
package playback

import "context"

// TrackMetadata is the descriptive information returned alongside a loaded
// audio stream.
type TrackMetadata struct {
	Title      string
	Artist     string
	DurationMs int64
}

// AudioStream is the opaque byte source TrackSource hands back; its
// concrete transport (local file, CDN fetch, …) is outside the core.
type AudioStream interface {
	Read(p []byte) (n int, err error)
	Close() error
}

// TrackSource resolves a track URI to an audio stream plus metadata.
type TrackSource interface {
	Load(ctx context.Context, uri string) (AudioStream, TrackMetadata, error)
}

// SampleFormat describes the PCM shape samples are produced/consumed in.
type SampleFormat struct {
	SampleRateHz int
	Channels     int
	BitsPerSample int
}

// Decoder turns a compressed AudioStream into PCM sample windows.
type Decoder interface {
	Init(stream AudioStream, bufferMs int) (SampleFormat, error)
	Seek(positionMs int64) error
	// ReadSamples fills buf and returns the number of bytes produced; 0
	// signals end-of-stream.
	ReadSamples(buf []byte) (int, error)
	// TimestampMs returns the decoder's current position.
	TimestampMs() int64
	Dispose() error
}

// Processing is a pluggable DSP chain (resampling, normalization, …)
// between the decoder and the sink.
type Processing interface {
	Init(format SampleFormat) error
	Process(buf []byte) ([]byte, error)
	Dispose() error
}

// Sink is the audio output device, opaque to the core (non-goal: the actual
// device I/O).
type Sink interface {
	Init(format SampleFormat, bufferMs int) error
	Write(ctx context.Context, buf []byte) error
	Pause() error
	// Resume reports false if the device could not be re-acquired.
	Resume() (bool, error)
	Flush() error
	Dispose() error
}

// ContextPage is one page of a loaded context's tracks.
type ContextPage struct {
	Tracks       []ContextTrack
	NextPageURL  string
	IsInfinite   bool
	TotalCount   int
}

// ContextTrack is one track as returned by a ContextResolver page.
type ContextTrack struct {
	URI        string
	UID        string
	IsPlayable bool
}

// ContextResolver loads a context's tracks page by page (optional
// collaborator; Play falls back to a single-track queue without one).
type ContextResolver interface {
	LoadContext(ctx context.Context, uri string, max int, enrich bool) (ContextPage, error)
	LoadNextPage(ctx context.Context, nextPageURL string, enrich bool) (ContextPage, error)
}
