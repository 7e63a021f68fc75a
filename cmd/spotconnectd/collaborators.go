package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hollowresonance/spotconnect/internal/dealer"
	"github.com/hollowresonance/spotconnect/internal/playback"
	"github.com/hollowresonance/spotconnect/pkg/spotifyuri"
)

// staticAuthProvider is a stand-in for the real OAuth token exchange, which
// is explicitly a non-goal of this core (spec.md §1). It hands back a
// fixed long-lived token so the rest of the pipeline can be exercised
// standalone.
type staticAuthProvider struct {
	token string
}

func (s *staticAuthProvider) GetAccessToken(ctx context.Context) (dealer.AccessToken, error) {
	return dealer.AccessToken{Token: s.token, Expiry: time.Now().Add(time.Hour)}, nil
}

// staticResolver is a stand-in for the real AP-resolver lookup.
type staticResolver struct {
	hosts []string
}

func (s *staticResolver) ResolveDealer(ctx context.Context) ([]string, error) {
	if len(s.hosts) == 0 {
		return nil, fmt.Errorf("no dealer hosts configured")
	}
	return s.hosts, nil
}

// localFileTrackSource resolves a track URI to a raw-PCM file on disk named
// after the URI's id, e.g. spotify:track:AAA -> <dir>/AAA.pcm. It exists so
// the reference binary can be smoke-tested end to end without a real
// Spotify CDN client, which is out of this core's scope.
type localFileTrackSource struct {
	dir string
}

func (l *localFileTrackSource) Load(ctx context.Context, uri string) (playback.AudioStream, playback.TrackMetadata, error) {
	_, id, err := spotifyuri.Parse(uri)
	if err != nil {
		return nil, playback.TrackMetadata{}, err
	}

	path := filepath.Join(l.dir, id+".pcm")
	f, err := os.Open(path)
	if err != nil {
		return nil, playback.TrackMetadata{}, fmt.Errorf("loading local track %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, playback.TrackMetadata{}, err
	}

	const bytesPerMs = 44100 * 2 * 2 / 1000 // 44.1kHz, 16-bit, stereo
	durationMs := info.Size() / bytesPerMs

	return f, playback.TrackMetadata{Title: id, DurationMs: durationMs}, nil
}

// passthroughDecoder treats its source stream as already-PCM samples at a
// fixed format; no real codec work happens, matching the "opaque collaborator"
// boundary spec.md §1 draws around OGG decoding math.
type passthroughDecoder struct {
	stream       playback.AudioStream
	bytesPerMs   int64
	bytesRead    int64
}

func (d *passthroughDecoder) Init(stream playback.AudioStream, bufferMs int) (playback.SampleFormat, error) {
	d.stream = stream
	d.bytesPerMs = 44100 * 2 * 2 / 1000
	return playback.SampleFormat{SampleRateHz: 44100, Channels: 2, BitsPerSample: 16}, nil
}

func (d *passthroughDecoder) Seek(positionMs int64) error {
	seeker, ok := d.stream.(interface {
		Seek(offset int64, whence int) (int64, error)
	})
	if !ok {
		return fmt.Errorf("stream does not support seeking")
	}
	offset := positionMs * d.bytesPerMs
	if _, err := seeker.Seek(offset, 0); err != nil {
		return err
	}
	d.bytesRead = offset
	return nil
}

func (d *passthroughDecoder) ReadSamples(buf []byte) (int, error) {
	n, err := d.stream.Read(buf)
	d.bytesRead += int64(n)
	if err != nil {
		return n, nil // EOF and other read errors both signal end-of-stream here
	}
	return n, nil
}

func (d *passthroughDecoder) TimestampMs() int64 {
	if d.bytesPerMs == 0 {
		return 0
	}
	return d.bytesRead / d.bytesPerMs
}

func (d *passthroughDecoder) Dispose() error {
	return d.stream.Close()
}

// identityProcessing is a no-op DSP chain.
type identityProcessing struct{}

func (identityProcessing) Init(format playback.SampleFormat) error { return nil }
func (identityProcessing) Process(buf []byte) ([]byte, error)      { return buf, nil }
func (identityProcessing) Dispose() error                          { return nil }

// discardSink is a no-op audio sink for standalone smoke-testing.
type discardSink struct{}

func (discardSink) Init(format playback.SampleFormat, bufferMs int) error { return nil }
func (discardSink) Write(ctx context.Context, buf []byte) error           { return nil }
func (discardSink) Pause() error                                         { return nil }
func (discardSink) Resume() (bool, error)                                { return true, nil }
func (discardSink) Flush() error                                        { return nil }
func (discardSink) Dispose() error                                      { return nil }
