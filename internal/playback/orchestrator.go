package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hollowresonance/spotconnect/internal/connectstate"
	"github.com/hollowresonance/spotconnect/internal/errs"
	"github.com/hollowresonance/spotconnect/internal/events"
	"github.com/hollowresonance/spotconnect/internal/pubsub"
	"github.com/hollowresonance/spotconnect/internal/queue"
	"github.com/hollowresonance/spotconnect/pkg/spotifyuri"
)

const readBufferSize = 4096

// TrackRef is one {uri, uid} pair a Play command may carry inline (spec.md
// §3 Command/Play).
type TrackRef struct {
	URI string
	UID string
}

// PlayRequest is the orchestrator-facing shape of a parsed Play command.
type PlayRequest struct {
	ContextURI            string
	Tracks                []TrackRef
	SkipToIndex           *int
	SkipToURI             string
	SkipToUID             string
	PositionMs            *int64
	ShuffleOverride       *bool
	RepeatContextOverride *bool
	RepeatTrackOverride   *bool
}

// Options configures a new Orchestrator. TrackSource and Sink are required;
// ContextResolver, Reporter and an EventSink behind it are optional per
// spec.md §6.
type Options struct {
	TrackSource      TrackSource
	ContextResolver  ContextResolver
	NewDecoder       func() Decoder
	NewProcessing    func() Processing
	Sink             Sink
	States           *connectstate.Manager
	Reporter         *events.Reporter
	Logger           *slog.Logger
	SinkBufferMs     int
	PublishInterval  time.Duration
	MaxContextTracks int
	QueueLowWaterMark int
}

// Orchestrator implements C10, the module's single-writer playback state
// machine: one command mutex serializes Play/Pause/Resume/Stop/Seek/Skip*/
// Set* calls, a dedicated goroutine runs the current "playback task", and a
// pending-seek slot under its own short mutex lets Seek take effect without
// stopping that task.
type Orchestrator struct {
	trackSource     TrackSource
	contextResolver ContextResolver
	newDecoder      func() Decoder
	newProcessing   func() Processing
	sink            Sink
	states          *connectstate.Manager
	reporter        *events.Reporter
	logger          *slog.Logger

	sinkBufferMs     int
	publishInterval  time.Duration
	maxContextTracks int

	queue *queue.PlaybackQueue

	errorsSubject *pubsub.Subject[error]

	cmdMu sync.Mutex

	seekMu      sync.Mutex
	pendingSeek *int64

	cancel     context.CancelFunc
	taskDone   chan struct{}
	taskActive bool

	stateMu             sync.Mutex
	currentTrack        *queue.QueueTrack
	positionMs          int64
	durationMs          int64
	status              connectstate.Status
	shuffle             bool
	repeatContext       bool
	repeatTrack         bool
	contextURI          string
	lastCommandDeviceID string
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bufferMs := opts.SinkBufferMs
	if bufferMs <= 0 {
		bufferMs = 100
	}
	interval := opts.PublishInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	maxTracks := opts.MaxContextTracks
	if maxTracks <= 0 {
		maxTracks = 100
	}

	return &Orchestrator{
		trackSource:      opts.TrackSource,
		contextResolver:  opts.ContextResolver,
		newDecoder:       opts.NewDecoder,
		newProcessing:    opts.NewProcessing,
		sink:             opts.Sink,
		states:           opts.States,
		reporter:         opts.Reporter,
		logger:           logger,
		sinkBufferMs:     bufferMs,
		publishInterval:  interval,
		maxContextTracks: maxTracks,
		queue:            queue.NewPlaybackQueue(opts.QueueLowWaterMark),
		errorsSubject:    pubsub.NewSubject[error](logger),
		status:           connectstate.Stopped,
	}
}

// Errors exposes the observable error stream (spec.md §6).
func (o *Orchestrator) Errors() *pubsub.Subject[error] { return o.errorsSubject }

// Queue exposes the underlying queue for the lazy-page-load consumer
// (spec.md §3's NeedsMoreTracks signal) to wire AppendTracks/SetNextPageURL
// against.
func (o *Orchestrator) Queue() *queue.PlaybackQueue { return o.queue }

// SetLastCommandDevice records which device issued the most recent command,
// attached to the next TrackTransition event (spec.md §4.11).
func (o *Orchestrator) SetLastCommandDevice(deviceID string) {
	o.stateMu.Lock()
	o.lastCommandDeviceID = deviceID
	o.stateMu.Unlock()
}

// Play implements spec.md §4.10 "Play".
func (o *Orchestrator) Play(ctx context.Context, req PlayRequest) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	o.stopTaskLocked()

	o.stateMu.Lock()
	if req.ShuffleOverride != nil {
		o.shuffle = *req.ShuffleOverride
	}
	if req.RepeatContextOverride != nil {
		o.repeatContext = *req.RepeatContextOverride
	}
	if req.RepeatTrackOverride != nil {
		o.repeatTrack = *req.RepeatTrackOverride
	}
	shuffle := o.shuffle
	o.stateMu.Unlock()
	o.queue.SetShuffle(shuffle)

	usedContext := false
	if req.ContextURI != "" && o.contextResolver != nil {
		uri, err := spotifyuri.Normalize(req.ContextURI)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrCommandParseFailed, err)
		}

		page, err := o.contextResolver.LoadContext(ctx, uri, o.maxContextTracks, false)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrTrackUnavailable, err)
		}

		startIdx := 0
		if req.SkipToIndex != nil {
			startIdx = *req.SkipToIndex
		}

		o.queue.SetTracks(toQueueTracks(page.Tracks), startIdx)
		o.queue.SetContext(uri, page.IsInfinite, page.TotalCount)
		o.queue.SetNextPageURL(page.NextPageURL)

		o.stateMu.Lock()
		o.contextURI = uri
		o.stateMu.Unlock()

		usedContext = true
	}

	if !usedContext {
		if len(req.Tracks) == 0 {
			return errs.ErrTrackUnavailable
		}
		tracks := make([]queue.QueueTrack, len(req.Tracks))
		for i, t := range req.Tracks {
			tracks[i] = queue.QueueTrack{URI: t.URI, UID: t.UID, IsPlayable: true}
		}
		o.queue.SetTracks(tracks, 0)

		o.stateMu.Lock()
		o.contextURI = ""
		o.stateMu.Unlock()
	}

	o.resolveSkipToLocked(req)
	o.advancePastUnplayableLocked()

	cur, ok := o.queue.Current()
	if !ok {
		return errs.ErrTrackUnavailable
	}

	startPos := int64(0)
	if req.PositionMs != nil {
		startPos = *req.PositionMs
	}

	o.startTaskLocked(*cur, startPos)
	return nil
}

func (o *Orchestrator) resolveSkipToLocked(req PlayRequest) {
	if req.SkipToURI == "" && req.SkipToUID == "" {
		return
	}
	n := o.queue.Len()
	if req.SkipToUID != "" {
		for i := 0; i < n; i++ {
			if t, ok := o.queue.SkipTo(i); ok && t.UID == req.SkipToUID {
				return
			}
		}
	}
	if req.SkipToURI != "" {
		for i := 0; i < n; i++ {
			if t, ok := o.queue.SkipTo(i); ok && t.URI == req.SkipToURI {
				return
			}
		}
	}
	o.queue.SkipTo(0)
}

func (o *Orchestrator) advancePastUnplayableLocked() {
	cur, ok := o.queue.Current()
	for ok && !cur.IsPlayable {
		cur, ok = o.queue.MoveNext()
	}
}

func toQueueTracks(tracks []ContextTrack) []queue.QueueTrack {
	out := make([]queue.QueueTrack, len(tracks))
	for i, t := range tracks {
		out[i] = queue.QueueTrack{URI: t.URI, UID: t.UID, IsPlayable: t.IsPlayable}
	}
	return out
}

// Pause pauses the sink of the active task, if any.
func (o *Orchestrator) Pause(ctx context.Context) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	if !o.taskActive {
		return nil
	}
	if err := o.sink.Pause(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrAudioDeviceUnavailable, err)
	}
	o.publishCurrent(connectstate.Paused)
	return nil
}

// Resume resumes the sink of the active task, or restarts the last track
// from 0 (or its current position, if not at the end) when the task has
// already completed (spec.md §4.10 "Pause/Resume").
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	if !o.taskActive {
		o.stateMu.Lock()
		track := o.currentTrack
		pos := o.positionMs
		dur := o.durationMs
		o.stateMu.Unlock()

		if track == nil {
			return errs.ErrTrackUnavailable
		}
		if dur > 0 && pos >= dur {
			pos = 0
		}
		o.startTaskLocked(*track, pos)
		return nil
	}

	ok, err := o.sink.Resume()
	if err != nil || !ok {
		o.reportFailure(fmt.Errorf("%w", errs.ErrAudioDeviceUnavailable))
		return errs.ErrAudioDeviceUnavailable
	}
	o.publishCurrent(connectstate.Playing)
	return nil
}

// Stop cancels the active task and publishes a Stopped snapshot.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	o.stopTaskLocked()
	o.publishCurrent(connectstate.Stopped)
	return nil
}

// Seek starts a task at positionMs if none is active, or arms the
// pending-seek slot and flushes the sink for immediate feedback.
func (o *Orchestrator) Seek(ctx context.Context, positionMs int64) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()
	return o.seekLocked(ctx, positionMs)
}

func (o *Orchestrator) seekLocked(ctx context.Context, positionMs int64) error {
	if !o.taskActive {
		cur, ok := o.queue.Current()
		if !ok {
			return errs.ErrTrackUnavailable
		}
		o.startTaskLocked(*cur, positionMs)
		return nil
	}

	o.seekMu.Lock()
	o.pendingSeek = &positionMs
	o.seekMu.Unlock()

	return o.sink.Flush()
}

// SkipNext advances the queue and restarts the task on the new track.
func (o *Orchestrator) SkipNext(ctx context.Context) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	next, ok := o.queue.MoveNext()
	o.stopTaskLocked()
	if !ok {
		o.publishCurrent(connectstate.Stopped)
		return nil
	}
	o.startTaskLocked(*next, 0)
	return nil
}

// SkipPrevious seeks to 0 if more than 3s into the track, otherwise moves
// the queue cursor back (restarting the current track if already at the
// start) per spec.md §4.10.
func (o *Orchestrator) SkipPrevious(ctx context.Context) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	o.stateMu.Lock()
	pos := o.positionMs
	o.stateMu.Unlock()

	if pos > 3000 {
		return o.seekLocked(ctx, 0)
	}

	prev, ok := o.queue.MovePrevious()
	o.stopTaskLocked()
	if !ok {
		cur, ok2 := o.queue.Current()
		if !ok2 {
			return errs.ErrTrackUnavailable
		}
		o.startTaskLocked(*cur, 0)
		return nil
	}
	o.startTaskLocked(*prev, 0)
	return nil
}

// SetShuffle toggles shuffle and re-publishes state.
func (o *Orchestrator) SetShuffle(enabled bool) {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()
	o.stateMu.Lock()
	o.shuffle = enabled
	o.stateMu.Unlock()
	o.queue.SetShuffle(enabled)
	o.publishCurrent(o.statusSnapshot())
}

// SetRepeatContext toggles repeat-context and re-publishes state.
func (o *Orchestrator) SetRepeatContext(enabled bool) {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()
	o.stateMu.Lock()
	o.repeatContext = enabled
	o.stateMu.Unlock()
	o.publishCurrent(o.statusSnapshot())
}

// SetRepeatTrack toggles repeat-track and re-publishes state.
func (o *Orchestrator) SetRepeatTrack(enabled bool) {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()
	o.stateMu.Lock()
	o.repeatTrack = enabled
	o.stateMu.Unlock()
	o.publishCurrent(o.statusSnapshot())
}

func (o *Orchestrator) statusSnapshot() connectstate.Status {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.status
}

// stopTaskLocked cancels and joins the active task, if any. Caller must hold
// cmdMu.
func (o *Orchestrator) stopTaskLocked() {
	if !o.taskActive {
		return
	}
	o.cancel()
	<-o.taskDone
	o.taskActive = false
}

// startTaskLocked spawns the playback task goroutine for track starting at
// startPositionMs. Caller must hold cmdMu.
func (o *Orchestrator) startTaskLocked(track queue.QueueTrack, startPositionMs int64) {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.taskDone = make(chan struct{})
	o.taskActive = true

	done := o.taskDone
	go func() {
		defer close(done)
		o.runTask(ctx, track, startPositionMs)
	}()
}

func (o *Orchestrator) takePendingSeek() (int64, bool) {
	o.seekMu.Lock()
	defer o.seekMu.Unlock()
	if o.pendingSeek == nil {
		return 0, false
	}
	v := *o.pendingSeek
	o.pendingSeek = nil
	return v, true
}

// runTask is the playback task loop (spec.md §4.10 "Playback task loop").
func (o *Orchestrator) runTask(ctx context.Context, startTrack queue.QueueTrack, startPositionMs int64) {
	currentTrack := startTrack
	pos := startPositionMs

	for {
		stream, meta, err := o.trackSource.Load(ctx, currentTrack.URI)
		if err != nil {
			o.reportFailure(fmt.Errorf("%w: %v", errs.ErrTrackUnavailable, err))
			o.finishStopped(&currentTrack, pos, 0)
			return
		}

		decoder := o.newDecoder()
		format, err := decoder.Init(stream, o.sinkBufferMs)
		if err != nil {
			o.reportFailure(fmt.Errorf("%w: %v", errs.ErrDecodeError, err))
			o.finishStopped(&currentTrack, pos, meta.DurationMs)
			return
		}

		processing := o.newProcessing()
		if err := processing.Init(format); err != nil {
			o.reportFailure(fmt.Errorf("%w: %v", errs.ErrDecodeError, err))
			decoder.Dispose()
			o.finishStopped(&currentTrack, pos, meta.DurationMs)
			return
		}

		if err := o.sink.Init(format, o.sinkBufferMs); err != nil {
			o.reportFailure(fmt.Errorf("%w: %v", errs.ErrAudioDeviceUnavailable, err))
			decoder.Dispose()
			processing.Dispose()
			o.finishStopped(&currentTrack, pos, meta.DurationMs)
			return
		}

		if pos > 0 {
			if err := decoder.Seek(pos); err != nil {
				o.logger.Warn("initial seek failed", "error", err)
			}
		}

		o.setCurrent(&currentTrack, pos, meta.DurationMs, connectstate.Playing)
		o.publishCurrent(connectstate.Playing)
		if o.reporter != nil {
			o.stateMu.Lock()
			ctxURI := o.contextURI
			lastDevice := o.lastCommandDeviceID
			o.stateMu.Unlock()
			o.reporter.TrackStarted(ctxURI, o.queue.Len(), lastDevice)
		}

		lastPublish := time.Now()
		var (
			cancelled   bool
			endOfStream bool
			loopErr     error
		)

	innerLoop:
		for {
			select {
			case <-ctx.Done():
				cancelled = true
				break innerLoop
			default:
			}

			if seek, ok := o.takePendingSeek(); ok {
				if err := decoder.Seek(seek); err != nil {
					loopErr = err
					break innerLoop
				}
				pos = seek
				continue
			}

			buf := make([]byte, readBufferSize)
			n, err := decoder.ReadSamples(buf)
			if err != nil {
				loopErr = err
				break innerLoop
			}
			if n == 0 {
				endOfStream = true
				break innerLoop
			}

			processed, err := processing.Process(buf[:n])
			if err != nil {
				loopErr = err
				break innerLoop
			}

			if err := o.sink.Write(ctx, processed); err != nil {
				if ctx.Err() != nil {
					cancelled = true
					break innerLoop
				}
				loopErr = err
				break innerLoop
			}

			pos = decoder.TimestampMs()
			if time.Since(lastPublish) >= o.publishInterval {
				o.setCurrent(&currentTrack, pos, meta.DurationMs, connectstate.Playing)
				o.publishCurrent(connectstate.Playing)
				lastPublish = time.Now()
			}
		}

		decoder.Dispose()
		processing.Dispose()

		switch {
		case cancelled:
			o.sink.Flush()
			o.closeMetrics(meta.DurationMs, pos, events.EndReasonEndPlay)
			return

		case loopErr != nil:
			o.reportFailure(fmt.Errorf("%w: %v", errs.ErrDecodeError, loopErr))
			o.closeMetrics(meta.DurationMs, pos, events.EndReasonEndPlay)
			o.finishStopped(&currentTrack, pos, meta.DurationMs)
			return

		case endOfStream:
			o.closeMetrics(meta.DurationMs, meta.DurationMs, events.EndReasonTrackDone)

			if o.repeatTrackEnabled() {
				pos = 0
				continue
			}

			if next, ok := o.queue.MoveNext(); ok {
				currentTrack = *next
				pos = 0
				continue
			}

			if o.repeatContextEnabled() {
				if first, ok := o.queue.SkipTo(0); ok {
					currentTrack = *first
					pos = 0
					continue
				}
			}

			o.sink.Flush()
			o.finishStopped(&currentTrack, meta.DurationMs, meta.DurationMs)
			return
		}
	}
}

func (o *Orchestrator) repeatTrackEnabled() bool {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.repeatTrack
}

func (o *Orchestrator) repeatContextEnabled() bool {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.repeatContext
}

func (o *Orchestrator) setCurrent(track *queue.QueueTrack, positionMs, durationMs int64, status connectstate.Status) {
	o.stateMu.Lock()
	o.currentTrack = track
	o.positionMs = positionMs
	o.durationMs = durationMs
	o.status = status
	o.stateMu.Unlock()
}

func (o *Orchestrator) finishStopped(track *queue.QueueTrack, positionMs, durationMs int64) {
	o.setCurrent(track, positionMs, durationMs, connectstate.Stopped)
	o.publishCurrent(connectstate.Stopped)
}

// publishCurrent builds and publishes a PlaybackState from the current
// state snapshot, the orchestrator being the sole writer of "local" state
// (spec.md §9).
func (o *Orchestrator) publishCurrent(status connectstate.Status) {
	o.stateMu.Lock()
	o.status = status
	var track *connectstate.TrackInfo
	if o.currentTrack != nil {
		track = &connectstate.TrackInfo{URI: o.currentTrack.URI, UID: o.currentTrack.UID}
	}
	state := &connectstate.PlaybackState{
		Track:      track,
		PositionMs: o.positionMs,
		DurationMs: o.durationMs,
		Status:     status,
		ContextURI: o.contextURI,
		Options: connectstate.PlayerOptions{
			ShufflingContext: o.shuffle,
			RepeatingContext: o.repeatContext,
			RepeatingTrack:   o.repeatTrack,
		},
		TimestampMs: time.Now().UnixMilli(),
	}
	o.stateMu.Unlock()

	if o.states != nil {
		o.states.PublishLocal(state)
	}
}

func (o *Orchestrator) reportFailure(err error) {
	o.logger.Warn("playback task failure", "error", err)
	o.errorsSubject.Publish(err)
}

// closeMetrics closes the reporter's metrics window for the just-finished
// track (spec.md §4.11). Bitrate/encoding/content-metrics fields are left
// zero-valued: they depend on decoder/track-source details this core
// treats as opaque.
func (o *Orchestrator) closeMetrics(durationMs, decodedMs int64, reason events.EndReason) {
	if o.reporter == nil {
		return
	}
	o.reporter.TrackEnded(reason, durationMs, decodedMs, 0, "", events.ContentMetrics{})
}
