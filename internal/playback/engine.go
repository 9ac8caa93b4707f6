package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// DefaultSkipInterval is how far SkipForward and SkipBackward move.
const DefaultSkipInterval = 10 * time.Second

const (
	commandQueueSize = 64
	eventQueueSize   = 16
)

// ErrEngineClosed is returned by Snapshot once the engine has stopped running.
var ErrEngineClosed = errors.New("playback engine closed")

// Config holds engine configuration
type Config struct {
	SkipInterval  time.Duration // Distance for SkipForward/SkipBackward
	EmitInterval  time.Duration // Position publish interval while playing
	EmitThreshold time.Duration // Minimum position change worth publishing
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		SkipInterval:  DefaultSkipInterval,
		EmitInterval:  DefaultEmitInterval,
		EmitThreshold: DefaultEmitThreshold,
	}
}

// event is something that happened to a decoder, reported back to the
// engine goroutine. Each carries the generation of the decoder it is about.
type event interface {
	generation() uint64
}

type preparedEvent struct {
	gen     uint64
	decoder Decoder
	err     error
}

type endedEvent struct {
	gen uint64
	err error
}

type tickEvent struct {
	gen uint64
}

func (e preparedEvent) generation() uint64 { return e.gen }
func (e endedEvent) generation() uint64    { return e.gen }
func (e tickEvent) generation() uint64     { return e.gen }

// pendingLoad is the source being prepared while in PhaseLoading
type pendingLoad struct {
	url   string
	title string
	hint  time.Duration
	start time.Duration
}

// Engine owns the playback state and the only live decoder. All commands go
// through Submit and are applied one at a time on the engine goroutine
// started by Run.
type Engine struct {
	config  Config
	opener  Opener
	bcast   *Broadcaster
	ticker  *progressTicker
	logger  zerolog.Logger
	cmds    chan Command
	events  chan event
	done    chan struct{}
	runOnce sync.Once

	// Owned by the engine goroutine
	state         trackState
	phase         Phase
	lastErr       error
	decoder       Decoder
	gen           uint64
	pending       pendingLoad
	cancelPrepare context.CancelFunc
	stopTicker    context.CancelFunc
}

// NewEngine creates an Engine. Call Run to start processing commands.
func NewEngine(cfg Config, opener Opener, bcast *Broadcaster, logger zerolog.Logger) *Engine {
	if cfg.SkipInterval <= 0 {
		cfg.SkipInterval = DefaultSkipInterval
	}
	return &Engine{
		config: cfg,
		opener: opener,
		bcast:  bcast,
		ticker: newProgressTicker(cfg.EmitInterval, logger),
		logger: logger.With().Str("component", "engine").Logger(),
		cmds:   make(chan Command, commandQueueSize),
		events: make(chan event, eventQueueSize),
		done:   make(chan struct{}),
		phase:  PhaseIdle,
	}
}

// Submit enqueues cmd. It only waits for queue space and returns
// immediately once the engine has stopped.
func (e *Engine) Submit(cmd Command) {
	select {
	case e.cmds <- cmd:
	case <-e.done:
		e.logger.Debug().Str("op", cmd.Op.String()).Msg("Engine closed, dropping command")
	}
}

// Play submits a Play command
func (e *Engine) Play(url, title string, durationHint time.Duration) {
	e.Submit(Play(url, title, durationHint))
}

// TogglePlayPause submits a TogglePlayPause command
func (e *Engine) TogglePlayPause() { e.Submit(TogglePlayPause()) }

// Stop submits a Stop command
func (e *Engine) Stop() { e.Submit(Stop()) }

// SeekTo submits a SeekTo command; ResyncPosition requests a resync
func (e *Engine) SeekTo(position time.Duration) { e.Submit(SeekTo(position)) }

// SkipForward submits a SkipForward command
func (e *Engine) SkipForward() { e.Submit(SkipForward()) }

// SkipBackward submits a SkipBackward command
func (e *Engine) SkipBackward() { e.Submit(SkipBackward()) }

// RequestResync asks for an immediate emission of the unchanged state
func (e *Engine) RequestResync() { e.Submit(Resync()) }

// Subscribe registers a snapshot observer
func (e *Engine) Subscribe(fn func(Snapshot)) *Subscription {
	return e.bcast.Subscribe(fn)
}

// Unsubscribe detaches a snapshot observer
func (e *Engine) Unsubscribe(sub *Subscription) {
	e.bcast.Unsubscribe(sub)
}

// Snapshot returns the state as of every command submitted before the call
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case e.cmds <- Command{Op: opQuery, reply: reply}:
	case <-e.done:
		return Snapshot{}, ErrEngineClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-e.done:
		return Snapshot{}, ErrEngineClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Run processes commands and decoder events until ctx is cancelled, then
// releases the decoder. It must only be called once.
func (e *Engine) Run(ctx context.Context) error {
	first := false
	e.runOnce.Do(func() { first = true })
	if !first {
		return fmt.Errorf("playback engine already running")
	}

	e.logger.Info().Msg("Starting playback engine")
	defer e.shutdown()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Playback engine stopped")
			return ctx.Err()
		case cmd := <-e.cmds:
			e.handleCommand(cmd)
		case ev := <-e.events:
			e.handleEvent(ev)
		}
	}
}

// post hands a decoder event to the engine goroutine
func (e *Engine) post(ev event) {
	select {
	case e.events <- ev:
	case <-e.done:
		discard(ev)
	}
}

// discard releases the decoder carried by a prepare nobody will handle
func discard(ev event) {
	if p, ok := ev.(preparedEvent); ok && p.decoder != nil {
		_ = p.decoder.Close()
	}
}

// handleCommand applies a single command
func (e *Engine) handleCommand(cmd Command) {
	e.logger.Debug().
		Str("op", cmd.Op.String()).
		Str("phase", e.phase.String()).
		Msg("Command")

	switch cmd.Op {
	case OpPlay:
		e.play(cmd)
	case OpTogglePlayPause:
		e.toggle()
	case OpStop:
		e.stop()
	case OpSeekTo:
		e.seek(cmd.Position)
	case OpSkipForward:
		e.skip(e.config.SkipInterval)
	case OpSkipBackward:
		e.skip(-e.config.SkipInterval)
	case OpResync:
		e.publish(true)
	case opQuery:
		cmd.reply <- e.current()
	default:
		e.logger.Warn().Int("op", int(cmd.Op)).Msg("Unknown command")
	}
}

// handleEvent applies a decoder event, ignoring events from superseded
// decoders
func (e *Engine) handleEvent(ev event) {
	if ev.generation() != e.gen {
		if p, ok := ev.(preparedEvent); ok && p.decoder != nil {
			e.logger.Debug().Uint64("generation", p.gen).Msg("Discarding superseded prepare")
			e.closeDecoder(p.decoder)
		}
		return
	}

	switch ev := ev.(type) {
	case preparedEvent:
		e.prepared(ev)
	case endedEvent:
		e.ended(ev)
	case tickEvent:
		if e.phase != PhasePlaying || e.decoder == nil {
			return
		}
		e.refreshPosition()
		e.publish(false)
	}
}

// play handles OpPlay: resume in place, reload a retained source, or load a
// new one
func (e *Engine) play(cmd Command) {
	sameTrack := cmd.URL == "" || cmd.URL == e.state.url

	if sameTrack && e.decoder != nil {
		switch e.phase {
		case PhasePaused:
			e.resume()
			return
		case PhasePlaying:
			return
		}
	}

	if sameTrack && e.phase == PhaseLoading {
		return
	}

	if cmd.URL == "" {
		// A decode error drops the decoder but keeps the source around
		if e.state.url != "" {
			e.load(pendingLoad{url: e.state.url, title: e.state.title, hint: e.state.duration})
			return
		}
		e.logger.Debug().
			Err(ErrInvalidCommandForState).
			Msg("Play without URL and nothing to resume")
		return
	}

	e.load(pendingLoad{
		url:   cmd.URL,
		title: cmd.Title,
		hint:  cmd.DurationHint,
		start: cmd.Position,
	})
}

// load tears down whatever is loaded and starts preparing p
func (e *Engine) load(p pendingLoad) {
	e.teardown()
	e.gen++

	e.pending = p
	e.phase = PhaseLoading
	e.lastErr = nil
	e.state = trackState{
		url:   p.url,
		title: titleOrDefault(p.title),
	}
	e.state.setDuration(p.hint)

	e.logger.Info().
		Str("url", p.url).
		Str("title", e.state.title).
		Uint64("generation", e.gen).
		Msg("Loading track")

	ctx, cancel := context.WithCancel(context.Background())
	e.cancelPrepare = cancel
	gen := e.gen
	go func() {
		dec, err := e.opener.Open(ctx, p.url, func(err error) {
			e.post(endedEvent{gen: gen, err: err})
		})
		e.post(preparedEvent{gen: gen, decoder: dec, err: err})
	}()

	e.publish(true)
}

// prepared finishes a load once the decoder is ready (or failed)
func (e *Engine) prepared(ev preparedEvent) {
	if e.cancelPrepare != nil {
		e.cancelPrepare()
		e.cancelPrepare = nil
	}

	if ev.err != nil || ev.decoder == nil {
		err := ev.err
		if err == nil {
			err = errors.New("opener returned no decoder")
		}
		e.fail(&SourceError{URL: e.pending.url, Err: err})
		return
	}

	e.decoder = ev.decoder

	if e.pending.title == "" {
		if t, ok := e.decoder.(Titler); ok && t.Title() != "" {
			e.state.title = t.Title()
		}
	}
	if e.state.duration == 0 {
		e.state.setDuration(e.decoder.Duration())
	}

	if e.pending.start > 0 {
		start := e.state.clampPosition(e.pending.start)
		if err := e.decoder.Seek(start); err != nil {
			e.logger.Warn().Err(err).Dur("start", start).Msg("Failed to seek to start offset")
		} else {
			e.state.position = start
		}
	}

	if err := e.decoder.Start(); err != nil {
		e.closeDecoder(e.decoder)
		e.decoder = nil
		e.fail(&SourceError{URL: e.pending.url, Err: err})
		return
	}

	e.phase = PhasePlaying
	e.state.playing = true
	e.startTicker()

	e.logger.Info().
		Str("url", e.state.url).
		Dur("duration", e.state.duration).
		Msg("Playback started")

	e.publish(true)
}

// fail reverts a failed load to Idle and reports why
func (e *Engine) fail(err error) {
	e.logger.Warn().Err(err).Msg("Failed to load track")

	e.phase = PhaseIdle
	e.state = trackState{}
	e.pending = pendingLoad{}
	e.lastErr = err
	e.publish(true)
}

// ended handles natural end of track and mid-stream decode failures
func (e *Engine) ended(ev endedEvent) {
	if e.decoder == nil || (e.phase != PhasePlaying && e.phase != PhasePaused) {
		return
	}

	e.stopProgress()
	e.state.playing = false
	e.phase = PhasePaused

	if ev.err != nil {
		e.refreshPosition()
		e.lastErr = &DecodeError{URL: e.state.url, Err: ev.err}
		e.logger.Warn().Err(ev.err).Str("url", e.state.url).Msg("Playback stopped by decode error")

		// The decoder is broken; keep the state so the track can be reloaded
		e.closeDecoder(e.decoder)
		e.decoder = nil
		e.gen++
	} else {
		if e.state.duration == 0 {
			e.state.setDuration(e.decoder.Duration())
		}
		if e.state.duration > 0 {
			e.state.position = e.state.duration
		} else {
			e.refreshPosition()
		}
		e.logger.Info().Str("url", e.state.url).Msg("Track finished")
	}

	e.publish(true)
}

// toggle handles OpTogglePlayPause
func (e *Engine) toggle() {
	switch {
	case e.decoder != nil && e.phase == PhasePlaying:
		e.pause()
	case e.decoder != nil && e.phase == PhasePaused:
		e.resume()
	default:
		e.play(Command{Op: OpPlay})
	}
}

func (e *Engine) pause() {
	if err := e.decoder.Pause(); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to pause decoder")
	}
	e.stopProgress()
	e.refreshPosition()
	e.state.playing = false
	e.phase = PhasePaused
	e.publish(true)
}

func (e *Engine) resume() {
	// Starting again after the end replays from the top
	if e.state.duration > 0 && e.state.position >= e.state.duration {
		if err := e.decoder.Seek(0); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to rewind finished track")
		} else {
			e.state.position = 0
		}
	}

	if err := e.decoder.Start(); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to resume decoder")
		return
	}

	e.lastErr = nil
	e.state.playing = true
	e.phase = PhasePlaying
	e.startTicker()
	e.publish(true)
}

// stop handles OpStop: release everything and clear all state
func (e *Engine) stop() {
	e.teardown()
	e.gen++

	e.state = trackState{}
	e.pending = pendingLoad{}
	e.lastErr = nil
	e.phase = PhaseStopped

	e.logger.Info().Msg("Playback stopped")
	e.publish(true)
}

// seek handles OpSeekTo
func (e *Engine) seek(position time.Duration) {
	if e.decoder == nil {
		e.logger.Debug().
			Err(ErrInvalidCommandForState).
			Dur("position", position).
			Str("phase", e.phase.String()).
			Msg("Seek with no track loaded")
		return
	}

	target := e.state.clampPosition(position)
	if err := e.decoder.Seek(target); err != nil {
		e.logger.Warn().Err(err).Dur("position", target).Msg("Seek failed")
		return
	}
	e.state.position = target
	e.publish(false)
}

// skip moves the position by delta from where the decoder is now
func (e *Engine) skip(delta time.Duration) {
	if e.decoder == nil {
		e.logger.Debug().
			Err(ErrInvalidCommandForState).
			Dur("delta", delta).
			Msg("Skip with no track loaded")
		return
	}
	e.refreshPosition()
	e.seek(e.state.position + delta)
}

// refreshPosition reads the decoder position. While playing the position
// never moves backwards; only seeks do that.
func (e *Engine) refreshPosition() {
	if e.decoder == nil {
		return
	}

	pos := e.state.clampPosition(e.decoder.Position())
	if e.state.playing {
		pos = lo.Max([]time.Duration{pos, e.state.position})
	}
	e.state.position = pos

	if e.state.duration == 0 {
		e.state.setDuration(e.decoder.Duration())
	}
}

// teardown cancels any in-flight prepare, stops the ticker and releases the
// decoder
func (e *Engine) teardown() {
	if e.cancelPrepare != nil {
		e.cancelPrepare()
		e.cancelPrepare = nil
	}
	e.stopProgress()
	if e.decoder != nil {
		e.closeDecoder(e.decoder)
		e.decoder = nil
	}
	e.state.playing = false
}

// closeDecoder releases dec. Failures are logged and otherwise ignored so a
// stuck decoder can never block the next load.
func (e *Engine) closeDecoder(dec Decoder) {
	if err := dec.Close(); err != nil {
		e.logger.Warn().Err(fmt.Errorf("%w: %v", ErrTeardown, err)).Msg("Failed to release decoder")
	}
}

// startTicker (re)starts periodic publishing for the current generation
func (e *Engine) startTicker() {
	e.stopProgress()
	ctx, cancel := context.WithCancel(context.Background())
	e.stopTicker = cancel
	go e.ticker.Run(ctx, e.gen, e.events)
}

// stopProgress cancels the periodic publisher, if running
func (e *Engine) stopProgress() {
	if e.stopTicker != nil {
		e.stopTicker()
		e.stopTicker = nil
	}
}

// current builds a snapshot of the engine-owned state
func (e *Engine) current() Snapshot {
	return e.state.snapshot(e.phase, e.lastErr)
}

// publish emits the current state
func (e *Engine) publish(force bool) {
	e.bcast.Publish(e.current(), force)
}

// shutdown releases everything when Run exits. Prepares that finish
// afterwards close their own decoders in post.
func (e *Engine) shutdown() {
	e.teardown()
	e.gen++
	close(e.done)

	for {
		select {
		case ev := <-e.events:
			discard(ev)
		default:
			return
		}
	}
}
