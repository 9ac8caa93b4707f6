package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// eventually polls cond until it holds or the deadline passes
func eventually(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", desc)
}

func TestEngine_PlayPublishesLoadingThenPlaying(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.engine.Play("https://example.com/a.mp3", "Morning Brief", 60*time.Second)

	loading := h.waitFor("loading", func(s Snapshot) bool { return s.Phase == PhaseLoading })
	if loading.IsPlaying {
		t.Error("IsPlaying should be false while loading")
	}
	if loading.TrackURL != "https://example.com/a.mp3" {
		t.Errorf("TrackURL = %q, want the pending URL", loading.TrackURL)
	}

	playing := h.waitFor("playing", func(s Snapshot) bool { return s.Phase == PhasePlaying })
	if !playing.IsPlaying {
		t.Error("IsPlaying should be true")
	}
	if playing.Title != "Morning Brief" {
		t.Errorf("Title = %q, want %q", playing.Title, "Morning Brief")
	}
	if playing.Duration != 60*time.Second {
		t.Errorf("Duration = %v, want duration hint 60s", playing.Duration)
	}
	if playing.Position != 0 {
		t.Errorf("Position = %v, want 0", playing.Position)
	}
}

func TestEngine_ToggleToggleStop(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	dec := h.playAndWait("a.mp3", "A", 60*time.Second)

	h.engine.TogglePlayPause()
	paused := h.waitFor("paused", func(s Snapshot) bool { return s.Phase == PhasePaused })
	if paused.IsPlaying {
		t.Error("IsPlaying should be false after first toggle")
	}
	if !paused.Loaded() {
		t.Error("paused track should still be loaded")
	}
	if dec.isStarted() {
		t.Error("decoder should be paused")
	}

	h.engine.TogglePlayPause()
	h.waitFor("playing again", func(s Snapshot) bool { return s.Phase == PhasePlaying && s.IsPlaying })
	if !dec.isStarted() {
		t.Error("decoder should be started again")
	}

	h.engine.Stop()
	stopped := h.waitFor("stopped", func(s Snapshot) bool { return s.Phase == PhaseStopped })
	if stopped.Loaded() {
		t.Errorf("stopped snapshot should be empty, got %+v", stopped)
	}
	if stopped.Position != 0 || stopped.Duration != 0 {
		t.Errorf("position/duration = %v/%v, want 0/0", stopped.Position, stopped.Duration)
	}
	if !dec.isClosed() {
		t.Error("decoder should be released on stop")
	}
}

func TestEngine_TeardownFailureIsSwallowed(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	// Stop clears state even though the release fails
	a := h.playAndWait("a.mp3", "A", time.Minute)
	a.setCloseErr(errBoom)
	h.engine.Stop()
	stopped := h.waitFor("stopped", func(s Snapshot) bool { return s.Phase == PhaseStopped })
	if stopped.Loaded() || stopped.Err != nil {
		t.Errorf("stopped snapshot = %+v, want empty with no error", stopped)
	}
	if !a.isClosed() {
		t.Error("decoder release should have been attempted")
	}

	// The failed release doesn't block the next load
	b := h.playAndWait("b.mp3", "B", time.Minute)
	if b == a {
		t.Fatal("play after stop should open a new decoder")
	}

	// Replacing a loaded track whose release fails
	b.setCloseErr(errBoom)
	c := h.playAndWait("c.mp3", "C", time.Minute)
	if !b.isClosed() {
		t.Error("replaced decoder should have been released")
	}
	if c == b {
		t.Fatal("replacing should open a new decoder")
	}
	if st := h.state(); !st.IsPlaying || st.TrackURL != "c.mp3" || st.Title != "C" || st.Err != nil {
		t.Errorf("state after replace = %+v", st)
	}
}

func TestEngine_SkipForwardSaturatesAtDuration(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	dec := h.playAndWait("a.mp3", "A", 60*time.Second)

	dec.setPosition(55 * time.Second)
	h.engine.SkipForward()

	if got := h.state().Position; got != 60*time.Second {
		t.Errorf("Position = %v, want 60s", got)
	}
}

func TestEngine_SkipBackwardSaturatesAtZero(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	dec := h.playAndWait("a.mp3", "A", 60*time.Second)

	dec.setPosition(4 * time.Second)
	h.engine.SkipBackward()

	if got := h.state().Position; got != 0 {
		t.Errorf("Position = %v, want 0", got)
	}
}

func TestEngine_SkipUsesConfiguredInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SkipInterval = 30 * time.Second
	h := newHarness(t, cfg)
	dec := h.playAndWait("a.mp3", "A", 5*time.Minute)

	dec.setPosition(10 * time.Second)
	h.engine.SkipForward()

	if got := h.state().Position; got != 40*time.Second {
		t.Errorf("Position = %v, want 40s", got)
	}
}

func TestEngine_SeekClamps(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		seek     time.Duration
		want     time.Duration
	}{
		{"within range", 60 * time.Second, 30 * time.Second, 30 * time.Second},
		{"past end", 60 * time.Second, 90 * time.Second, 60 * time.Second},
		{"negative", 60 * time.Second, -5 * time.Second, 0},
		{"unknown duration", 0, 90 * time.Second, 90 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultConfig())
			dec := h.playAndWait("a.mp3", "A", tt.duration)

			h.engine.SeekTo(tt.seek)

			if got := h.state().Position; got != tt.want {
				t.Errorf("Position = %v, want %v", got, tt.want)
			}
			if got := dec.Position(); got != tt.want {
				t.Errorf("decoder position = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEngine_SeekWithNothingLoadedIsNoOp(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.engine.SeekTo(10 * time.Second)
	h.engine.SkipForward()

	s := h.state()
	if s.Phase != PhaseIdle || s.Loaded() {
		t.Errorf("state = %+v, want untouched idle state", s)
	}
}

func TestEngine_ResyncDoesNotChangeState(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	dec := h.playAndWait("a.mp3", "A", 60*time.Second)
	h.engine.TogglePlayPause()
	h.waitFor("paused", func(s Snapshot) bool { return s.Phase == PhasePaused })

	before := h.state()
	dec.setPosition(42 * time.Second)

	h.engine.SeekTo(ResyncPosition)
	got := h.waitFor("resync", func(Snapshot) bool { return true })

	if got != before {
		t.Errorf("resync emitted %+v, want %+v", got, before)
	}
	if after := h.state(); after != before {
		t.Errorf("state after resync = %+v, want %+v", after, before)
	}
	dec.mu.Lock()
	seeks := len(dec.seeks)
	dec.mu.Unlock()
	if seeks != 0 {
		t.Errorf("resync should not seek the decoder, got %d seeks", seeks)
	}
}

func TestEngine_SupersededPrepareIsDiscarded(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	release := h.opener.gate("a.mp3")

	h.engine.Play("a.mp3", "A", 0)
	h.waitFor("loading a", func(s Snapshot) bool { return s.Phase == PhaseLoading && s.TrackURL == "a.mp3" })

	h.playAndWait("b.mp3", "B", 0)

	release()
	eventually(t, "superseded decoder closed", func() bool {
		d := h.opener.decoder("a.mp3")
		return d != nil && d.isClosed()
	})

	s := h.state()
	if s.TrackURL != "b.mp3" || !s.IsPlaying {
		t.Errorf("state = %+v, want b.mp3 playing", s)
	}
	if h.opener.decoder("a.mp3").isStarted() {
		t.Error("superseded decoder should never start")
	}
}

func TestEngine_StopDuringLoadDiscardsPrepare(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	release := h.opener.gate("a.mp3")

	h.engine.Play("a.mp3", "A", 0)
	h.waitFor("loading", func(s Snapshot) bool { return s.Phase == PhaseLoading })
	h.engine.Stop()
	h.waitFor("stopped", func(s Snapshot) bool { return s.Phase == PhaseStopped })

	release()
	eventually(t, "decoder closed", func() bool {
		d := h.opener.decoder("a.mp3")
		return d != nil && d.isClosed()
	})

	if s := h.state(); s.Loaded() {
		t.Errorf("state = %+v, want nothing loaded", s)
	}
}

func TestEngine_PlaySameTrackWhilePlayingIsNoOp(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.playAndWait("a.mp3", "A", 0)

	h.engine.Play("a.mp3", "A", 0)
	h.state()

	h.opener.mu.Lock()
	opened := len(h.opener.opened)
	h.opener.mu.Unlock()
	if opened != 1 {
		t.Errorf("opened %d decoders, want 1", opened)
	}
}

func TestEngine_PlaySameTrackWhilePausedResumes(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	dec := h.playAndWait("a.mp3", "A", 60*time.Second)
	h.engine.TogglePlayPause()
	h.waitFor("paused", func(s Snapshot) bool { return s.Phase == PhasePaused })
	dec.setPosition(12 * time.Second)

	h.engine.Play("a.mp3", "A", 60*time.Second)
	s := h.waitFor("resumed", func(s Snapshot) bool { return s.IsPlaying })

	if h.opener.decoder("a.mp3") != dec {
		t.Error("resume should reuse the existing decoder")
	}
	if s.TrackURL != "a.mp3" {
		t.Errorf("TrackURL = %q", s.TrackURL)
	}
}

func TestEngine_PlayWithNothingLoadedIsNoOp(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.engine.TogglePlayPause()
	h.engine.Play("", "", 0)

	s := h.state()
	if s.Phase != PhaseIdle || s.Loaded() {
		t.Errorf("state = %+v, want idle", s)
	}
}

func TestEngine_LoadFailureRevertsToIdle(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.opener.fail["bad.mp3"] = errBoom

	h.engine.Play("bad.mp3", "Bad", 30*time.Second)
	s := h.waitFor("failed", func(s Snapshot) bool { return s.Err != nil })

	if s.Phase != PhaseIdle {
		t.Errorf("Phase = %v, want idle", s.Phase)
	}
	if s.Loaded() {
		t.Errorf("failed load should leave nothing loaded, got %+v", s)
	}
	if !errors.Is(s.Err, ErrSourceUnavailable) {
		t.Errorf("Err = %v, want ErrSourceUnavailable", s.Err)
	}
	if !errors.Is(s.Err, errBoom) {
		t.Errorf("Err = %v, should wrap the opener error", s.Err)
	}
	var srcErr *SourceError
	if !errors.As(s.Err, &srcErr) || srcErr.URL != "bad.mp3" {
		t.Errorf("Err = %v, want *SourceError for bad.mp3", s.Err)
	}
}

// newBareEngine returns an engine that is not running, for driving its
// handlers directly from the test goroutine
func newBareEngine() *Engine {
	return NewEngine(DefaultConfig(), newFakeOpener(), NewBroadcaster(0, zerolog.Nop()), zerolog.Nop())
}

func TestEngine_StartFailureRevertsToIdle(t *testing.T) {
	e := newBareEngine()
	e.load(pendingLoad{url: "x.mp3", title: "X"})

	dec := &fakeDecoder{url: "x.mp3", startErr: errBoom}
	e.prepared(preparedEvent{gen: e.gen, decoder: dec})

	s := e.current()
	if s.Phase != PhaseIdle || !errors.Is(s.Err, ErrSourceUnavailable) {
		t.Errorf("state = %+v, want idle with source error", s)
	}
	if e.decoder != nil {
		t.Error("decoder should be dropped")
	}
	if !dec.isClosed() {
		t.Error("decoder should be released")
	}
}

func TestEngine_StaleEventsAreDropped(t *testing.T) {
	e := newBareEngine()
	e.load(pendingLoad{url: "a.mp3", title: "A"})
	live := &fakeDecoder{url: "a.mp3", duration: time.Minute}
	e.prepared(preparedEvent{gen: e.gen, decoder: live})
	defer e.stopProgress()

	live.setPosition(10 * time.Second)
	e.handleEvent(tickEvent{gen: e.gen - 1})
	if got := e.state.position; got != 0 {
		t.Errorf("stale tick moved position to %v", got)
	}

	e.handleEvent(endedEvent{gen: e.gen - 1, err: errBoom})
	if e.phase != PhasePlaying || e.lastErr != nil {
		t.Errorf("stale end changed state: phase=%v err=%v", e.phase, e.lastErr)
	}

	stale := &fakeDecoder{url: "old.mp3"}
	e.handleEvent(preparedEvent{gen: e.gen - 1, decoder: stale})
	if !stale.isClosed() {
		t.Error("stale prepared decoder should be closed")
	}
	if e.decoder != live {
		t.Error("stale prepare replaced the live decoder")
	}

	e.handleEvent(tickEvent{gen: e.gen})
	if got := e.state.position; got != 10*time.Second {
		t.Errorf("live tick position = %v, want 10s", got)
	}
}

func TestEngine_PositionIsMonotonicWhilePlaying(t *testing.T) {
	e := newBareEngine()
	e.load(pendingLoad{url: "a.mp3", title: "A"})
	dec := &fakeDecoder{url: "a.mp3", duration: time.Minute}
	e.prepared(preparedEvent{gen: e.gen, decoder: dec})
	defer e.stopProgress()

	dec.setPosition(30 * time.Second)
	e.refreshPosition()
	dec.setPosition(29 * time.Second)
	e.refreshPosition()

	if got := e.state.position; got != 30*time.Second {
		t.Errorf("Position = %v, want 30s", got)
	}

	// Explicit seeks may move backwards
	e.seek(5 * time.Second)
	if got := e.state.position; got != 5*time.Second {
		t.Errorf("Position after seek = %v, want 5s", got)
	}
}

func TestEngine_TickPublishesPosition(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmitInterval = 10 * time.Millisecond
	h := newHarness(t, cfg)
	dec := h.playAndWait("a.mp3", "A", time.Minute)

	dec.setPosition(3 * time.Second)
	s := h.waitFor("tick", func(s Snapshot) bool { return s.Position == 3*time.Second })

	if !s.IsPlaying || s.Phase != PhasePlaying {
		t.Errorf("state = %+v, want playing", s)
	}
}

func TestEngine_PlayingImpliesTrackURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmitInterval = 5 * time.Millisecond
	h := newHarness(t, cfg)

	dec := h.playAndWait("a.mp3", "A", time.Minute)
	dec.setPosition(2 * time.Second)
	h.engine.TogglePlayPause()
	h.engine.TogglePlayPause()
	h.engine.Play("b.mp3", "B", 0)
	h.engine.SkipForward()
	h.engine.Stop()
	h.engine.Play("c.mp3", "", 0)
	h.waitFor("playing c", func(s Snapshot) bool { return s.IsPlaying && s.TrackURL == "c.mp3" })
	h.engine.Stop()

	h.waitFor("final stop", func(s Snapshot) bool {
		if s.IsPlaying && s.TrackURL == "" {
			t.Errorf("IsPlaying with empty TrackURL: %+v", s)
		}
		if s.Loaded() && s.Title == "" {
			t.Errorf("loaded snapshot with empty title: %+v", s)
		}
		return s.Phase == PhaseStopped
	})
}

func TestEngine_SnapshotAfterShutdown(t *testing.T) {
	e := newBareEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	if _, err := e.Snapshot(context.Background()); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Snapshot() = %v, want ErrEngineClosed", err)
	}
	if err := e.Run(context.Background()); err == nil {
		t.Error("second Run() should fail")
	}

	// Commands after shutdown are dropped without blocking
	for i := 0; i < commandQueueSize+1; i++ {
		e.Stop()
	}
}

func TestEngine_DecodeErrorKeepsTrackLoaded(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	dec := h.playAndWait("a.mp3", "A", 60*time.Second)
	dec.setPosition(20 * time.Second)

	dec.end(errBoom)
	s := h.waitFor("decode error", func(s Snapshot) bool { return s.Err != nil })

	if s.Phase != PhasePaused || s.IsPlaying {
		t.Errorf("state = %+v, want paused", s)
	}
	if s.TrackURL != "a.mp3" || s.Title != "A" || s.Duration != 60*time.Second {
		t.Errorf("state = %+v, want track retained", s)
	}
	if s.Position != 20*time.Second {
		t.Errorf("Position = %v, want 20s", s.Position)
	}
	var decErr *DecodeError
	if !errors.As(s.Err, &decErr) || !errors.Is(s.Err, errBoom) {
		t.Errorf("Err = %v, want *DecodeError wrapping the decoder error", s.Err)
	}
	if !dec.isClosed() {
		t.Error("broken decoder should be released")
	}

	// Toggling reloads the retained source
	h.engine.TogglePlayPause()
	h.waitFor("reloaded", func(s Snapshot) bool { return s.IsPlaying && s.Err == nil })
	if next := h.opener.decoder("a.mp3"); next == dec {
		t.Error("expected a fresh decoder after reload")
	}
}

func TestEngine_LateEndFromReplacedDecoderIsIgnored(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	old := h.playAndWait("a.mp3", "A", 0)
	h.playAndWait("b.mp3", "B", 0)

	old.end(errBoom)
	s := h.state()

	if s.TrackURL != "b.mp3" || !s.IsPlaying || s.Err != nil {
		t.Errorf("state = %+v, want b.mp3 still playing", s)
	}
}

func TestEngine_NaturalEndPinsPosition(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	dec := h.playAndWait("a.mp3", "A", 60*time.Second)
	dec.setPosition(59*time.Second + 900*time.Millisecond)

	dec.end(nil)
	s := h.waitFor("ended", func(s Snapshot) bool { return s.Phase == PhasePaused })

	if s.IsPlaying {
		t.Error("IsPlaying should be false at end of track")
	}
	if s.Position != 60*time.Second {
		t.Errorf("Position = %v, want 60s", s.Position)
	}
	if s.Err != nil {
		t.Errorf("Err = %v, want nil", s.Err)
	}

	h.engine.TogglePlayPause()
	replay := h.waitFor("replaying", func(s Snapshot) bool { return s.IsPlaying })
	if replay.Position != 0 {
		t.Errorf("Position = %v, want replay from 0", replay.Position)
	}
}

func TestEngine_PlayFromStartOffset(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.engine.Submit(PlayFrom("a.mp3", "A", 60*time.Second, 20*time.Second))
	s := h.waitFor("playing", func(s Snapshot) bool { return s.IsPlaying })

	if s.Position != 20*time.Second {
		t.Errorf("Position = %v, want 20s", s.Position)
	}
	if got := h.opener.decoder("a.mp3").Position(); got != 20*time.Second {
		t.Errorf("decoder position = %v, want 20s", got)
	}
}

func TestEngine_TitleFallbacks(t *testing.T) {
	tests := []struct {
		name  string
		title string
		tag   string
		want  string
	}{
		{"given title wins", "Given", "From Tags", "Given"},
		{"tag title when none given", "", "From Tags", "From Tags"},
		{"default when neither", "", "", DefaultTitle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultConfig())
			h.opener.titles["a.mp3"] = tt.tag
			h.opener.setDuration("a.mp3", 90*time.Second)

			h.engine.Play("a.mp3", tt.title, 0)

			loading := h.waitFor("loading", func(s Snapshot) bool { return s.Phase == PhaseLoading })
			if loading.Title == "" {
				t.Error("loading snapshot should carry a title")
			}
			s := h.waitFor("playing", func(s Snapshot) bool { return s.IsPlaying })
			if s.Title != tt.want {
				t.Errorf("Title = %q, want %q", s.Title, tt.want)
			}
			if s.Duration != 90*time.Second {
				t.Errorf("Duration = %v, want decoder duration 90s", s.Duration)
			}
		})
	}
}
