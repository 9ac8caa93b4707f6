package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeDecoder is a controllable Decoder
type fakeDecoder struct {
	mu       sync.Mutex
	url      string
	title    string
	position time.Duration
	duration time.Duration
	started  bool
	closed   bool
	closeErr error
	startErr error
	seeks    []time.Duration
	onEnd    func(error)
}

func (d *fakeDecoder) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.started = true
	return nil
}

func (d *fakeDecoder) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	return nil
}

func (d *fakeDecoder) Seek(p time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.position = p
	d.seeks = append(d.seeks, p)
	return nil
}

func (d *fakeDecoder) Position() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.position
}

func (d *fakeDecoder) Duration() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duration
}

func (d *fakeDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return d.closeErr
}

func (d *fakeDecoder) Title() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.title
}

func (d *fakeDecoder) setPosition(p time.Duration) {
	d.mu.Lock()
	d.position = p
	d.mu.Unlock()
}

func (d *fakeDecoder) setCloseErr(err error) {
	d.mu.Lock()
	d.closeErr = err
	d.mu.Unlock()
}

func (d *fakeDecoder) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDecoder) isStarted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// end simulates the decoder reaching the end of the track (err == nil) or
// failing mid-stream
func (d *fakeDecoder) end(err error) {
	d.mu.Lock()
	onEnd := d.onEnd
	d.mu.Unlock()
	onEnd(err)
}

// fakeOpener hands out fakeDecoders. Opens for URLs listed in gates block
// until the gate is released, so tests control when a prepare completes.
type fakeOpener struct {
	mu        sync.Mutex
	gates     map[string]chan struct{}
	fail      map[string]error
	durations map[string]time.Duration
	titles    map[string]string
	opened    []*fakeDecoder
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		gates:     make(map[string]chan struct{}),
		fail:      make(map[string]error),
		durations: make(map[string]time.Duration),
		titles:    make(map[string]string),
	}
}

func (o *fakeOpener) setDuration(url string, d time.Duration) {
	o.mu.Lock()
	o.durations[url] = d
	o.mu.Unlock()
}

// gate makes opens of url wait until the returned func is called
func (o *fakeOpener) gate(url string) func() {
	ch := make(chan struct{})
	o.mu.Lock()
	o.gates[url] = ch
	o.mu.Unlock()
	return func() { close(ch) }
}

func (o *fakeOpener) Open(ctx context.Context, url string, onEnd func(error)) (Decoder, error) {
	o.mu.Lock()
	gate := o.gates[url]
	failErr := o.fail[url]
	dur := o.durations[url]
	title := o.titles[url]
	o.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if failErr != nil {
		return nil, failErr
	}

	d := &fakeDecoder{url: url, title: title, duration: dur, onEnd: onEnd}
	o.mu.Lock()
	o.opened = append(o.opened, d)
	o.mu.Unlock()
	return d, nil
}

// decoder returns the most recently opened decoder for url
func (o *fakeOpener) decoder(url string) *fakeDecoder {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.opened) - 1; i >= 0; i-- {
		if o.opened[i].url == url {
			return o.opened[i]
		}
	}
	return nil
}

// harness runs an Engine with a recording subscriber
type harness struct {
	t      *testing.T
	engine *Engine
	opener *fakeOpener
	snaps  chan Snapshot
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	if cfg.EmitInterval == 0 {
		// Keep the ticker out of the way unless a test wants it
		cfg.EmitInterval = time.Hour
	}

	opener := newFakeOpener()
	bcast := NewBroadcaster(cfg.EmitThreshold, zerolog.Nop())
	engine := NewEngine(cfg, opener, bcast, zerolog.Nop())

	h := &harness{
		t:      t,
		engine: engine,
		opener: opener,
		snaps:  make(chan Snapshot, 256),
	}
	engine.Subscribe(func(s Snapshot) { h.snaps <- s })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		bcast.Close()
	})

	return h
}

// waitFor returns the first delivered snapshot matching pred
func (h *harness) waitFor(desc string, pred func(Snapshot) bool) Snapshot {
	h.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-h.snaps:
			if pred(s) {
				return s
			}
		case <-timeout:
			h.t.Fatalf("timed out waiting for snapshot: %s", desc)
			return Snapshot{}
		}
	}
}

// state returns the engine state after every command submitted so far
func (h *harness) state() Snapshot {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := h.engine.Snapshot(ctx)
	if err != nil {
		h.t.Fatalf("Snapshot: %v", err)
	}
	return s
}

// playAndWait plays url and waits until it is playing
func (h *harness) playAndWait(url, title string, hint time.Duration) *fakeDecoder {
	h.t.Helper()
	h.engine.Play(url, title, hint)
	h.waitFor("playing "+url, func(s Snapshot) bool {
		return s.IsPlaying && s.TrackURL == url
	})
	d := h.opener.decoder(url)
	if d == nil {
		h.t.Fatalf("no decoder opened for %s", url)
	}
	return d
}

var errBoom = errors.New("boom")
