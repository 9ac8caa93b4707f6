//go:build (linux && cgo) || windows || darwin

package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/samber/lo"
)

// AudioAvailable indicates whether audio playback is supported in this build.
const AudioAvailable = true

var (
	speakerOnce sync.Once
	speakerErr  error
)

// initSpeaker initializes the speaker once per process
func initSpeaker() error {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(SpeakerSampleRate, SpeakerSampleRate.N(time.Second/10))
	})
	return speakerErr
}

var errDecoderClosed = errors.New("decoder closed")

// speakerDecoder plays one decoded source through the shared speaker.
type speakerDecoder struct {
	mu sync.Mutex

	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	title    string
	onEnd    func(error)
	queued   bool // ctrl is in the speaker mixer
	closed   bool
}

func newDecoder(streamer beep.StreamSeekCloser, format beep.Format, title string, onEnd func(error)) (*speakerDecoder, error) {
	if err := initSpeaker(); err != nil {
		return nil, err
	}
	return &speakerDecoder{
		streamer: streamer,
		format:   format,
		title:    title,
		onEnd:    onEnd,
	}, nil
}

// Title returns the title found in the source's tags
func (d *speakerDecoder) Title() string {
	return d.title
}

// Start begins or resumes playback. After the track has run out it is
// queued on the speaker again.
func (d *speakerDecoder) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errDecoderClosed
	}

	if !d.queued {
		resampled := beep.Resample(resampleQuality, d.format.SampleRate, SpeakerSampleRate, d.streamer)
		d.ctrl = &beep.Ctrl{Streamer: resampled, Paused: false}
		d.queued = true
		ctrl := d.ctrl
		speaker.Play(beep.Seq(ctrl, beep.Callback(func() {
			// Runs with the speaker locked
			go d.finished(ctrl)
		})))
		return nil
	}

	speaker.Lock()
	d.ctrl.Paused = false
	speaker.Unlock()
	return nil
}

// Pause halts playback, keeping the position
func (d *speakerDecoder) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errDecoderClosed
	}
	if d.ctrl != nil {
		speaker.Lock()
		d.ctrl.Paused = true
		speaker.Unlock()
	}
	return nil
}

// Seek moves to the given offset, clamped to the track
func (d *speakerDecoder) Seek(position time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errDecoderClosed
	}

	speaker.Lock()
	defer speaker.Unlock()

	samples := lo.Clamp(d.format.SampleRate.N(position), 0, d.streamer.Len())
	return d.streamer.Seek(samples)
}

// Position returns the current offset
func (d *speakerDecoder) Position() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0
	}

	speaker.Lock()
	pos := d.streamer.Position()
	speaker.Unlock()

	return d.format.SampleRate.D(pos)
}

// Duration returns the decoded length
func (d *speakerDecoder) Duration() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0
	}
	return d.format.SampleRate.D(d.streamer.Len())
}

// Close removes the track from the speaker and releases the streamer
func (d *speakerDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	speaker.Lock()
	if d.ctrl != nil {
		// A nil streamer ends the sequence on the next mixer pass
		d.ctrl.Streamer = nil
	}
	err := d.streamer.Close()
	speaker.Unlock()

	return err
}

// finished runs after the speaker drains ctrl, either at end of track or
// after Close
func (d *speakerDecoder) finished(ctrl *beep.Ctrl) {
	d.mu.Lock()
	if d.closed || d.ctrl != ctrl {
		d.mu.Unlock()
		return
	}
	d.queued = false
	err := d.streamer.Err()
	onEnd := d.onEnd
	d.mu.Unlock()

	if onEnd != nil {
		onEnd(err)
	}
}
