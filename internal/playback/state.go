package playback

import (
	"time"

	"github.com/samber/lo"
)

// DefaultTitle is shown for a loaded track that has no usable title.
const DefaultTitle = "Audio"

// Phase is the engine's position in its playback state machine
type Phase int

const (
	PhaseIdle    Phase = iota // Nothing loaded
	PhaseLoading              // Prepare in flight
	PhasePlaying              // Decoder is advancing
	PhasePaused               // Loaded but not advancing (also after track end or decode error)
	PhaseStopped              // Cleared by Stop; behaves like Idle
)

// String returns a human-readable representation of the Phase
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhasePlaying:
		return "playing"
	case PhasePaused:
		return "paused"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable copy of the playback state taken at emission time.
type Snapshot struct {
	Phase     Phase
	TrackURL  string        // Empty when nothing is loaded
	Title     string        // Never empty while a track is loaded
	IsPlaying bool          // True only while the decoder is advancing
	Position  time.Duration // Last known offset
	Duration  time.Duration // 0 means unknown
	Err       error         // Why playback last stopped on its own, if it did
}

// Loaded reports whether the snapshot carries any audio state at all,
// playing or paused. Only Stop (or a failed load) makes this false again.
func (s Snapshot) Loaded() bool {
	return s.IsPlaying || s.Duration > 0 || s.Title != "" || s.TrackURL != ""
}

// trackState is the engine-owned playback state. It is only touched by the
// engine goroutine; everyone else sees Snapshots.
type trackState struct {
	url      string
	title    string
	playing  bool
	position time.Duration
	duration time.Duration
}

// snapshot copies the state into an emission payload
func (t trackState) snapshot(phase Phase, err error) Snapshot {
	return Snapshot{
		Phase:     phase,
		TrackURL:  t.url,
		Title:     t.title,
		IsPlaying: t.playing,
		Position:  t.position,
		Duration:  t.duration,
		Err:       err,
	}
}

// setDuration records a resolved duration. A positive duration is never
// replaced by zero while the same track stays loaded.
func (t *trackState) setDuration(d time.Duration) {
	if d > 0 {
		t.duration = d
	}
}

// clampPosition limits p to [0, duration], or just to >= 0 while the
// duration is unknown.
func (t trackState) clampPosition(p time.Duration) time.Duration {
	if t.duration > 0 {
		return lo.Clamp(p, 0, t.duration)
	}
	return lo.Max([]time.Duration{p, 0})
}

// titleOrDefault returns title, or DefaultTitle when title is blank
func titleOrDefault(title string) string {
	if title == "" {
		return DefaultTitle
	}
	return title
}
