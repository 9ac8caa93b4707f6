package control

import (
	"fmt"
	"time"

	"github.com/jfmyers9/newsreel/internal/playback"
)

// Request is a command sent to a running player.
type Request struct {
	ID         string `json:"id"`
	Op         string `json:"op"`
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	PositionMs int64  `json:"position_ms,omitempty"`
}

// Request ops. All but OpStatus map onto a playback command.
const (
	OpPlay    = "play"
	OpToggle  = "toggle"
	OpStop    = "stop"
	OpSeek    = "seek"
	OpForward = "forward"
	OpBack    = "back"
	OpResync  = "resync"
	OpStatus  = "status"
)

// Reply answers a Request with the state after it was applied.
type Reply struct {
	ID     string `json:"id"`
	Error  string `json:"error,omitempty"`
	Status Status `json:"status"`
}

// Status is the wire form of a playback snapshot.
type Status struct {
	Phase      string `json:"phase"`
	TrackURL   string `json:"track_url,omitempty"`
	Title      string `json:"title,omitempty"`
	IsPlaying  bool   `json:"is_playing"`
	PositionMs int64  `json:"position_ms"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// StatusFromSnapshot converts a snapshot to its wire form
func StatusFromSnapshot(s playback.Snapshot) Status {
	st := Status{
		Phase:      s.Phase.String(),
		TrackURL:   s.TrackURL,
		Title:      s.Title,
		IsPlaying:  s.IsPlaying,
		PositionMs: s.Position.Milliseconds(),
		DurationMs: s.Duration.Milliseconds(),
	}
	if s.Err != nil {
		st.Error = s.Err.Error()
	}
	return st
}

// Position returns the position as a duration
func (s Status) Position() time.Duration {
	return time.Duration(s.PositionMs) * time.Millisecond
}

// Duration returns the duration as a duration
func (s Status) Duration() time.Duration {
	return time.Duration(s.DurationMs) * time.Millisecond
}

// Loaded reports whether any track is loaded, playing or paused
func (s Status) Loaded() bool {
	return s.IsPlaying || s.DurationMs > 0 || s.Title != "" || s.TrackURL != ""
}

// ToCommand maps a request onto a playback command. ok is false for
// OpStatus, which only reads state.
func ToCommand(req Request) (cmd playback.Command, ok bool, err error) {
	switch req.Op {
	case OpPlay:
		return playback.PlayFrom(
			req.URL,
			req.Title,
			time.Duration(req.DurationMs)*time.Millisecond,
			time.Duration(req.PositionMs)*time.Millisecond,
		), true, nil
	case OpToggle:
		return playback.TogglePlayPause(), true, nil
	case OpStop:
		return playback.Stop(), true, nil
	case OpSeek:
		// position_ms == -1 is the resync sentinel
		return playback.SeekTo(time.Duration(req.PositionMs) * time.Millisecond), true, nil
	case OpForward:
		return playback.SkipForward(), true, nil
	case OpBack:
		return playback.SkipBackward(), true, nil
	case OpResync:
		return playback.Resync(), true, nil
	case OpStatus:
		return playback.Command{}, false, nil
	default:
		return playback.Command{}, false, fmt.Errorf("unknown op %q", req.Op)
	}
}
