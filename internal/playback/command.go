package playback

import (
	"time"
)

// ResyncPosition is the SeekTo sentinel that asks for a fresh emission of
// the current state instead of a seek.
const ResyncPosition = -time.Millisecond

// Op identifies a Command
type Op int

const (
	OpPlay Op = iota
	OpTogglePlayPause
	OpStop
	OpSeekTo
	OpSkipForward
	OpSkipBackward
	OpResync

	// opQuery is internal: it reads the state in command order
	opQuery
)

// String returns a human-readable representation of the Op
func (o Op) String() string {
	switch o {
	case OpPlay:
		return "play"
	case OpTogglePlayPause:
		return "toggle"
	case OpStop:
		return "stop"
	case OpSeekTo:
		return "seek"
	case OpSkipForward:
		return "forward"
	case OpSkipBackward:
		return "back"
	case OpResync:
		return "resync"
	case opQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Command is the only way to change playback state. Build one with the
// constructors below and hand it to Engine.Submit.
type Command struct {
	Op           Op
	URL          string        // Play: source to load; empty means resume
	Title        string        // Play: display name
	DurationHint time.Duration // Play: caller-supplied length, wins over the decoder's
	Position     time.Duration // SeekTo: target; Play: start offset applied after prepare

	reply chan Snapshot
}

// Play loads url (or resumes the paused track when url is empty)
func Play(url, title string, durationHint time.Duration) Command {
	return Command{Op: OpPlay, URL: url, Title: title, DurationHint: durationHint}
}

// PlayFrom is Play with a start offset, used to pick up an earlier listen
func PlayFrom(url, title string, durationHint, start time.Duration) Command {
	c := Play(url, title, durationHint)
	c.Position = start
	return c
}

// TogglePlayPause pauses a playing track or resumes a paused one
func TogglePlayPause() Command {
	return Command{Op: OpTogglePlayPause}
}

// Stop tears down the decoder and clears all state
func Stop() Command {
	return Command{Op: OpStop}
}

// SeekTo moves to position. SeekTo(ResyncPosition) is the same as Resync.
func SeekTo(position time.Duration) Command {
	if position == ResyncPosition {
		return Resync()
	}
	return Command{Op: OpSeekTo, Position: position}
}

// SkipForward jumps ahead by the engine's skip interval
func SkipForward() Command {
	return Command{Op: OpSkipForward}
}

// SkipBackward jumps back by the engine's skip interval
func SkipBackward() Command {
	return Command{Op: OpSkipBackward}
}

// Resync re-emits the current state to every subscriber without changing it
func Resync() Command {
	return Command{Op: OpResync}
}
