package playback

import (
	"context"
	"time"
)

// Decoder is a live, prepared audio source. The engine is its only user and
// never calls it from more than one goroutine at a time.
type Decoder interface {
	// Start begins or resumes playback
	Start() error

	// Pause halts playback, keeping the position
	Pause() error

	// Seek moves to the given offset
	Seek(position time.Duration) error

	// Position returns the current offset
	Position() time.Duration

	// Duration returns the decoded length, or 0 if unknown
	Duration() time.Duration

	// Close releases the source. The decoder is unusable afterwards.
	Close() error
}

// Titler is implemented by decoders that found a title in the source's
// metadata.
type Titler interface {
	Title() string
}

// Opener prepares decoders. Open may block (network, decoding); the engine
// always calls it off its own goroutine and cancels ctx when the load is
// superseded. onEnd is called once when playback runs off the end of the
// track (err == nil) or fails mid-stream.
type Opener interface {
	Open(ctx context.Context, url string, onEnd func(err error)) (Decoder, error)
}
