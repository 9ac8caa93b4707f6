package playback

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable means a source could not be opened or prepared.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrInvalidCommandForState marks commands that do nothing in the
	// current state, e.g. a seek with nothing loaded. Never returned to
	// callers; only logged.
	ErrInvalidCommandForState = errors.New("invalid command for state")

	// ErrTeardown wraps failures releasing a decoder.
	ErrTeardown = errors.New("decoder teardown failed")

	// ErrObserverDelivery wraps a subscriber callback that panicked.
	ErrObserverDelivery = errors.New("observer delivery failed")
)

// SourceError describes a load that failed before playback started.
type SourceError struct {
	URL string
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrSourceUnavailable, e.URL, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrSourceUnavailable) match any SourceError
func (e *SourceError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

// DecodeError describes a failure while a loaded track was playing.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
