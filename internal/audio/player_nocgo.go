//go:build !windows && !darwin && !(linux && cgo)

package audio

import (
	"github.com/gopxl/beep/v2"

	"github.com/jfmyers9/newsreel/internal/playback"
)

// AudioAvailable indicates whether audio playback is supported in this build.
// Audio requires CGO for native sound libraries on this platform.
const AudioAvailable = false

// newDecoder always fails when there is no speaker to play through; the
// engine reports it as an unavailable source.
func newDecoder(streamer beep.StreamSeekCloser, format beep.Format, title string, onEnd func(error)) (playback.Decoder, error) {
	return nil, ErrAudioUnavailable
}
