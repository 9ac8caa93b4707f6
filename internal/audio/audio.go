// Package audio opens news audio sources and plays them through the system
// speaker.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog"

	"github.com/jfmyers9/newsreel/internal/playback"
)

const (
	// SpeakerSampleRate is the rate the speaker is initialised at; sources
	// with other rates are resampled.
	SpeakerSampleRate = beep.SampleRate(44100)

	resampleQuality = 4
	maxSourceBytes  = 256 << 20
	defaultTimeout  = 30 * time.Second
)

var (
	// ErrUnsupportedFormat is returned for sources that are not mp3, wav,
	// flac or ogg vorbis.
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrAudioUnavailable is returned when this build cannot drive a speaker.
	ErrAudioUnavailable = errors.New("audio output not available in this build")
)

// Opener fetches and decodes audio sources. It implements playback.Opener.
type Opener struct {
	client *http.Client
	logger zerolog.Logger
}

// NewOpener creates an Opener. timeout bounds each HTTP fetch.
func NewOpener(timeout time.Duration, logger zerolog.Logger) *Opener {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Opener{
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "audio").Logger(),
	}
}

// Open fetches src into memory, decodes it and returns a paused decoder.
func (o *Opener) Open(ctx context.Context, src string, onEnd func(error)) (playback.Decoder, error) {
	data, ext, err := o.fetch(ctx, src)
	if err != nil {
		return nil, err
	}

	title := readTitle(data)

	streamer, format, err := decode(ext, data)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		streamer.Close()
		return nil, err
	}

	o.logger.Debug().
		Str("source", src).
		Str("format", ext).
		Int("sample_rate", int(format.SampleRate)).
		Dur("duration", format.SampleRate.D(streamer.Len())).
		Msg("Decoded source")

	dec, err := newDecoder(streamer, format, title, onEnd)
	if err != nil {
		streamer.Close()
		return nil, err
	}
	return dec, nil
}

// fetch reads src into memory. src is an http(s) URL, a file:// URL or a
// plain path. The returned extension selects the decoder.
func (o *Opener) fetch(ctx context.Context, src string) ([]byte, string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return nil, "", fmt.Errorf("parse source %q: %w", src, err)
	}

	switch u.Scheme {
	case "http", "https":
		return o.fetchHTTP(ctx, u)
	case "file":
		return readFile(u.Path)
	case "":
		return readFile(src)
	default:
		return nil, "", fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
}

func (o *Opener) fetchHTTP(ctx context.Context, u *url.URL) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch %s: HTTP %d", u.Redacted(), resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", u.Redacted(), err)
	}

	ext := strings.ToLower(path.Ext(u.Path))
	if formatFor(ext) == "" {
		ext = extForContentType(resp.Header.Get("Content-Type"))
	}
	return data, ext, nil
}

func readFile(p string) ([]byte, string, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", p, err)
	}
	return data, strings.ToLower(path.Ext(p)), nil
}

// formatFor maps a file extension to a decoder name, or "" if unsupported
func formatFor(ext string) string {
	switch ext {
	case ".mp3":
		return "mp3"
	case ".wav":
		return "wav"
	case ".flac":
		return "flac"
	case ".ogg", ".oga":
		return "vorbis"
	default:
		return ""
	}
}

func extForContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch mediaType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	case "audio/ogg", "audio/vorbis":
		return ".ogg"
	default:
		return ""
	}
}

// decode picks a beep decoder by extension
func decode(ext string, data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	rc := io.NopCloser(bytes.NewReader(data))

	switch formatFor(ext) {
	case "mp3":
		return mp3.Decode(rc)
	case "wav":
		return wav.Decode(rc)
	case "flac":
		return flac.Decode(rc)
	case "vorbis":
		return vorbis.Decode(rc)
	default:
		return nil, beep.Format{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// readTitle returns the title from the source's tags, or "" if it has none
func readTitle(data []byte) string {
	m, err := tag.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(m.Title())
}
