// Package articles resolves news articles to playable audio through the
// news REST API.
package articles

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/newsreel/internal/playback"
)

// Config holds client configuration.
type Config struct {
	BaseURL      string        // Required: API root, e.g. http://localhost:8000
	AudioBaseURL string        // Optional: fallback location for <id>.mp3
	Token        string        // Optional: Bearer token
	Timeout      time.Duration // Optional: per-request timeout (default 30s)
	HTTPClient   *http.Client  // Optional: overrides Timeout
}

// Audio is an article resolved to something the engine can play.
type Audio struct {
	ArticleID string
	URL       string
	Title     string
	Duration  time.Duration // 0 when the API does not know
}

// article is the subset of the article resource we read.
type article struct {
	ID                 json.RawMessage `json:"id"`
	Title              string          `json:"title"`
	TTSAudioURL        string          `json:"tts_audio_url"`
	TTSDurationSeconds float64         `json:"tts_duration_seconds"`
}

// envelope accepts both a bare article and one wrapped in {"data": ...}.
type envelope struct {
	article
	Data *article `json:"data"`
}

// Client talks to the articles API.
type Client struct {
	baseURL      string
	audioBaseURL string
	token        string
	httpClient   *http.Client
	backoff      time.Duration
	logger       zerolog.Logger
}

const (
	apiVersion     = "/api/v1"
	defaultTimeout = 30 * time.Second
	userAgent      = "newsreel/1.0"
)

// NewClient creates a Client.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrInvalidConfig)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: base URL: %v", ErrInvalidConfig, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		audioBaseURL: strings.TrimRight(cfg.AudioBaseURL, "/"),
		token:        cfg.Token,
		httpClient:   httpClient,
		backoff:      initialBackoff,
		logger:       logger.With().Str("component", "articles").Logger(),
	}, nil
}

// Resolve fetches article id and works out where its audio lives.
func (c *Client) Resolve(ctx context.Context, id string) (Audio, error) {
	if id == "" {
		return Audio{}, fmt.Errorf("articles: empty article id")
	}

	body, err := c.get(ctx, apiVersion+"/articles/"+url.PathEscape(id))
	if err != nil {
		return Audio{}, fmt.Errorf("fetch article %s: %w", id, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Audio{}, fmt.Errorf("parse article %s: %w", id, err)
	}
	a := env.article
	if env.Data != nil {
		a = *env.Data
	}

	audio := Audio{
		ArticleID: id,
		URL:       a.TTSAudioURL,
		Title:     strings.TrimSpace(a.Title),
		Duration:  time.Duration(a.TTSDurationSeconds * float64(time.Second)),
	}
	if audio.URL == "" {
		audio.URL = c.FallbackURL(id)
	}
	if audio.URL == "" {
		return Audio{}, fmt.Errorf("%w: %s", ErrNoAudio, id)
	}
	if audio.Title == "" {
		audio.Title = playback.DefaultTitle
	}

	c.logger.Debug().
		Str("article", id).
		Str("url", audio.URL).
		Dur("duration", audio.Duration).
		Msg("Resolved article audio")

	return audio, nil
}

// FallbackURL is where article audio lives when the API does not say, or
// "" when no audio base URL is configured.
func (c *Client) FallbackURL(id string) string {
	if c.audioBaseURL == "" {
		return ""
	}
	return c.audioBaseURL + "/" + url.PathEscape(id) + ".mp3"
}
