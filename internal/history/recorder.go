package history

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/newsreel/internal/playback"
)

// DefaultPersistInterval is how often progress is written while playing
const DefaultPersistInterval = 10 * time.Second

const writeTimeout = 5 * time.Second

// Recorder turns playback snapshots into listens. Progress is kept in
// memory and written on transitions, or at most once per persist interval
// while playing.
type Recorder struct {
	store           *Store
	persistInterval time.Duration
	logger          zerolog.Logger
	now             func() time.Time

	mu          sync.Mutex
	current     listenState
	dirty       bool
	lastPersist time.Time
}

// listenState is the in-memory copy of the listen being recorded
type listenState struct {
	id        int64
	url       string
	playing   bool
	position  time.Duration
	duration  time.Duration
	completed bool
}

// NewRecorder creates a Recorder. interval <= 0 uses DefaultPersistInterval.
func NewRecorder(store *Store, interval time.Duration, logger zerolog.Logger) *Recorder {
	if interval <= 0 {
		interval = DefaultPersistInterval
	}
	return &Recorder{
		store:           store,
		persistInterval: interval,
		logger:          logger.With().Str("component", "history").Logger(),
		now:             time.Now,
	}
}

// Handle records one snapshot. It is meant to be a playback subscriber.
func (r *Recorder) Handle(s playback.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Nothing loaded, or a different track loading: finish the current listen
	if s.TrackURL == "" || (s.TrackURL != r.current.url && !s.IsPlaying) {
		r.finishLocked()
		return
	}

	if s.TrackURL != r.current.url {
		r.finishLocked()
		r.startLocked(s)
		return
	}

	if r.current.id == 0 {
		return
	}

	transition := s.IsPlaying != r.current.playing
	r.current.playing = s.IsPlaying
	r.current.position = s.Position
	if s.Duration > 0 {
		r.current.duration = s.Duration
	}
	if r.current.duration > 0 && s.Position >= r.current.duration {
		r.current.completed = true
	}
	r.dirty = true

	if transition || r.current.completed || r.now().Sub(r.lastPersist) >= r.persistInterval {
		r.persistLocked()
	}
}

// Flush writes any unsaved progress
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dirty {
		r.persistLocked()
	}
}

// startLocked begins a listen for a track that just started playing.
// Must be called with r.mu held.
func (r *Recorder) startLocked(s playback.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	now := r.now()
	id, err := r.store.Start(ctx, Listen{
		TrackURL:  s.TrackURL,
		Title:     s.Title,
		Position:  s.Position,
		Duration:  s.Duration,
		StartedAt: now,
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("url", s.TrackURL).Msg("Failed to record listen")
		r.current = listenState{url: s.TrackURL}
		return
	}

	r.current = listenState{
		id:       id,
		url:      s.TrackURL,
		playing:  s.IsPlaying,
		position: s.Position,
		duration: s.Duration,
	}
	r.dirty = false
	r.lastPersist = now

	r.logger.Debug().Int64("listen", id).Str("url", s.TrackURL).Msg("Recording listen")
}

// finishLocked saves and forgets the current listen.
// Must be called with r.mu held.
func (r *Recorder) finishLocked() {
	if r.current.id != 0 && r.dirty {
		r.persistLocked()
	}
	r.current = listenState{}
	r.dirty = false
}

// persistLocked writes the current progress. Must be called with r.mu held.
func (r *Recorder) persistLocked() {
	if r.current.id == 0 {
		r.dirty = false
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	now := r.now()
	err := r.store.Update(ctx, r.current.id, r.current.position, r.current.duration, r.current.completed, now)
	if err != nil {
		// Stay dirty so the next snapshot or Flush retries
		r.logger.Warn().Err(err).Int64("listen", r.current.id).Msg("Failed to save listen progress")
		return
	}
	r.dirty = false
	r.lastPersist = now
}
