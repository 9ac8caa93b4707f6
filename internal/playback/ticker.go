package playback

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultEmitInterval is how often a playing track's position is published.
const DefaultEmitInterval = time.Second

// progressTicker posts a tick for one decoder generation at a fixed interval
// until its context is cancelled. The engine drops ticks whose generation is
// no longer live, so a ticker that outlives its decoder does nothing.
type progressTicker struct {
	interval time.Duration
	logger   zerolog.Logger
}

func newProgressTicker(interval time.Duration, logger zerolog.Logger) *progressTicker {
	if interval <= 0 {
		interval = DefaultEmitInterval
	}
	return &progressTicker{
		interval: interval,
		logger:   logger.With().Str("component", "ticker").Logger(),
	}
}

// Run sends ticks for gen to events. Blocks until ctx is cancelled.
func (t *progressTicker) Run(ctx context.Context, gen uint64, events chan<- event) {
	t.logger.Debug().
		Uint64("generation", gen).
		Dur("interval", t.interval).
		Msg("Starting progress ticker")

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Debug().Uint64("generation", gen).Msg("Progress ticker stopped")
			return
		case <-ticker.C:
			select {
			case events <- tickEvent{gen: gen}:
			case <-ctx.Done():
				return
			}
		}
	}
}
