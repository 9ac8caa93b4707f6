// Package discord mirrors the playing article into Discord Rich Presence.
package discord

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/newsreel/internal/notify"
)

// Activity type 2 is shown as "Listening to ..."
const activityListening = 2

// startSlack is how far the computed start time may drift before the
// activity is resent. Position advances in real time, so a steady start
// means nothing changed.
const startSlack = 2 * time.Second

type rpcClient interface {
	SetActivity(Activity) error
	Close() error
}

// Presence is a notify.Renderer that publishes a Listening activity while
// an article plays and clears it otherwise.
type Presence struct {
	appID   string
	logger  zerolog.Logger
	connect func(string) (rpcClient, error)
	now     func() time.Time

	mu     sync.Mutex
	client rpcClient
	last   lastActivity
}

type lastActivity struct {
	title   string
	start   time.Time
	hasEnd  bool
	playing bool
}

// New creates a Presence for the Discord application appID. No connection
// is made until something plays.
func New(appID string, logger zerolog.Logger) *Presence {
	return &Presence{
		appID:  appID,
		logger: logger.With().Str("component", "discord").Logger(),
		connect: func(appID string) (rpcClient, error) {
			return ipcConnect(appID)
		},
		now: time.Now,
	}
}

// Render sets the activity for n. Paused notifications clear it. If Discord
// isn't running the error is logged and the next render retries.
func (p *Presence) Render(n notify.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !n.Playing {
		if p.last.playing {
			p.clearActivity()
			p.last = lastActivity{}
		}
		return nil
	}

	start := p.now().Add(-n.Position)
	cur := lastActivity{
		title:   n.Title,
		start:   start,
		hasEnd:  n.Duration > 0,
		playing: true,
	}
	if p.same(cur) {
		return nil
	}

	if err := p.ensureConnected(); err != nil {
		p.logger.Warn().Err(err).Msg("Discord not available")
		return nil
	}

	startUnix := start.Unix()
	ts := &Timestamps{Start: &startUnix}
	if cur.hasEnd {
		endUnix := start.Add(n.Duration).Unix()
		ts.End = &endUnix
	}

	err := p.client.SetActivity(Activity{
		Type:       activityListening,
		Name:       "newsreel",
		Details:    n.Title,
		State:      "Listening to the news",
		Timestamps: ts,
		Assets: &Assets{
			LargeImage: "newsreel",
			LargeText:  "newsreel",
		},
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to set activity")
		p.close()
		return nil
	}
	p.last = cur
	return nil
}

// Dismiss clears the activity and drops the connection
func (p *Presence) Dismiss() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clearActivity()
	p.last = lastActivity{}
	p.close()
	return nil
}

func (p *Presence) same(cur lastActivity) bool {
	if !p.last.playing || cur.title != p.last.title || cur.hasEnd != p.last.hasEnd {
		return false
	}
	drift := cur.start.Sub(p.last.start)
	return drift < startSlack && drift > -startSlack
}

func (p *Presence) ensureConnected() error {
	if p.client != nil {
		return nil
	}
	client, err := p.connect(p.appID)
	if err != nil {
		return err
	}
	p.logger.Info().Msg("Connected to Discord")
	p.client = client
	return nil
}

func (p *Presence) clearActivity() {
	if p.client == nil {
		return
	}
	if err := p.client.SetActivity(Activity{}); err != nil {
		p.logger.Debug().Err(err).Msg("Failed to clear activity")
		p.close()
	}
}

func (p *Presence) close() {
	if p.client == nil {
		return
	}
	_ = p.client.Close()
	p.client = nil
}
