// Package notify keeps a transport-control notification in step with the
// playback engine.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/jfmyers9/newsreel/internal/playback"
)

// Action is a transport control offered on the notification
type Action int

const (
	ActionRewind Action = iota
	ActionToggle
	ActionForward
	ActionStop
)

// String returns the action's identifier
func (a Action) String() string {
	switch a {
	case ActionRewind:
		return "rewind"
	case ActionToggle:
		return "toggle"
	case ActionForward:
		return "forward"
	case ActionStop:
		return "stop"
	default:
		return "unknown"
	}
}

// ParseAction is the inverse of Action.String
func ParseAction(s string) (Action, error) {
	for _, a := range []Action{ActionRewind, ActionToggle, ActionForward, ActionStop} {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// Button is one inline control
type Button struct {
	Action Action
	Label  string
}

// Notification is everything a renderer needs to draw the notification
type Notification struct {
	Title    string
	Text     string // "MM:SS / MM:SS"
	Ongoing  bool   // Not dismissable while true
	Playing  bool
	Position time.Duration
	Duration time.Duration
	Buttons  []Button
}

// Renderer draws notifications on some surface
type Renderer interface {
	// Render replaces whatever is shown with n
	Render(n Notification) error

	// Dismiss removes the notification entirely
	Dismiss() error
}

// Engine is the part of the playback engine the presenter drives
type Engine interface {
	TogglePlayPause()
	Stop()
	SkipForward()
	SkipBackward()
	RequestResync()
	Subscribe(fn func(playback.Snapshot)) *playback.Subscription
	Unsubscribe(sub *playback.Subscription)
}

// Presenter renders the notification from engine snapshots and turns
// button presses back into engine commands.
type Presenter struct {
	engine   Engine
	renderer Renderer
	logger   zerolog.Logger

	mu    sync.Mutex
	sub   *playback.Subscription
	shown bool
}

// New creates a Presenter. Call Attach to start following the engine.
func New(engine Engine, renderer Renderer, logger zerolog.Logger) *Presenter {
	return &Presenter{
		engine:   engine,
		renderer: renderer,
		logger:   logger.With().Str("component", "notify").Logger(),
	}
}

// Attach subscribes to the engine and asks for the current state
func (p *Presenter) Attach() {
	p.mu.Lock()
	if p.sub != nil {
		p.mu.Unlock()
		return
	}
	var sub *playback.Subscription
	sub = p.engine.Subscribe(func(s playback.Snapshot) { p.handleSnapshot(sub, s) })
	p.sub = sub
	p.mu.Unlock()

	p.engine.RequestResync()
}

// Detach unsubscribes and removes the notification
func (p *Presenter) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sub == nil {
		return
	}
	p.engine.Unsubscribe(p.sub)
	p.sub = nil
	p.dismissLocked()
}

// HandleAction maps a notification button onto its engine command
func (p *Presenter) HandleAction(a Action) {
	p.logger.Debug().Str("action", a.String()).Msg("Notification action")

	switch a {
	case ActionRewind:
		p.engine.SkipBackward()
	case ActionToggle:
		p.engine.TogglePlayPause()
	case ActionForward:
		p.engine.SkipForward()
	case ActionStop:
		p.engine.Stop()
	default:
		p.logger.Warn().Int("action", int(a)).Msg("Unknown notification action")
	}
}

func (p *Presenter) handleSnapshot(sub *playback.Subscription, s playback.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Delivery can race Detach; only the live subscription may render
	if p.sub == nil || p.sub != sub {
		return
	}

	if !s.Loaded() {
		p.dismissLocked()
		return
	}

	if err := p.renderer.Render(Build(s)); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to render notification")
		return
	}
	p.shown = true
}

func (p *Presenter) dismissLocked() {
	if !p.shown {
		return
	}
	if err := p.renderer.Dismiss(); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to dismiss notification")
	}
	p.shown = false
}

// Build turns a snapshot into a notification
func Build(s playback.Snapshot) Notification {
	return Notification{
		Title:    s.Title,
		Text:     Progress(s.Position, s.Duration),
		Ongoing:  s.IsPlaying,
		Playing:  s.IsPlaying,
		Position: s.Position,
		Duration: s.Duration,
		Buttons: []Button{
			{Action: ActionRewind, Label: "-10s"},
			{Action: ActionToggle, Label: lo.Ternary(s.IsPlaying, "Pause", "Play")},
			{Action: ActionForward, Label: "+10s"},
			{Action: ActionStop, Label: "Stop"},
		},
	}
}

// Progress formats "position / duration"
func Progress(position, duration time.Duration) string {
	return FormatTime(position) + " / " + FormatTime(duration)
}

// FormatTime formats d as MM:SS. Minutes are not wrapped into hours.
// Zero or negative durations show as 00:00.
func FormatTime(d time.Duration) string {
	if d <= 0 {
		return "00:00"
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
