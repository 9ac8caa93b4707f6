package notify

import (
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"
)

// DesktopRenderer posts an OS notification through beeep. Desktop
// notifications have no inline buttons or in-place updates, so it only
// posts when the title or play state changes; the position text is
// whatever it was at that moment.
type DesktopRenderer struct {
	notify func(title, message string) error
	logger zerolog.Logger
	last   lastPosted
}

type lastPosted struct {
	title   string
	playing bool
	posted  bool
}

// NewDesktopRenderer creates a DesktopRenderer
func NewDesktopRenderer(logger zerolog.Logger) *DesktopRenderer {
	return &DesktopRenderer{
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		logger: logger.With().Str("component", "desktop").Logger(),
	}
}

// Render posts n when it differs from the last post in title or play state
func (r *DesktopRenderer) Render(n Notification) error {
	cur := lastPosted{title: n.Title, playing: n.Playing, posted: true}
	if cur == r.last {
		return nil
	}

	state := "Paused"
	if n.Playing {
		state = "Playing"
	}
	if err := r.notify(n.Title, state+"  "+n.Text); err != nil {
		return err
	}
	r.last = cur
	r.logger.Debug().Str("title", n.Title).Bool("playing", n.Playing).Msg("Posted desktop notification")
	return nil
}

// Dismiss forgets the last post; the OS expires the notification itself
func (r *DesktopRenderer) Dismiss() error {
	r.last = lastPosted{}
	return nil
}

// MultiRenderer renders to several renderers, returning the first error
type MultiRenderer []Renderer

func (m MultiRenderer) Render(n Notification) error {
	var first error
	for _, r := range m {
		if err := r.Render(n); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiRenderer) Dismiss() error {
	var first error
	for _, r := range m {
		if err := r.Dismiss(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Switch wraps a renderer that can be turned off at runtime, e.g. from a
// config change
type Switch struct {
	mu       sync.Mutex
	renderer Renderer
	enabled  bool
}

// NewSwitch wraps r, initially enabled or not
func NewSwitch(r Renderer, enabled bool) *Switch {
	return &Switch{renderer: r, enabled: enabled}
}

// SetEnabled turns rendering on or off. Turning it off dismisses.
func (s *Switch) SetEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enabled == enabled {
		return nil
	}
	s.enabled = enabled
	if !enabled {
		return s.renderer.Dismiss()
	}
	return nil
}

func (s *Switch) Render(n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return nil
	}
	return s.renderer.Render(n)
}

func (s *Switch) Dismiss() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return nil
	}
	return s.renderer.Dismiss()
}
