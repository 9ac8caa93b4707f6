// Package miniplayer drives the compact player bar: visibility, labels and
// drag-to-seek, independent of how the bar is drawn.
package miniplayer

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/newsreel/internal/notify"
	"github.com/jfmyers9/newsreel/internal/playback"
)

// Model is what the bar shows
type Model struct {
	Title    string
	Playing  bool
	Position time.Duration // The drag position while seeking
	Duration time.Duration
	Label    string // "MM:SS / MM:SS"
	Seeking  bool
	Err      error
}

// View draws the bar. Implementations must not block.
type View interface {
	Show(m Model)
	Hide()
}

// Engine is the part of the playback engine the controller drives
type Engine interface {
	TogglePlayPause()
	Stop()
	SeekTo(position time.Duration)
	SkipForward()
	SkipBackward()
	RequestResync()
	Subscribe(fn func(playback.Snapshot)) *playback.Subscription
	Unsubscribe(sub *playback.Subscription)
}

// Controller keeps a View in step with engine snapshots and turns bar
// gestures into engine commands
type Controller struct {
	engine Engine
	view   View
	logger zerolog.Logger

	mu       sync.Mutex
	sub      *playback.Subscription
	last     playback.Snapshot
	visible  bool
	dragging bool
	dragPos  time.Duration
}

// New creates a Controller. Call Attach when the bar comes on screen.
func New(engine Engine, view View, logger zerolog.Logger) *Controller {
	return &Controller{
		engine: engine,
		view:   view,
		logger: logger.With().Str("component", "miniplayer").Logger(),
	}
}

// Attach subscribes to the engine and asks for the current state, since
// anything published while detached was missed
func (c *Controller) Attach() {
	c.mu.Lock()
	if c.sub != nil {
		c.mu.Unlock()
		return
	}
	var sub *playback.Subscription
	sub = c.engine.Subscribe(func(s playback.Snapshot) { c.handleSnapshot(sub, s) })
	c.sub = sub
	c.mu.Unlock()

	c.engine.RequestResync()
}

// Detach stops following the engine. The view keeps whatever it shows.
func (c *Controller) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub == nil {
		return
	}
	c.engine.Unsubscribe(c.sub)
	c.sub = nil
	c.dragging = false
}

// Visible reports whether the bar is showing
func (c *Controller) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// Toggle plays or pauses
func (c *Controller) Toggle() {
	c.engine.TogglePlayPause()
}

// SkipForward jumps ahead
func (c *Controller) SkipForward() {
	c.engine.SkipForward()
}

// SkipBackward jumps back
func (c *Controller) SkipBackward() {
	c.engine.SkipBackward()
}

// Close stops playback and hides the bar straight away
func (c *Controller) Close() {
	c.mu.Lock()
	c.dragging = false
	c.hideLocked()
	c.mu.Unlock()

	c.engine.Stop()
}

// BeginSeek starts a drag gesture at the current position
func (c *Controller) BeginSeek() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.visible {
		return
	}
	c.dragging = true
	c.dragPos = c.last.Position
	c.showLocked()
}

// DragTo moves the drag position. Only the label changes; nothing is sent
// to the engine until EndSeek.
func (c *Controller) DragTo(position time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dragging {
		return
	}
	c.dragPos = c.clampLocked(position)
	c.showLocked()
}

// DragBy moves the drag position by delta
func (c *Controller) DragBy(delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dragging {
		return
	}
	c.dragPos = c.clampLocked(c.dragPos + delta)
	c.showLocked()
}

// EndSeek finishes the gesture with a single seek to the drag position
func (c *Controller) EndSeek() {
	c.mu.Lock()
	if !c.dragging {
		c.mu.Unlock()
		return
	}
	c.dragging = false
	target := c.dragPos
	c.last.Position = target
	c.showLocked()
	c.mu.Unlock()

	c.logger.Debug().Dur("position", target).Msg("Seek")
	c.engine.SeekTo(target)
}

// CancelSeek abandons the gesture without seeking
func (c *Controller) CancelSeek() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dragging {
		return
	}
	c.dragging = false
	if c.visible {
		c.showLocked()
	}
}

func (c *Controller) handleSnapshot(sub *playback.Subscription, s playback.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Delivery can race Detach; only the live subscription may update the view
	if c.sub == nil || c.sub != sub {
		return
	}

	c.last = s
	if !s.Loaded() {
		c.dragging = false
		c.hideLocked()
		return
	}
	c.showLocked()
}

// clampLocked keeps a drag inside the track. Must be called with c.mu held.
func (c *Controller) clampLocked(p time.Duration) time.Duration {
	if p < 0 {
		return 0
	}
	if c.last.Duration > 0 && p > c.last.Duration {
		return c.last.Duration
	}
	return p
}

// showLocked renders the current model. Must be called with c.mu held.
func (c *Controller) showLocked() {
	pos := c.last.Position
	if c.dragging {
		pos = c.dragPos
	}
	c.visible = true
	c.view.Show(Model{
		Title:    c.last.Title,
		Playing:  c.last.IsPlaying,
		Position: pos,
		Duration: c.last.Duration,
		Label:    notify.Progress(pos, c.last.Duration),
		Seeking:  c.dragging,
		Err:      c.last.Err,
	})
}

// hideLocked hides the bar if shown. Must be called with c.mu held.
func (c *Controller) hideLocked() {
	if !c.visible {
		return
	}
	c.visible = false
	c.view.Hide()
}
