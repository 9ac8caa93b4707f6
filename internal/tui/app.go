// Package tui draws the mini player bar and the playback notification in
// the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"github.com/rivo/tview"

	"github.com/jfmyers9/newsreel/internal/miniplayer"
	"github.com/jfmyers9/newsreel/internal/notify"
)

// Config holds TUI configuration options
type Config struct {
	RefreshRate time.Duration // How often to refresh the display
	SeekStep    time.Duration // How far one drag key moves the seek position
}

// DefaultConfig returns the default TUI configuration
func DefaultConfig() Config {
	return Config{
		RefreshRate: 250 * time.Millisecond,
		SeekStep:    5 * time.Second,
	}
}

// Controls is what the keyboard drives on the mini player
type Controls interface {
	Toggle()
	SkipForward()
	SkipBackward()
	Close()
	BeginSeek()
	DragBy(delta time.Duration)
	EndSeek()
	CancelSeek()
}

// App is the terminal front end. It is a miniplayer.View and a
// notify.Renderer; both only store state, and a ticker redraws.
type App struct {
	app      *tview.Application
	bar      *tview.TextView
	progress *tview.TextView
	notice   *tview.TextView
	status   *tview.TextView

	config   Config
	controls Controls
	onAction func(notify.Action)

	// Guarded by mu. Show/Hide and Render/Dismiss arrive on subscriber
	// goroutines; the ticker reads.
	mu         sync.Mutex
	model      miniplayer.Model
	barVisible bool
	note       notify.Notification
	noteShown  bool

	// Last-rendered content for change detection
	lastBar      string
	lastProgress string
	lastNotice   string

	// Cached progress bar width; updated only when GetInnerRect is positive
	lastBarWidth int

	cancelFunc context.CancelFunc
}

// New creates a TUI application
func New(cfg Config) *App {
	if cfg.RefreshRate <= 0 {
		cfg.RefreshRate = DefaultConfig().RefreshRate
	}
	if cfg.SeekStep <= 0 {
		cfg.SeekStep = DefaultConfig().SeekStep
	}
	a := &App{
		app:    tview.NewApplication(),
		config: cfg,
	}
	a.setupUI()
	return a
}

// SetControls sets the mini player the keyboard drives
func (a *App) SetControls(c Controls) {
	a.controls = c
}

// SetActionHandler sets where notification button presses go
func (a *App) SetActionHandler(fn func(notify.Action)) {
	a.onAction = fn
}

func (a *App) setupUI() {
	a.notice = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.notice.SetBorder(true).
		SetTitle(" Notification ").
		SetTitleAlign(tview.AlignLeft)

	a.bar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.bar.SetBorder(true).
		SetTitle(" Now Playing ").
		SetTitleAlign(tview.AlignLeft)

	a.progress = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)

	a.status = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[gray]q:quit  space:play/pause  r/f:-/+10s  ,/.:seek  enter:commit  esc:cancel  x:close  1-4:notification[-]")

	player := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.bar, 3, 1, false).
		AddItem(a.progress, 1, 1, false)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.notice, 0, 1, false).
		AddItem(player, 4, 1, false).
		AddItem(a.status, 1, 1, false)

	a.app.SetInputCapture(a.handleKeyEvent)
	a.app.SetRoot(flex, true)
}

// Show implements miniplayer.View
func (a *App) Show(m miniplayer.Model) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = m
	a.barVisible = true
}

// Hide implements miniplayer.View
func (a *App) Hide() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.barVisible = false
	a.model = miniplayer.Model{}
}

// Render implements notify.Renderer
func (a *App) Render(n notify.Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.note = n
	a.noteShown = true
	return nil
}

// Dismiss implements notify.Renderer
func (a *App) Dismiss() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.note = notify.Notification{}
	a.noteShown = false
	return nil
}

// handleKeyEvent processes keyboard input
func (a *App) handleKeyEvent(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyEnter:
		if a.controls != nil {
			a.controls.EndSeek()
		}
		return nil
	case tcell.KeyEscape:
		if a.controls != nil {
			a.controls.CancelSeek()
		}
		return nil
	}

	switch r := event.Rune(); r {
	case 'q', 'Q':
		a.Stop()
		return nil
	case ' ':
		if a.controls != nil {
			a.controls.Toggle()
		}
		return nil
	case 'f', 'F':
		if a.controls != nil {
			a.controls.SkipForward()
		}
		return nil
	case 'r', 'R':
		if a.controls != nil {
			a.controls.SkipBackward()
		}
		return nil
	case 'x', 'X':
		if a.controls != nil {
			a.controls.Close()
		}
		return nil
	case ',', '.':
		a.drag(r == '.')
		return nil
	case '1', '2', '3', '4':
		a.pressButton(int(r - '1'))
		return nil
	}
	return event
}

// drag starts a seek gesture if needed and moves it one step
func (a *App) drag(forward bool) {
	if a.controls == nil {
		return
	}

	a.mu.Lock()
	seeking := a.model.Seeking
	a.mu.Unlock()

	if !seeking {
		a.controls.BeginSeek()
	}
	step := a.config.SeekStep
	if !forward {
		step = -step
	}
	a.controls.DragBy(step)
}

// pressButton triggers the i-th notification button
func (a *App) pressButton(i int) {
	a.mu.Lock()
	var action notify.Action
	ok := a.noteShown && i >= 0 && i < len(a.note.Buttons)
	if ok {
		action = a.note.Buttons[i].Action
	}
	a.mu.Unlock()

	if ok && a.onAction != nil {
		a.onAction(action)
	}
}

// Run starts the TUI and redraws until ctx is cancelled or the user quits
func (a *App) Run(ctx context.Context) error {
	ctx, a.cancelFunc = context.WithCancel(ctx)
	go a.refreshLoop(ctx)

	if err := a.app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// refreshLoop is the only source of redraws
func (a *App) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(a.config.RefreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.app.Stop()
			return
		case <-ticker.C:
			a.app.QueueUpdateDraw(a.draw)
		}
	}
}

// Stop stops the TUI application
func (a *App) Stop() {
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	a.app.Stop()
}

// draw updates every panel from the stored state. Runs on the UI goroutine.
func (a *App) draw() {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, _, width, _ := a.bar.GetInnerRect()
	barText := renderBar(a.model, a.barVisible, width)
	if barText != a.lastBar {
		a.lastBar = barText
		a.bar.SetText(barText)
	}

	var progText string
	if a.barVisible {
		_, _, pw, _ := a.progress.GetInnerRect()
		barWidth := pw - 16 // Account for the time label
		if barWidth > 0 {
			a.lastBarWidth = barWidth
		}
		if a.lastBarWidth < 10 {
			a.lastBarWidth = 10
		}
		progText = buildProgressBar(a.model.Position, a.model.Duration, a.lastBarWidth) + " " + a.model.Label
	}
	if progText != a.lastProgress {
		a.lastProgress = progText
		a.progress.SetText(progText)
	}

	noticeText := renderNotification(a.note, a.noteShown)
	if noticeText != a.lastNotice {
		a.lastNotice = noticeText
		a.notice.SetText(noticeText)
	}
}

// renderBar formats the mini player line. width <= 0 disables truncation.
func renderBar(m miniplayer.Model, visible bool, width int) string {
	if !visible {
		return "[gray]Nothing playing[-]"
	}

	icon := "[yellow]⏸[-]" // Pause icon
	if m.Playing {
		icon = "[green]▶[-]" // Play triangle
	}

	title := m.Title
	if width > 4 {
		title = runewidth.Truncate(title, width-4, "…")
	}
	line := fmt.Sprintf("%s [white::b]%s[-:-:-]", icon, tview.Escape(title))

	switch {
	case m.Seeking:
		line += "\n[yellow]seek " + m.Label + "[-]"
	case m.Err != nil:
		line += "\n[red]" + tview.Escape(m.Err.Error()) + "[-]"
	}
	return line
}

// renderNotification formats the notification panel
func renderNotification(n notify.Notification, shown bool) string {
	if !shown {
		return "\n[gray]No notification[-]"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[white::b]%s[-:-:-]\n", tview.Escape(n.Title)))
	sb.WriteString(fmt.Sprintf("[gray]%s[-]", n.Text))
	if n.Ongoing {
		sb.WriteString("  [green]ongoing[-]")
	}
	sb.WriteString("\n\n")

	for i, b := range n.Buttons {
		if i > 0 {
			sb.WriteString("  ")
		}
		sb.WriteString(fmt.Sprintf("[yellow]%d[-] %s", i+1, tview.Escape(b.Label)))
	}
	return sb.String()
}

// buildProgressBar creates a text-based progress bar
func buildProgressBar(position, duration time.Duration, width int) string {
	if duration == 0 || width <= 0 {
		return strings.Repeat("-", max(width, 0))
	}

	progress := float64(position) / float64(duration)
	if progress > 1 {
		progress = 1
	}
	if progress < 0 {
		progress = 0
	}

	filled := int(progress * float64(width))
	empty := width - filled

	return "[green]" + strings.Repeat("█", filled) + "[-]" +
		"[gray]" + strings.Repeat("░", empty) + "[-]"
}
