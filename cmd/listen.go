package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jfmyers9/newsreel/internal/articles"
	"github.com/jfmyers9/newsreel/internal/audio"
	"github.com/jfmyers9/newsreel/internal/config"
	"github.com/jfmyers9/newsreel/internal/control"
	"github.com/jfmyers9/newsreel/internal/discord"
	"github.com/jfmyers9/newsreel/internal/history"
	"github.com/jfmyers9/newsreel/internal/miniplayer"
	"github.com/jfmyers9/newsreel/internal/notify"
	"github.com/jfmyers9/newsreel/internal/playback"
	"github.com/jfmyers9/newsreel/internal/remote"
	"github.com/jfmyers9/newsreel/internal/tui"
)

var (
	listenTitle    string
	listenDuration time.Duration
	listenStart    time.Duration
	listenNoTUI    bool
	listenLogFile  string
	listenLogLevel string
)

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen <article-id|url|file>",
	Short: "Play an article's audio",
	Long: `Play the audio of a news article, or any mp3/wav/flac/ogg URL or file.

An article id is resolved through the news API (api.base_url). When the
article has no audio URL, <api.audio_base_url>/<id>.mp3 is used instead.

The player shows a mini player bar and the playback notification in the
terminal. Use --no-tui to run headless; the player then exits once
playback is stopped.

If a player is already running, the article is handed to it instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().StringVar(&listenTitle, "title", "", "Title to display (default: from the article or the audio tags)")
	listenCmd.Flags().DurationVar(&listenDuration, "duration", 0, "Known audio length, e.g. 3m20s (default: from the article or the decoder)")
	listenCmd.Flags().DurationVar(&listenStart, "start", 0, "Start offset, e.g. 1m30s")
	listenCmd.Flags().BoolVar(&listenNoTUI, "no-tui", false, "Run without the terminal UI")
	listenCmd.Flags().StringVar(&listenLogFile, "log-file", "", "Log file path (default: stderr, or <data-dir>/newsreel.log with the TUI)")
	listenCmd.Flags().StringVar(&listenLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := listenLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.API.Timeout+commandTimeout)
	play, err := resolveTarget(ctx, cfg, args[0], logger)
	cancel()
	if err != nil {
		return err
	}

	if playerRunning(cfg) {
		return handOff(cfg, play)
	}
	return runPlayer(cfg, logger, play, !listenNoTUI)
}

// listenLogger keeps the log off the terminal while the TUI owns it
func listenLogger(cfg *config.Config) zerolog.Logger {
	logFile := listenLogFile
	if logFile == "" && !listenNoTUI {
		logFile = cfg.LogPath()
	}
	return setupLogger(logFile, listenLogLevel)
}

// resolveTarget turns the listen argument into a Play command
func resolveTarget(ctx context.Context, cfg *config.Config, target string, logger zerolog.Logger) (playback.Command, error) {
	if isDirectSource(target) {
		return playback.PlayFrom(target, listenTitle, listenDuration, listenStart), nil
	}

	client, err := articles.NewClient(articles.Config{
		BaseURL:      cfg.API.BaseURL,
		AudioBaseURL: cfg.API.AudioBaseURL,
		Token:        cfg.API.Token,
		Timeout:      cfg.API.Timeout,
	}, logger)
	if err != nil {
		return playback.Command{}, fmt.Errorf("failed to create articles client: %w", err)
	}

	a, err := client.Resolve(ctx, target)
	if err != nil {
		return playback.Command{}, fmt.Errorf("failed to resolve article %s: %w", target, err)
	}

	title := listenTitle
	if title == "" {
		title = a.Title
	}
	duration := listenDuration
	if duration == 0 {
		duration = a.Duration
	}
	return playback.PlayFrom(a.URL, title, duration, listenStart), nil
}

// isDirectSource reports whether target is a URL or a local file rather
// than an article id
func isDirectSource(target string) bool {
	if strings.Contains(target, "://") {
		return true
	}
	_, err := os.Stat(target)
	return err == nil
}

// handOff sends play to the player that already owns the socket
func handOff(cfg *config.Config, play playback.Command) error {
	st, err := sendRequest(cfg, playRequest(play))
	if err != nil {
		return fmt.Errorf("failed to hand off to running player: %w", err)
	}
	fmt.Printf("Playing in running player: %s\n", st.Title)
	return nil
}

// playRequest is the wire form of a Play command
func playRequest(play playback.Command) control.Request {
	return control.Request{
		Op:         control.OpPlay,
		URL:        play.URL,
		Title:      play.Title,
		DurationMs: play.DurationHint.Milliseconds(),
		PositionMs: play.Position.Milliseconds(),
	}
}

// runPlayer runs the engine and everything that follows it until the user
// quits, a signal arrives, or (headless) playback ends
func runPlayer(cfg *config.Config, logger zerolog.Logger, play playback.Command, withTUI bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info().
		Str("version", version).
		Str("data_dir", cfg.DataDir).
		Bool("audio", audio.AudioAvailable).
		Msg("Starting newsreel player")

	store, err := history.NewStore(cfg.HistoryPath())
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer func() { _ = store.Close() }()

	bcast := playback.NewBroadcaster(cfg.Playback.EmitThreshold, logger)
	defer bcast.Close()

	engine := playback.NewEngine(playback.Config{
		SkipInterval:  cfg.Playback.SkipInterval,
		EmitInterval:  cfg.Playback.EmitInterval,
		EmitThreshold: cfg.Playback.EmitThreshold,
	}, audio.NewOpener(cfg.API.Timeout, logger), bcast, logger)

	var wg sync.WaitGroup
	engineDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(engineDone)
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Playback engine failed")
		}
	}()

	// History
	recorder := history.NewRecorder(store, cfg.History.PersistInterval, logger)
	recSub := engine.Subscribe(recorder.Handle)
	defer recorder.Flush()
	defer engine.Unsubscribe(recSub)

	// Notification surfaces
	desktop := notify.NewSwitch(notify.NewDesktopRenderer(logger), cfg.Notifications.Desktop)
	renderers := notify.MultiRenderer{desktop}

	var presence *notify.Switch
	if cfg.Discord.AppID != "" {
		presence = notify.NewSwitch(discord.New(cfg.Discord.AppID, logger), cfg.Notifications.Discord)
		renderers = append(renderers, presence)
	}

	var ui *tui.App
	if withTUI {
		ui = tui.New(tui.DefaultConfig())
		renderers = append(renderers, ui)
	}

	presenter := notify.New(engine, renderers, logger)
	presenter.Attach()
	defer presenter.Detach()

	if ui != nil {
		bar := miniplayer.New(engine, ui, logger)
		ui.SetControls(bar)
		ui.SetActionHandler(presenter.HandleAction)
		bar.Attach()
		defer bar.Detach()
	}

	// Control socket
	wg.Add(1)
	go func() {
		defer wg.Done()
		srv := control.NewServer(engine, logger)
		if err := srv.ListenAndServe(ctx, control.SocketPath(cfg.DataDir)); err != nil {
			logger.Error().Err(err).Msg("Control socket failed")
		}
	}()

	// Remote mini player
	if cfg.Remote.Addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv := remote.NewServer(engine, logger)
			if err := srv.ListenAndServe(ctx, cfg.Remote.Addr); err != nil {
				logger.Error().Err(err).Msg("Remote server failed")
			}
		}()
	}

	// Live config changes
	err = config.Watch(ctx, logger, func(c *config.Config) {
		if err := desktop.SetEnabled(c.Notifications.Desktop); err != nil {
			logger.Warn().Err(err).Msg("Failed to toggle desktop notifications")
		}
		if presence != nil {
			if err := presence.SetEnabled(c.Notifications.Discord); err != nil {
				logger.Warn().Err(err).Msg("Failed to toggle Discord presence")
			}
		}
	})
	if err != nil && !errors.Is(err, config.ErrNoConfigFile) {
		logger.Warn().Err(err).Msg("Not watching config")
	}

	var watcher *endWatcher
	if ui == nil {
		watcher = &endWatcher{cancel: cancel}
		sub := engine.Subscribe(watcher.handle)
		defer engine.Unsubscribe(sub)
	}

	engine.Submit(play)

	var runErr error
	if ui != nil {
		runErr = ui.Run(ctx)
	} else {
		select {
		case <-ctx.Done():
		case <-engineDone:
		}
		runErr = watcher.error()
	}

	logger.Info().Msg("Shutting down")
	cancel()
	wg.Wait()

	logger.Info().Msg("Player stopped")
	return runErr
}

// endWatcher ends a headless player once a loaded track goes away, either
// through Stop or a failed load
type endWatcher struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	loaded bool
	err    error
}

func (w *endWatcher) handle(s playback.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if s.Phase == playback.PhaseLoading || s.Loaded() {
		w.loaded = true
		return
	}
	if !w.loaded {
		return
	}
	w.err = s.Err
	w.cancel()
}

func (w *endWatcher) error() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return fmt.Errorf("playback failed: %w", w.err)
	}
	return nil
}
