package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jfmyers9/newsreel/internal/history"
	"github.com/jfmyers9/newsreel/internal/playback"
)

// resumeCmd represents the resume command
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue the last unfinished article",
	Long: `Play the most recently played article that was not listened to the end,
starting where it was left.

If a player is already running, the article is handed to it.`,
	Args: cobra.NoArgs,
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)

	resumeCmd.Flags().BoolVar(&listenNoTUI, "no-tui", false, "Run without the terminal UI")
	resumeCmd.Flags().StringVar(&listenLogFile, "log-file", "", "Log file path (default: stderr, or <data-dir>/newsreel.log with the TUI)")
	resumeCmd.Flags().StringVar(&listenLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	play, err := lastUnfinished(cfg.HistoryPath())
	if err != nil {
		return err
	}

	if playerRunning(cfg) {
		return handOff(cfg, play)
	}
	return runPlayer(cfg, listenLogger(cfg), play, !listenNoTUI)
}

// lastUnfinished builds a Play command for the last incomplete listen
func lastUnfinished(dbPath string) (playback.Command, error) {
	store, err := history.NewStore(dbPath)
	if err != nil {
		return playback.Command{}, fmt.Errorf("failed to open history: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	l, err := store.LastIncomplete(ctx)
	if errors.Is(err, history.ErrNotFound) {
		return playback.Command{}, fmt.Errorf("nothing to resume")
	}
	if err != nil {
		return playback.Command{}, fmt.Errorf("failed to read history: %w", err)
	}

	return playback.PlayFrom(l.TrackURL, l.Title, l.Duration, l.Position), nil
}
