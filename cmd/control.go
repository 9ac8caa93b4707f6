package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jfmyers9/newsreel/internal/control"
	"github.com/jfmyers9/newsreel/internal/notify"
)

// toggleCmd represents the toggle command
var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Toggle play/pause in the running player",
	Long:  `Toggle between play and pause. If playing, pauses. If paused, resumes; a track that ended starts again from the beginning.`,
	Args:  cobra.NoArgs,
	RunE:  runOp(control.OpToggle),
}

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop playback and close the mini player",
	Long:  `Stop playback, release the audio device and clear the current track. A headless player exits.`,
	Args:  cobra.NoArgs,
	RunE:  runOp(control.OpStop),
}

// forwardCmd represents the forward command
var forwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Skip forward",
	Long:  `Skip forward by playback.skip_interval (default 10s), stopping at the end of the track.`,
	Args:  cobra.NoArgs,
	RunE:  runOp(control.OpForward),
}

// backCmd represents the back command
var backCmd = &cobra.Command{
	Use:   "back",
	Short: "Skip backward",
	Long:  `Skip backward by playback.skip_interval (default 10s), stopping at the start of the track.`,
	Args:  cobra.NoArgs,
	RunE:  runOp(control.OpBack),
}

// resyncCmd represents the resync command
var resyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Re-publish the current state to every observer",
	Long:  `Ask the player to send its current state to the mini player, the notification and any remote players without changing it.`,
	Args:  cobra.NoArgs,
	RunE:  runOp(control.OpResync),
}

// seekCmd represents the seek command
var seekCmd = &cobra.Command{
	Use:   "seek <mm:ss|ms>",
	Short: "Seek to a position",
	Long: `Seek to a position in the current track.

The position is either MM:SS (or HH:MM:SS) or a number of milliseconds.
Positions past the end of the track are clamped to the end.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeek,
}

func init() {
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(forwardCmd)
	rootCmd.AddCommand(backCmd)
	rootCmd.AddCommand(resyncCmd)
	rootCmd.AddCommand(seekCmd)
}

// runOp returns a RunE that sends op to the running player
func runOp(op string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if _, err := sendRequest(cfg, control.Request{Op: op}); err != nil {
			return fmt.Errorf("failed to %s: %w", op, err)
		}
		return nil
	}
}

func runSeek(cmd *cobra.Command, args []string) error {
	position, err := parsePosition(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := sendRequest(cfg, control.Request{Op: control.OpSeek, PositionMs: position.Milliseconds()})
	if err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	fmt.Println(notify.Progress(st.Position(), st.Duration()))
	return nil
}

// parsePosition reads MM:SS, HH:MM:SS or plain milliseconds
func parsePosition(s string) (time.Duration, error) {
	if !strings.Contains(s, ":") {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil || ms < 0 {
			return 0, fmt.Errorf("invalid position: %s (must be MM:SS or milliseconds)", s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid position: %s (must be MM:SS or HH:MM:SS)", s)
	}

	var total time.Duration
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid position: %s", s)
		}
		// Every field after the first is base 60
		if i > 0 && n >= 60 {
			return 0, fmt.Errorf("invalid position: %s (%d is not below 60)", s, n)
		}
		total = total*60 + time.Duration(n)
	}
	return total * time.Second, nil
}
