package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// dataDirFlag overrides data_dir from the config for every command
var dataDirFlag string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "newsreel",
	Short: "Listen to news articles from the terminal",
	Long: `newsreel plays the text-to-speech audio of news articles.

'newsreel listen' starts a player with a mini player bar and a playback
notification in the terminal. While it runs, the other commands drive it
over a local control socket, so playback can be bound to tmux keys or
shown in a status line with 'newsreel now'.

Listening progress is kept in a local history; 'newsreel resume' picks up
the last article you did not finish.`,
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Data directory for history and the control socket (default: ~/.local/share/newsreel)")
}
