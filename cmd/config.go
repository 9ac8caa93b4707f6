package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jfmyers9/newsreel/internal/config"
)

var configForce bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the configuration after defaults, ~/.config/newsreel/config.yaml
and NEWSREEL_* environment variables are applied.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Long: `Write ~/.config/newsreel/config.yaml with the current effective values,
so they can be edited. A running player picks up changes to
notifications.desktop and notifications.discord without restarting.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Key", "Value"})
	t.AppendRows([]table.Row{
		{"output_format", cfg.OutputFormat},
		{"data_dir", cfg.DataDir},
		{"api.base_url", cfg.API.BaseURL},
		{"api.audio_base_url", cfg.API.AudioBaseURL},
		{"api.token", maskToken(cfg.API.Token)},
		{"api.timeout", cfg.API.Timeout},
		{"playback.skip_interval", cfg.Playback.SkipInterval},
		{"playback.emit_interval", cfg.Playback.EmitInterval},
		{"playback.emit_threshold", cfg.Playback.EmitThreshold},
		{"notifications.desktop", cfg.Notifications.Desktop},
		{"notifications.discord", cfg.Notifications.Discord},
		{"discord.app_id", cfg.Discord.AppID},
		{"history.persist_interval", cfg.History.PersistInterval},
		{"remote.addr", cfg.Remote.Addr},
	})
	t.Render()
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(config.GetConfigDir(), "config.yaml")
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Wrote %s\n", path)
	return nil
}

// maskToken hides all but the last four characters
func maskToken(token string) string {
	if len(token) <= 4 {
		if token == "" {
			return ""
		}
		return "****"
	}
	return "****" + token[len(token)-4:]
}
