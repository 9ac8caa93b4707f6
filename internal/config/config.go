package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// DefaultOutputFormat is the template used by the now command
const DefaultOutputFormat = "{{.Position}} / {{.Duration}} {{.Title}}"

// ErrNoConfigFile is returned by Watch when there is no file to watch
var ErrNoConfigFile = errors.New("no config file")

// Config holds application configuration
type Config struct {
	// Output format template for the now command
	// Default: "{{.Position}} / {{.Duration}} {{.Title}}"
	OutputFormat string

	// Where history, the control socket and the log live
	DataDir string

	API           APIConfig
	Playback      PlaybackConfig
	Notifications NotificationsConfig
	History       HistoryConfig
	Remote        RemoteConfig
	Discord       DiscordConfig
}

// APIConfig points at the article service
type APIConfig struct {
	BaseURL      string
	AudioBaseURL string // Fallback audio location: <AudioBaseURL>/<id>.mp3
	Token        string // Sent as a Bearer token when set
	Timeout      time.Duration
}

// PlaybackConfig tunes the engine
type PlaybackConfig struct {
	SkipInterval  time.Duration
	EmitInterval  time.Duration
	EmitThreshold time.Duration
}

// NotificationsConfig selects notification surfaces
type NotificationsConfig struct {
	Desktop bool
	Discord bool
}

// HistoryConfig tunes the listening history
type HistoryConfig struct {
	PersistInterval time.Duration
}

// RemoteConfig enables the websocket mini player server
type RemoteConfig struct {
	Addr string // Empty disables the server
}

// DiscordConfig identifies the Discord application used for Rich Presence
type DiscordConfig struct {
	AppID string
}

// HistoryPath returns the listening history database path
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// LogPath returns the log file used while the TUI owns the terminal
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "newsreel.log")
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	return loadFrom(getConfigDir())
}

// loadFrom reads config.yaml from dir (and the working directory)
func loadFrom(dir string) (*Config, error) {
	v := newViper(dir)

	// Read config file (optional - don't fail if missing)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return fromViper(v), nil
}

func newViper(dir string) *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Config file locations (in order of precedence)
	v.AddConfigPath(dir)
	v.AddConfigPath(".")

	v.SetDefault("output_format", DefaultOutputFormat)
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.audio_base_url", "")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("playback.skip_interval", 10*time.Second)
	v.SetDefault("playback.emit_interval", time.Second)
	v.SetDefault("playback.emit_threshold", 500*time.Millisecond)
	v.SetDefault("notifications.desktop", false)
	v.SetDefault("notifications.discord", false)
	v.SetDefault("history.persist_interval", 10*time.Second)
	v.SetDefault("remote.addr", "")
	v.SetDefault("discord.app_id", "")

	// NEWSREEL_API_TOKEN overrides api.token, and so on
	v.SetEnvPrefix("NEWSREEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// fromViper maps viper's view onto a Config
func fromViper(v *viper.Viper) *Config {
	return &Config{
		OutputFormat: v.GetString("output_format"),
		DataDir:      expandHome(v.GetString("data_dir")),
		API: APIConfig{
			BaseURL:      v.GetString("api.base_url"),
			AudioBaseURL: v.GetString("api.audio_base_url"),
			Token:        v.GetString("api.token"),
			Timeout:      v.GetDuration("api.timeout"),
		},
		Playback: PlaybackConfig{
			SkipInterval:  v.GetDuration("playback.skip_interval"),
			EmitInterval:  v.GetDuration("playback.emit_interval"),
			EmitThreshold: v.GetDuration("playback.emit_threshold"),
		},
		Notifications: NotificationsConfig{
			Desktop: v.GetBool("notifications.desktop"),
			Discord: v.GetBool("notifications.discord"),
		},
		History: HistoryConfig{
			PersistInterval: v.GetDuration("history.persist_interval"),
		},
		Remote: RemoteConfig{
			Addr: v.GetString("remote.addr"),
		},
		Discord: DiscordConfig{
			AppID: v.GetString("discord.app_id"),
		},
	}
}

// Watch calls onChange with the reloaded configuration each time the
// config file changes, until ctx is cancelled
func Watch(ctx context.Context, logger zerolog.Logger, onChange func(*Config)) error {
	return watchDir(ctx, getConfigDir(), logger, onChange)
}

func watchDir(ctx context.Context, dir string, logger zerolog.Logger, onChange func(*Config)) error {
	v := newViper(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return ErrNoConfigFile
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	logger = logger.With().Str("component", "config").Logger()
	v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		logger.Info().Str("file", e.Name).Str("op", e.Op.String()).Msg("Config changed")
		onChange(fromViper(v))
	})
	v.WatchConfig()

	logger.Debug().Str("file", v.ConfigFileUsed()).Msg("Watching config")
	return nil
}

// getConfigDir returns the configuration directory path
// Creates the directory if it doesn't exist
func getConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	configDir := filepath.Join(homeDir, ".config", "newsreel")

	// Create config directory if it doesn't exist
	_ = os.MkdirAll(configDir, 0755)

	return configDir
}

// GetConfigDir returns the configuration directory path (public helper)
func GetConfigDir() string {
	return getConfigDir()
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(homeDir, ".local", "share", "newsreel")
}

// expandHome replaces a leading ~ with the home directory
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
}

// Save writes configuration to file
func (c *Config) Save() error {
	return c.saveTo(getConfigDir())
}

func (c *Config) saveTo(dir string) error {
	v := viper.New()

	configFile := filepath.Join(dir, "config.yaml")

	v.Set("output_format", c.OutputFormat)
	v.Set("data_dir", c.DataDir)
	v.Set("api.base_url", c.API.BaseURL)
	v.Set("api.audio_base_url", c.API.AudioBaseURL)
	v.Set("api.token", c.API.Token)
	v.Set("api.timeout", c.API.Timeout.String())
	v.Set("playback.skip_interval", c.Playback.SkipInterval.String())
	v.Set("playback.emit_interval", c.Playback.EmitInterval.String())
	v.Set("playback.emit_threshold", c.Playback.EmitThreshold.String())
	v.Set("notifications.desktop", c.Notifications.Desktop)
	v.Set("notifications.discord", c.Notifications.Discord)
	v.Set("history.persist_interval", c.History.PersistInterval.String())
	v.Set("remote.addr", c.Remote.Addr)
	v.Set("discord.app_id", c.Discord.AppID)

	return v.WriteConfigAs(configFile)
}
