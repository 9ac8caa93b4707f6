package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

// chdir changes the working directory for the test and restores it on cleanup
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatalf("failed to restore working directory: %v", err)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := loadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("loadFrom() error = %v", err)
	}

	if cfg.OutputFormat != DefaultOutputFormat {
		t.Errorf("OutputFormat = %q", cfg.OutputFormat)
	}
	if cfg.API.BaseURL != "http://localhost:8000" || cfg.API.Timeout != 30*time.Second {
		t.Errorf("API = %+v", cfg.API)
	}
	if cfg.Playback.SkipInterval != 10*time.Second ||
		cfg.Playback.EmitInterval != time.Second ||
		cfg.Playback.EmitThreshold != 500*time.Millisecond {
		t.Errorf("Playback = %+v", cfg.Playback)
	}
	if cfg.Notifications.Desktop {
		t.Error("desktop notifications should default off")
	}
	if cfg.History.PersistInterval != 10*time.Second {
		t.Errorf("History = %+v", cfg.History)
	}
	if cfg.Remote.Addr != "" {
		t.Errorf("Remote.Addr = %q, want disabled", cfg.Remote.Addr)
	}
	if cfg.Notifications.Discord || cfg.Discord.AppID != "" {
		t.Errorf("Discord presence should default off, got %+v / %+v", cfg.Notifications, cfg.Discord)
	}
	if filepath.Base(cfg.DataDir) != "newsreel" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
}

func TestLoad_File(t *testing.T) {
	chdir(t, t.TempDir())
	dir := t.TempDir()
	writeConfig(t, dir, `
output_format: "{{.Title}}"
data_dir: /tmp/newsreel-test
api:
  base_url: https://news.example.com
  audio_base_url: https://cdn.example.com/audio
  timeout: 5s
playback:
  skip_interval: 15s
  emit_threshold: 250ms
notifications:
  desktop: true
  discord: true
remote:
  addr: 127.0.0.1:7070
discord:
  app_id: "1122334455"
`)

	cfg, err := loadFrom(dir)
	if err != nil {
		t.Fatalf("loadFrom() error = %v", err)
	}

	if cfg.OutputFormat != "{{.Title}}" {
		t.Errorf("OutputFormat = %q", cfg.OutputFormat)
	}
	if cfg.API.BaseURL != "https://news.example.com" || cfg.API.AudioBaseURL != "https://cdn.example.com/audio" {
		t.Errorf("API = %+v", cfg.API)
	}
	if cfg.API.Timeout != 5*time.Second {
		t.Errorf("API.Timeout = %v", cfg.API.Timeout)
	}
	if cfg.Playback.SkipInterval != 15*time.Second || cfg.Playback.EmitThreshold != 250*time.Millisecond {
		t.Errorf("Playback = %+v", cfg.Playback)
	}
	// Unset keys keep their defaults
	if cfg.Playback.EmitInterval != time.Second {
		t.Errorf("EmitInterval = %v, want default", cfg.Playback.EmitInterval)
	}
	if !cfg.Notifications.Desktop {
		t.Error("desktop notifications should be on")
	}
	if cfg.Remote.Addr != "127.0.0.1:7070" {
		t.Errorf("Remote.Addr = %q", cfg.Remote.Addr)
	}
	if !cfg.Notifications.Discord || cfg.Discord.AppID != "1122334455" {
		t.Errorf("Discord = %+v / %+v", cfg.Notifications, cfg.Discord)
	}
	if cfg.HistoryPath() != "/tmp/newsreel-test/history.db" {
		t.Errorf("HistoryPath() = %q", cfg.HistoryPath())
	}
	if cfg.LogPath() != "/tmp/newsreel-test/newsreel.log" {
		t.Errorf("LogPath() = %q", cfg.LogPath())
	}
}

func TestLoad_Env(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("NEWSREEL_API_TOKEN", "secret")
	t.Setenv("NEWSREEL_PLAYBACK_SKIP_INTERVAL", "30s")

	cfg, err := loadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("loadFrom() error = %v", err)
	}
	if cfg.API.Token != "secret" {
		t.Errorf("API.Token = %q, want from env", cfg.API.Token)
	}
	if cfg.Playback.SkipInterval != 30*time.Second {
		t.Errorf("SkipInterval = %v, want from env", cfg.Playback.SkipInterval)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	chdir(t, t.TempDir())
	dir := t.TempDir()
	writeConfig(t, dir, "api: [unterminated")

	if _, err := loadFrom(dir); err == nil {
		t.Error("loadFrom() should fail on invalid YAML")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	chdir(t, t.TempDir())
	dir := t.TempDir()

	want := &Config{
		OutputFormat: "{{.Title}}",
		DataDir:      "/var/lib/newsreel",
		API: APIConfig{
			BaseURL: "https://news.example.com",
			Token:   "tok",
			Timeout: 12 * time.Second,
		},
		Playback: PlaybackConfig{
			SkipInterval:  20 * time.Second,
			EmitInterval:  2 * time.Second,
			EmitThreshold: time.Second,
		},
		Notifications: NotificationsConfig{Desktop: true},
		History:       HistoryConfig{PersistInterval: time.Minute},
		Remote:        RemoteConfig{Addr: ":9000"},
	}
	if err := want.saveTo(dir); err != nil {
		t.Fatalf("saveTo() error = %v", err)
	}

	got, err := loadFrom(dir)
	if err != nil {
		t.Fatalf("loadFrom() error = %v", err)
	}
	if *got != *want {
		t.Errorf("loaded = %+v, want %+v", got, want)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in, want string
	}{
		{"~", home},
		{"~/data", filepath.Join(home, "data")},
		{"/abs/path", "/abs/path"},
		{"relative", "relative"},
		{"~user/x", "~user/x"},
	}
	for _, tt := range tests {
		if got := expandHome(tt.in); got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWatch_NoFile(t *testing.T) {
	chdir(t, t.TempDir())
	err := watchDir(context.Background(), t.TempDir(), zerolog.Nop(), func(*Config) {})
	if err != ErrNoConfigFile {
		t.Errorf("watchDir() error = %v, want ErrNoConfigFile", err)
	}
}

func TestWatch_Reloads(t *testing.T) {
	chdir(t, t.TempDir())
	dir := t.TempDir()
	writeConfig(t, dir, "notifications:\n  desktop: false\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 8)
	if err := watchDir(ctx, dir, zerolog.Nop(), func(c *Config) { changes <- c }); err != nil {
		t.Fatalf("watchDir() error = %v", err)
	}

	writeConfig(t, dir, "notifications:\n  desktop: true\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Notifications.Desktop {
				return
			}
		case <-deadline:
			t.Fatal("no reload with desktop notifications on")
		}
	}
}
