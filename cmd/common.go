package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/newsreel/internal/config"
	"github.com/jfmyers9/newsreel/internal/control"
)

const commandTimeout = 5 * time.Second

// loadConfig loads the configuration, applies --data-dir and makes sure the
// data directory exists
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return cfg, nil
}

// sendRequest delivers one request to the running player
func sendRequest(cfg *config.Config, req control.Request) (control.Status, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	client, err := control.Dial(ctx, control.SocketPath(cfg.DataDir))
	if err != nil {
		if errors.Is(err, control.ErrNotRunning) {
			return control.Status{}, fmt.Errorf("%w; start one with 'newsreel listen'", control.ErrNotRunning)
		}
		return control.Status{}, err
	}
	defer func() { _ = client.Close() }()

	return client.Do(ctx, req)
}

// playerRunning reports whether a player owns the control socket
func playerRunning(cfg *config.Config) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := control.Dial(ctx, control.SocketPath(cfg.DataDir))
	if err != nil {
		return false
	}
	_ = client.Close()
	return true
}

// setupLogger creates a logger with the specified configuration
func setupLogger(logFile, logLevel string) zerolog.Logger {
	// Parse log level
	level := zerolog.InfoLevel
	switch logLevel {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	// Set up output
	var output *os.File
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			output = os.Stderr
		} else {
			output = f
		}
	} else {
		output = os.Stderr
	}

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	// Use pretty console output if logging to stderr
	if output == os.Stderr {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	return logger
}
