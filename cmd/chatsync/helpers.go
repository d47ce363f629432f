package main

import (
	"fmt"
	"os"

	chatsync "github.com/krishnaT07/freelancer-chatsync"
	"github.com/rs/zerolog"
)

// requireConfig loads the config and exits if no endpoint is set.
func requireConfig() *Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Default.Endpoint == "" {
		fmt.Fprintln(os.Stderr, "No endpoint configured. Run 'chatsync init <endpoint>' first.")
		os.Exit(1)
	}
	if cfg.Default.SocketPath == "" {
		cfg.Default.SocketPath = chatsync.DefaultSocketPath
	}
	return cfg
}

// newLogger builds a console logger at the configured level.
func newLogger(cfg *Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Default.LogLevel)
	if err != nil || cfg.Default.LogLevel == "" {
		level = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

// newAPIClient creates a marketplace API client from the config.
func newAPIClient(cfg *Config) *chatsync.Client {
	var opts []chatsync.ClientOption
	if cfg.Default.Token != "" {
		opts = append(opts, chatsync.WithToken(cfg.Default.Token))
	}
	return chatsync.NewClient(cfg.Default.Endpoint, opts...)
}

// newEngine creates a sync engine for the session user, backed by the API
// client as its directory source.
func newEngine(cfg *Config, client *chatsync.Client, log zerolog.Logger) *chatsync.Engine {
	return chatsync.New(
		cfg.Default.Endpoint,
		cfg.Default.SocketPath,
		cfg.Session.UserID,
		chatsync.WithLogger(log),
		chatsync.WithDirectorySource(client),
	)
}
