// ThreatLens - cybersecurity incident analytics and severity prediction.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/opensource-finance/threatlens/internal/artifact"
	"github.com/opensource-finance/threatlens/internal/bus"
	"github.com/opensource-finance/threatlens/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to the YAML configuration file (optional)",
		Sources: cli.EnvVars("THREATLENS_CONFIG"),
	}

	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Prints verbose logs (optional, default: false)",
	}
)

func main() {
	initLogging(domain.LoggingConfig{Level: "info", Format: "text"})

	app := newApp()
	if err := app.Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "threatlens",
		Version: fmt.Sprintf("%s (%s - %s)", Version, Commit, BuildDate),
		Usage:   "Cybersecurity incident analytics and severity prediction",
		Flags: []cli.Flag{
			configFlag,
			debugFlag,
		},
		Commands: []*cli.Command{
			processCmd,
			summarizeCmd,
			trainCmd,
			predictCmd,
			serveCmd,
			workerCmd,
		},
	}
}

// loadConfig reads the configuration named by --config and installs the
// logger it describes.
func loadConfig(cmd *cli.Command) (*domain.Config, error) {
	cfg, err := domain.LoadConfig(cmd.String(configFlag.Name))
	if err != nil {
		return nil, err
	}
	if cmd.Bool(debugFlag.Name) {
		cfg.Logging.Level = "debug"
	}
	initLogging(cfg.Logging)

	slog.Debug("configuration loaded",
		"tier", cfg.Tier,
		"artifacts", cfg.Artifacts.Dir,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)
	return cfg, nil
}

func initLogging(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func newStore(cfg *domain.Config) (*artifact.Store, error) {
	if err := os.MkdirAll(cfg.Artifacts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts dir: %w", err)
	}
	return artifact.NewStore(cfg.Artifacts.Dir), nil
}

// optionalBus connects the configured bus for offline commands. Events are
// best effort there, so a failed connection only disables them.
func optionalBus(cfg *domain.Config) domain.EventBus {
	if cfg.EventBus.Type != "nats" {
		return nil
	}
	b, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Warn("event bus unavailable, events disabled", "error", err)
		return nil
	}
	return b
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
