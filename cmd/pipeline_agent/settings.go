package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jonathan/extraction-pipeline/internal/config"
	"github.com/jonathan/extraction-pipeline/internal/logging"
)

// resolveConfig layers configuration: config file, then environment, then
// explicitly set flags, then defaults. The result is validated.
func resolveConfig(path string, getenv func(string) string, overrides func(*config.Config)) (config.Config, error) {
	var cfg config.Config
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}

	if err := cfg.ApplyEnv(getenv); err != nil {
		return config.Config{}, err
	}
	if overrides != nil {
		overrides(&cfg)
	}

	cfg = cfg.MergeWithDefaults(config.Defaults())
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// initLogging configures the default logger on stderr so stdout stays
// reserved for command output.
func initLogging(cfg config.Config, verbose bool) {
	level := logging.ParseLevel(cfg.LogLevel)
	if verbose {
		level = slog.LevelDebug
	}
	logging.Init(level, cfg.LogFormat, os.Stderr)
}
