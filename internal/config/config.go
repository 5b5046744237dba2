// Package config implements the engine's ambient configuration layer:
// defaults, an optional opuscleaner.toml file, and environment variable
// overrides, in that priority order (lowest to highest), matching the
// layering the teacher's internal/cli config loader uses for its own
// JSON file + env vars.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the engine's adjustable defaults. CLI flags, when
// explicitly given, take priority over all of these (see cmd/clean).
type Config struct {
	FilterPatterns []string `toml:"filters"`
	BaseDir        string   `toml:"basedir"`
	Parallel       int      `toml:"parallel"`
	BatchSize      int      `toml:"batch_size"`
}

// Default returns the built-in defaults, used when neither a config file
// nor an environment variable supplies a value.
func Default() Config {
	return Config{
		FilterPatterns: []string{"filters/**/*.json", "filters/**/*.yaml"},
		BaseDir:        ".",
		Parallel:       1,
		BatchSize:      1_000_000,
	}
}

// Load reads path (if it exists; a missing file is not an error) as TOML
// over Default(), then applies environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OPUSCLEANER_BASEDIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("OPUSCLEANER_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Parallel = n
		}
	}
	if v := os.Getenv("OPUSCLEANER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}
}
