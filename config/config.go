// Package config loads RefineDB's TOML runtime configuration: which KV
// backend to use, its connection details, and logging/telemetry settings.
// It follows the teacher's own use of github.com/BurntSushi/toml for
// structured file parsing, and layers a base configuration with an
// optional override file via dario.cat/mergo.
package config

import (
	"os"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"

	"refinedb/errs"
)

// BackendKind names a supported kv.Store implementation.
type BackendKind string

const (
	BackendMemory BackendKind = "memory"
	BackendMySQL  BackendKind = "mysql"
)

// MySQLConfig configures the mysqlkv backend.
type MySQLConfig struct {
	DSN   string `toml:"dsn"`
	Table string `toml:"table"`
}

// LogConfig configures zap + lumberjack output (spec ambient logging).
type LogConfig struct {
	Level      string `toml:"level"`       // debug, info, warn, error
	File       string `toml:"file"`        // empty means stderr only
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// TelemetryConfig holds the metrics setting read from the config file.
// Enabled is not consulted anywhere: the run command always builds the
// in-process counters.
type TelemetryConfig struct {
	Enabled bool `toml:"enabled"`
}

// Config is RefineDB's full runtime configuration.
type Config struct {
	Backend   BackendKind     `toml:"backend"`
	MySQL     MySQLConfig     `toml:"mysql"`
	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Backend: BackendMemory,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{Enabled: true},
	}
}

// Load reads a TOML config file at path and merges it over Default(): any
// field left zero in the file keeps the default's value.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errs.Wrap(errs.BackendError, err, "reading config file %s", path)
	}

	var fromFile Config
	if _, err := toml.Decode(string(data), &fromFile); err != nil {
		return Config{}, errs.Wrap(errs.ParseError, err, "parsing config file %s", path)
	}
	if err := mergo.Merge(&fromFile, cfg); err != nil {
		return Config{}, errs.Wrap(errs.BackendError, err, "merging default config")
	}
	return fromFile, nil
}
