// Package config loads the replay driver's configuration from defaults, an
// optional file, environment variables, and CLI flags, in that precedence
// order, the way the teacher's pack sibling (0xtitan6-polymarket-mm) binds
// viper to a pflag-backed cobra command.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the §6 "Configuration" block: the options the replay driver and
// snapshot emitter read at startup.
type Config struct {
	SnapshotInterval time.Duration
	SnapshotDepth    int
	LogLevel         string
	CancelSweepLimit *time.Time
}

const envPrefix = "LOBREPLAY"

// Default returns the baseline configuration before any file, env, or flag
// overlay is applied.
func Default() Config {
	return Config{
		SnapshotInterval: time.Minute,
		SnapshotDepth:    5,
		LogLevel:         "info",
	}
}

// BindFlags registers the recognized options on fs so a cobra command can
// expose them as CLI flags; call Load afterward to read the merged value.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.Duration("snapshot-interval", d.SnapshotInterval, "interval between book snapshots")
	fs.Int("snapshot-depth", d.SnapshotDepth, "number of price levels per side in a snapshot")
	fs.String("log-level", d.LogLevel, "log level: error, info, or debug")
	fs.String("cancel-sweep-limit", "", "RFC3339 instant to sweep exits up to without consuming a message")
}

// Load builds a viper instance layering defaults, an optional config file,
// LOBREPLAY_*-prefixed environment variables, and fs's flags (highest
// precedence), and decodes the result into a Config.
func Load(fs *pflag.FlagSet, configFile string) (Config, error) {
	v := viper.New()
	d := Default()
	v.SetDefault("snapshot-interval", d.SnapshotInterval)
	v.SetDefault("snapshot-depth", d.SnapshotDepth)
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("cancel-sweep-limit", "")

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return Config{}, fmt.Errorf("config: binding flags: %w", err)
		}
	}

	cfg := Config{
		SnapshotInterval: v.GetDuration("snapshot-interval"),
		SnapshotDepth:    v.GetInt("snapshot-depth"),
		LogLevel:         v.GetString("log-level"),
	}

	if raw := v.GetString("cancel-sweep-limit"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: parsing cancel-sweep-limit: %w", err)
		}
		cfg.CancelSweepLimit = &t
	}

	if cfg.SnapshotDepth <= 0 {
		return Config{}, fmt.Errorf("config: snapshot-depth must be positive, got %d", cfg.SnapshotDepth)
	}
	switch cfg.LogLevel {
	case "error", "info", "debug":
	default:
		return Config{}, fmt.Errorf("config: unrecognized log-level %q", cfg.LogLevel)
	}

	return cfg, nil
}
