// Package config loads startup configuration: fish_features-style
// boolean feature flags and a handful of startup options (job-control
// mode default, universal-variable notifier poll interval override) from
// $XDG_CONFIG_HOME/fish/config.toml via github.com/spf13/viper. Config is
// entirely optional; a config-free invocation gets the built-in
// defaults.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	pkgerrors "github.com/pkg/errors"
)

// JobControlMode selects when pipelines get their own process group.
type JobControlMode string

const (
	JobControlFull        JobControlMode = "full"
	JobControlInteractive JobControlMode = "interactive"
	JobControlNone        JobControlMode = "none"
)

// Config is the resolved startup configuration.
type Config struct {
	Features         map[string]bool
	JobControlMode   JobControlMode
	UvarPollInterval time.Duration
}

// defaults is the behavior of a shell with no config file present.
func defaults() Config {
	return Config{
		Features:         map[string]bool{},
		JobControlMode:   JobControlInteractive,
		UvarPollInterval: 200 * time.Millisecond,
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/fish/config.toml, falling back to
// ~/.config/fish/config.toml per the XDG base-directory spec fish itself
// follows.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "fish", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "fish", "config.toml")
}

// Load reads path (DefaultPath() if empty) and merges it over defaults().
// A missing file is not an error: Load returns the plain defaults.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = DefaultPath()
	}
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return cfg, pkgerrors.Wrapf(err, "config: read %s", path)
	}

	if mode := v.GetString("job_control"); mode != "" {
		switch JobControlMode(mode) {
		case JobControlFull, JobControlInteractive, JobControlNone:
			cfg.JobControlMode = JobControlMode(mode)
		default:
			return cfg, pkgerrors.Errorf("config: invalid job_control %q", mode)
		}
	}

	if ms := v.GetInt("uvar_poll_interval_ms"); ms > 0 {
		cfg.UvarPollInterval = time.Duration(ms) * time.Millisecond
	}

	for name, enabled := range v.GetStringMap("features") {
		if b, ok := enabled.(bool); ok {
			cfg.Features[name] = b
		}
	}

	return cfg, nil
}
