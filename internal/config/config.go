// Package config resolves the daemon's runtime directory and loads its
// optional YAML-backed configuration file.
//
// Grounded on the teacher's internal/config package: YAML parsing via
// gopkg.in/yaml.v3 and the "missing file means defaults, not an error"
// load contract are both carried forward from `Load`/`LoadFrom`; the
// config document itself is rewritten from the teacher's per-user
// bridge settings into the daemon-wide knobs SPEC_FULL §10.3 calls for
// (scrollback capacity, max sessions, idle poll interval).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"wsh/internal/socketdir"
)

// Config is the daemon-wide configuration document.
type Config struct {
	// ScrollbackLines is handed to each session's VT parser as its
	// scrollback capacity. The parser does not trim history to it, so
	// scrollback grows without bound. Values <= 0 are replaced by the
	// default.
	ScrollbackLines int `yaml:"scrollback_lines"`
	// MaxSessions is the SessionRegistry's cap (spec §4.7 default 256).
	MaxSessions int `yaml:"max_sessions"`
	// IdlePollIntervalMS is how often idle-wait callers should be woken
	// to re-check a still-active wait (spec §6).
	IdlePollIntervalMS int `yaml:"idle_poll_interval_ms"`
}

// Defaults returns the configuration used when no file is present or a
// file omits a field (zero values are replaced with these).
func Defaults() Config {
	return Config{
		ScrollbackLines:    10000,
		MaxSessions:        256,
		IdlePollIntervalMS: 50,
	}
}

// IdlePollInterval returns IdlePollIntervalMS as a time.Duration.
func (c Config) IdlePollInterval() time.Duration {
	return time.Duration(c.IdlePollIntervalMS) * time.Millisecond
}

func (c Config) withDefaults() Config {
	d := Defaults()
	if c.ScrollbackLines <= 0 {
		c.ScrollbackLines = d.ScrollbackLines
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = d.MaxSessions
	}
	if c.IdlePollIntervalMS <= 0 {
		c.IdlePollIntervalMS = d.IdlePollIntervalMS
	}
	return c
}

// Path returns the default config file location: $XDG_CONFIG_HOME/wsh/config.yaml,
// falling back to ~/.config/wsh/config.yaml.
func Path() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "wsh", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "wsh", "config.yaml")
	}
	return filepath.Join(home, ".config", "wsh", "config.yaml")
}

// Load reads the config file at Path(). A missing file yields Defaults(),
// not an error.
func Load() (Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads the config file at the given path, applying Defaults()
// to any unset field. A missing file yields Defaults(), not an error.
func LoadFrom(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults(), nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg.withDefaults(), nil
}

// RuntimeDir is re-exported from socketdir so callers only need to
// import one package for daemon-wide path resolution.
func RuntimeDir() string { return socketdir.RuntimeDir() }
