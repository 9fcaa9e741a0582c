package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration read from triggerd.yaml.
type Config struct {
	ProfileDir          string        `yaml:"profile_dir"`
	Profile             string        `yaml:"profile"`
	SettingsPath        string        `yaml:"settings_path"`
	LogLevel            string        `yaml:"log_level"`
	LogJSON             bool          `yaml:"log_json"`
	WatchProfile        bool          `yaml:"watch_profile"`
	NATSURL             string        `yaml:"nats_url"`
	NATSSubject         string        `yaml:"nats_subject"`
	NATSKVBucket        string        `yaml:"nats_kv_bucket"`
	SystemEventSubject  string        `yaml:"system_event_subject"`
	ControlSubject      string        `yaml:"control_subject"`
	MetricsAddr         string        `yaml:"metrics_addr"`
	NotifyDesktop       bool          `yaml:"notify_desktop"`
	NotifyOnlyFailures  bool          `yaml:"notify_only_failures"`
	MaxParallel         int           `yaml:"max_parallel"`
	DefaultPollInterval time.Duration `yaml:"default_poll_interval"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	dir := "."
	if cfgDir, err := os.UserConfigDir(); err == nil {
		dir = filepath.Join(cfgDir, "apptrigger")
	}
	return Config{
		ProfileDir:          filepath.Join(dir, "profiles"),
		SettingsPath:        filepath.Join(dir, "settings.json"),
		LogLevel:            "info",
		WatchProfile:        true,
		MaxParallel:         4,
		DefaultPollInterval: 2 * time.Second,
	}
}

// LoadConfig overlays the file at path on the defaults. A missing file is not an error
// unless the path was given explicitly.
func LoadConfig(path string, explicit bool) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
