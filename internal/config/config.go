// Package config loads the supervisor's configuration from an optional
// yaml file and fills in defaults. The base storage location is fixed
// here at process start and injected into the store; it is never mutated
// afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// defaultMaxCaptureBytes bounds each of a job's stdout/stderr captures.
const defaultMaxCaptureBytes = 8 << 20

// monitorBinName is the monitor binary looked up next to the running
// executable, falling back to PATH resolution.
const monitorBinName = "jobmond"

type Config struct {
	// StoreDir is the base directory all job entries live under.
	StoreDir string `yaml:"store_dir"`

	// MonitorBin is the path of the per-job monitor binary the launcher
	// starts detached.
	MonitorBin string `yaml:"monitor_bin"`

	// MaxCaptureBytes caps each output capture stream. Zero or less means
	// unbounded.
	MaxCaptureBytes int64 `yaml:"max_capture_bytes"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`
}

// Load reads the yaml config at path, or returns pure defaults when path
// is empty. Values absent from the file are filled with defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StoreDir == "" {
		c.StoreDir = defaultStoreDir()
	}

	if c.MonitorBin == "" {
		c.MonitorBin = defaultMonitorBin()
	}

	if c.MaxCaptureBytes == 0 {
		c.MaxCaptureBytes = defaultMaxCaptureBytes
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.StoreDir == "" {
		return errors.New("store_dir cannot be empty")
	}

	if c.MonitorBin == "" {
		return errors.New("monitor_bin cannot be empty")
	}

	return nil
}

func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "jobtend", "jobs")
	}

	return filepath.Join(home, ".jobtend", "jobs")
}

func defaultMonitorBin() string {
	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), monitorBinName)
		if _, err := os.Stat(sibling); err == nil {
			return sibling
		}
	}

	return monitorBinName
}
