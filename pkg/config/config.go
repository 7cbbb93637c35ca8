// Package config loads a node's persisted settings from a YAML file, so
// a deployment can keep its data directory, listen addresses, and
// session/image limits in one place instead of a long flag invocation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level shape of a node config file.
type Config struct {
	DataDir     string        `yaml:"dataDir"`
	HTTPAddr    string        `yaml:"httpAddr"`
	MetricsAddr string        `yaml:"metricsAddr"`
	LogLevel    string        `yaml:"logLevel"`
	LogJSON     bool          `yaml:"logJson"`

	SessionDuration time.Duration `yaml:"sessionDuration"`
	ImageMaxSize    int64         `yaml:"imageMaxSize"`
}

// Default returns the settings a node runs with when no config file is
// given.
func Default() Config {
	return Config{
		DataDir:         "./cotoami-data",
		HTTPAddr:        "127.0.0.1:7120",
		MetricsAddr:     "127.0.0.1:9090",
		LogLevel:        "info",
		SessionDuration: 30 * 24 * time.Hour,
		ImageMaxSize:    10 << 20, // 10MiB
	}
}

// Load reads and parses a YAML config file, filling in Default() for
// any field the file leaves zero.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}
