// Package engine wires stores, sources and remotes from one configuration
package engine

import (
	"errors"
	"fmt"
	"os"

	"github.com/atviriduomenys/spinta-sync/pkg/api"
	"github.com/atviriduomenys/spinta-sync/pkg/keymap"
	"github.com/atviriduomenys/spinta-sync/pkg/keysync"
	"github.com/atviriduomenys/spinta-sync/pkg/migrate"
	"github.com/atviriduomenys/spinta-sync/pkg/pushstate"
	"github.com/atviriduomenys/spinta-sync/pkg/redis"
	"github.com/atviriduomenys/spinta-sync/pkg/remote"
	"github.com/atviriduomenys/spinta-sync/pkg/replicator"
	"github.com/atviriduomenys/spinta-sync/pkg/scheduler"
	"github.com/atviriduomenys/spinta-sync/pkg/worker"
	"github.com/creasty/defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var (
	// ErrManifestRequired is returned when no manifest path is configured
	ErrManifestRequired = errors.New("at least one manifest path is required")
)

// Config represents the complete configuration
type Config struct {
	Logging     string `yaml:"logging" default:"info"`
	MetricsAddr string `yaml:"metricsAddr"`
	PProfAddr   string `yaml:"pprofAddr"`

	Manifest  ManifestConfig    `yaml:"manifest"`
	Keymap    keymap.Config     `yaml:"keymap"`
	PushState pushstate.Config  `yaml:"pushState"`
	Remote    remote.Config     `yaml:"remote"`
	Push      replicator.Config `yaml:"push"`
	Sync      keysync.Config    `yaml:"sync"`
	Target    migrate.Config    `yaml:"target"`

	// Redis is optional; without it locks are in-process and no tasks can be queued
	Redis *redis.Config `yaml:"redis"`

	Worker   worker.Config    `yaml:"worker"`
	Schedule scheduler.Config `yaml:"schedule"`
	API      api.Config       `yaml:"api"`
}

// ManifestConfig lists the manifest descriptor files
type ManifestConfig struct {
	Paths []string `yaml:"paths"`
}

// Validate validates the sections every command uses. Remote and target
// settings are checked when a command opens them.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Logging); err != nil {
		return fmt.Errorf("invalid logging level: %w", err)
	}

	if err := c.Keymap.Validate(); err != nil {
		return fmt.Errorf("invalid keymap configuration: %w", err)
	}

	if err := c.PushState.Validate(); err != nil {
		return fmt.Errorf("invalid push state configuration: %w", err)
	}

	if err := c.Push.Validate(); err != nil {
		return fmt.Errorf("invalid push configuration: %w", err)
	}

	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("invalid sync configuration: %w", err)
	}

	if c.Redis.Enabled() {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("invalid redis configuration: %w", err)
		}
	}

	if err := c.Worker.Validate(); err != nil {
		return fmt.Errorf("invalid worker configuration: %w", err)
	}

	if err := c.Schedule.Validate(); err != nil {
		return fmt.Errorf("invalid schedule configuration: %w", err)
	}

	return c.API.Validate()
}

// LoadConfig loads configuration from a YAML file. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	config := &Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	if path == "" {
		return config, nil
	}

	yamlFile, err := os.ReadFile(path) //nolint:gosec // User-provided config file path
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return config, nil
}
