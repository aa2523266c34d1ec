// Package api serves the read-only status API of the serve mode: health,
// Prometheus metrics, the loaded models, push state and keymap lookups.
package api

import (
	"errors"
	"time"
)

var (
	// ErrAPIAddrRequired is returned when the status API is enabled without a listen address
	ErrAPIAddrRequired = errors.New("status api address is required when the api is enabled")
	// ErrInvalidTimeout is returned for a negative server timeout
	ErrInvalidTimeout = errors.New("status api timeouts must not be negative")
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

// Config is the status API section of the serve configuration.
// Zero timeouts fall back to 10s.
type Config struct {
	Enabled           bool          `yaml:"enabled" default:"false"`
	Addr              string        `yaml:"addr" default:":8080"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout" default:"10s"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout" default:"10s"`
}

// Validate checks the listen address of an enabled API and the timeouts
func (c *Config) Validate() error {
	if c.Enabled && c.Addr == "" {
		return ErrAPIAddrRequired
	}

	if c.ReadHeaderTimeout < 0 || c.ShutdownTimeout < 0 {
		return ErrInvalidTimeout
	}

	return nil
}

func (c *Config) readHeaderTimeout() time.Duration {
	if c.ReadHeaderTimeout == 0 {
		return defaultReadHeaderTimeout
	}

	return c.ReadHeaderTimeout
}

func (c *Config) shutdownTimeout() time.Duration {
	if c.ShutdownTimeout == 0 {
		return defaultShutdownTimeout
	}

	return c.ShutdownTimeout
}
