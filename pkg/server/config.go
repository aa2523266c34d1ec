// Package server runs long-lived services until the process is signalled
package server

import (
	"errors"
	"time"
)

// Define static errors
var (
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
)

// Config holds server configuration
type Config struct {
	// MetricsAddr is the address to listen on for metrics, empty disables it
	MetricsAddr string `yaml:"metricsAddr"`
	// PProfAddr is the address to listen on for pprof, empty disables it
	PProfAddr string `yaml:"pprofAddr"`
	// ShutdownTimeout bounds stopping every service
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"30s"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}

	return nil
}
