// Package worker runs push tasks pulled from the asynq queue
package worker

import (
	"errors"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/tasks"
)

var (
	// ErrInvalidConcurrency is returned when concurrency is not positive
	ErrInvalidConcurrency = errors.New("concurrency must be positive")
	// ErrInvalidTaskTimeout is returned when the task timeout is not positive
	ErrInvalidTaskTimeout = errors.New("task timeout must be positive")
)

// Config contains worker-specific settings
type Config struct {
	Concurrency     int           `yaml:"concurrency" default:"4"`
	Queue           string        `yaml:"queue" default:"push"`
	TaskTimeout     time.Duration `yaml:"taskTimeout" default:"30m"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"30s"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if c.TaskTimeout <= 0 {
		return ErrInvalidTaskTimeout
	}

	return nil
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.Queue == "" {
		c.Queue = tasks.DefaultQueue
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}
