// Package scheduler runs incremental pushes on a cron schedule
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrScheduleRequired is returned when no schedule is configured
	ErrScheduleRequired = errors.New("schedule is required")
)

//nolint:gochecknoglobals // Parser configuration shared by validation and the service
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config defines scheduler configuration
type Config struct {
	// Schedule is a cron expression or "@every <duration>"
	Schedule string `yaml:"schedule" default:"@every 5m"`
	// Enqueue hands each push to workers instead of pushing in process
	Enqueue         bool          `yaml:"enqueue" default:"false"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"30s"`
}

// Validate checks if the scheduler configuration is valid
func (c *Config) Validate() error {
	if c.Schedule == "" {
		return ErrScheduleRequired
	}

	if _, err := parser.Parse(c.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
	}

	return nil
}

// SetDefaults fills zero values
func (c *Config) SetDefaults() {
	if c.Schedule == "" {
		c.Schedule = "@every 5m"
	}

	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}
