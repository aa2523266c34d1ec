package keymap

import "errors"

// Define static errors
var (
	ErrPathRequired = errors.New("keymap path is required")
)

// Config holds keymap store configuration
type Config struct {
	// Path is the sqlite database file
	Path string `yaml:"path" default:"keymap.db"`
	// BusyTimeout is how long a writer waits for the database lock, in milliseconds
	BusyTimeout int `yaml:"busyTimeout" default:"5000"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Path == "" {
		return ErrPathRequired
	}

	if c.BusyTimeout <= 0 {
		c.BusyTimeout = 5000
	}

	return nil
}
