package pushstate

import "errors"

// Define static errors
var (
	ErrPathRequired = errors.New("push state path is required")
)

// Config holds push state store configuration
type Config struct {
	// Path is the sqlite database file
	Path string `yaml:"path" default:"push.db"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Path == "" {
		return ErrPathRequired
	}

	return nil
}
