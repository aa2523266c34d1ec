package keysync

import (
	"errors"
	"fmt"
)

// DeletePolicy decides what a delete in the changelog does to the keymap
type DeletePolicy string

// Delete policies
const (
	// DeleteKeep leaves the entry so the identifier is reused if the row returns
	DeleteKeep DeletePolicy = "keep"
	// DeleteRemove removes the entry
	DeleteRemove DeletePolicy = "remove"
)

// Define static errors
var (
	ErrInvalidPageSize     = errors.New("sync pageSize must be positive")
	ErrInvalidDeletePolicy = errors.New("unknown delete policy")
)

// Config holds keymap sync settings
type Config struct {
	PageSize     int          `yaml:"pageSize" default:"1000"`
	DeletePolicy DeletePolicy `yaml:"deletePolicy" default:"keep"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PageSize <= 0 {
		return ErrInvalidPageSize
	}

	switch c.DeletePolicy {
	case DeleteKeep, DeleteRemove:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDeletePolicy, c.DeletePolicy)
	}
}
