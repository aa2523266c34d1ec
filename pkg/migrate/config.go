package migrate

import (
	"errors"
	"time"
)

// Define static errors
var (
	ErrDSNRequired          = errors.New("target dsn is required")
	ErrInvalidIdentifierLen = errors.New("target identifierLimit must be at least 16")
)

// Config holds the migration target
type Config struct {
	// DSN is the postgres connection string
	DSN    string `yaml:"dsn"`
	Schema string `yaml:"schema" default:"public"`
	// IdentifierLimit is the longest identifier the backend keeps
	IdentifierLimit int `yaml:"identifierLimit" default:"63"`
	// LockTimeout bounds waiting for a concurrent migration
	LockTimeout time.Duration `yaml:"lockTimeout" default:"5m"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DSN == "" {
		return ErrDSNRequired
	}

	if c.IdentifierLimit < minIdentifierLimit {
		return ErrInvalidIdentifierLen
	}

	return nil
}

// SetDefaults fills zero values
func (c *Config) SetDefaults() {
	if c.Schema == "" {
		c.Schema = "public"
	}

	if c.IdentifierLimit == 0 {
		c.IdentifierLimit = DefaultIdentifierLimit
	}

	if c.LockTimeout == 0 {
		c.LockTimeout = 5 * time.Minute
	}
}

const minIdentifierLimit = 16
