package replicator

import (
	"errors"
	"time"
)

// Define static errors
var (
	ErrInvalidPageSize    = errors.New("push pageSize must be positive")
	ErrInvalidChunkSize   = errors.New("push chunkSize must be positive")
	ErrInvalidConcurrency = errors.New("push concurrency must be positive")
)

// Config holds push settings
type Config struct {
	// PageSize is how many source rows one read returns
	PageSize int `yaml:"pageSize" default:"1000"`
	// ChunkSize is how many rows one request carries
	ChunkSize int `yaml:"chunkSize" default:"100"`
	// Concurrency bounds models pushed in parallel within one dependency level
	Concurrency  int           `yaml:"concurrency" default:"4"`
	BatchTimeout time.Duration `yaml:"batchTimeout" default:"5m"`
	// MaxErrors aborts the push once more rows failed, 0 is unlimited
	MaxErrors int `yaml:"maxErrors" default:"0"`
	// Deletes pushes deletes for rows gone from the source after a full scan
	Deletes bool `yaml:"deletes" default:"false"`
	// SourceRetries bounds retries of unreachable sources
	SourceRetries uint `yaml:"sourceRetries" default:"3"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PageSize <= 0 {
		return ErrInvalidPageSize
	}

	if c.ChunkSize <= 0 {
		return ErrInvalidChunkSize
	}

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	return nil
}

// SetDefaults fills zero values
func (c *Config) SetDefaults() {
	if c.PageSize == 0 {
		c.PageSize = 1000
	}

	if c.ChunkSize == 0 {
		c.ChunkSize = 100
	}

	if c.Concurrency == 0 {
		c.Concurrency = 4
	}

	if c.BatchTimeout == 0 {
		c.BatchTimeout = 5 * time.Minute
	}

	if c.SourceRetries == 0 {
		c.SourceRetries = 3
	}
}
