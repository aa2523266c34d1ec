// Package remote provides a client for Spinta-compatible HTTP services
package remote

import (
	"errors"
	"net/url"
	"time"
)

// Static errors for configuration validation
var (
	ErrURLRequired     = errors.New("remote URL is required")
	ErrInvalidURL      = errors.New("remote URL must be http or https")
	ErrInvalidMaxTries = errors.New("retry maxTries must be at least 1")
)

// Config contains remote connection, retry and rate limit settings
type Config struct {
	URL string `yaml:"url"`
	// Name selects the credentials section; defaults to the URL host
	Name        string        `yaml:"name"`
	Credentials string        `yaml:"credentials"`
	Timeout     time.Duration `yaml:"timeout" default:"30s"`
	PushTimeout time.Duration `yaml:"pushTimeout" default:"5m"`
	KeepAlive   time.Duration `yaml:"keepAlive" default:"30s"`
	// RateLimit is requests per second per host, 0 disables limiting
	RateLimit float64     `yaml:"rateLimit" default:"20"`
	Burst     int         `yaml:"burst" default:"5"`
	Retry     RetryConfig `yaml:"retry"`
	Debug     bool        `yaml:"debug"`
}

// RetryConfig bounds retries of transient failures
type RetryConfig struct {
	MaxTries        uint          `yaml:"maxTries" default:"5"`
	InitialInterval time.Duration `yaml:"initialInterval" default:"500ms"`
	MaxInterval     time.Duration `yaml:"maxInterval" default:"30s"`
	MaxElapsed      time.Duration `yaml:"maxElapsed" default:"5m"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrURLRequired
	}

	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}

	if c.Retry.MaxTries == 0 {
		return ErrInvalidMaxTries
	}

	return nil
}

// SetDefaults fills zero values that have no yaml default
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}

	if c.PushTimeout == 0 {
		c.PushTimeout = 5 * time.Minute
	}

	if c.KeepAlive == 0 {
		c.KeepAlive = 30 * time.Second
	}

	if c.Retry.MaxTries == 0 {
		c.Retry.MaxTries = 5
	}

	if c.Retry.InitialInterval == 0 {
		c.Retry.InitialInterval = 500 * time.Millisecond
	}

	if c.Retry.MaxInterval == 0 {
		c.Retry.MaxInterval = 30 * time.Second
	}

	if c.Name == "" {
		if u, err := url.Parse(c.URL); err == nil {
			c.Name = u.Host
		}
	}
}
