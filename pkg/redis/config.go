// Package redis provides Redis client configuration
package redis

import (
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Define static errors
var (
	ErrAddressRequired = errors.New("redis address is required")
)

// Config holds Redis client configuration
type Config struct {
	// Address is host:port or a redis:// URL
	Address string `yaml:"address"`
	Prefix  string `yaml:"prefix" default:"spinta-sync"`
}

// Enabled reports whether redis is configured
func (c *Config) Enabled() bool {
	return c != nil && c.Address != ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Address == "" {
		return ErrAddressRequired
	}

	if c.Prefix == "" {
		c.Prefix = "spinta-sync"
	}

	return nil
}

// Options returns go-redis client options for the address
func (c *Config) Options() (*redis.Options, error) {
	if strings.Contains(c.Address, "://") {
		opt, err := redis.ParseURL(c.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}

		return opt, nil
	}

	return &redis.Options{Addr: c.Address}, nil
}

// PrefixKey adds the configured prefix to a Redis key
func (c *Config) PrefixKey(key string) string {
	if c.Prefix == "" {
		return key
	}

	return fmt.Sprintf("%s:%s", c.Prefix, key)
}

// PrefixQueue adds the configured prefix to an Asynq queue name
func (c *Config) PrefixQueue(queue string) string {
	if c.Prefix == "" {
		return queue
	}

	return fmt.Sprintf("%s:%s", c.Prefix, queue)
}
