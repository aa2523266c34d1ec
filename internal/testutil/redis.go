//go:build integration

package testutil

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

const redisImage = "redis:7-alpine"

// RedisConnection is a running redis container and a client connected to it
type RedisConnection struct {
	Client  *redis.Client
	Options *redis.Options
	// ConnectionURL is the redis:// address, usable as redis.address in config
	ConnectionURL string
}

// NewRedisContainer starts a redis container that is terminated with the test
func NewRedisContainer(t *testing.T) *RedisConnection {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, redisImage)
	testcontainers.CleanupContainer(t, container)

	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis connection string: %v", err)
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("failed to parse redis connection string %s: %v", url, err)
	}

	return &RedisConnection{
		Client:        newClient(t, opts),
		Options:       opts,
		ConnectionURL: url,
	}
}
