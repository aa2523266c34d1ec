package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/keysync"
	"github.com/atviriduomenys/spinta-sync/pkg/replicator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging)
	assert.Equal(t, "keymap.db", cfg.Keymap.Path)
	assert.Equal(t, "push.db", cfg.PushState.Path)
	assert.Equal(t, 1000, cfg.Push.PageSize)
	assert.Equal(t, 100, cfg.Push.ChunkSize)
	assert.Equal(t, keysync.DeleteKeep, cfg.Sync.DeletePolicy)
	assert.Equal(t, "@every 5m", cfg.Schedule.Schedule)
	assert.Equal(t, 30*time.Second, cfg.Remote.Timeout)
	assert.Nil(t, cfg.Redis)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
logging: debug
manifest:
  paths: [manifest.csv]
remote:
  url: https://get.data.gov.lt
push:
  chunkSize: 50
  maxErrors: 10
sync:
  deletePolicy: remove
target:
  dsn: postgres://localhost/spinta
redis:
  address: localhost:6379
schedule:
  schedule: "@every 1h"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging)
	assert.Equal(t, []string{"manifest.csv"}, cfg.Manifest.Paths)
	assert.Equal(t, "https://get.data.gov.lt", cfg.Remote.URL)
	assert.Equal(t, 50, cfg.Push.ChunkSize)
	assert.Equal(t, 1000, cfg.Push.PageSize, "unset keys keep their defaults")
	assert.Equal(t, 10, cfg.Push.MaxErrors)
	assert.Equal(t, keysync.DeleteRemove, cfg.Sync.DeletePolicy)
	assert.Equal(t, "postgres://localhost/spinta", cfg.Target.DSN)
	require.NotNil(t, cfg.Redis)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, "@every 1h", cfg.Schedule.Schedule)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "bad chunk size",
			mutate:  func(c *Config) { c.Push.ChunkSize = 0 },
			wantErr: replicator.ErrInvalidChunkSize,
		},
		{
			name:    "bad delete policy",
			mutate:  func(c *Config) { c.Sync.DeletePolicy = "purge" },
			wantErr: keysync.ErrInvalidDeletePolicy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig("")
			require.NoError(t, err)

			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("bad logging level", func(t *testing.T) {
		cfg, err := LoadConfig("")
		require.NoError(t, err)

		cfg.Logging = "loud"
		assert.Error(t, cfg.Validate())
	})
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "push: [")

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
