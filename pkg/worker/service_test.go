package worker

import (
	"testing"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/tasks/mock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestNewService(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr error
	}{
		{
			name: "valid config",
			cfg:  &Config{Concurrency: 2, TaskTimeout: time.Minute},
		},
		{
			name:    "zero concurrency",
			cfg:     &Config{TaskTimeout: time.Minute},
			wantErr: ErrInvalidConcurrency,
		},
		{
			name:    "negative concurrency",
			cfg:     &Config{Concurrency: -1, TaskTimeout: time.Minute},
			wantErr: ErrInvalidConcurrency,
		},
		{
			name:    "no task timeout",
			cfg:     &Config{Concurrency: 2},
			wantErr: ErrInvalidTaskTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pusher := mock.NewMockPusher(gomock.NewController(t))

			svc, err := NewService(testLogger(), tt.cfg, pusher, &redis.Options{Addr: "localhost:6379"})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.NotNil(t, svc)
		})
	}
}

func TestConfigSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, "push", cfg.Queue)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}
