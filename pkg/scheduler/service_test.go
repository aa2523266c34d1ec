package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

type fakeElector struct {
	leader bool
}

func (f *fakeElector) Start(context.Context) error { return nil }

func (f *fakeElector) Stop() error { return nil }

func (f *fakeElector) IsLeader() bool { return f.leader }

func newTestService(t *testing.T, schedule string, trigger Trigger) *service {
	t.Helper()

	svc, err := NewService(testLogger(), &Config{Schedule: schedule}, trigger, nil, "test")
	require.NoError(t, err)

	return svc.(*service)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "every", cfg: Config{Schedule: "@every 5m"}},
		{name: "cron", cfg: Config{Schedule: "*/10 * * * *"}},
		{name: "empty", cfg: Config{}, wantErr: true},
		{name: "invalid", cfg: Config{Schedule: "sometimes"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTick(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		leader  *bool
		lastRun time.Time
		want    int32
	}{
		{name: "first run fires", want: 1},
		{name: "due run fires", lastRun: now.Add(-5 * time.Minute), want: 1},
		{name: "recent run is skipped", lastRun: now.Add(-time.Minute), want: 0},
		{name: "follower is skipped", leader: new(bool), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32

			svc := newTestService(t, "@every 5m", func(context.Context) error {
				calls.Add(1)
				return nil
			})

			if tt.leader != nil {
				svc.elector = &fakeElector{leader: *tt.leader}
			}

			ctx := context.Background()

			if !tt.lastRun.IsZero() {
				require.NoError(t, svc.tracker.SetLastRun(ctx, jobID, tt.lastRun))
			}

			svc.tick(ctx, now)

			assert.Equal(t, tt.want, calls.Load())

			if tt.want > 0 {
				last, err := svc.LastRun(ctx)
				require.NoError(t, err)
				assert.Equal(t, now, last)
			}
		})
	}
}

func TestTickKeepsFailedRun(t *testing.T) {
	svc := newTestService(t, "@every 5m", func(context.Context) error {
		return errors.New("remote is down")
	})

	ctx := context.Background()
	now := time.Now().UTC()

	svc.tick(ctx, now)

	last, err := svc.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, now, last, "a failed run still counts, the next one retries")
}

func TestServiceFires(t *testing.T) {
	var calls atomic.Int32

	svc := newTestService(t, "@every 1s", func(context.Context) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, svc.Start(context.Background()))

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 5*time.Second, 100*time.Millisecond)
	require.NoError(t, svc.Stop())
}
