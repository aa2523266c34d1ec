package lock

import (
	"context"
	"testing"
	"time"

	"github.com/atviriduomenys/spinta-sync/internal/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func lockers(t *testing.T) map[string]Locker {
	t.Helper()

	_, client := testutil.NewMiniredisClient(t)

	return map[string]Locker{
		"local": NewLocal(),
		"redis": NewRedis(testLogger(), client, "test", time.Second),
	}
}

func TestAcquireIsExclusive(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			lease, err := locker.Acquire(ctx, "push:prod:City")
			require.NoError(t, err)

			waitCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
			defer cancel()

			_, err = locker.Acquire(waitCtx, "push:prod:City")
			require.ErrorIs(t, err, context.DeadlineExceeded)

			other, err := locker.Acquire(ctx, "push:prod:Country")
			require.NoError(t, err)
			require.NoError(t, other.Release(ctx))

			require.NoError(t, lease.Release(ctx))
			assert.ErrorIs(t, lease.Release(ctx), ErrNotHeld)

			again, err := locker.Acquire(ctx, "push:prod:City")
			require.NoError(t, err)
			require.NoError(t, again.Release(ctx))
		})
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			lease, err := locker.Acquire(ctx, "migrate:target")
			require.NoError(t, err)

			acquired := make(chan Lease, 1)

			go func() {
				next, err := locker.Acquire(ctx, "migrate:target")
				if err == nil {
					acquired <- next
				}
			}()

			time.Sleep(50 * time.Millisecond)
			require.NoError(t, lease.Release(ctx))

			select {
			case next := <-acquired:
				require.NoError(t, next.Release(ctx))
			case <-time.After(2 * time.Second):
				t.Fatal("lock was not handed over")
			}
		})
	}
}

func TestRedisLeaseIsRenewed(t *testing.T) {
	ctx := context.Background()
	mr, client := testutil.NewMiniredisClient(t)
	locker := NewRedis(testLogger(), client, "test", 300*time.Millisecond)

	lease, err := locker.Acquire(ctx, "push:prod:City")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		time.Sleep(150 * time.Millisecond)
		mr.FastForward(250 * time.Millisecond)
	}

	assert.True(t, mr.Exists("test:lock:push:prod:City"))
	require.NoError(t, lease.Release(ctx))
	assert.False(t, mr.Exists("test:lock:push:prod:City"))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "push:https://example.org:ds/City", PushKey("https://example.org", "ds/City"))
	assert.Equal(t, "migrate:db", MigrateKey("db"))
}
