package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/atviriduomenys/spinta-sync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleTracker(t *testing.T) {
	_, client := testutil.NewMiniredisClient(t)

	trackers := map[string]scheduleTracker{
		"redis":  newScheduleTracker(testLogger(), client, "test"),
		"memory": newMemoryTracker(),
	}

	for name, tracker := range trackers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			lastRun, err := tracker.GetLastRun(ctx, "push")
			require.NoError(t, err)
			assert.True(t, lastRun.IsZero(), "Expected zero time for a schedule that never ran")

			first := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
			require.NoError(t, tracker.SetLastRun(ctx, "push", first))

			second := first.Add(5 * time.Minute)
			require.NoError(t, tracker.SetLastRun(ctx, "push", second))

			lastRun, err = tracker.GetLastRun(ctx, "push")
			require.NoError(t, err)
			assert.True(t, second.Equal(lastRun))
		})
	}
}

func TestScheduleTrackerRejectsCorruptValue(t *testing.T) {
	mr, client := testutil.NewMiniredisClient(t)

	require.NoError(t, mr.Set("test:scheduler:run:push", "yesterday"))

	_, err := newScheduleTracker(testLogger(), client, "test").GetLastRun(context.Background(), "push")
	assert.Error(t, err)
}
