package tasks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/atviriduomenys/spinta-sync/internal/testutil"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()

	mr := testutil.NewMiniredis(t)
	q := NewQueue(testLogger(), asynq.RedisClientOpt{Addr: mr.Addr()}, "", time.Minute)
	t.Cleanup(func() { _ = q.Close() })

	return q
}

func TestPushPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload PushPayload
		wantErr error
	}{
		{name: "valid", payload: PushPayload{Remote: "prod", Model: "datasets/gov/example/City"}},
		{name: "no remote", payload: PushPayload{Model: "datasets/gov/example/City"}, wantErr: ErrRemoteRequired},
		{name: "no model", payload: PushPayload{Remote: "prod"}, wantErr: ErrModelRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.payload.Validate(), tt.wantErr)
		})
	}

	assert.Equal(t, "prod:datasets/gov/example/City",
		PushPayload{Remote: "prod", Model: "datasets/gov/example/City"}.UniqueID())
}

func TestEnqueueDeduplicatesPairs(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	payload := PushPayload{Remote: "prod", Model: "datasets/gov/example/City"}

	added, err := q.Enqueue(ctx, payload)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = q.Enqueue(ctx, payload)
	require.NoError(t, err)
	assert.False(t, added, "a queued pair is not enqueued twice")

	added, err = q.Enqueue(ctx, PushPayload{Remote: "test", Model: "datasets/gov/example/City"})
	require.NoError(t, err)
	assert.True(t, added, "another remote is a different pair")

	info, err := q.inspector.GetTaskInfo(q.Name(), payload.UniqueID())
	require.NoError(t, err)
	assert.Equal(t, TypePush, info.Type)

	var stored PushPayload
	require.NoError(t, json.Unmarshal(info.Payload, &stored))
	assert.Equal(t, TriggerManual, stored.Trigger)
	assert.False(t, stored.EnqueuedAt.IsZero())
}

func TestEnqueueRejectsInvalidPayload(t *testing.T) {
	q := newTestQueue(t)

	added, err := q.Enqueue(context.Background(), PushPayload{Remote: "prod"})
	require.ErrorIs(t, err, ErrModelRequired)
	assert.False(t, added)
}

func TestEnqueueAll(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	models := []string{"datasets/gov/example/Country", "datasets/gov/example/City"}

	added, err := q.EnqueueAll(ctx, "prod", models, true, TriggerSchedule)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = q.EnqueueAll(ctx, "prod", models, true, TriggerSchedule)
	require.NoError(t, err)
	assert.Zero(t, added)

	for _, model := range models {
		pending, err := q.Pending(PushPayload{Remote: "prod", Model: model})
		require.NoError(t, err)
		assert.True(t, pending, model)
	}

	pending, err := q.Pending(PushPayload{Remote: "prod", Model: "datasets/gov/example/Street"})
	require.NoError(t, err)
	assert.False(t, pending)
}
