package scheduler

import (
	"context"
	"testing"

	"github.com/atviriduomenys/spinta-sync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElectorCampaign(t *testing.T) {
	ctx := context.Background()
	mr, client := testutil.NewMiniredisClient(t)

	t.Run("first instance claims the lease", func(t *testing.T) {
		mr.FlushAll()

		a := newElector(testLogger(), client, "spinta-sync:push")
		b := newElector(testLogger(), client, "spinta-sync:push")

		a.campaign(ctx)
		b.campaign(ctx)

		assert.True(t, a.IsLeader())
		assert.False(t, b.IsLeader())

		owner, err := mr.Get("spinta-sync:push:scheduler:leader")
		require.NoError(t, err)
		assert.Equal(t, a.instance, owner)
	})

	t.Run("renewal keeps the lease", func(t *testing.T) {
		mr.FlushAll()

		a := newElector(testLogger(), client, "p")
		b := newElector(testLogger(), client, "p")

		a.campaign(ctx)
		mr.FastForward(leaseTTL / 2)
		a.campaign(ctx)
		mr.FastForward(leaseTTL / 2)
		b.campaign(ctx)

		assert.True(t, a.IsLeader())
		assert.False(t, b.IsLeader())
	})

	t.Run("expired lease passes to another instance", func(t *testing.T) {
		mr.FlushAll()

		a := newElector(testLogger(), client, "p")
		b := newElector(testLogger(), client, "p")

		a.campaign(ctx)
		mr.FastForward(leaseTTL + 1)
		b.campaign(ctx)
		a.campaign(ctx)

		assert.False(t, a.IsLeader())
		assert.True(t, b.IsLeader())
	})

	t.Run("redis failure demotes", func(t *testing.T) {
		mr.FlushAll()

		a := newElector(testLogger(), client, "p")
		a.campaign(ctx)
		require.True(t, a.IsLeader())

		mr.SetError("unavailable")
		t.Cleanup(func() { mr.SetError("") })

		a.campaign(ctx)
		assert.False(t, a.IsLeader())
	})
}

func TestElectorStopResigns(t *testing.T) {
	mr, client := testutil.NewMiniredisClient(t)

	a := newElector(testLogger(), client, "p")
	require.NoError(t, a.Start(context.Background()))
	require.True(t, a.IsLeader())

	require.NoError(t, a.Stop())
	assert.False(t, a.IsLeader())
	assert.False(t, mr.Exists("p:scheduler:leader"))

	b := newElector(testLogger(), client, "p")
	b.campaign(context.Background())
	assert.True(t, b.IsLeader())
}
