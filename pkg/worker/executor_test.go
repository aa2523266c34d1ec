package worker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/atviriduomenys/spinta-sync/internal/testutil"
	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/keymap"
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/atviriduomenys/spinta-sync/pkg/pushstate"
	"github.com/atviriduomenys/spinta-sync/pkg/remote"
	"github.com/atviriduomenys/spinta-sync/pkg/replicator"
	"github.com/atviriduomenys/spinta-sync/pkg/source"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const countryModel = "datasets/gov/example/Country"

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func countryManifest(t *testing.T) *manifest.Manifest {
	t.Helper()

	m, err := manifest.Load([]manifest.Row{
		{Dataset: "datasets/gov/example"},
		{Resource: "src", Type: "memory"},
		{Model: "Country", Ref: "id", Source: "countries"},
		{Property: "id", Type: "integer", Source: "id"},
		{Property: "name", Type: "string", Source: "name"},
	})
	require.NoError(t, err)

	return m
}

// newReplicator pushes the memory table "countries" to url
func newReplicator(t *testing.T, url string) *replicator.Replicator {
	t.Helper()

	ctx := context.Background()
	dir := t.TempDir()

	km, err := keymap.Open(ctx, &keymap.Config{Path: filepath.Join(dir, "keymap.db"), BusyTimeout: 5000}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = km.Close() })

	state, err := pushstate.Open(ctx, &pushstate.Config{Path: filepath.Join(dir, "push.db")}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = state.Close() })

	registry := source.NewRegistry()
	registry.Register("countries", []map[string]any{
		{"id": int64(1), "name": "LT"},
		{"id": int64(2), "name": "LV"},
	})

	pool := source.NewPool(registry, testLogger())
	t.Cleanup(func() { _ = pool.Close() })

	client, err := remote.NewClient(ctx, testLogger(), &remote.Config{
		URL:   url,
		Retry: remote.RetryConfig{MaxTries: 1},
	}, nil)
	require.NoError(t, err)

	return replicator.New(testLogger(), &replicator.Config{}, replicator.Deps{
		Keymap:  km,
		Sources: pool,
		Sink:    client,
		State:   state,
		Remote:  "test",
	})
}

func TestModelPusherPushesOneModel(t *testing.T) {
	fake := testutil.NewFakeRemote(t)

	pusher := NewModelPusher(testLogger(), countryManifest(t), nil)
	pusher.Register("test", newReplicator(t, fake.URL()))

	require.NoError(t, pusher.PushModel(context.Background(), "test", countryModel, false))
	assert.Len(t, fake.Rows(countryModel), 2)
}

func TestModelPusherRejectsUnknownPairs(t *testing.T) {
	fake := testutil.NewFakeRemote(t)

	pusher := NewModelPusher(testLogger(), countryManifest(t), nil)
	pusher.Register("test", newReplicator(t, fake.URL()))

	tests := []struct {
		name   string
		remote string
		model  string
		code   errcode.Code
	}{
		{name: "unknown remote", remote: "prod", model: countryModel, code: errcode.InvalidResourceSource},
		{name: "unknown model", remote: "test", model: "datasets/gov/example/Street", code: errcode.UnknownProperty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := pusher.PushModel(context.Background(), tt.remote, tt.model, false)
			require.Error(t, err)
			assert.Equal(t, tt.code, errcode.Of(err))
		})
	}

	assert.Empty(t, fake.Rows(countryModel))
}

func TestModelPusherResolvesRemotesOnce(t *testing.T) {
	fake := testutil.NewFakeRemote(t)
	r := newReplicator(t, fake.URL())

	calls := 0
	pusher := NewModelPusher(testLogger(), countryManifest(t), func(_ context.Context, remote string) (*replicator.Replicator, error) {
		calls++
		assert.Equal(t, "test", remote)

		return r, nil
	})

	ctx := context.Background()
	require.NoError(t, pusher.PushModel(ctx, "test", countryModel, false))
	require.NoError(t, pusher.PushModel(ctx, "test", countryModel, true))

	assert.Equal(t, 1, calls)
	assert.Len(t, fake.Rows(countryModel), 2)
}
