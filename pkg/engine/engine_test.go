package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/atviriduomenys/spinta-sync/internal/testutil"
	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/remote"
	"github.com/atviriduomenys/spinta-sync/pkg/replicator"
	"github.com/atviriduomenys/spinta-sync/pkg/source"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const manifestCSV = `dataset,resource,base,model,property,type,ref,source,prepare,level,access,uri,title,description
datasets/gov/example,,,,,,,,,,,,,
,src,,,,memory,,,,,,,,
,,,City,,,id,cities,,,,,,
,,,,id,integer,,id,,,open,,,
,,,,name,string,,name,,,open,,,
,,,,country,ref,Country,country,,4,open,,,
,,,Country,,,id,countries,,,,,,
,,,,id,integer,,id,,,open,,,
,,,,name,string,,name,,,open,,,
`

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func newEngine(t *testing.T, mutate func(c *Config)) *Engine {
	t.Helper()

	dir := t.TempDir()

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	cfg.Manifest.Paths = []string{writeFile(t, dir, "manifest.csv", manifestCSV)}
	cfg.Keymap.Path = filepath.Join(dir, "keymap.db")
	cfg.PushState.Path = filepath.Join(dir, "push.db")
	cfg.Remote.Retry.MaxTries = 1

	if mutate != nil {
		mutate(cfg)
	}

	registry := source.NewRegistry()
	registry.Register("countries", []map[string]any{{"id": int64(1), "name": "LT"}})
	registry.Register("cities", []map[string]any{{"id": int64(1), "name": "Vilnius", "country": int64(1)}})

	e, err := New(testLogger(), cfg, registry)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	return e
}

func TestModelsInDependencyOrder(t *testing.T) {
	e := newEngine(t, nil)

	models, err := e.Models()
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "datasets/gov/example/Country", models[0].Name)
	assert.Equal(t, "datasets/gov/example/City", models[1].Name)

	_, err = e.Models("datasets/gov/other")
	require.Error(t, err)
	assert.Equal(t, errcode.UnknownDatasetInConfig, errcode.Of(err))
}

func TestManifestRequired(t *testing.T) {
	e := newEngine(t, func(c *Config) { c.Manifest.Paths = nil })

	_, err := e.Manifest()
	assert.ErrorIs(t, err, ErrManifestRequired)
}

func TestRemoteConfig(t *testing.T) {
	dir := t.TempDir()
	credentials := writeFile(t, dir, "credentials.yaml", `
prod:
  server: https://get.data.gov.lt
  client: sync
  secret: s3cret
  scopes: [uapi:/:create]
localhost:8000:
  client: local
  secret: local
`)

	tests := []struct {
		name        string
		remote      string
		credentials string
		wantURL     string
		wantClient  string
		wantCode    errcode.Code
		wantErr     error
	}{
		{
			name:        "credentials section name",
			remote:      "prod",
			credentials: credentials,
			wantURL:     "https://get.data.gov.lt",
			wantClient:  "sync",
		},
		{
			name:        "url matched by host",
			remote:      "http://localhost:8000",
			credentials: credentials,
			wantURL:     "http://localhost:8000",
			wantClient:  "local",
		},
		{
			name:        "url without credentials section",
			remote:      "https://example.org",
			credentials: credentials,
			wantURL:     "https://example.org",
		},
		{
			name:    "url without credentials file",
			remote:  "https://example.org",
			wantURL: "https://example.org",
		},
		{
			name:        "unknown section name",
			remote:      "staging",
			credentials: credentials,
			wantErr:     remote.ErrNoCredentials,
		},
		{
			name:     "name without credentials file",
			remote:   "prod",
			wantCode: errcode.InvalidResourceSource,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, func(c *Config) { c.Remote.Credentials = tt.credentials })

			cfg, creds, err := e.remoteConfig(tt.remote)

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				return
			case tt.wantCode != "":
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, errcode.Of(err))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, cfg.URL)

			if tt.wantClient == "" {
				assert.Nil(t, creds)
				return
			}

			require.NotNil(t, creds)
			assert.Equal(t, tt.wantClient, creds.Client)
		})
	}
}

func TestReplicatorPushesToFakeRemote(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeRemote(t)

	e := newEngine(t, func(c *Config) { c.Remote.URL = fake.URL() })

	models, err := e.Models()
	require.NoError(t, err)

	r, err := e.Replicator(ctx, "")
	require.NoError(t, err)

	again, err := e.Replicator(ctx, "")
	require.NoError(t, err)
	assert.Same(t, r, again)

	summary, err := r.Push(ctx, replicator.Options{Models: models})
	require.NoError(t, err)
	require.Len(t, summary.Models, 2)

	assert.Len(t, fake.Rows("datasets/gov/example/Country"), 1)
	assert.Len(t, fake.Rows("datasets/gov/example/City"), 1)

	state, err := e.PushState(ctx)
	require.NoError(t, err)

	states, err := state.List(ctx, fake.URL())
	require.NoError(t, err)
	assert.Len(t, states, 2)
}

func TestLockerWithoutRedisIsLocal(t *testing.T) {
	e := newEngine(t, nil)

	client, err := e.Redis()
	require.NoError(t, err)
	assert.Nil(t, client)

	locker, err := e.Locker()
	require.NoError(t, err)

	lease, err := locker.Acquire(context.Background(), "push:test:model")
	require.NoError(t, err)
	require.NoError(t, lease.Release(context.Background()))
}
