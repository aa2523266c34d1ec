package remote_test

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atviriduomenys/spinta-sync/internal/testutil"
	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/remote"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cityModel = "datasets/gov/example/City"

func newClient(t *testing.T, url string, creds *remote.Credentials) *remote.Client {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cfg := &remote.Config{
		URL: url,
		Retry: remote.RetryConfig{
			MaxTries:        3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	}

	client, err := remote.NewClient(context.Background(), log, cfg, creds)
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  remote.Config
		wantErr error
	}{
		{
			name:   "valid http",
			config: remote.Config{URL: "http://localhost:8000", Retry: remote.RetryConfig{MaxTries: 1}},
		},
		{
			name:    "missing URL",
			config:  remote.Config{Retry: remote.RetryConfig{MaxTries: 1}},
			wantErr: remote.ErrURLRequired,
		},
		{
			name:    "unsupported scheme",
			config:  remote.Config{URL: "ftp://localhost", Retry: remote.RetryConfig{MaxTries: 1}},
			wantErr: remote.ErrInvalidURL,
		},
		{
			name:    "no tries",
			config:  remote.Config{URL: "https://example.org"},
			wantErr: remote.ErrInvalidMaxTries,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	cfg := remote.Config{URL: "https://data.example.org/api"}
	cfg.SetDefaults()

	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, uint(5), cfg.Retry.MaxTries)
	assert.Equal(t, "data.example.org", cfg.Name)
}

func TestPayloadMarshalOrder(t *testing.T) {
	p := remote.Payload{
		Op:   remote.OpUpsert,
		Type: cityModel,
		ID:   "abc",
		Props: []remote.Prop{
			{Name: "name", Value: "Vilnius"},
			{Name: "country", Value: map[string]any{"_id": "def"}},
		},
	}

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `{"_op":"upsert","_type":"datasets/gov/example/City","_id":"abc","name":"Vilnius","country":{"_id":"def"}}`, string(data))

	var back remote.Payload
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "abc", back.ID)
	assert.Equal(t, remote.OpUpsert, back.Op)

	name, ok := back.Get("name")
	require.True(t, ok)
	assert.Equal(t, "Vilnius", name)
}

func TestPushAndGet(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeRemote(t)
	client := newClient(t, fake.URL(), nil)

	results, err := client.Push(ctx, cityModel, []remote.Payload{
		{Op: remote.OpInsert, Type: cityModel, ID: "a", Props: []remote.Prop{{Name: "name", Value: "Vilnius"}}},
		{Op: remote.OpInsert, Type: cityModel, ID: "b", Props: []remote.Prop{{Name: "name", Value: "Kaunas"}}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].OK())
	assert.NotEmpty(t, results[0].Revision)

	row, err := client.Get(ctx, cityModel, "a")
	require.NoError(t, err)
	assert.Equal(t, "Vilnius", row["name"])
	assert.Equal(t, results[0].Revision, row["_revision"])

	_, err = client.Get(ctx, cityModel, "missing")
	require.Error(t, err)
	assert.Equal(t, errcode.ItemDoesNotExist, errcode.Of(err))
}

func TestPushRowErrors(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeRemote(t)
	client := newClient(t, fake.URL(), nil)

	_, err := client.Push(ctx, cityModel, []remote.Payload{{Op: remote.OpInsert, Type: cityModel, ID: "a"}})
	require.NoError(t, err)

	results, err := client.Push(ctx, cityModel, []remote.Payload{
		{Op: remote.OpInsert, Type: cityModel, ID: "a"},
		{Op: remote.OpUpsert, Type: cityModel, ID: "a", Revision: "stale"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].OK())
	assert.Equal(t, "UniqueConstraint", results[0].Code())
	assert.False(t, results[1].OK())
	assert.Equal(t, "ConflictingRevision", results[1].Code())
}

func TestRetriesTransientFailures(t *testing.T) {
	tests := []struct {
		name     string
		failures []int
		wantErr  errcode.Code
	}{
		{name: "recovers after 503", failures: []int{http.StatusServiceUnavailable}},
		{name: "recovers after 429", failures: []int{http.StatusTooManyRequests, http.StatusBadGateway}},
		{
			name:     "gives up after max tries",
			failures: []int{http.StatusInternalServerError, http.StatusInternalServerError, http.StatusInternalServerError},
			wantErr:  errcode.ServiceNotAvailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := testutil.NewFakeRemote(t)
			client := newClient(t, fake.URL(), nil)

			fake.FailNext(tt.failures...)

			_, err := client.Changes(context.Background(), cityModel, 0, 10)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, errcode.Of(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestAuthErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   errcode.Code
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, code: errcode.AuthorizedClientsOnly},
		{name: "forbidden", status: http.StatusForbidden, code: errcode.Forbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := testutil.NewFakeRemote(t)
			client := newClient(t, fake.URL(), nil)

			fake.Deny(cityModel, tt.status)

			_, err := client.Changes(context.Background(), cityModel, 0, 10)
			require.Error(t, err)
			assert.Equal(t, tt.code, errcode.Of(err))
			assert.True(t, remote.Unauthorized(err))
			assert.False(t, remote.Transient(err))
		})
	}
}

func TestChangesPagination(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeRemote(t)
	client := newClient(t, fake.URL(), nil)

	for i := 0; i < 5; i++ {
		fake.AddChange(cityModel, remote.Change{ID: "id", Op: remote.OpInsert, Data: map[string]any{"code": i}})
	}

	page, err := client.Changes(ctx, cityModel, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(1), page[0].CID)
	assert.Equal(t, json.Number("0"), page[0].Data["code"])

	page, err = client.Changes(ctx, cityModel, page[1].CID+1, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(3), page[0].CID)
}

func TestWipe(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeRemote(t)
	client := newClient(t, fake.URL(), nil)

	_, err := client.Push(ctx, cityModel, []remote.Payload{{Op: remote.OpInsert, Type: cityModel, ID: "a"}})
	require.NoError(t, err)

	require.NoError(t, client.Wipe(ctx, cityModel))
	assert.Empty(t, fake.Rows(cityModel))
}

func TestClientCredentials(t *testing.T) {
	fake := testutil.NewFakeRemote(t)

	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
prod:
  client: sync
  secret: s3cret
  scopes: [spinta_insert, spinta_upsert]
`), 0o600))

	all, err := remote.LoadCredentials(path)
	require.NoError(t, err)

	creds, err := remote.Lookup(all, "prod")
	require.NoError(t, err)
	assert.Equal(t, []string{"spinta_insert", "spinta_upsert"}, creds.Scopes)

	_, err = remote.Lookup(all, "test")
	require.ErrorIs(t, err, remote.ErrNoCredentials)

	client := newClient(t, fake.URL(), &creds)

	_, err = client.Changes(context.Background(), cityModel, 0, 1)
	require.NoError(t, err)
	_, err = client.Changes(context.Background(), cityModel, 0, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.Tokens())
}
