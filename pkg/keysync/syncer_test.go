package keysync

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/atviriduomenys/spinta-sync/internal/testutil"
	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/keymap"
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/atviriduomenys/spinta-sync/pkg/remote"
	remotemock "github.com/atviriduomenys/spinta-sync/pkg/remote/mock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	countryModel = "datasets/gov/example/Country"
	cityModel    = "datasets/gov/example/City"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func testManifest(t *testing.T) *manifest.Manifest {
	t.Helper()

	m, err := manifest.Load([]manifest.Row{
		{Dataset: "datasets/gov/example"},
		{Model: "Country", Ref: "code"},
		{Property: "code", Type: "integer"},
		{Property: "name", Type: "string"},
		{Model: "City", Ref: "name, country"},
		{Property: "name", Type: "string"},
		{Property: "country", Type: "ref", Ref: "Country"},
	})
	require.NoError(t, err)

	return m
}

func model(t *testing.T, m *manifest.Manifest, name string) *manifest.Model {
	t.Helper()

	mdl, ok := m.Model(name)
	require.True(t, ok, name)

	return mdl
}

func openKeymap(t *testing.T, path string) *keymap.Store {
	t.Helper()

	km, err := keymap.Open(context.Background(), &keymap.Config{Path: path, BusyTimeout: 5000}, testLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = km.Close() })

	return km
}

func newClient(t *testing.T, url string) *remote.Client {
	t.Helper()

	client, err := remote.NewClient(context.Background(), testLogger(), &remote.Config{
		URL:   url,
		Retry: remote.RetryConfig{MaxTries: 1},
	}, nil)
	require.NoError(t, err)

	return client
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "keep", cfg: Config{PageSize: 10, DeletePolicy: DeleteKeep}},
		{name: "remove", cfg: Config{PageSize: 10, DeletePolicy: DeleteRemove}},
		{name: "bad page size", cfg: Config{DeletePolicy: DeleteKeep}, wantErr: ErrInvalidPageSize},
		{name: "bad policy", cfg: Config{PageSize: 1, DeletePolicy: "redirect"}, wantErr: ErrInvalidDeletePolicy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNaturalKey(t *testing.T) {
	m := testManifest(t)

	tests := []struct {
		name  string
		model string
		data  map[string]any
		want  []any
		ok    bool
	}{
		{
			name:  "scalar coerced by kind",
			model: countryModel,
			data:  map[string]any{"code": "2", "name": "LT"},
			want:  []any{int64(2)},
			ok:    true,
		},
		{
			name:  "level 4 ref component",
			model: cityModel,
			data:  map[string]any{"name": "Vilnius", "country": map[string]any{"_id": "abc"}},
			want:  []any{"Vilnius", "abc"},
			ok:    true,
		},
		{
			name:  "missing component",
			model: cityModel,
			data:  map[string]any{"name": "Vilnius"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NaturalKey(model(t, m, tt.model), tt.data)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNaturalKeyLevel3RefByOtherKey(t *testing.T) {
	m, err := manifest.Load([]manifest.Row{
		{Dataset: "datasets/gov/example"},
		{Model: "Country", Ref: "id"},
		{Property: "id", Type: "integer"},
		{Property: "code", Type: "string"},
		{Model: "City", Ref: "name, country"},
		{Property: "name", Type: "string"},
		{Property: "country", Type: "ref", Ref: "Country[code]", Level: "3"},
	})
	require.NoError(t, err)

	city := model(t, m, cityModel)

	tests := []struct {
		name string
		data map[string]any
		want []any
		ok   bool
	}{
		{
			name: "referenced primary key",
			data: map[string]any{"name": "Vilnius", "country": map[string]any{"id": "1"}},
			want: []any{"Vilnius", int64(1)},
			ok:   true,
		},
		{
			name: "lookup key only",
			data: map[string]any{"name": "Vilnius", "country": map[string]any{"code": "LT"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NaturalKey(city, tt.data)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSyncRedirectsReinsertedKey(t *testing.T) {
	ctx := context.Background()
	m := testManifest(t)
	km := openKeymap(t, filepath.Join(t.TempDir(), "keymap.db"))
	fake := testutil.NewFakeRemote(t)

	first := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	fake.AddChange(countryModel, remote.Change{ID: "A", Op: remote.OpInsert, Created: first, Data: map[string]any{"code": 2}})
	fake.AddChange(countryModel, remote.Change{ID: "B", Op: remote.OpInsert, Created: second, Data: map[string]any{"code": 2}})

	syncer := New(testLogger(), km, newClient(t, fake.URL()), &Config{PageSize: 1, DeletePolicy: DeleteKeep})

	results, err := syncer.Sync(ctx, []*manifest.Model{model(t, m, countryModel)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Applied)
	assert.Equal(t, 1, results[0].Redirects)
	assert.Equal(t, second, results[0].Watermark)

	valueB, err := km.Decode(ctx, countryModel, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(2), valueB)

	valueA, err := km.Decode(ctx, countryModel, "A")
	require.NoError(t, err)
	assert.Equal(t, valueB, valueA)

	current, err := km.Resolve(ctx, countryModel, "A")
	require.NoError(t, err)
	assert.Equal(t, "B", current)

	watermark, ok, err := km.MaxModified(ctx, countryModel)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, watermark)

	cid, err := km.SyncCursor(ctx, countryModel)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cid)
}

func TestSyncResumesFromCursor(t *testing.T) {
	ctx := context.Background()
	m := testManifest(t)
	km := openKeymap(t, filepath.Join(t.TempDir(), "keymap.db"))
	fake := testutil.NewFakeRemote(t)
	syncer := New(testLogger(), km, newClient(t, fake.URL()), &Config{PageSize: 10, DeletePolicy: DeleteKeep})
	country := model(t, m, countryModel)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fake.AddChange(countryModel, remote.Change{ID: "A", Op: remote.OpInsert, Created: base, Data: map[string]any{"code": 1}})

	res, err := syncer.SyncModel(ctx, country)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	fake.AddChange(countryModel, remote.Change{ID: "C", Op: remote.OpInsert, Created: base.Add(time.Minute), Data: map[string]any{"code": 3}})

	res, err = syncer.SyncModel(ctx, country)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	ok, err := km.Contains(ctx, countryModel, int64(3))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSyncDeletePolicy(t *testing.T) {
	tests := []struct {
		name     string
		policy   DeletePolicy
		wantKept bool
	}{
		{name: "keep", policy: DeleteKeep, wantKept: true},
		{name: "remove", policy: DeleteRemove, wantKept: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m := testManifest(t)
			km := openKeymap(t, filepath.Join(t.TempDir(), "keymap.db"))
			fake := testutil.NewFakeRemote(t)

			created := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
			fake.AddChange(countryModel, remote.Change{ID: "A", Op: remote.OpInsert, Created: created, Data: map[string]any{"code": 7}})
			fake.AddChange(countryModel, remote.Change{ID: "A", Op: remote.OpDelete, Created: created.Add(time.Second)})

			syncer := New(testLogger(), km, newClient(t, fake.URL()), &Config{PageSize: 10, DeletePolicy: tt.policy})

			_, err := syncer.SyncModel(ctx, model(t, m, countryModel))
			require.NoError(t, err)

			ok, err := km.Contains(ctx, countryModel, int64(7))
			require.NoError(t, err)
			assert.Equal(t, tt.wantKept, ok)
		})
	}
}

func TestSyncSkipsUnauthorizedModel(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	m := testManifest(t)
	km := openKeymap(t, filepath.Join(t.TempDir(), "keymap.db"))

	denied := errcode.New(errcode.Forbidden, &remote.StatusError{Status: http.StatusForbidden, Code: errcode.Forbidden})

	changelog := remotemock.NewMockChangelog(ctrl)
	changelog.EXPECT().Changes(gomock.Any(), countryModel, int64(0), 10).Return(nil, denied).Times(2)
	changelog.EXPECT().Changes(gomock.Any(), cityModel, int64(0), 10).Return([]remote.Change{
		{CID: 1, ID: "X", Op: remote.OpInsert, Created: time.Now().UTC(), Data: map[string]any{"name": "Vilnius", "country": map[string]any{"_id": "A"}}},
	}, nil)

	syncer := New(testLogger(), km, changelog, &Config{PageSize: 10, DeletePolicy: DeleteKeep})

	results, err := syncer.Sync(ctx, []*manifest.Model{model(t, m, countryModel), model(t, m, cityModel)})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Unauthorized)
	assert.False(t, results[1].Unauthorized)
	assert.Equal(t, 1, results[1].Applied)

	_, err = syncer.SyncModel(ctx, model(t, m, countryModel))
	assert.Equal(t, errcode.UnauthorizedKeymapSync, errcode.Of(err))
}

func TestSyncStopsOnTransportFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := testManifest(t)
	km := openKeymap(t, filepath.Join(t.TempDir(), "keymap.db"))

	broken := errcode.New(errcode.ServiceNotAvailable, errors.New("connection refused"))

	changelog := remotemock.NewMockChangelog(ctrl)
	changelog.EXPECT().Changes(gomock.Any(), countryModel, int64(0), 10).Return(nil, broken)

	syncer := New(testLogger(), km, changelog, &Config{PageSize: 10, DeletePolicy: DeleteKeep})

	_, err := syncer.Sync(context.Background(), []*manifest.Model{model(t, m, countryModel), model(t, m, cityModel)})
	require.Error(t, err)
	assert.Equal(t, errcode.ServiceNotAvailable, errcode.Of(err))
}

func TestSyncRequiresUpgradedKeymap(t *testing.T) {
	ctx := context.Background()
	m := testManifest(t)
	path := filepath.Join(t.TempDir(), "keymap.db")
	fake := testutil.NewFakeRemote(t)

	km, err := keymap.Open(ctx, &keymap.Config{Path: path, BusyTimeout: 5000}, testLogger())
	require.NoError(t, err)
	_, err = km.Encode(ctx, countryModel, int64(1))
	require.NoError(t, err)
	require.NoError(t, km.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec("DELETE FROM _migrations WHERE migration = ?", keymap.MigrationRedirect)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	fake.AddChange(countryModel, remote.Change{ID: "A", Op: remote.OpInsert, Created: time.Now().UTC(), Data: map[string]any{"code": 2}})

	km = openKeymap(t, path)
	syncer := New(testLogger(), km, newClient(t, fake.URL()), &Config{PageSize: 10, DeletePolicy: DeleteKeep})
	country := model(t, m, countryModel)

	_, err = syncer.Sync(ctx, []*manifest.Model{country})
	require.Error(t, err)
	assert.Equal(t, errcode.KeymapMigrationRequired, errcode.Of(err))

	_, err = km.Upgrade(ctx)
	require.NoError(t, err)

	_, err = syncer.Sync(ctx, []*manifest.Model{country})
	require.NoError(t, err)

	id, ok, err := km.Lookup(ctx, countryModel, int64(2))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A", id)
}
