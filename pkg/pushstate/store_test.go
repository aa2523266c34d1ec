package pushstate

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/cursor"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	store, err := Open(context.Background(), &Config{Path: filepath.Join(t.TempDir(), "push.db")}, log)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, (&Config{Path: "push.db"}).Validate())
	assert.ErrorIs(t, (&Config{}).Validate(), ErrPathRequired)
}

func TestGetMissing(t *testing.T) {
	store := newStore(t)

	state, ok, err := store.Get(context.Background(), "prod", "geo/City")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, state)
}

func TestCommitStoresCursorAndRows(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	cur := cursor.New("geo/City", []string{"id"}, 2)
	require.NoError(t, cur.Advance([]any{int64(2)}, 2))

	err := store.Commit(ctx, Batch{
		Remote:       "prod",
		Model:        "geo/City",
		Cursor:       cur,
		LastRevision: "rev-2",
		Rows: []RowState{
			{ID: "a", Checksum: "c1", Revision: "rev-1", Data: json.RawMessage(`{"name":"Vilnius"}`)},
			{ID: "b", Checksum: "c2", Error: "UniqueConstraint", Data: json.RawMessage(`{"name":"Kaunas"}`)},
		},
	})
	require.NoError(t, err)

	state, ok, err := store.Get(ctx, "prod", "geo/City")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "rev-2", state.LastRevision)
	require.NotNil(t, state.Cursor)
	assert.Equal(t, []any{int64(2)}, state.Cursor.LastValues)
	assert.Equal(t, cursor.StatePaging, state.Cursor.State())

	rows, err := store.Rows(ctx, "prod", "geo/City", []string{"a", "b", "missing"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c1", rows["a"].Checksum)
	assert.Equal(t, "rev-1", rows["a"].Revision)
	assert.Empty(t, rows["a"].Error)
	assert.JSONEq(t, `{"name":"Kaunas"}`, string(rows["b"].Data))

	failed, err := store.Failed(ctx, "prod", "geo/City")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].ID)
	assert.Equal(t, "UniqueConstraint", failed[0].Error)
}

func TestCommitRetryKeepsCursor(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	cur := cursor.New("geo/City", []string{"id"}, 10)
	require.NoError(t, cur.Advance([]any{"z"}, 10))

	require.NoError(t, store.Commit(ctx, Batch{
		Remote: "prod",
		Model:  "geo/City",
		Cursor: cur,
		Rows:   []RowState{{ID: "b", Checksum: "c2", Error: "UniqueConstraint"}},
	}))

	require.NoError(t, store.Commit(ctx, Batch{
		Remote:       "prod",
		Model:        "geo/City",
		LastRevision: "rev-9",
		Rows:         []RowState{{ID: "b", Checksum: "c2", Revision: "rev-9"}},
	}))

	state, ok, err := store.Get(ctx, "prod", "geo/City")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, state.Cursor)
	assert.Equal(t, []any{"z"}, state.Cursor.LastValues)
	assert.Equal(t, "rev-9", state.LastRevision)

	failed, err := store.Failed(ctx, "prod", "geo/City")
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestUnseen(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.Commit(ctx, Batch{
		Remote: "prod",
		Model:  "geo/City",
		Rows: []RowState{
			{ID: "a", Checksum: "c1"},
			{ID: "b", Checksum: "c2"},
			{ID: "c", Checksum: "c3", Deleted: true},
		},
	}))

	time.Sleep(5 * time.Millisecond)

	since := time.Now()

	time.Sleep(5 * time.Millisecond)

	require.NoError(t, store.Touch(ctx, "prod", "geo/City", []string{"a"}))

	unseen, err := store.Unseen(ctx, "prod", "geo/City", since)
	require.NoError(t, err)
	require.Len(t, unseen, 1)
	assert.Equal(t, "b", unseen[0].ID)
}

func TestListAndReset(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	for _, model := range []string{"geo/Street", "geo/City"} {
		require.NoError(t, store.Save(ctx, &State{Remote: "prod", Model: model, LastRevision: "r"}))
	}

	require.NoError(t, store.Save(ctx, &State{Remote: "test", Model: "geo/City"}))

	states, err := store.List(ctx, "prod")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "geo/City", states[0].Model)
	assert.Equal(t, "geo/Street", states[1].Model)

	require.NoError(t, store.Reset(ctx, "prod", "geo/City"))

	_, ok, err := store.Get(ctx, "prod", "geo/City")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.Get(ctx, "test", "geo/City")
	require.NoError(t, err)
	assert.True(t, ok)
}
