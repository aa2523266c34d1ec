package cursor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvance(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		pages     []int
		wantState State
	}{
		{name: "fresh", size: 2, pages: nil, wantState: StateFresh},
		{name: "full page keeps paging", size: 2, pages: []int{2}, wantState: StatePaging},
		{name: "short page exhausts", size: 2, pages: []int{2, 1}, wantState: StateExhausted},
		{name: "empty page exhausts", size: 2, pages: []int{2, 0}, wantState: StateExhausted},
		{name: "unbounded exhausts after one page", size: 0, pages: []int{5}, wantState: StateExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("ds/City", []string{"id"}, tt.size)

			for i, k := range tt.pages {
				require.NoError(t, c.Advance([]any{int64(i)}, k))
			}

			assert.Equal(t, tt.wantState, c.State())
		})
	}
}

func TestAdvanceKeepsLastValues(t *testing.T) {
	c := New("ds/City", []string{"country", "id"}, 2)
	assert.Nil(t, c.After())

	require.NoError(t, c.Advance([]any{"LT", int64(2)}, 2))
	assert.Equal(t, []any{"LT", int64(2)}, c.After())

	// An empty page carries no row, so the position stays on the last row
	require.NoError(t, c.Advance(nil, 0))
	assert.True(t, c.Done())
	assert.Equal(t, []any{"LT", int64(2)}, c.LastValues)

	require.ErrorIs(t, c.Advance([]any{"LT"}, 1), ErrKeyMismatch)
}

func TestResetAndResume(t *testing.T) {
	c := New("ds/City", []string{"id"}, 10)
	require.NoError(t, c.Advance([]any{int64(3)}, 3))
	require.True(t, c.Done())

	c.Resume()
	assert.Equal(t, StatePaging, c.State())
	assert.Equal(t, []any{int64(3)}, c.After())

	c.Reset()
	assert.Equal(t, StateFresh, c.State())
	assert.Nil(t, c.After())

	c.Resume()
	assert.Equal(t, StateFresh, c.State())
}

func TestJSON(t *testing.T) {
	c := New("ds/City", []string{"id", "name"}, 100)
	require.NoError(t, c.Advance([]any{int64(7), "Vilnius"}, 100))

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"ds/City","keys":["id","name"],"last_values":[7,"Vilnius"],"size":100,"state":"Paging"}`, string(data))

	var restored Cursor
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, StatePaging, restored.State())
	assert.Equal(t, []any{int64(7), "Vilnius"}, restored.LastValues)
	assert.True(t, restored.Compatible("ds/City", []string{"id", "name"}))
	assert.False(t, restored.Compatible("ds/City", []string{"id"}))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Fresh", StateFresh.String())
	assert.Equal(t, "Exhausted", StateExhausted.String())
	assert.Equal(t, "State(9)", State(9).String())
}
