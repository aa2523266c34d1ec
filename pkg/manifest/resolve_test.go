package manifest

import (
	"testing"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolveFixture(t *testing.T) *Manifest {
	t.Helper()

	m, err := Load([]Row{
		{Dataset: "geo"},
		{Model: "Place", Ref: "id"},
		{Property: "id", Type: "integer"},
		{Property: "founded", Type: "date"},
		{Model: "Country", Ref: "code"},
		{Property: "code", Type: "string"},
		{Property: "name", Type: "string"},
		{Property: "population", Type: "integer"},
		{Base: "Place"},
		{Model: "City", Ref: "id"},
		{Property: "id", Type: "integer"},
		{Property: "country", Type: "ref", Ref: "Country"},
		{Property: "country.name", Type: "string"},
	})
	require.NoError(t, err)

	return m
}

func TestResolvePrecedence(t *testing.T) {
	m := resolveFixture(t)
	city, _ := m.Model("geo/City")
	country, _ := m.Model("geo/Country")
	place, _ := m.Model("geo/Place")

	tests := []struct {
		name  string
		path  string
		model *Model
		owner *Model
	}{
		{name: "exact match", path: "id", model: city, owner: city},
		{name: "denorm shadows the referenced property", path: "country.name", model: city, owner: city},
		{name: "through the ref", path: "country.population", model: city, owner: country},
		{name: "from the base", path: "founded", model: city, owner: place},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prop, err := tt.model.Resolve(tt.path)
			require.NoError(t, err)
			assert.Same(t, tt.owner, prop.Model)
		})
	}
}

func TestResolveUnknown(t *testing.T) {
	m := resolveFixture(t)
	city, _ := m.Model("geo/City")

	for _, path := range []string{"missing", "country.missing", "id.x"} {
		t.Run(path, func(t *testing.T) {
			_, err := city.Resolve(path)
			require.ErrorIs(t, err, ErrUnknownProperty)
			assert.Equal(t, errcode.UnknownProperty, errcode.Of(err))
		})
	}
}

func TestFilter(t *testing.T) {
	m, err := Load([]Row{
		{Dataset: "a"},
		{Model: "X"},
		{Property: "v", Type: "string"},
		{Dataset: "b"},
		{Model: "Y"},
		{Property: "v", Type: "string"},
	})
	require.NoError(t, err)

	all, err := m.Filter()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	only, err := m.Filter("b")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "b/Y", only[0].Name)

	_, err = m.Filter("c")
	assert.Equal(t, errcode.UnknownDatasetInConfig, errcode.Of(err))
}
