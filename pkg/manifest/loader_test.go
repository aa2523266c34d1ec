package manifest

import (
	"testing"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileYAML(t *testing.T) {
	m, err := LoadFile("testdata/geo.yaml")
	require.NoError(t, err)

	country, ok := m.Model("datasets/gov/example/Country")
	require.True(t, ok)
	assert.Equal(t, []string{"code"}, country.PrimaryKey)
	assert.Equal(t, "countries", country.ExternalSource)
	assert.True(t, country.Sourced())
	assert.Equal(t, "sql", country.Resource.Type)
	assert.Equal(t, "sqlite:///tmp/geo.db", country.Resource.Connection)

	code, ok := country.Properties.Get("code")
	require.True(t, ok)
	assert.True(t, code.Required)
	assert.True(t, code.Unique)
	assert.Equal(t, AccessProtected, code.Access)

	name, ok := country.Properties.Get("name")
	require.True(t, ok)
	assert.Equal(t, KindText, name.Kind)
	assert.Equal(t, []string{"lt", "en"}, name.Text.Langs)

	kind, ok := country.Properties.Get("kind")
	require.True(t, ok)
	require.NotNil(t, kind.Enum)
	assert.Equal(t, []EnumItem{
		{Source: "V", Prepared: "valstybe"},
		{Source: "T", Prepared: "teritorija"},
	}, kind.Enum.Items)

	city, ok := m.Model("datasets/gov/example/City")
	require.True(t, ok)

	names := make([]string, 0)
	for _, prop := range city.Properties.List() {
		names = append(names, prop.Name)
	}

	assert.Equal(t, []string{"id", "name", "country", "country.code", "location", "tags", "secret"}, names)

	ref, _ := city.Properties.Get("country")
	require.True(t, ref.IsRef())
	assert.Same(t, country, ref.Ref.Model)
	assert.Equal(t, []string{"code"}, ref.Ref.Keys)
	assert.Equal(t, LevelIdentifier, ref.Ref.Level)
	assert.True(t, ref.ByIdentifier())

	denorm, _ := city.Properties.Get("country.code")
	require.NotNil(t, denorm.Denorm)
	assert.Equal(t, KindString, denorm.Kind)
	assert.Same(t, ref, denorm.Denorm.Ref)
	assert.Same(t, code, denorm.Denorm.Target)

	location, _ := city.Properties.Get("location")
	assert.Equal(t, &Geometry{Shape: "POINT", SRID: 3346}, location.Geometry)

	tags, _ := city.Properties.Get("tags")
	assert.Equal(t, KindArray, tags.Kind)
	require.NotNil(t, tags.Items)
	assert.Equal(t, KindString, tags.Items.Kind)

	secret, _ := city.Properties.Get("secret")
	assert.False(t, secret.Exported())
}

func TestLoadFileCSV(t *testing.T) {
	m, err := LoadFile("testdata/geo.csv")
	require.NoError(t, err)

	ds, ok := m.Dataset("datasets/gov/example")
	require.True(t, ok)
	assert.Equal(t, "Example", ds.Title)
	assert.Len(t, ds.Models, 2)

	city, ok := m.Model("datasets/gov/example/City")
	require.True(t, ok)

	ref, _ := city.Properties.Get("country")
	assert.Equal(t, LevelNaturalKey, ref.Ref.Level)
	assert.False(t, ref.ByIdentifier())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		rows []Row
		code errcode.Code
	}{
		{
			name: "unknown type",
			rows: []Row{
				{Dataset: "ds"},
				{Model: "A", Ref: "id"},
				{Property: "id", Type: "bigint"},
			},
			code: errcode.UnsupportedDataTypeConfiguration,
		},
		{
			name: "unknown resource type",
			rows: []Row{
				{Dataset: "ds"},
				{Resource: "r", Type: "ftp"},
			},
			code: errcode.InvalidResourceSource,
		},
		{
			name: "primary key names a missing property",
			rows: []Row{
				{Dataset: "ds"},
				{Model: "A", Ref: "code"},
				{Property: "id", Type: "integer"},
			},
			code: errcode.UnknownProperty,
		},
		{
			name: "ref to a missing model",
			rows: []Row{
				{Dataset: "ds"},
				{Model: "A", Ref: "id"},
				{Property: "id", Type: "integer"},
				{Property: "b", Type: "ref", Ref: "B"},
			},
			code: errcode.UnknownProperty,
		},
		{
			name: "denorm without a ref",
			rows: []Row{
				{Dataset: "ds"},
				{Model: "A", Ref: "id"},
				{Property: "id", Type: "integer"},
				{Property: "id.x", Type: "string"},
			},
			code: errcode.UnknownProperty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.rows)
			require.Error(t, err)
			assert.True(t, errcode.Has(err, tt.code), "got %v", err)
		})
	}
}

func TestLoadPropertyOutsideModel(t *testing.T) {
	_, err := Load([]Row{{Dataset: "ds"}, {Property: "x", Type: "string"}})
	require.ErrorIs(t, err, ErrPropertyOutsideModel)
}

func TestLoadBaseAndRefOrder(t *testing.T) {
	m, err := Load([]Row{
		{Dataset: "ds"},
		{Model: "City", Ref: "id"},
		{Property: "id", Type: "integer"},
		{Property: "country", Type: "ref", Ref: "Country"},
		{Model: "Country", Ref: "code"},
		{Property: "code", Type: "string"},
		{Base: "Country"},
		{Model: "State", Ref: "code"},
		{Property: "code", Type: "string"},
	})
	require.NoError(t, err)

	city, _ := m.Model("ds/City")
	ref, _ := city.Properties.Get("country")
	assert.Equal(t, []string{"code"}, ref.Ref.Keys)

	state, _ := m.Model("ds/State")
	require.NotNil(t, state.Base)
	country, _ := m.Model("ds/Country")
	assert.Same(t, country, state.Base.Model)
	assert.Same(t, country, state.IdentityModel())
	assert.Equal(t, "ds", state.Namespace())
	assert.Equal(t, "State", state.Basename())
}

func TestKeyPropertiesWithoutPrimaryKey(t *testing.T) {
	m, err := Load([]Row{
		{Dataset: "ds"},
		{Model: "Pair"},
		{Property: "left", Type: "string"},
		{Property: "right", Type: "string"},
		{Property: "meta", Type: "object"},
		{Property: "meta.note", Type: "string"},
	})
	require.NoError(t, err)

	pair, _ := m.Model("ds/Pair")
	assert.Equal(t, []string{"left", "right", "meta"}, pair.KeyProperties())
}

func TestParsePrepared(t *testing.T) {
	tests := []struct {
		prepare string
		source  string
		want    any
	}{
		{prepare: "", source: "A", want: "A"},
		{prepare: `"lt"`, source: "LT", want: "lt"},
		{prepare: `'lt'`, source: "LT", want: "lt"},
		{prepare: "3", source: "x", want: int64(3)},
		{prepare: "true", source: "t", want: true},
		{prepare: "null_value", source: "", want: "null_value"},
	}

	for _, tt := range tests {
		t.Run(tt.prepare, func(t *testing.T) {
			assert.Equal(t, tt.want, parsePrepared(tt.prepare, tt.source))
		})
	}
}
