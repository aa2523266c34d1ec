package migrate

import (
	"testing"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDesiredColumns(t *testing.T) {
	p := newPlanner()

	s := schema(t, p,
		manifest.Row{Model: "Country", Ref: "code"},
		manifest.Row{Property: "code", Type: "string"},
		manifest.Row{Model: "City"},
		manifest.Row{Property: "name@lt", Type: "text"},
		manifest.Row{Property: "country", Type: "ref", Ref: "Country", Level: "3"},
		manifest.Row{Property: "capital", Type: "ref", Ref: "Country"},
		manifest.Row{Property: "flag", Type: "file"},
		manifest.Row{Property: "shape", Type: "geometry(polygon,3346)"},
		manifest.Row{Property: "status", Type: "enum"},
		manifest.Row{Source: "A", Prepare: "1"},
		manifest.Row{Source: "B", Prepare: "2"},
		manifest.Row{Property: "address", Type: "object"},
		manifest.Row{Property: "address.street", Type: "string"},
		manifest.Row{Property: "tags", Type: "array"},
	)

	names := make([]string, 0)
	for _, tbl := range s.Tables() {
		names = append(names, tbl.Name)
	}

	assert.Equal(t, []string{
		"example/Country", "example/Country/:changelog",
		"example/City", "example/City/:changelog",
	}, names)

	city, ok := s.Table("example/City")
	require.True(t, ok)

	want := map[string]string{
		"_id":                "UUID",
		"_revision":          "TEXT",
		"name":               "JSONB",
		"country.code":       "TEXT",
		"capital._id":        "UUID",
		"flag._id":           "TEXT",
		"flag._content_type": "TEXT",
		"flag._size":         "INTEGER",
		"flag._content":      "BYTEA",
		"shape":              "geometry(POLYGON,3346)",
		"status":             "INTEGER",
		"address.street":     "TEXT",
		"tags":               "JSONB",
	}

	for name, typ := range want {
		col, ok := city.Column(name)
		if assert.True(t, ok, name) {
			assert.Equal(t, typ, col.Type, name)
		}
	}

	_, ok = city.Column("address")
	assert.False(t, ok, "objects are flattened")

	id, _ := city.Column("_id")
	assert.False(t, id.Nullable)

	fk, ok := city.Constraint("fk_example/City_capital._id")
	require.True(t, ok)
	assert.Equal(t, "example/Country", fk.RefTable)
	assert.Equal(t, []string{"_id"}, fk.RefColumns)

	gist, ok := city.Index("ix_example/City_shape")
	require.True(t, ok)
	assert.Equal(t, "GIST", gist.Method)

	_, ok = city.Index("ix_example/City_capital._id")
	assert.True(t, ok)
}

func TestDesiredRejectsCycles(t *testing.T) {
	p := newPlanner()

	m, err := manifest.Load([]manifest.Row{
		{Dataset: "example"},
		{Model: "A"},
		{Property: "b", Type: "ref", Ref: "B"},
		{Model: "B"},
		{Property: "a", Type: "ref", Ref: "A"},
	})
	require.NoError(t, err)

	_, err = p.Desired(m.Models())
	require.Error(t, err)
	assert.Equal(t, errcode.ReferenceCycle, errcode.Of(err))
}
