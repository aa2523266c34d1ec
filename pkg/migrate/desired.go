package migrate

import (
	"fmt"
	"strings"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
)

// System columns of every model table
const (
	columnID       = "_id"
	columnRevision = "_revision"
	columnTxn      = "_txn"
	columnCreated  = "_created"
	columnUpdated  = "_updated"
)

// Desired maps models to the tables the target should have, referenced
// models first. Each model table is followed by its changelog table.
func (n Namer) Desired(models []*manifest.Model) (*Snapshot, error) {
	graph, err := manifest.NewGraph(models)
	if err != nil {
		return nil, err
	}

	tables := make(map[string]string, len(models))
	for _, model := range models {
		tables[model.Name] = n.Fold(model.Name)
	}

	s := NewSnapshot()

	for _, model := range graph.Ordered() {
		t, err := n.table(model, tables)
		if err != nil {
			return nil, err
		}

		s.put(t)
		s.put(n.changelog(t.Name))
	}

	return s, nil
}

func (n Namer) table(model *manifest.Model, tables map[string]string) (*Table, error) {
	t := &Table{Name: tables[model.Name]}

	t.Columns = []*Column{
		{Name: columnID, Type: "UUID", logical: columnID},
		{Name: columnRevision, Type: "TEXT", Nullable: true, logical: columnRevision},
		{Name: columnTxn, Type: "UUID", Nullable: true, logical: columnTxn},
		{Name: columnCreated, Type: "TIMESTAMP", Nullable: true, logical: columnCreated},
		{Name: columnUpdated, Type: "TIMESTAMP", Nullable: true, logical: columnUpdated},
	}
	t.Constraints = []*Constraint{{Name: n.PrimaryKey(t.Name), Kind: PrimaryKey, Columns: []string{columnID}}}

	for _, prop := range model.Properties.List() {
		if err := n.property(t, prop, tables); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", model.Name, prop.Name, err)
		}
	}

	return t, nil
}

func (n Namer) property(t *Table, prop *manifest.Property, tables map[string]string) error {
	switch prop.Kind {
	case manifest.KindBackref, manifest.KindObject:
		return nil
	case manifest.KindRef:
		if prop.Nested() {
			break
		}

		return n.ref(t, prop, tables)
	case manifest.KindFile:
		n.column(t, prop.Name+"._id", "TEXT")
		n.column(t, prop.Name+"._content_type", "TEXT")
		n.column(t, prop.Name+"._size", "INTEGER")
		n.column(t, prop.Name+"._content", "BYTEA")

		return nil
	}

	typ, err := columnType(prop)
	if err != nil {
		return err
	}

	col := n.column(t, prop.Name, typ)

	if prop.Kind == manifest.KindText {
		t.texts = append(t.texts, col.Name)
	}

	if prop.Kind == manifest.KindGeometry {
		t.Indexes = append(t.Indexes, &Index{Name: n.Index(t.Name, col.Name), Columns: []string{col.Name}, Method: "GIST"})
	}

	if prop.Unique {
		t.Constraints = append(t.Constraints, &Constraint{Name: n.Unique(t.Name, col.Name), Kind: Unique, Columns: []string{col.Name}})
	}

	return nil
}

// ref adds the columns of a top-level ref: "<p>._id" with an index and a
// foreign key at level 4, "<p>.<key>" per referenced key at level 3
func (n Namer) ref(t *Table, prop *manifest.Property, tables map[string]string) error {
	target := prop.Ref.Model
	if target == nil {
		return errcode.Errorf(errcode.UnknownProperty, "ref to unknown model %s", prop.Ref.ModelName)
	}

	targetTable, managed := tables[target.Name]
	if !managed {
		targetTable = n.Fold(target.Name)
	}

	ref := refColumns{property: prop.Name, level: prop.Ref.Level, target: targetTable}

	for _, key := range target.KeyProperties() {
		keyProp, err := target.Resolve(key)
		if err != nil {
			return err
		}

		typ, err := columnType(keyProp)
		if err != nil {
			return err
		}

		ref.keys = append(ref.keys, n.Fold(key))
		ref.components = append(ref.components, n.Fold(prop.Name+"."+key))
		ref.types = append(ref.types, typ)
	}

	ref.id = n.Fold(prop.Name + "." + columnID)

	if prop.ByIdentifier() {
		col := n.column(t, prop.Name+"."+columnID, "UUID")
		t.Indexes = append(t.Indexes, &Index{Name: n.Index(t.Name, col.Name), Columns: []string{col.Name}})

		if managed {
			t.Constraints = append(t.Constraints, &Constraint{
				Name:       n.ForeignKey(t.Name, col.Name),
				Kind:       ForeignKey,
				Columns:    []string{col.Name},
				RefTable:   targetTable,
				RefColumns: []string{columnID},
			})
		}
	} else {
		for i, key := range target.KeyProperties() {
			n.column(t, prop.Name+"."+key, ref.types[i])
		}
	}

	t.refs = append(t.refs, ref)

	return nil
}

// column adds a nullable column unless one of that name exists
func (n Namer) column(t *Table, logical, typ string) *Column {
	name := n.Fold(logical)
	if col, ok := t.Column(name); ok {
		return col
	}

	col := &Column{Name: name, Type: typ, Nullable: true, logical: logical}
	t.Columns = append(t.Columns, col)

	return col
}

func (n Namer) changelog(table string) *Table {
	name := n.Changelog(table)

	return &Table{
		Name: name,
		Columns: []*Column{
			{Name: columnID, Type: "BIGINT", logical: columnID},
			{Name: columnRevision, Type: "TEXT", Nullable: true, logical: columnRevision},
			{Name: columnTxn, Type: "UUID", Nullable: true, logical: columnTxn},
			{Name: "_rid", Type: "UUID", Nullable: true, logical: "_rid"},
			{Name: "datetime", Type: "TIMESTAMP", Nullable: true, logical: "datetime"},
			{Name: "action", Type: "TEXT", Nullable: true, logical: "action"},
			{Name: "data", Type: "JSONB", Nullable: true, logical: "data"},
		},
		Constraints: []*Constraint{{Name: n.PrimaryKey(name), Kind: PrimaryKey, Columns: []string{columnID}}},
	}
}

// columnType maps a property kind to its postgres type
func columnType(prop *manifest.Property) (string, error) {
	switch prop.Kind {
	case manifest.KindString, manifest.KindURL, manifest.KindURI:
		return "TEXT", nil
	case manifest.KindInteger:
		return "INTEGER", nil
	case manifest.KindNumber:
		return "FLOAT", nil
	case manifest.KindBoolean:
		return "BOOLEAN", nil
	case manifest.KindDate:
		return "DATE", nil
	case manifest.KindDatetime:
		return "TIMESTAMP", nil
	case manifest.KindTime:
		return "TIME", nil
	case manifest.KindBinary:
		return "BYTEA", nil
	case manifest.KindText, manifest.KindArray, manifest.KindObject:
		return "JSONB", nil
	case manifest.KindRef:
		return "UUID", nil
	case manifest.KindGeometry:
		return geometryType(prop.Geometry), nil
	case manifest.KindEnum:
		return enumType(prop.Enum), nil
	default:
		return "", errcode.Errorf(errcode.UnsupportedDataTypeConfiguration, "no column type for %s", prop.Kind)
	}
}

func geometryType(g *manifest.Geometry) string {
	shape, srid := "GEOMETRY", 0
	if g != nil {
		if g.Shape != "" {
			shape = strings.ToUpper(g.Shape)
		}

		srid = g.SRID
	}

	if srid == 0 {
		return fmt.Sprintf("geometry(%s)", shape)
	}

	return fmt.Sprintf("geometry(%s,%d)", shape, srid)
}

// enumType is INTEGER when every stored value is integral, TEXT otherwise
func enumType(e *manifest.Enum) string {
	if e == nil || len(e.Items) == 0 {
		return "TEXT"
	}

	for _, item := range e.Items {
		switch item.Prepared.(type) {
		case int, int64:
		default:
			return "TEXT"
		}
	}

	return "INTEGER"
}

// geometrySRID returns the SRID of a geometry type, 0 when absent
func geometrySRID(typ string) (int, bool) {
	t := canonicalType(typ)
	if !strings.HasPrefix(t, "geometry") {
		return 0, false
	}

	open := strings.Index(t, "(")
	if open < 0 {
		return 0, true
	}

	args := strings.Split(strings.TrimSuffix(t[open+1:], ")"), ",")
	if len(args) < 2 {
		return 0, true
	}

	var srid int
	if _, err := fmt.Sscanf(args[1], "%d", &srid); err != nil {
		return 0, true
	}

	return srid, true
}
