// Package migrate plans and applies target schema changes for a manifest
package migrate

import (
	"context"
	"fmt"
	"slices"
)

// ConstraintKind is the kind of a table constraint
type ConstraintKind string

// Constraint kinds
const (
	PrimaryKey ConstraintKind = "PRIMARY KEY"
	Unique     ConstraintKind = "UNIQUE"
	ForeignKey ConstraintKind = "FOREIGN KEY"
)

// Column is a physical column
type Column struct {
	Name     string
	Type     string
	Nullable bool

	// logical is the unfolded name of a desired column
	logical string
}

// Constraint is a primary key, unique or foreign key constraint
type Constraint struct {
	Name       string
	Kind       ConstraintKind
	Columns    []string
	RefTable   string
	RefColumns []string
}

// Index is a secondary index not backing a constraint
type Index struct {
	Name    string
	Columns []string
	// Method is the access method, empty for btree
	Method string
}

// Table is a physical table
type Table struct {
	Name        string
	Columns     []*Column
	Constraints []*Constraint
	Indexes     []*Index

	// refs describe how desired ref properties map to columns
	refs []refColumns
	// texts are the columns of language-tagged text properties
	texts []string
}

// refColumns links a ref property to the columns materializing it
type refColumns struct {
	property string
	level    int
	target   string
	// id is the "<p>._id" column of level 4 refs
	id string
	// keys are the referenced key columns and components the "<p>.<key>" columns of level 3 refs
	keys       []string
	components []string
	types      []string
}

// Inspector reads the physical schema of a target
type Inspector interface {
	ListTables(ctx context.Context) ([]string, error)
	ListColumns(ctx context.Context, table string) ([]*Column, error)
	ListConstraints(ctx context.Context, table string) ([]*Constraint, error)
	ListIndexes(ctx context.Context, table string) ([]*Index, error)
}

// Definition renders the constraint body
func (c *Constraint) Definition() string {
	def := fmt.Sprintf("%s (%s)", c.Kind, quoteList(c.Columns))
	if c.Kind == ForeignKey {
		def += fmt.Sprintf(" REFERENCES %s (%s)", quote(c.RefTable), quoteList(c.RefColumns))
	}

	return def
}

// Column returns a column by name
func (t *Table) Column(name string) (*Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}

	return nil, false
}

// Constraint returns a constraint by name
func (t *Table) Constraint(name string) (*Constraint, bool) {
	for _, con := range t.Constraints {
		if con.Name == name {
			return con, true
		}
	}

	return nil, false
}

// Index returns an index by name
func (t *Table) Index(name string) (*Index, bool) {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}

	return nil, false
}

func (t *Table) clone() *Table {
	out := &Table{Name: t.Name, refs: t.refs, texts: t.texts}

	for _, col := range t.Columns {
		c := *col
		out.Columns = append(out.Columns, &c)
	}

	for _, con := range t.Constraints {
		c := *con
		c.Columns = slices.Clone(con.Columns)
		c.RefColumns = slices.Clone(con.RefColumns)
		out.Constraints = append(out.Constraints, &c)
	}

	for _, idx := range t.Indexes {
		i := *idx
		i.Columns = slices.Clone(idx.Columns)
		out.Indexes = append(out.Indexes, &i)
	}

	return out
}

func (t *Table) renameColumn(from, to string) {
	if col, ok := t.Column(from); ok {
		col.Name = to
	}

	for _, con := range t.Constraints {
		replace(con.Columns, from, to)
	}

	for _, idx := range t.Indexes {
		replace(idx.Columns, from, to)
	}
}

// dropColumn removes a column with the constraints and indexes using it
func (t *Table) dropColumn(name string) {
	t.Columns = slices.DeleteFunc(t.Columns, func(c *Column) bool { return c.Name == name })
	t.Constraints = slices.DeleteFunc(t.Constraints, func(c *Constraint) bool { return slices.Contains(c.Columns, name) })
	t.Indexes = slices.DeleteFunc(t.Indexes, func(i *Index) bool { return slices.Contains(i.Columns, name) })
}

func replace(names []string, from, to string) {
	for i, name := range names {
		if name == from {
			names[i] = to
		}
	}
}

// Snapshot is an in-memory schema. It serves as an Inspector for tests and
// as the working copy a plan is computed against.
type Snapshot struct {
	tables map[string]*Table
	order  []string
}

// NewSnapshot creates a snapshot holding tables
func NewSnapshot(tables ...*Table) *Snapshot {
	s := &Snapshot{tables: make(map[string]*Table)}
	for _, t := range tables {
		s.put(t)
	}

	return s
}

// Inspect reads every table of a target into a snapshot
func Inspect(ctx context.Context, ins Inspector) (*Snapshot, error) {
	names, err := ins.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	s := NewSnapshot()

	for _, name := range names {
		t := &Table{Name: name}

		if t.Columns, err = ins.ListColumns(ctx, name); err != nil {
			return nil, fmt.Errorf("failed to list columns of %s: %w", name, err)
		}

		if t.Constraints, err = ins.ListConstraints(ctx, name); err != nil {
			return nil, fmt.Errorf("failed to list constraints of %s: %w", name, err)
		}

		if t.Indexes, err = ins.ListIndexes(ctx, name); err != nil {
			return nil, fmt.Errorf("failed to list indexes of %s: %w", name, err)
		}

		s.put(t)
	}

	return s, nil
}

// Table returns a table by name
func (s *Snapshot) Table(name string) (*Table, bool) {
	t, ok := s.tables[name]

	return t, ok
}

// Tables returns tables in insertion order
func (s *Snapshot) Tables() []*Table {
	out := make([]*Table, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tables[name])
	}

	return out
}

// Clone returns a deep copy
func (s *Snapshot) Clone() *Snapshot {
	out := NewSnapshot()
	for _, t := range s.Tables() {
		out.put(t.clone())
	}

	return out
}

// Apply replays a plan's effect on the snapshot
func (s *Snapshot) Apply(plan *Plan) {
	for _, step := range plan.Steps {
		step.apply(s)
	}
}

func (s *Snapshot) put(t *Table) {
	if _, exists := s.tables[t.Name]; !exists {
		s.order = append(s.order, t.Name)
	}

	s.tables[t.Name] = t
}

func (s *Snapshot) remove(name string) {
	delete(s.tables, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
}

func (s *Snapshot) rename(from, to string) {
	t, ok := s.tables[from]
	if !ok {
		return
	}

	delete(s.tables, from)
	t.Name = to
	s.tables[to] = t
	replace(s.order, from, to)

	for _, other := range s.tables {
		for _, con := range other.Constraints {
			if con.RefTable == from {
				con.RefTable = to
			}
		}
	}
}

// ListTables implements Inspector
func (s *Snapshot) ListTables(context.Context) ([]string, error) {
	return slices.Clone(s.order), nil
}

// ListColumns implements Inspector
func (s *Snapshot) ListColumns(_ context.Context, table string) ([]*Column, error) {
	t, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	return t.clone().Columns, nil
}

// ListConstraints implements Inspector
func (s *Snapshot) ListConstraints(_ context.Context, table string) ([]*Constraint, error) {
	t, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	return t.clone().Constraints, nil
}

// ListIndexes implements Inspector
func (s *Snapshot) ListIndexes(_ context.Context, table string) ([]*Index, error) {
	t, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	return t.clone().Indexes, nil
}
