package migrate

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Step is one schema change
type Step interface {
	// Kind names the step for logs and metrics
	Kind() string
	// SQL renders the statements of the step
	SQL() string

	apply(s *Snapshot)
}

// CreateTable creates a table with its primary key and foreign keys.
// Unique constraints and indexes follow as separate steps. A Sequence
// is created first and used as the default of the first column.
type CreateTable struct {
	Table    *Table
	Sequence string
}

func (c *CreateTable) Kind() string { return "create_table" }

func (c *CreateTable) SQL() string {
	lines := make([]string, 0, len(c.Table.Columns)+len(c.Table.Constraints))

	for i, col := range c.Table.Columns {
		line := "    " + quote(col.Name) + " " + col.Type
		if !col.Nullable {
			line += " NOT NULL"
		}

		if i == 0 && c.Sequence != "" {
			line += fmt.Sprintf(" DEFAULT nextval(%s)", pq.QuoteLiteral(quote(c.Sequence)))
		}

		lines = append(lines, line)
	}

	for _, con := range c.Table.Constraints {
		lines = append(lines, fmt.Sprintf("    CONSTRAINT %s %s", quote(con.Name), con.Definition()))
	}

	stmt := fmt.Sprintf("CREATE TABLE %s (\n%s\n);", quote(c.Table.Name), strings.Join(lines, ",\n"))
	if c.Sequence != "" {
		stmt = fmt.Sprintf("CREATE SEQUENCE %s;\n%s", quote(c.Sequence), stmt)
	}

	return stmt
}

func (c *CreateTable) apply(s *Snapshot) {
	s.put(c.Table.clone())
}

// DropTable drops a table. Only soft-deleted generations are ever dropped.
type DropTable struct {
	Name string
}

func (d *DropTable) Kind() string { return "drop_table" }

func (d *DropTable) SQL() string {
	return fmt.Sprintf("DROP TABLE %s;", quote(d.Name))
}

func (d *DropTable) apply(s *Snapshot) {
	s.remove(d.Name)
}

// RenameTable renames a table together with its changelog and sequence
type RenameTable struct {
	From, To                   string
	FromChangelog, ToChangelog string
	FromSequence, ToSequence   string
}

func (r *RenameTable) Kind() string { return "rename_table" }

func (r *RenameTable) SQL() string {
	stmts := []string{fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", quote(r.From), quote(r.To))}

	if r.FromChangelog != "" {
		stmts = append(stmts,
			fmt.Sprintf("ALTER TABLE IF EXISTS %s RENAME TO %s;", quote(r.FromChangelog), quote(r.ToChangelog)),
			fmt.Sprintf("ALTER SEQUENCE IF EXISTS %s RENAME TO %s;", quote(r.FromSequence), quote(r.ToSequence)),
		)
	}

	return strings.Join(stmts, "\n")
}

func (r *RenameTable) apply(s *Snapshot) {
	s.rename(r.From, r.To)

	if r.FromChangelog != "" {
		s.rename(r.FromChangelog, r.ToChangelog)
	}
}

// AddColumn adds a column
type AddColumn struct {
	Table  string
	Column *Column
}

func (a *AddColumn) Kind() string { return "add_column" }

func (a *AddColumn) SQL() string {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quote(a.Table), quote(a.Column.Name), a.Column.Type)
	if !a.Column.Nullable {
		stmt += " NOT NULL"
	}

	return stmt + ";"
}

func (a *AddColumn) apply(s *Snapshot) {
	if t, ok := s.Table(a.Table); ok {
		col := *a.Column
		t.Columns = append(t.Columns, &col)
	}
}

// DropColumn drops a column. Only soft-deleted generations are ever dropped.
type DropColumn struct {
	Table  string
	Column string
}

func (d *DropColumn) Kind() string { return "drop_column" }

func (d *DropColumn) SQL() string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", quote(d.Table), quote(d.Column))
}

func (d *DropColumn) apply(s *Snapshot) {
	if t, ok := s.Table(d.Table); ok {
		t.dropColumn(d.Column)
	}
}

// RenameColumn renames a column
type RenameColumn struct {
	Table    string
	From, To string
}

func (r *RenameColumn) Kind() string { return "rename_column" }

func (r *RenameColumn) SQL() string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s;", quote(r.Table), quote(r.From), quote(r.To))
}

func (r *RenameColumn) apply(s *Snapshot) {
	if t, ok := s.Table(r.Table); ok {
		t.renameColumn(r.From, r.To)
	}
}

// AlterColumnType changes the type of a column, converting values with Using
type AlterColumnType struct {
	Table  string
	Column string
	Type   string
	Using  string
}

func (a *AlterColumnType) Kind() string { return "alter_column_type" }

func (a *AlterColumnType) SQL() string {
	stmt := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s", quote(a.Table), quote(a.Column), a.Type)
	if a.Using != "" {
		stmt += " USING " + a.Using
	}

	return stmt + ";"
}

func (a *AlterColumnType) apply(s *Snapshot) {
	if t, ok := s.Table(a.Table); ok {
		if col, ok := t.Column(a.Column); ok {
			col.Type = a.Type
		}
	}
}

// AddConstraint adds a named constraint
type AddConstraint struct {
	Table      string
	Constraint *Constraint
}

func (a *AddConstraint) Kind() string { return "add_constraint" }

func (a *AddConstraint) SQL() string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s;", quote(a.Table), quote(a.Constraint.Name), a.Constraint.Definition())
}

func (a *AddConstraint) apply(s *Snapshot) {
	if t, ok := s.Table(a.Table); ok {
		con := *a.Constraint
		t.Constraints = append(t.Constraints, &con)
	}
}

// DropConstraint drops a named constraint
type DropConstraint struct {
	Table string
	Name  string
}

func (d *DropConstraint) Kind() string { return "drop_constraint" }

func (d *DropConstraint) SQL() string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s;", quote(d.Table), quote(d.Name))
}

func (d *DropConstraint) apply(s *Snapshot) {
	if t, ok := s.Table(d.Table); ok {
		for i, con := range t.Constraints {
			if con.Name == d.Name {
				t.Constraints = append(t.Constraints[:i], t.Constraints[i+1:]...)
				return
			}
		}
	}
}

// CreateIndex creates an index, with Method as the access method when set
type CreateIndex struct {
	Table string
	Index *Index
}

func (c *CreateIndex) Kind() string { return "create_index" }

func (c *CreateIndex) SQL() string {
	using := ""
	if c.Index.Method != "" {
		using = " USING " + c.Index.Method
	}

	return fmt.Sprintf("CREATE INDEX %s ON %s%s (%s);", quote(c.Index.Name), quote(c.Table), using, quoteList(c.Index.Columns))
}

func (c *CreateIndex) apply(s *Snapshot) {
	if t, ok := s.Table(c.Table); ok {
		idx := *c.Index
		t.Indexes = append(t.Indexes, &idx)
	}
}

// DropIndex drops an index
type DropIndex struct {
	Table string
	Name  string
}

func (d *DropIndex) Kind() string { return "drop_index" }

func (d *DropIndex) SQL() string {
	return fmt.Sprintf("DROP INDEX %s;", quote(d.Name))
}

func (d *DropIndex) apply(s *Snapshot) {
	if t, ok := s.Table(d.Table); ok {
		for i, idx := range t.Indexes {
			if idx.Name == d.Name {
				t.Indexes = append(t.Indexes[:i], t.Indexes[i+1:]...)
				return
			}
		}
	}
}

// Exec runs a data migration statement
type Exec struct {
	Table     string
	Statement string
}

func (e *Exec) Kind() string { return "exec" }

func (e *Exec) SQL() string {
	return e.Statement
}

func (e *Exec) apply(*Snapshot) {}
