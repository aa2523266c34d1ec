package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

const relationQuery = `(SELECT c.oid FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace WHERE n.nspname = $1 AND c.relname = $2)`

// Postgres reads a schema from the postgres catalog
type Postgres struct {
	db     *sql.DB
	schema string
}

// NewPostgres creates an inspector of one schema
func NewPostgres(db *sql.DB, schema string) *Postgres {
	return &Postgres{db: db, schema: schema}
}

// ListTables implements Inspector
func (p *Postgres) ListTables(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT c.relname
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relkind IN ('r', 'p')
		ORDER BY c.relname`, p.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		tables = append(tables, name)
	}

	return tables, rows.Err()
}

// ListColumns implements Inspector
func (p *Postgres) ListColumns(ctx context.Context, table string) ([]*Column, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT a.attname, format_type(a.atttypid, a.atttypmod), NOT a.attnotnull
		FROM pg_attribute a
		WHERE a.attrelid = `+relationQuery+` AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum`, p.schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []*Column

	for rows.Next() {
		col := &Column{}
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable); err != nil {
			return nil, err
		}

		col.logical = col.Name
		columns = append(columns, col)
	}

	return columns, rows.Err()
}

// ListConstraints implements Inspector
func (p *Postgres) ListConstraints(ctx context.Context, table string) ([]*Constraint, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT con.conname, con.contype::text,
			ARRAY(SELECT a.attname FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum ORDER BY k.ord)::text[],
			COALESCE(ref.relname, ''),
			ARRAY(SELECT a.attname FROM unnest(con.confkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum ORDER BY k.ord)::text[]
		FROM pg_constraint con
		LEFT JOIN pg_class ref ON ref.oid = con.confrelid
		WHERE con.conrelid = `+relationQuery+` AND con.contype IN ('p', 'u', 'f')
		ORDER BY con.conname`, p.schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var constraints []*Constraint

	for rows.Next() {
		var (
			con  Constraint
			kind string
		)

		if err := rows.Scan(&con.Name, &kind, pq.Array(&con.Columns), &con.RefTable, pq.Array(&con.RefColumns)); err != nil {
			return nil, err
		}

		switch kind {
		case "p":
			con.Kind = PrimaryKey
		case "u":
			con.Kind = Unique
		default:
			con.Kind = ForeignKey
		}

		constraints = append(constraints, &con)
	}

	return constraints, rows.Err()
}

// ListIndexes implements Inspector. Indexes backing constraints are left out.
func (p *Postgres) ListIndexes(ctx context.Context, table string) ([]*Index, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT i.relname, am.amname,
			ARRAY(SELECT a.attname FROM unnest(x.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = x.indrelid AND a.attnum = k.attnum ORDER BY k.ord)::text[]
		FROM pg_index x
		JOIN pg_class i ON i.oid = x.indexrelid
		JOIN pg_am am ON am.oid = i.relam
		WHERE x.indrelid = `+relationQuery+`
			AND NOT EXISTS (SELECT 1 FROM pg_constraint con WHERE con.conindid = x.indexrelid)
		ORDER BY i.relname`, p.schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []*Index

	for rows.Next() {
		var (
			idx    Index
			method string
		)

		if err := rows.Scan(&idx.Name, &method, pq.Array(&idx.Columns)); err != nil {
			return nil, err
		}

		if method != "btree" {
			idx.Method = strings.ToUpper(method)
		}

		indexes = append(indexes, &idx)
	}

	return indexes, rows.Err()
}
