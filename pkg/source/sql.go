package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

type sqlReader struct {
	db       *sql.DB
	dialect  dialect
	resource *manifest.Resource
	engine   *TemplateEngine
	log      logrus.FieldLogger
}

func openSQL(ctx context.Context, res *manifest.Resource, log logrus.FieldLogger) (*sqlReader, error) {
	scheme, rest := schemeOf(res.Connection)

	var (
		driver string
		dsn    string
		d      dialect
	)

	switch scheme {
	case "sqlite":
		driver, dsn, d = "sqlite3", "file:"+rest+"?mode=ro", dialectSQLite
	case "postgresql", "postgres":
		driver, dsn, d = "postgres", res.Connection, dialectPostgres
	default:
		return nil, errcode.New(errcode.InvalidResourceSource, fmt.Errorf("%w: %q", ErrUnsupportedConnection, res.Connection))
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errcode.New(errcode.UnreachableSource, fmt.Errorf("failed to open %s: %w", res.Name, err))
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errcode.New(errcode.UnreachableSource, fmt.Errorf("failed to connect to %s: %w", res.Name, err))
	}

	return &sqlReader{
		db:       db,
		dialect:  d,
		resource: res,
		engine:   NewTemplateEngine(),
		log:      log,
	}, nil
}

func (r *sqlReader) quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (r *sqlReader) placeholder(n int) string {
	if r.dialect == dialectPostgres {
		return fmt.Sprintf("$%d", n)
	}

	return "?"
}

// from returns the relation rows are selected from: the external source
// table, or the rendered prepare query as a subquery
func (r *sqlReader) from(model *manifest.Model) (string, error) {
	prepare := model.Prepare
	if prepare == "" {
		prepare = r.resource.Prepare
	}

	if prepare == "" {
		return r.quote(model.ExternalSource), nil
	}

	query, err := r.engine.Render(prepare, r.engine.BuildVariables(model))
	if err != nil {
		return "", errcode.New(errcode.InvalidQuery, fmt.Errorf("%s prepare: %w", model.Name, err))
	}

	return "(" + strings.TrimRight(strings.TrimSpace(query), ";") + ") AS src", nil
}

func (r *sqlReader) selectList(cols []Column) string {
	parts := make([]string, 0, len(cols))
	for _, col := range cols {
		parts = append(parts, fmt.Sprintf("%s AS %s", r.quote(col.Name), r.quote(col.Property.Name)))
	}

	return strings.Join(parts, ", ")
}

// keyset builds a strict "greater than after" predicate for keys ordered
// ascending with nulls last
func (r *sqlReader) keyset(keys []string, after []any, args []any) (string, []any) {
	var terms []string

	for i := range keys {
		var parts []string

		for j := 0; j < i; j++ {
			if after[j] == nil {
				parts = append(parts, r.quote(keys[j])+" IS NULL")
				continue
			}

			args = append(args, after[j])
			parts = append(parts, fmt.Sprintf("%s = %s", r.quote(keys[j]), r.placeholder(len(args))))
		}

		if after[i] == nil {
			// Nothing sorts after a null
			continue
		}

		args = append(args, after[i])
		parts = append(parts, fmt.Sprintf("(%s > %s OR %s IS NULL)", r.quote(keys[i]), r.placeholder(len(args)), r.quote(keys[i])))

		terms = append(terms, "("+strings.Join(parts, " AND ")+")")
	}

	if len(terms) == 0 {
		return "1 = 0", args
	}

	return strings.Join(terms, " OR "), args
}

func (r *sqlReader) Read(ctx context.Context, model *manifest.Model, after []any, size int) ([]Row, error) {
	from, err := r.from(model)
	if err != nil {
		return nil, err
	}

	cols := Columns(model)
	keys := model.KeyProperties()

	keyCols := make([]string, len(keys))
	order := make([]string, len(keys))

	for i, key := range keys {
		keyCols[i] = columnOf(model, key)
		order[i] = r.quote(keyCols[i]) + " ASC NULLS LAST"
	}

	query := fmt.Sprintf("SELECT %s FROM %s", r.selectList(cols), from)

	var args []any

	if after != nil {
		if len(after) != len(keys) {
			return nil, fmt.Errorf("%s: %d cursor values for %d keys", model.Name, len(after), len(keys))
		}

		var where string
		where, args = r.keyset(keyCols, after, args)
		query += " WHERE " + where
	}

	query += " ORDER BY " + strings.Join(order, ", ")

	if size > 0 {
		query += fmt.Sprintf(" LIMIT %d", size)
	}

	return r.query(ctx, model, cols, query, args)
}

func (r *sqlReader) Lookup(ctx context.Context, model *manifest.Model, by []string, values []any) (Row, bool, error) {
	from, err := r.from(model)
	if err != nil {
		return nil, false, err
	}

	cols := Columns(model)

	var (
		where []string
		args  []any
	)

	for i, name := range by {
		if i >= len(values) {
			break
		}

		args = append(args, values[i])
		where = append(where, fmt.Sprintf("%s = %s", r.quote(columnOf(model, name)), r.placeholder(len(args))))
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT 2", r.selectList(cols), from, strings.Join(where, " AND "))

	rows, err := r.query(ctx, model, cols, query, args)
	if err != nil {
		return nil, false, err
	}

	switch len(rows) {
	case 0:
		return nil, false, nil
	case 1:
		return rows[0], true, nil
	default:
		return nil, false, errcode.New(errcode.MultipleRowsFound, fmt.Errorf("%w: %s %v = %v", ErrMultipleRows, model.Name, by, values))
	}
}

func (r *sqlReader) query(ctx context.Context, model *manifest.Model, cols []Column, query string, args []any) ([]Row, error) {
	r.log.WithFields(logrus.Fields{"model": model.Name, "query": query}).Debug("Reading source")

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(model, err)
	}
	defer rows.Close()

	var out []Row

	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))

		for i := range raw {
			ptrs[i] = &raw[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(model, err)
		}

		row := make(Row, len(cols))

		for i, col := range cols {
			v, err := Coerce(col.Property, raw[i])
			if err != nil {
				return nil, errcode.New(errcode.SchemaMismatch, fmt.Errorf("%s: %w", model.Name, err))
			}

			row[col.Property.Name] = v
		}

		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(model, err)
	}

	return out, nil
}

func (r *sqlReader) Close() error {
	return r.db.Close()
}

// classify attaches a source error code to a driver error
func classify(model *manifest.Model, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if code, ok := errcode.SQLState(string(pqErr.Code)); ok {
			return errcode.New(code, fmt.Errorf("%s: %w", model.Name, err))
		}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		msg := liteErr.Error()

		switch {
		case strings.Contains(msg, "no such column"):
			return errcode.New(errcode.SchemaMismatch, fmt.Errorf("%s: %w", model.Name, err))
		case liteErr.Code == sqlite3.ErrBusy, liteErr.Code == sqlite3.ErrLocked, liteErr.Code == sqlite3.ErrCantOpen:
			return errcode.New(errcode.UnreachableSource, fmt.Errorf("%s: %w", model.Name, err))
		default:
			return errcode.New(errcode.InvalidQuery, fmt.Errorf("%s: %w", model.Name, err))
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	return errcode.New(errcode.UnreachableSource, fmt.Errorf("%s: %w", model.Name, err))
}
