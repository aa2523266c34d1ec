package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/sirupsen/logrus"
)

// Registry holds in-memory tables for memory resources
type Registry struct {
	mu     sync.RWMutex
	tables map[string][]map[string]any
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string][]map[string]any)}
}

// Register replaces the rows of a table. Rows are keyed by source column.
func (r *Registry) Register(table string, rows []map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tables[table] = rows
}

// Append adds rows to a table
func (r *Registry) Append(table string, rows ...map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tables[table] = append(r.tables[table], rows...)
}

func (r *Registry) table(name string) ([]map[string]any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, ok := r.tables[name]
	if !ok {
		return nil, errcode.New(errcode.InvalidQuery, fmt.Errorf("%w: %q", ErrUnknownTable, name))
	}

	out := make([]map[string]any, len(rows))
	copy(out, rows)

	return out, nil
}

// tableReader serves csv and memory resources: the whole table is loaded,
// sorted by key and paged in memory
type tableReader struct {
	load  func(table string) ([]map[string]any, error)
	cache bool
	log   logrus.FieldLogger

	mu     sync.Mutex
	sorted map[string][]Row
}

func openCSV(res *manifest.Resource, log logrus.FieldLogger) (*tableReader, error) {
	_, location := schemeOf(res.Connection)

	info, err := os.Stat(location)
	if err != nil {
		return nil, errcode.New(errcode.UnreachableSource, fmt.Errorf("csv resource %s: %w", res.Name, err))
	}

	load := func(table string) ([]map[string]any, error) {
		path := location
		if info.IsDir() {
			path = filepath.Join(location, table)
			if filepath.Ext(path) == "" {
				path += ".csv"
			}
		}

		return readCSV(path)
	}

	return &tableReader{load: load, cache: true, log: log}, nil
}

func readCSV(path string) ([]map[string]any, error) {
	f, err := os.Open(path) //nolint:gosec // Path comes from the manifest resource
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errcode.New(errcode.InvalidQuery, fmt.Errorf("%w: %s", ErrUnknownTable, path))
		}

		return nil, errcode.New(errcode.UnreachableSource, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}

	if err != nil {
		return nil, errcode.New(errcode.InvalidQuery, fmt.Errorf("%s: %w", path, err))
	}

	var rows []map[string]any

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, errcode.New(errcode.InvalidQuery, fmt.Errorf("%s: %w", path, err))
		}

		row := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(record) {
				row[strings.TrimSpace(col)] = record[i]
			} else {
				row[strings.TrimSpace(col)] = ""
			}
		}

		rows = append(rows, row)
	}

	return rows, nil
}

func (t *tableReader) rows(model *manifest.Model) ([]Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cached, ok := t.sorted[model.Name]; ok && t.cache {
		return cached, nil
	}

	raw, err := t.load(model.ExternalSource)
	if err != nil {
		return nil, err
	}

	cols := Columns(model)
	rows := make([]Row, 0, len(raw))

	for i, rec := range raw {
		row := make(Row, len(cols))

		for _, col := range cols {
			v, ok := rec[col.Name]
			if !ok && i == 0 {
				return nil, errcode.New(errcode.SchemaMismatch, fmt.Errorf("%s: source %s has no column %q", model.Name, model.ExternalSource, col.Name))
			}

			if row[col.Property.Name], err = Coerce(col.Property, v); err != nil {
				return nil, errcode.New(errcode.SchemaMismatch, fmt.Errorf("%s: %w", model.Name, err))
			}
		}

		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return compareKeys(KeyOf(model, rows[i]), KeyOf(model, rows[j])) < 0
	})

	if t.cache {
		if t.sorted == nil {
			t.sorted = make(map[string][]Row)
		}

		t.sorted[model.Name] = rows
	}

	return rows, nil
}

func (t *tableReader) Read(_ context.Context, model *manifest.Model, after []any, size int) ([]Row, error) {
	rows, err := t.rows(model)
	if err != nil {
		return nil, err
	}

	start := 0
	if after != nil {
		start = sort.Search(len(rows), func(i int) bool {
			return compareKeys(KeyOf(model, rows[i]), after) > 0
		})
	}

	end := len(rows)
	if size > 0 && start+size < end {
		end = start + size
	}

	out := make([]Row, 0, end-start)
	for _, row := range rows[start:end] {
		out = append(out, copyRow(row))
	}

	return out, nil
}

func (t *tableReader) Lookup(_ context.Context, model *manifest.Model, by []string, values []any) (Row, bool, error) {
	rows, err := t.rows(model)
	if err != nil {
		return nil, false, err
	}

	var found Row

	for _, row := range rows {
		match := true

		for i, name := range by {
			if i >= len(values) || row[name] == nil || compare(row[name], values[i]) != 0 {
				match = false
				break
			}
		}

		if !match {
			continue
		}

		if found != nil {
			return nil, false, errcode.New(errcode.MultipleRowsFound, fmt.Errorf("%w: %s %v = %v", ErrMultipleRows, model.Name, by, values))
		}

		found = row
	}

	if found == nil {
		return nil, false, nil
	}

	return copyRow(found), true, nil
}

func (t *tableReader) Close() error {
	return nil
}

func copyRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}

	return out
}
