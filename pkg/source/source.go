// Package source streams model rows out of external resources
package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/atviriduomenys/spinta-sync/pkg/cursor"
	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/sirupsen/logrus"
)

// Define static errors
var (
	ErrUnsupportedConnection = errors.New("unsupported resource connection")
	ErrNoResource            = errors.New("model has no resource")
	ErrUnknownTable          = errors.New("unknown source table")
	ErrMultipleRows          = errors.New("lookup matched more than one row")
)

// Row is one source record keyed by property name
type Row map[string]any

// Reader reads pages of a model's rows in strictly increasing key order,
// nulls last
type Reader interface {
	// Read returns at most size rows whose key is greater than after; a nil
	// after starts at the first row and size 0 reads everything
	Read(ctx context.Context, model *manifest.Model, after []any, size int) ([]Row, error)
	// Lookup returns the row whose by properties equal values
	Lookup(ctx context.Context, model *manifest.Model, by []string, values []any) (Row, bool, error)
	// Close releases the underlying connection
	Close() error
}

// Column maps a property to the source column it is read from
type Column struct {
	Property *manifest.Property
	Name     string
}

// Columns returns the columns read for a model, in manifest order. Key
// properties without a source are read from a column named like the property.
func Columns(model *manifest.Model) []Column {
	keys := make(map[string]bool)
	for _, key := range model.KeyProperties() {
		keys[key] = true
	}

	var cols []Column

	for _, prop := range model.Properties.List() {
		if prop.Kind == manifest.KindBackref || prop.Kind == manifest.KindObject {
			continue
		}

		switch {
		case prop.Source != "":
			cols = append(cols, Column{Property: prop, Name: prop.Source})
		case keys[prop.Name]:
			cols = append(cols, Column{Property: prop, Name: prop.Name})
		}
	}

	return cols
}

// columnOf returns the source column of a property path
func columnOf(model *manifest.Model, name string) string {
	for _, col := range Columns(model) {
		if col.Property.Name == name {
			return col.Name
		}
	}

	return name
}

// KeyOf returns the natural key tuple of a row
func KeyOf(model *manifest.Model, row Row) []any {
	keys := model.KeyProperties()

	out := make([]any, len(keys))
	for i, key := range keys {
		out[i] = row[key]
	}

	return out
}

// Open returns a reader for a resource. Memory resources read from registry.
func Open(ctx context.Context, res *manifest.Resource, registry *Registry, log logrus.FieldLogger) (Reader, error) {
	if res == nil {
		return nil, ErrNoResource
	}

	log = log.WithFields(logrus.Fields{"component": "source", "resource": res.Name})

	switch res.Type {
	case manifest.ResourceSQL:
		return openSQL(ctx, res, log)
	case manifest.ResourceCSV:
		return openCSV(res, log)
	case manifest.ResourceMemory:
		if registry == nil {
			registry = NewRegistry()
		}

		return &tableReader{load: registry.table, log: log}, nil
	default:
		return nil, errcode.New(errcode.InvalidResourceSource, fmt.Errorf("%w: %q", ErrUnsupportedConnection, res.Type))
	}
}

// Scan pages through a model from the cursor's position, advancing the
// cursor after every page
func Scan(ctx context.Context, r Reader, model *manifest.Model, cur *cursor.Cursor) iter.Seq2[[]Row, error] {
	return func(yield func([]Row, error) bool) {
		for !cur.Done() {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			rows, err := r.Read(ctx, model, cur.After(), cur.Size)
			if err != nil {
				yield(nil, err)
				return
			}

			var last []any
			if len(rows) > 0 {
				last = KeyOf(model, rows[len(rows)-1])
			}

			if err := cur.Advance(last, len(rows)); err != nil {
				yield(nil, err)
				return
			}

			if len(rows) == 0 {
				return
			}

			if !yield(rows, nil) {
				return
			}
		}
	}
}

// Pool lazily opens one reader per resource and shares it between models
type Pool struct {
	registry *Registry
	log      logrus.FieldLogger

	mu      sync.Mutex
	readers map[*manifest.Resource]Reader
}

// NewPool creates a reader pool
func NewPool(registry *Registry, log logrus.FieldLogger) *Pool {
	return &Pool{
		registry: registry,
		log:      log,
		readers:  make(map[*manifest.Resource]Reader),
	}
}

// Reader returns the reader of a model's resource, opening it on first use
func (p *Pool) Reader(ctx context.Context, model *manifest.Model) (Reader, error) {
	if model.Resource == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoResource, model.Name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if r, ok := p.readers[model.Resource]; ok {
		return r, nil
	}

	r, err := Open(ctx, model.Resource, p.registry, p.log)
	if err != nil {
		return nil, err
	}

	p.readers[model.Resource] = r

	return r, nil
}

// Close closes every opened reader
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error

	for res, r := range p.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", res.Name, err))
		}

		delete(p.readers, res)
	}

	return errors.Join(errs...)
}

func schemeOf(connection string) (scheme, rest string) {
	scheme, rest, ok := strings.Cut(connection, "://")
	if !ok {
		return "", connection
	}

	return strings.ToLower(scheme), rest
}
