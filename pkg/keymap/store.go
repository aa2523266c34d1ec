// Package keymap maps the natural keys of models to stable identifiers
package keymap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/sirupsen/logrus"
)

const (
	// maxRedirects bounds how many redirect hops Decode follows
	maxRedirects = 32
	// iterPageSize is how many entries Iter fetches per query
	iterPageSize = 500
	// timeLayout keeps timestamps fixed-width so text order is time order
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Entry is one keymap row
type Entry struct {
	Model      string
	Key        string
	Value      any
	ValueHash  string
	Redirect   string
	ModifiedAt *time.Time
}

// Store is a sqlite-backed keymap with one table per model
type Store struct {
	db  *sql.DB
	log logrus.FieldLogger

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	tables  map[string]bool
	missing []string
}

// Open opens or creates the keymap database. A new empty database is
// bootstrapped with every known migration; an existing one is checked and
// operations fail with KeymapMigrationRequired until Upgrade runs.
func Open(ctx context.Context, cfg *Config, log logrus.FieldLogger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d&_txlock=immediate", cfg.Path, cfg.BusyTimeout)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open keymap: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to keymap: %w", err)
	}

	s := &Store{
		db:     db,
		log:    log.WithField("component", "keymap"),
		locks:  make(map[string]*sync.Mutex),
		tables: make(map[string]bool),
	}

	if err := s.bootstrap(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Check fails with KeymapMigrationRequired when a known migration is not applied
func (s *Store) Check() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.missing) > 0 {
		return errcode.New(errcode.KeymapMigrationRequired, fmt.Errorf("%w %q, run upgrade", ErrMigrationRequired, s.missing[0]))
	}

	return nil
}

func (s *Store) modelLock(model string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[model]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[model] = lock
	}

	return lock
}

// WithTx runs fn inside one transaction. Transactions on the same model are
// serialized, so Encode and Redirect never race for a value.
func (s *Store) WithTx(ctx context.Context, model string, fn func(tx *Tx) error) error {
	if err := s.Check(); err != nil {
		return err
	}

	if strings.HasPrefix(model, "_") || model == "" {
		return fmt.Errorf("%w: %q", ErrReservedModel, model)
	}

	lock := s.modelLock(model)
	lock.Lock()
	defer lock.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin keymap transaction: %w", err)
	}

	s.mu.Lock()
	known := s.tables[model]
	s.mu.Unlock()

	if !known {
		if err := createTable(ctx, sqlTx, model); err != nil {
			_ = sqlTx.Rollback()
			return err
		}
	}

	tx := &Tx{ops: ops{q: sqlTx, model: model, table: quote(model)}}

	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit keymap transaction: %w", err)
	}

	s.mu.Lock()
	s.tables[model] = true
	s.mu.Unlock()

	return nil
}

// reader returns read-only operations on a model, or false if it has no table yet
func (s *Store) reader(ctx context.Context, model string) (ops, bool, error) {
	if err := s.Check(); err != nil {
		return ops{}, false, err
	}

	s.mu.Lock()
	known := s.tables[model]
	s.mu.Unlock()

	if !known {
		exists, err := tableExists(ctx, s.db, model)
		if err != nil {
			return ops{}, false, err
		}

		if !exists {
			return ops{}, false, nil
		}

		s.mu.Lock()
		s.tables[model] = true
		s.mu.Unlock()
	}

	return ops{q: s.db, model: model, table: quote(model)}, true, nil
}

// Encode returns the identifier of value, assigning a new UUID on first sight
func (s *Store) Encode(ctx context.Context, model string, value any) (string, error) {
	var id string

	err := s.WithTx(ctx, model, func(tx *Tx) error {
		var err error
		id, err = tx.Encode(ctx, value)

		return err
	})

	return id, err
}

// Decode returns the value of an identifier, following redirects
func (s *Store) Decode(ctx context.Context, model, id string) (any, error) {
	o, ok, err := s.reader(ctx, model)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, notFound(model, id)
	}

	return o.Decode(ctx, id)
}

// Resolve returns the identifier an identifier finally redirects to
func (s *Store) Resolve(ctx context.Context, model, id string) (string, error) {
	o, ok, err := s.reader(ctx, model)
	if err != nil {
		return "", err
	}

	if !ok {
		return "", notFound(model, id)
	}

	link, err := o.follow(ctx, id)
	if err != nil {
		return "", err
	}

	return link.key, nil
}

// Contains reports whether value has a current identifier
func (s *Store) Contains(ctx context.Context, model string, value any) (bool, error) {
	_, found, err := s.Lookup(ctx, model, value)

	return found, err
}

// Lookup returns the current identifier of value without assigning one
func (s *Store) Lookup(ctx context.Context, model string, value any) (string, bool, error) {
	o, ok, err := s.reader(ctx, model)
	if err != nil || !ok {
		return "", false, err
	}

	return o.Lookup(ctx, value)
}

// Redirect marks from as superseded by to
func (s *Store) Redirect(ctx context.Context, model, from, to string) error {
	return s.WithTx(ctx, model, func(tx *Tx) error {
		return tx.Redirect(ctx, from, to)
	})
}

// UpdateModified raises modified_at of id to ts; older timestamps are ignored
func (s *Store) UpdateModified(ctx context.Context, model, id string, ts time.Time) error {
	return s.WithTx(ctx, model, func(tx *Tx) error {
		return tx.UpdateModified(ctx, id, ts)
	})
}

// MaxModified returns the sync watermark of a model
func (s *Store) MaxModified(ctx context.Context, model string) (time.Time, bool, error) {
	o, ok, err := s.reader(ctx, model)
	if err != nil || !ok {
		return time.Time{}, false, err
	}

	return o.MaxModified(ctx)
}

// Count returns the number of entries of a model, redirects included
func (s *Store) Count(ctx context.Context, model string) (int, error) {
	o, ok, err := s.reader(ctx, model)
	if err != nil || !ok {
		return 0, err
	}

	var n int
	if err := o.q.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", o.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", model, err)
	}

	return n, nil
}

// SyncCursor returns the changelog position recorded for a model
func (s *Store) SyncCursor(ctx context.Context, model string) (int64, error) {
	if err := s.Check(); err != nil {
		return 0, err
	}

	return ops{q: s.db, model: model}.SyncCursor(ctx)
}

// Iter yields every entry of a model in insertion order. Entries are read
// in pages, so the caller may write to the store while iterating.
func (s *Store) Iter(ctx context.Context, model string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		o, ok, err := s.reader(ctx, model)
		if err != nil {
			yield(Entry{}, err)
			return
		}

		if !ok {
			return
		}

		var after int64

		for {
			page, last, err := o.page(ctx, after, iterPageSize)
			if err != nil {
				yield(Entry{}, err)
				return
			}

			for _, entry := range page {
				if !yield(entry, nil) {
					return
				}
			}

			if len(page) < iterPageSize {
				return
			}

			after = last
		}
	}
}

// Models lists models that have a keymap table
func (s *Store) Models(ctx context.Context) ([]string, error) {
	return modelTables(ctx, s.db)
}

// Tx is a keymap transaction bound to one model
type Tx struct {
	ops
}

// Model returns the model the transaction is bound to
func (tx *Tx) Model() string {
	return tx.model
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func notFound(model, id string) error {
	return errcode.New(errcode.ItemDoesNotExist, fmt.Errorf("%w: %s %s", ErrNotFound, model, id))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func tableExists(ctx context.Context, q querier, name string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to inspect keymap: %w", err)
	}

	return n > 0, nil
}

func modelTables(ctx context.Context, q querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE '\_%' ESCAPE '\' AND name NOT LIKE 'sqlite%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keymap tables: %w", err)
	}
	defer rows.Close()

	var names []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		names = append(names, name)
	}

	return names, rows.Err()
}

func createTable(ctx context.Context, q querier, model string) error {
	table := quote(model)

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	value_hash TEXT NOT NULL,
	value TEXT NOT NULL,
	redirect TEXT NULL,
	modified_at TEXT NULL
)`, table),
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (value_hash) WHERE redirect IS NULL", quote(model+".value_hash.current"), table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (modified_at)", quote(model+".modified_at"), table),
	}

	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create keymap table %s: %w", model, err)
		}
	}

	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
