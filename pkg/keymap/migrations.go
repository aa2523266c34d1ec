package keymap

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"
)

// Known migrations, in the order they are applied
const (
	MigrationInitial   = "sql_keymap_initial"
	MigrationRedirect  = "sql_keymap_redirect"
	MigrationModified  = "sql_keymap_modified"
	MigrationValueHash = "sql_keymap_value_hash"
	MigrationSync      = "sql_keymap_sync"
)

type migration struct {
	name  string
	apply func(ctx context.Context, tx *sql.Tx, tables []string) error
}

//nolint:gochecknoglobals // Ordered migration registry
var migrations = []migration{
	{name: MigrationInitial, apply: migrateInitial},
	{name: MigrationRedirect, apply: migrateRedirect},
	{name: MigrationModified, apply: migrateModified},
	{name: MigrationValueHash, apply: migrateValueHash},
	{name: MigrationSync, apply: migrateSync},
}

// Migrations returns the names of every known migration in order
func Migrations() []string {
	names := make([]string, 0, len(migrations))
	for _, m := range migrations {
		names = append(names, m.name)
	}

	return names
}

// Pending returns migrations that are not applied yet
func (s *Store) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.missing)
}

func (s *Store) bootstrap(ctx context.Context) error {
	hasLog, err := tableExists(ctx, s.db, "_migrations")
	if err != nil {
		return err
	}

	tables, err := modelTables(ctx, s.db)
	if err != nil {
		return err
	}

	if !hasLog && len(tables) == 0 {
		s.log.Debug("Bootstrapping empty keymap")

		_, err := s.upgrade(ctx, Migrations())

		return err
	}

	applied, err := s.applied(ctx, hasLog)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.missing = missing(applied)
	s.mu.Unlock()

	if len(s.missing) > 0 {
		s.log.WithField("missing", s.missing).Warn("Keymap requires migrations")
	}

	return nil
}

func (s *Store) applied(ctx context.Context, hasLog bool) (map[string]bool, error) {
	applied := make(map[string]bool)
	if !hasLog {
		return applied, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT migration FROM _migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read keymap migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		applied[name] = true
	}

	return applied, rows.Err()
}

func missing(applied map[string]bool) []string {
	var out []string

	for _, m := range migrations {
		if !applied[m.name] {
			out = append(out, m.name)
		}
	}

	return out
}

// Upgrade applies every pending migration in declared order and returns the
// names it applied. Each migration runs in its own transaction and is safe to
// re-run after a partial failure.
func (s *Store) Upgrade(ctx context.Context) ([]string, error) {
	return s.upgrade(ctx, s.Pending())
}

func (s *Store) upgrade(ctx context.Context, pending []string) ([]string, error) {
	var done []string

	for _, m := range migrations {
		if !slices.Contains(pending, m.name) {
			continue
		}

		if err := s.applyMigration(ctx, m); err != nil {
			return done, err
		}

		done = append(done, m.name)

		s.mu.Lock()
		s.missing = slices.DeleteFunc(s.missing, func(name string) bool { return name == m.name })
		s.mu.Unlock()

		s.log.WithField("migration", m.name).Info("Applied keymap migration")
	}

	return done, nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %s: %w", m.name, err)
	}

	tables, err := modelTables(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := m.apply(ctx, tx, tables); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %s: %w", m.name, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO _migrations (migration, applied_at) VALUES (?, ?) ON CONFLICT (migration) DO NOTHING",
		m.name, formatTime(time.Now()),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration %s: %w", m.name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m.name, err)
	}

	return nil
}

func columns(ctx context.Context, tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quote(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)

	for rows.Next() {
		var (
			cid      int
			name     string
			typ      string
			notNull  int
			dflt     sql.NullString
			primaryK int
		)

		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &primaryK); err != nil {
			return nil, err
		}

		cols[name] = true
	}

	return cols, rows.Err()
}

func addColumn(ctx context.Context, tx *sql.Tx, table, column, definition string) error {
	cols, err := columns(ctx, tx, table)
	if err != nil {
		return err
	}

	if cols[column] {
		return nil
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quote(table), column, definition)); err != nil {
		return fmt.Errorf("failed to add %s.%s: %w", table, column, err)
	}

	return nil
}

func migrateInitial(ctx context.Context, tx *sql.Tx, _ []string) error {
	_, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
	migration TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
)`)

	return err
}

// migrateRedirect adds the redirect column and narrows value_hash uniqueness
// to entries that are not redirected
func migrateRedirect(ctx context.Context, tx *sql.Tx, tables []string) error {
	for _, table := range tables {
		if err := addColumn(ctx, tx, table, "redirect", "TEXT NULL"); err != nil {
			return err
		}

		stmts := []string{
			fmt.Sprintf("DROP INDEX IF EXISTS %s", quote(table+".value_hash")),
			fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (value_hash) WHERE redirect IS NULL", quote(table+".value_hash.current"), quote(table)),
		}

		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to index %s: %w", table, err)
			}
		}
	}

	return nil
}

func migrateModified(ctx context.Context, tx *sql.Tx, tables []string) error {
	for _, table := range tables {
		if err := addColumn(ctx, tx, table, "modified_at", "TEXT NULL"); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (modified_at)", quote(table+".modified_at"), quote(table))); err != nil {
			return fmt.Errorf("failed to index %s: %w", table, err)
		}
	}

	return nil
}

// migrateValueHash recomputes value and value_hash of every entry with the
// canonical encoding. Entries whose values collapse onto one hash are
// redirected to the oldest of them.
func migrateValueHash(ctx context.Context, tx *sql.Tx, tables []string) error {
	for _, table := range tables {
		if err := rehash(ctx, tx, table); err != nil {
			return err
		}
	}

	return nil
}

func rehash(ctx context.Context, tx *sql.Tx, table string) error {
	type row struct {
		key      string
		value    string
		redirect sql.NullString
	}

	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT key, value, redirect FROM %s ORDER BY rowid", quote(table)))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", table, err)
	}

	var all []row

	for rows.Next() {
		var r row
		if err := rows.Scan(&r.key, &r.value, &r.redirect); err != nil {
			rows.Close()
			return err
		}

		all = append(all, r)
	}

	rows.Close()

	if err := rows.Err(); err != nil {
		return err
	}

	// Null out hashes first so intermediate states never trip the unique index
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET value_hash = 'rehash:' || key", quote(table))); err != nil {
		return fmt.Errorf("failed to reset %s hashes: %w", table, err)
	}

	current := make(map[string]string)

	for _, r := range all {
		value, err := Parse([]byte(r.value))
		if err != nil {
			return fmt.Errorf("%s %s: %w", table, r.key, err)
		}

		data, hash, err := HashValue(value)
		if err != nil {
			return fmt.Errorf("%s %s: %w", table, r.key, err)
		}

		redirect := r.redirect
		if !redirect.Valid {
			if owner, ok := current[hash]; ok {
				redirect = sql.NullString{String: owner, Valid: true}
			} else {
				current[hash] = r.key
			}
		}

		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET value = ?, value_hash = ?, redirect = ? WHERE key = ?", quote(table)),
			string(data), hash, redirect, r.key,
		); err != nil {
			return fmt.Errorf("failed to rehash %s %s: %w", table, r.key, err)
		}
	}

	return nil
}

func migrateSync(ctx context.Context, tx *sql.Tx, _ []string) error {
	_, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _sync (
	model TEXT PRIMARY KEY,
	cid INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
)`)

	return err
}
