// Package pushstate records how far each model was pushed to each remote
package pushstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/cursor"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/sirupsen/logrus"
)

const (
	schemaVersion = 1
	timeLayout    = "2006-01-02T15:04:05.000000000Z"
)

const schema = `
CREATE TABLE IF NOT EXISTS _push_state (
	remote TEXT NOT NULL,
	model TEXT NOT NULL,
	cursor TEXT NULL,
	last_revision TEXT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (remote, model)
);

CREATE TABLE IF NOT EXISTS _push_rows (
	remote TEXT NOT NULL,
	model TEXT NOT NULL,
	id TEXT NOT NULL,
	checksum TEXT NOT NULL,
	revision TEXT NULL,
	pushed_at TEXT NOT NULL,
	seen_at TEXT NOT NULL,
	deleted INTEGER NOT NULL DEFAULT 0,
	error TEXT NULL,
	data TEXT NULL,
	PRIMARY KEY (remote, model, id)
);

CREATE INDEX IF NOT EXISTS _push_rows_error ON _push_rows (remote, model) WHERE error IS NOT NULL;
`

// State is the resumable position of one model on one remote
type State struct {
	Remote       string
	Model        string
	Cursor       *cursor.Cursor
	LastRevision string
	UpdatedAt    time.Time
}

// RowState is what was last sent for one row
type RowState struct {
	ID       string
	Checksum string
	Revision string
	PushedAt time.Time
	SeenAt   time.Time
	Deleted  bool
	// Error is the error code of a rejected row, empty when acknowledged
	Error string
	// Data is the payload sent, kept so failed rows can be retried
	Data json.RawMessage
}

// Batch is one acknowledged batch: its rows and the position it reached
type Batch struct {
	Remote string
	Model  string
	// Cursor is stored when set; batches retrying earlier failures leave it nil
	Cursor       *cursor.Cursor
	LastRevision string
	Rows         []RowState
}

// Store is a sqlite-backed push state store
type Store struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// Open opens or creates the push state database
func Open(ctx context.Context, cfg *Config, log logrus.FieldLogger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate", cfg.Path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open push state: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to push state: %w", err)
	}

	if err := applySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, log: log.WithField("component", "pushstate")}, nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version >= schemaVersion {
		return nil
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply push state schema: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the state of a model on a remote
func (s *Store) Get(ctx context.Context, remote, model string) (*State, bool, error) {
	var (
		raw      sql.NullString
		revision sql.NullString
		updated  string
	)

	err := s.db.QueryRowContext(ctx,
		"SELECT cursor, last_revision, updated_at FROM _push_state WHERE remote = ? AND model = ?",
		remote, model,
	).Scan(&raw, &revision, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to read push state of %s: %w", model, err)
	}

	return decodeState(remote, model, raw, revision, updated)
}

func decodeState(remote, model string, raw, revision sql.NullString, updated string) (*State, bool, error) {
	state := &State{Remote: remote, Model: model, LastRevision: revision.String}

	if raw.Valid && raw.String != "" {
		state.Cursor = &cursor.Cursor{}
		if err := json.Unmarshal([]byte(raw.String), state.Cursor); err != nil {
			return nil, false, fmt.Errorf("invalid cursor of %s: %w", model, err)
		}
	}

	ts, err := time.Parse(timeLayout, updated)
	if err != nil {
		return nil, false, fmt.Errorf("invalid updated_at of %s: %w", model, err)
	}

	state.UpdatedAt = ts

	return state, true, nil
}

// List returns the state of every model pushed to a remote
func (s *Store) List(ctx context.Context, remote string) ([]*State, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT model, cursor, last_revision, updated_at FROM _push_state WHERE remote = ? ORDER BY model",
		remote,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list push state: %w", err)
	}
	defer rows.Close()

	var out []*State

	for rows.Next() {
		var (
			model    string
			raw      sql.NullString
			revision sql.NullString
			updated  string
		)

		if err := rows.Scan(&model, &raw, &revision, &updated); err != nil {
			return nil, err
		}

		state, _, err := decodeState(remote, model, raw, revision, updated)
		if err != nil {
			return nil, err
		}

		out = append(out, state)
	}

	return out, rows.Err()
}

// Save stores the state of a model
func (s *Store) Save(ctx context.Context, state *State) error {
	return saveState(ctx, s.db, state.Remote, state.Model, state.Cursor, state.LastRevision)
}

// Reset forgets the position of a model so the next push starts over
func (s *Store) Reset(ctx context.Context, remote, model string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM _push_state WHERE remote = ? AND model = ?", remote, model); err != nil {
		return fmt.Errorf("failed to reset push state of %s: %w", model, err)
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveState(ctx context.Context, q execer, remote, model string, cur *cursor.Cursor, revision string) error {
	var raw sql.NullString

	if cur != nil {
		data, err := json.Marshal(cur)
		if err != nil {
			return fmt.Errorf("failed to encode cursor of %s: %w", model, err)
		}

		raw = sql.NullString{String: string(data), Valid: true}
	}

	if _, err := q.ExecContext(ctx,
		`INSERT INTO _push_state (remote, model, cursor, last_revision, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (remote, model) DO UPDATE SET
			cursor = COALESCE(excluded.cursor, _push_state.cursor),
			last_revision = COALESCE(excluded.last_revision, _push_state.last_revision),
			updated_at = excluded.updated_at`,
		remote, model, raw, nullString(revision), formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("failed to store push state of %s: %w", model, err)
	}

	return nil
}

// Commit stores the rows and position of an acknowledged batch in one transaction
func (s *Store) Commit(ctx context.Context, batch Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin push state transaction: %w", err)
	}

	now := formatTime(time.Now())

	for _, row := range batch.Rows {
		pushed := now
		if !row.PushedAt.IsZero() {
			pushed = formatTime(row.PushedAt)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO _push_rows (remote, model, id, checksum, revision, pushed_at, seen_at, deleted, error, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (remote, model, id) DO UPDATE SET
				checksum = excluded.checksum,
				revision = COALESCE(excluded.revision, _push_rows.revision),
				pushed_at = excluded.pushed_at,
				seen_at = excluded.seen_at,
				deleted = excluded.deleted,
				error = excluded.error,
				data = excluded.data`,
			batch.Remote, batch.Model, row.ID, row.Checksum, nullString(row.Revision), pushed, now,
			row.Deleted, nullString(row.Error), nullString(string(row.Data)),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to store row %s of %s: %w", row.ID, batch.Model, err)
		}
	}

	if batch.Cursor != nil || batch.LastRevision != "" {
		if err := saveState(ctx, tx, batch.Remote, batch.Model, batch.Cursor, batch.LastRevision); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit push state of %s: %w", batch.Model, err)
	}

	return nil
}

// Touch marks rows as seen in the current scan without changing what was pushed
func (s *Store) Touch(ctx context.Context, remote, model string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	args := []any{formatTime(time.Now()), remote, model}
	for _, id := range ids {
		args = append(args, id)
	}

	query := fmt.Sprintf(
		"UPDATE _push_rows SET seen_at = ? WHERE remote = ? AND model = ? AND id IN (%s)",
		strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "),
	)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark rows of %s: %w", model, err)
	}

	return nil
}

// Rows returns the stored state of the given row ids
func (s *Store) Rows(ctx context.Context, remote, model string, ids []string) (map[string]RowState, error) {
	out := make(map[string]RowState, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := []any{remote, model}
	for _, id := range ids {
		args = append(args, id)
	}

	query := fmt.Sprintf(
		"%s WHERE remote = ? AND model = ? AND id IN (%s)",
		selectRows, strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "),
	)

	rows, err := s.queryRows(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		out[row.ID] = row
	}

	return out, nil
}

// Failed returns rows rejected by the remote, to be retried on the next run
func (s *Store) Failed(ctx context.Context, remote, model string) ([]RowState, error) {
	return s.queryRows(ctx, selectRows+" WHERE remote = ? AND model = ? AND error IS NOT NULL ORDER BY pushed_at, id", remote, model)
}

// Unseen returns live rows not seen since the given time, i.e. rows that
// disappeared from the source during a full scan
func (s *Store) Unseen(ctx context.Context, remote, model string, since time.Time) ([]RowState, error) {
	return s.queryRows(ctx, selectRows+" WHERE remote = ? AND model = ? AND deleted = 0 AND seen_at < ? ORDER BY id", remote, model, formatTime(since))
}

const selectRows = "SELECT id, checksum, revision, pushed_at, seen_at, deleted, error, data FROM _push_rows"

func (s *Store) queryRows(ctx context.Context, query string, args ...any) ([]RowState, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read pushed rows: %w", err)
	}
	defer rows.Close()

	var out []RowState

	for rows.Next() {
		var (
			row      RowState
			revision sql.NullString
			pushed   string
			seen     string
			rowErr   sql.NullString
			data     sql.NullString
		)

		if err := rows.Scan(&row.ID, &row.Checksum, &revision, &pushed, &seen, &row.Deleted, &rowErr, &data); err != nil {
			return nil, err
		}

		row.Revision = revision.String
		row.Error = rowErr.String

		if data.Valid {
			row.Data = json.RawMessage(data.String)
		}

		if row.PushedAt, err = time.Parse(timeLayout, pushed); err != nil {
			return nil, err
		}

		if row.SeenAt, err = time.Parse(timeLayout, seen); err != nil {
			return nil, err
		}

		out = append(out, row)
	}

	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
