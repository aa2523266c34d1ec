package keymap

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/observability"
	"github.com/google/uuid"
)

// ops are the keymap operations of one model over a connection or transaction
type ops struct {
	q     querier
	model string
	table string
}

type link struct {
	key   string
	hash  string
	value string
}

// Encode returns the identifier of value, assigning a new UUID on first sight
func (o ops) Encode(ctx context.Context, value any) (string, error) {
	data, hash, err := HashValue(value)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize %s key: %w", o.model, err)
	}

	id, found, err := o.lookupHash(ctx, hash)
	if err != nil {
		return "", err
	}

	observability.RecordKeymapEncode(o.model, found)

	if found {
		return id, nil
	}

	id = uuid.NewString()

	if _, err := o.q.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (key, value_hash, value) VALUES (?, ?, ?)", o.table),
		id, hash, string(data),
	); err != nil {
		return "", fmt.Errorf("failed to insert %s key: %w", o.model, err)
	}

	return id, nil
}

// Lookup returns the current identifier of value without assigning one
func (o ops) Lookup(ctx context.Context, value any) (string, bool, error) {
	_, hash, err := HashValue(value)
	if err != nil {
		return "", false, fmt.Errorf("failed to canonicalize %s key: %w", o.model, err)
	}

	return o.lookupHash(ctx, hash)
}

func (o ops) lookupHash(ctx context.Context, hash string) (string, bool, error) {
	var id string

	err := o.q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT key FROM %s WHERE value_hash = ? AND redirect IS NULL", o.table),
		hash,
	).Scan(&id)
	if isNoRows(err) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("failed to look up %s key: %w", o.model, err)
	}

	return id, true, nil
}

// Decode returns the value of an identifier, following redirects
func (o ops) Decode(ctx context.Context, id string) (any, error) {
	current, err := o.follow(ctx, id)
	if err != nil {
		return nil, err
	}

	return Parse([]byte(current.value))
}

// chain returns every hop from id to the entry that does not redirect
func (o ops) chain(ctx context.Context, id string) ([]link, error) {
	current := id

	var hops []link

	for range maxRedirects + 1 {
		var (
			hop      = link{key: current}
			redirect sql.NullString
		)

		err := o.q.QueryRowContext(ctx,
			fmt.Sprintf("SELECT value_hash, value, redirect FROM %s WHERE key = ?", o.table),
			current,
		).Scan(&hop.hash, &hop.value, &redirect)
		if isNoRows(err) {
			return nil, notFound(o.model, current)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read %s entry %s: %w", o.model, current, err)
		}

		hops = append(hops, hop)

		if !redirect.Valid {
			return hops, nil
		}

		current = redirect.String
	}

	return nil, errcode.New(errcode.RedirectCycle, fmt.Errorf("%w: %s %s", ErrRedirectTooLong, o.model, id))
}

func (o ops) follow(ctx context.Context, id string) (link, error) {
	hops, err := o.chain(ctx, id)
	if err != nil {
		return link{}, err
	}

	return hops[len(hops)-1], nil
}

// Redirect marks from as superseded by to. The target must exist and must
// not already lead back to from.
func (o ops) Redirect(ctx context.Context, from, to string) error {
	if from == to {
		return errcode.New(errcode.RedirectCycle, fmt.Errorf("%w: %s %s to itself", ErrRedirectCycle, o.model, from))
	}

	hops, err := o.chain(ctx, to)
	if err != nil {
		return err
	}

	if slices.ContainsFunc(hops, func(h link) bool { return h.key == from }) {
		return errcode.New(errcode.RedirectCycle, fmt.Errorf("%w: %s %s → %s", ErrRedirectCycle, o.model, from, to))
	}

	target := hops[len(hops)-1]

	res, err := o.q.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET redirect = ? WHERE key = ?", o.table),
		to, from,
	)
	if err != nil {
		return fmt.Errorf("failed to redirect %s %s: %w", o.model, from, err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	if _, err := o.q.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (key, value_hash, value, redirect) VALUES (?, ?, ?, ?)", o.table),
		from, target.hash, target.value, to,
	); err != nil {
		return fmt.Errorf("failed to insert %s redirect %s: %w", o.model, from, err)
	}

	return nil
}

// Remap makes id the current identifier of value. An identifier that held
// the value before is redirected to id and returned.
func (o ops) Remap(ctx context.Context, value any, id string) (string, error) {
	data, hash, err := HashValue(value)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize %s key: %w", o.model, err)
	}

	previous, found, err := o.lookupHash(ctx, hash)
	if err != nil {
		return "", err
	}

	if found && previous == id {
		return "", nil
	}

	if found {
		if _, err := o.q.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET redirect = ? WHERE key = ?", o.table),
			id, previous,
		); err != nil {
			return "", fmt.Errorf("failed to redirect %s %s: %w", o.model, previous, err)
		}
	}

	res, err := o.q.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET value = ?, value_hash = ?, redirect = NULL WHERE key = ?", o.table),
		string(data), hash, id,
	)
	if err != nil {
		return "", fmt.Errorf("failed to update %s %s: %w", o.model, id, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := o.q.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (key, value_hash, value) VALUES (?, ?, ?)", o.table),
			id, hash, string(data),
		); err != nil {
			return "", fmt.Errorf("failed to insert %s %s: %w", o.model, id, err)
		}
	}

	if !found {
		return "", nil
	}

	return previous, nil
}

// Delete removes an entry
func (o ops) Delete(ctx context.Context, id string) error {
	if _, err := o.q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE key = ?", o.table), id); err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", o.model, id, err)
	}

	return nil
}

// UpdateModified raises modified_at of id to ts; older timestamps are ignored
func (o ops) UpdateModified(ctx context.Context, id string, ts time.Time) error {
	stamp := formatTime(ts)

	if _, err := o.q.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET modified_at = ? WHERE key = ? AND (modified_at IS NULL OR modified_at < ?)", o.table),
		stamp, id, stamp,
	); err != nil {
		return fmt.Errorf("failed to update %s %s modified_at: %w", o.model, id, err)
	}

	return nil
}

// MaxModified returns the highest modified_at of the model
func (o ops) MaxModified(ctx context.Context) (time.Time, bool, error) {
	var stamp sql.NullString

	if err := o.q.QueryRowContext(ctx, fmt.Sprintf("SELECT MAX(modified_at) FROM %s", o.table)).Scan(&stamp); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read %s watermark: %w", o.model, err)
	}

	if !stamp.Valid {
		return time.Time{}, false, nil
	}

	ts, err := parseTime(stamp.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid %s watermark %q: %w", o.model, stamp.String, err)
	}

	return ts, true, nil
}

// SyncCursor returns the changelog position recorded for the model
func (o ops) SyncCursor(ctx context.Context) (int64, error) {
	var cid int64

	err := o.q.QueryRowContext(ctx, "SELECT cid FROM _sync WHERE model = ?", o.model).Scan(&cid)
	if isNoRows(err) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("failed to read %s sync cursor: %w", o.model, err)
	}

	return cid, nil
}

// SetSyncCursor records the changelog position of the model
func (o ops) SetSyncCursor(ctx context.Context, cid int64) error {
	if _, err := o.q.ExecContext(ctx,
		`INSERT INTO _sync (model, cid, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (model) DO UPDATE SET cid = excluded.cid, updated_at = excluded.updated_at`,
		o.model, cid, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("failed to store %s sync cursor: %w", o.model, err)
	}

	return nil
}

func (o ops) page(ctx context.Context, after int64, size int) ([]Entry, int64, error) {
	rows, err := o.q.QueryContext(ctx,
		fmt.Sprintf("SELECT rowid, key, value_hash, value, redirect, modified_at FROM %s WHERE rowid > ? ORDER BY rowid LIMIT ?", o.table),
		after, size,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to iterate %s: %w", o.model, err)
	}
	defer rows.Close()

	var (
		entries []Entry
		last    int64
	)

	for rows.Next() {
		var (
			entry    = Entry{Model: o.model}
			value    string
			redirect sql.NullString
			modified sql.NullString
		)

		if err := rows.Scan(&last, &entry.Key, &entry.ValueHash, &value, &redirect, &modified); err != nil {
			return nil, 0, err
		}

		if entry.Value, err = Parse([]byte(value)); err != nil {
			return nil, 0, err
		}

		entry.Redirect = redirect.String

		if modified.Valid {
			ts, err := parseTime(modified.String)
			if err != nil {
				return nil, 0, err
			}

			entry.ModifiedAt = &ts
		}

		entries = append(entries, entry)
	}

	return entries, last, rows.Err()
}
