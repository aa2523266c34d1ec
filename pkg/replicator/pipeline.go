package replicator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/cursor"
	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/keymap"
	"github.com/atviriduomenys/spinta-sync/pkg/lock"
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/atviriduomenys/spinta-sync/pkg/observability"
	"github.com/atviriduomenys/spinta-sync/pkg/pushstate"
	"github.com/atviriduomenys/spinta-sync/pkg/remote"
	"github.com/atviriduomenys/spinta-sync/pkg/source"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Row outcomes recorded in metrics
const (
	statusOK      = "ok"
	statusFailed  = "failed"
	statusSkipped = "skipped"
)

// pipeline pushes one model
type pipeline struct {
	run     *run
	model   *manifest.Model
	log     logrus.FieldLogger
	summary ModelSummary
}

func (r *run) pushModel(ctx context.Context, model *manifest.Model) error {
	start := time.Now()

	p := &pipeline{
		run:     r,
		model:   model,
		log:     r.log.WithField("model", model.Name),
		summary: ModelSummary{Model: model.Name},
	}

	defer func() {
		p.summary.Duration = time.Since(start)
		r.record(p.summary)
	}()

	if r.persist {
		lease, err := r.deps.Locker.Acquire(ctx, lock.PushKey(r.deps.Remote, model.Name))
		if err != nil {
			return fmt.Errorf("failed to lock %s: %w", model.Name, err)
		}

		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				p.log.WithError(err).Warn("Failed to release push lock")
			}
		}()
	}

	p.log.Debug("Pushing model")

	err := p.push(ctx)
	if err != nil {
		observability.RecordError("replicator", string(errcode.Of(err)))
		return err
	}

	p.log.WithFields(logrus.Fields{
		"read":    p.summary.Read,
		"sent":    p.summary.Sent,
		"skipped": p.summary.Skipped,
		"failed":  p.summary.Failed,
		"deleted": p.summary.Deleted,
	}).Info("Model pushed")

	return nil
}

func (p *pipeline) push(ctx context.Context) error {
	cur, err := p.cursor(ctx)
	if err != nil {
		return err
	}

	if p.run.persist {
		if err := p.retryFailed(ctx); err != nil {
			return err
		}
	}

	scanStart := time.Now()

	reader, err := p.run.sources.Reader(ctx, p.model)
	if err != nil {
		return err
	}

	for rows, err := range source.Scan(ctx, p.run.retrying(reader), p.model, cur) {
		if err != nil {
			return err
		}

		if err := p.page(ctx, rows, cur); err != nil {
			return err
		}
	}

	if !p.run.persist {
		return nil
	}

	if err := p.run.deps.State.Save(ctx, &pushstate.State{Remote: p.run.deps.Remote, Model: p.model.Name, Cursor: cur}); err != nil {
		return err
	}

	if p.run.cfg.Deletes && !p.run.opts.Incremental {
		return p.deleteUnseen(ctx, scanStart)
	}

	return nil
}

// cursor returns the stored cursor for incremental pushes, a fresh one otherwise
func (p *pipeline) cursor(ctx context.Context) (*cursor.Cursor, error) {
	keys := p.model.KeyProperties()
	fresh := cursor.New(p.model.Name, keys, p.run.cfg.PageSize)

	if !p.run.opts.Incremental || !p.run.stateful {
		return fresh, nil
	}

	state, found, err := p.run.deps.State.Get(ctx, p.run.deps.Remote, p.model.Name)
	if err != nil {
		return nil, err
	}

	if !found || state.Cursor == nil {
		return fresh, nil
	}

	if !state.Cursor.Compatible(p.model.Name, keys) {
		p.log.WithField("keys", state.Cursor.Keys).Warn("Stored cursor does not match the model key, starting over")
		return fresh, nil
	}

	state.Cursor.Size = p.run.cfg.PageSize
	state.Cursor.Resume()

	return state.Cursor, nil
}

// page builds the payloads of one page and sends them in chunks. The cursor
// is stored with the last chunk so a resumed push never skips a row.
func (p *pipeline) page(ctx context.Context, rows []source.Row, cur *cursor.Cursor) error {
	p.summary.Read += len(rows)

	batch := make([]outbound, 0, len(rows))
	seen := make(map[string]bool, len(rows))

	for _, row := range rows {
		out, err := p.build(ctx, row)
		if err != nil {
			return err
		}

		if seen[out.payload.ID] {
			p.log.WithField("_id", out.payload.ID).Warn("Duplicate natural key in source, row skipped")
			continue
		}

		seen[out.payload.ID] = true
		batch = append(batch, out)
	}

	batch, err := p.plan(ctx, batch)
	if err != nil {
		return err
	}

	if len(batch) == 0 {
		if p.run.persist {
			return p.run.deps.State.Save(ctx, &pushstate.State{Remote: p.run.deps.Remote, Model: p.model.Name, Cursor: cur})
		}

		return nil
	}

	size := p.run.cfg.ChunkSize

	for start := 0; start < len(batch); start += size {
		end := min(start+size, len(batch))

		var position *cursor.Cursor
		if end == len(batch) {
			position = cur
		}

		if err := p.send(ctx, batch[start:end], position); err != nil {
			return err
		}
	}

	return nil
}

// plan picks the op and revision of every payload from push state and drops
// rows whose content did not change since they were last acknowledged
func (p *pipeline) plan(ctx context.Context, batch []outbound) ([]outbound, error) {
	if !p.run.stateful {
		for i := range batch {
			batch[i].payload.Op = remote.OpInsert
		}

		return batch, nil
	}

	ids := make([]string, len(batch))
	for i, out := range batch {
		ids[i] = out.payload.ID
	}

	known, err := p.run.deps.State.Rows(ctx, p.run.deps.Remote, p.model.Name, ids)
	if err != nil {
		return nil, err
	}

	pending := batch[:0]
	unchanged := make([]string, 0)

	for _, out := range batch {
		prev, ok := known[out.payload.ID]

		switch {
		case ok && !prev.Deleted && prev.Error == "" && prev.Checksum == out.checksum:
			unchanged = append(unchanged, out.payload.ID)
			observability.RecordRowPushed(p.model.Name, remote.OpUpsert, statusSkipped)

			continue
		case ok && !prev.Deleted && prev.Revision != "":
			out.payload.Op = remote.OpUpsert
			out.payload.Revision = prev.Revision
		default:
			out.payload.Op = remote.OpInsert
			out.payload.Revision = uuid.NewString()
		}

		pending = append(pending, out)
	}

	p.summary.Skipped += len(unchanged)

	if p.run.persist {
		if err := p.run.deps.State.Touch(ctx, p.run.deps.Remote, p.model.Name, unchanged); err != nil {
			return nil, err
		}
	}

	return pending, nil
}

// send transmits one chunk and commits its outcome together with position
func (p *pipeline) send(ctx context.Context, chunk []outbound, position *cursor.Cursor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payloads := make([]remote.Payload, len(chunk))
	for i, out := range chunk {
		payloads[i] = out.payload
	}

	if !p.run.persist {
		if _, err := p.run.write(payloads); err != nil {
			return err
		}

		p.summary.Sent += len(payloads)

		return nil
	}

	start := time.Now()

	results, err := p.pushChunk(ctx, payloads)
	if err != nil {
		observability.RecordBatch(p.model.Name, statusFailed, time.Since(start).Seconds())
		return fmt.Errorf("failed to push %s: %w", p.model.Name, err)
	}

	observability.RecordBatch(p.model.Name, statusOK, time.Since(start).Seconds())

	batch := pushstate.Batch{Remote: p.run.deps.Remote, Model: p.model.Name, Cursor: position}
	failed := 0

	for i, res := range results {
		row, ok, err := p.outcome(ctx, chunk[i], res)
		if err != nil {
			return err
		}

		if ok {
			batch.LastRevision = row.Revision
			p.summary.Sent++
		} else {
			failed++
		}

		observability.RecordRowPushed(p.model.Name, chunk[i].payload.Op, rowStatus(ok))
		batch.Rows = append(batch.Rows, row)
	}

	p.summary.Failed += failed

	if err := p.run.deps.State.Commit(ctx, batch); err != nil {
		return err
	}

	return p.run.countFailures(failed)
}

// pushChunk sends payloads as one batch. A batch refused as a whole with
// 409 is resent row by row; a single row refused that way gets a conflict
// result so it is reconciled like a per-row conflict.
func (p *pipeline) pushChunk(ctx context.Context, payloads []remote.Payload) ([]remote.Result, error) {
	sendCtx, cancel := context.WithTimeout(ctx, p.run.cfg.BatchTimeout)
	results, err := p.run.deps.Sink.Push(sendCtx, p.model.Name, payloads)

	cancel()

	if err == nil || !remote.Conflict(err) {
		return results, err
	}

	if len(payloads) == 1 {
		return []remote.Result{{ID: payloads[0].ID, Status: http.StatusConflict}}, nil
	}

	p.log.WithField("rows", len(payloads)).Debug("Batch refused with a conflict, resending row by row")

	results = make([]remote.Result, 0, len(payloads))

	for i := range payloads {
		res, err := p.pushChunk(ctx, payloads[i:i+1])
		if err != nil {
			return nil, err
		}

		results = append(results, res...)
	}

	return results, nil
}

// outcome turns a row result into the row state to store. Revision
// conflicts are reconciled against the remote copy first.
func (p *pipeline) outcome(ctx context.Context, out outbound, res remote.Result) (pushstate.RowState, bool, error) {
	row := pushstate.RowState{ID: out.payload.ID, Checksum: out.checksum, Revision: res.Revision}

	if res.OK() {
		return row, true, nil
	}

	code := res.Code()

	if code == string(errcode.ConflictingRevision) {
		revision, ok, err := p.reconcile(ctx, out.payload)
		if err != nil {
			return row, false, err
		}

		if ok {
			row.Revision = revision
			return row, true, nil
		}
	}

	data, err := json.Marshal(out.payload)
	if err != nil {
		return row, false, fmt.Errorf("failed to keep payload of %s: %w", out.payload.ID, err)
	}

	row.Error = code
	row.Data = data
	row.Revision = out.payload.Revision

	p.log.WithFields(logrus.Fields{"_id": out.payload.ID, "code": code}).Warn("Row rejected by remote")

	return row, false, nil
}

// reconcile accepts the remote revision when the remote row already holds
// the pushed contents
func (p *pipeline) reconcile(ctx context.Context, payload remote.Payload) (string, bool, error) {
	p.summary.Conflicts++

	current, err := p.run.deps.Sink.Get(ctx, p.model.Name, payload.ID)
	if err != nil {
		if errcode.Has(err, errcode.ItemDoesNotExist) {
			observability.RecordConflict(p.model.Name, "escalated")
			return "", false, nil
		}

		return "", false, err
	}

	same, err := sameContents(payload, current)
	if err != nil {
		return "", false, err
	}

	revision, _ := current["_revision"].(string)

	if !same || revision == "" {
		observability.RecordConflict(p.model.Name, "escalated")
		return "", false, nil
	}

	observability.RecordConflict(p.model.Name, "reconciled")
	p.log.WithFields(logrus.Fields{"_id": payload.ID, "_revision": revision}).Debug("Conflict reconciled, remote holds the pushed row")

	return revision, true, nil
}

func sameContents(payload remote.Payload, current map[string]any) (bool, error) {
	want := payload.Data()
	got := make(map[string]any, len(want))

	for name := range want {
		got[name] = current[name]
	}

	a, err := keymap.Canonical(want)
	if err != nil {
		return false, err
	}

	b, err := keymap.Canonical(got)
	if err != nil {
		return false, err
	}

	return bytes.Equal(a, b), nil
}

// retryFailed resends rows the remote rejected in an earlier run
func (p *pipeline) retryFailed(ctx context.Context) error {
	rows, err := p.run.deps.State.Failed(ctx, p.run.deps.Remote, p.model.Name)
	if err != nil {
		return err
	}

	if len(rows) == 0 {
		return nil
	}

	p.log.WithField("rows", len(rows)).Info("Retrying previously failed rows")

	chunk := make([]outbound, 0, len(rows))

	for _, row := range rows {
		var payload remote.Payload
		if err := json.Unmarshal(row.Data, &payload); err != nil {
			return fmt.Errorf("failed to read stored payload of %s: %w", row.ID, err)
		}

		payload.Props = p.manifestOrder(payload.Props)
		chunk = append(chunk, outbound{payload: payload, checksum: row.Checksum})
	}

	size := p.run.cfg.ChunkSize

	for start := 0; start < len(chunk); start += size {
		end := min(start+size, len(chunk))
		before := p.summary.Failed

		if err := p.send(ctx, chunk[start:end], nil); err != nil {
			return err
		}

		p.summary.Retried += (end - start) - (p.summary.Failed - before)
	}

	return nil
}

// manifestOrder puts stored props back in the order the model declares them.
// Props the model no longer declares keep their relative order at the end.
func (p *pipeline) manifestOrder(props []remote.Prop) []remote.Prop {
	byName := make(map[string]remote.Prop, len(props))
	for _, prop := range props {
		byName[prop.Name] = prop
	}

	out := make([]remote.Prop, 0, len(props))

	for _, prop := range p.model.Properties.List() {
		if v, ok := byName[prop.Name]; ok {
			out = append(out, v)
			delete(byName, prop.Name)
		}
	}

	for _, prop := range props {
		if _, ok := byName[prop.Name]; ok {
			out = append(out, prop)
		}
	}

	return out
}

// deleteUnseen deletes rows pushed earlier but missing from the full scan
// that started at since
func (p *pipeline) deleteUnseen(ctx context.Context, since time.Time) error {
	rows, err := p.run.deps.State.Unseen(ctx, p.run.deps.Remote, p.model.Name, since)
	if err != nil {
		return err
	}

	if len(rows) == 0 {
		return nil
	}

	size := p.run.cfg.ChunkSize

	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		if err := p.sendDeletes(ctx, rows[start:end]); err != nil {
			return err
		}
	}

	return nil
}

func (p *pipeline) sendDeletes(ctx context.Context, rows []pushstate.RowState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payloads := make([]remote.Payload, len(rows))
	for i, row := range rows {
		payloads[i] = remote.Payload{Op: remote.OpDelete, Type: p.model.Name, ID: row.ID, Revision: row.Revision}
	}

	results, err := p.run.deps.Sink.Push(ctx, p.model.Name, payloads)
	if err != nil {
		return fmt.Errorf("failed to push deletes of %s: %w", p.model.Name, err)
	}

	batch := pushstate.Batch{Remote: p.run.deps.Remote, Model: p.model.Name}
	failed := 0

	for i, res := range results {
		row := pushstate.RowState{ID: rows[i].ID, Checksum: rows[i].Checksum, Revision: rows[i].Revision, Deleted: true}
		ok := res.OK() || res.Code() == string(errcode.ItemDoesNotExist)

		if ok {
			p.summary.Deleted++
		} else {
			failed++
			row.Deleted = false
			row.Error = res.Code()
			row.Data, _ = json.Marshal(payloads[i])
		}

		observability.RecordRowPushed(p.model.Name, remote.OpDelete, rowStatus(ok))
		batch.Rows = append(batch.Rows, row)
	}

	p.summary.Failed += failed

	if err := p.run.deps.State.Commit(ctx, batch); err != nil {
		return err
	}

	return p.run.countFailures(failed)
}

func rowStatus(ok bool) string {
	if ok {
		return statusOK
	}

	return statusFailed
}
