package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/lock"
	"github.com/atviriduomenys/spinta-sync/pkg/observability"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Runner applies plans to a postgres target
type Runner struct {
	log    logrus.FieldLogger
	db     *sql.DB
	cfg    *Config
	locker lock.Locker
}

// NewRunner creates a runner. A nil locker relies on the advisory lock alone.
func NewRunner(log logrus.FieldLogger, db *sql.DB, cfg *Config, locker lock.Locker) *Runner {
	cfg.SetDefaults()

	return &Runner{
		log:    log.WithField("component", "migrate"),
		db:     db,
		cfg:    cfg,
		locker: locker,
	}
}

// Inspect reads the current schema of the target
func (r *Runner) Inspect(ctx context.Context) (*Snapshot, error) {
	return Inspect(ctx, NewPostgres(r.db, r.cfg.Schema))
}

// Apply executes every step of plan in one transaction; on any failure the
// transaction is rolled back and the target is left as it was
func (r *Runner) Apply(ctx context.Context, plan *Plan) error {
	if plan.Empty() {
		r.log.Info("Schema is up to date")
		return nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, r.cfg.LockTimeout)
	defer cancel()

	if r.locker != nil {
		lease, err := r.locker.Acquire(lockCtx, lock.MigrateKey(r.cfg.Schema))
		if err != nil {
			return fmt.Errorf("failed to lock migrations: %w", err)
		}

		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				r.log.WithError(err).Warn("Failed to release migration lock")
			}
		}()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError("begin", err)
	}

	committed := false

	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				r.log.WithError(err).Warn("Failed to roll back migration")
			}
		}
	}()

	if _, err := tx.ExecContext(ctx, "SET LOCAL search_path TO "+quote(r.cfg.Schema)); err != nil {
		return mapError("search_path", err)
	}

	if _, err := tx.ExecContext(lockCtx, "SELECT pg_advisory_xact_lock(hashtext($1))", lock.MigrateKey(r.cfg.Schema)); err != nil {
		return mapError("advisory_lock", err)
	}

	start := time.Now()

	for i, step := range plan.Steps {
		if _, err := tx.ExecContext(ctx, step.SQL()); err != nil {
			observability.RecordMigrationStep(step.Kind(), "error")

			r.log.WithFields(logrus.Fields{"step": i + 1, "kind": step.Kind()}).WithError(err).Error("Migration step failed")

			return mapError(step.Kind(), err)
		}

		observability.RecordMigrationStep(step.Kind(), "ok")

		r.log.WithFields(logrus.Fields{"step": i + 1, "kind": step.Kind()}).Debug("Applied migration step")
	}

	if err := tx.Commit(); err != nil {
		return mapError("commit", err)
	}

	committed = true

	r.log.WithFields(logrus.Fields{
		"steps":    len(plan.Steps),
		"duration": time.Since(start),
	}).Info("Applied migration")

	return nil
}

// mapError attaches the code of a postgres error
func mapError(stage string, err error) error {
	wrapped := fmt.Errorf("migration %s failed: %w", stage, err)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if code, ok := errcode.SQLState(string(pqErr.Code)); ok {
			return errcode.New(code, wrapped)
		}
	}

	return wrapped
}
