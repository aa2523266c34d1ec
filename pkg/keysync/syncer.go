// Package keysync refreshes the local keymap from a remote changelog
package keysync

import (
	"context"
	"fmt"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/keymap"
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/atviriduomenys/spinta-sync/pkg/observability"
	"github.com/atviriduomenys/spinta-sync/pkg/remote"
	"github.com/sirupsen/logrus"
)

// Result summarizes the sync of one model
type Result struct {
	Model     string
	Applied   int
	Skipped   int
	Redirects int
	Deleted   int
	Watermark time.Time
	// Unauthorized is set when the remote refused the changelog and the model was skipped
	Unauthorized bool
}

// Syncer pulls changelogs into the keymap
type Syncer struct {
	log       logrus.FieldLogger
	keymap    *keymap.Store
	changelog remote.Changelog
	cfg       *Config
}

// New creates a syncer
func New(log logrus.FieldLogger, km *keymap.Store, changelog remote.Changelog, cfg *Config) *Syncer {
	return &Syncer{
		log:       log.WithField("component", "keysync"),
		keymap:    km,
		changelog: changelog,
		cfg:       cfg,
	}
}

// Sync syncs every model in order. A model the remote refuses to serve is
// logged and skipped; any other failure stops the sync.
func (s *Syncer) Sync(ctx context.Context, models []*manifest.Model) ([]Result, error) {
	if err := s.keymap.Check(); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(models))

	for _, model := range models {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, err := s.SyncModel(ctx, model)
		if err != nil && !res.Unauthorized {
			return results, err
		}

		results = append(results, res)
	}

	return results, nil
}

// SyncModel applies the changelog of one model since the stored position.
// When the remote refuses access the result is marked Unauthorized and the
// error carries UnauthorizedKeymapSync.
func (s *Syncer) SyncModel(ctx context.Context, model *manifest.Model) (Result, error) {
	res := Result{Model: model.Name}
	name := model.IdentityModel().Name

	log := s.log.WithField("model", model.Name)

	watermark, hasWatermark, err := s.keymap.MaxModified(ctx, name)
	if err != nil {
		return res, err
	}

	cid, err := s.keymap.SyncCursor(ctx, name)
	if err != nil {
		return res, err
	}

	for {
		changes, err := s.changelog.Changes(ctx, model.Name, cid, s.cfg.PageSize)
		if err != nil {
			if remote.Unauthorized(err) {
				res.Unauthorized = true
				observability.RecordError("keysync", string(errcode.UnauthorizedKeymapSync))
				log.WithError(err).Warn("Remote refused changelog, skipping keymap sync")

				return res, errcode.New(errcode.UnauthorizedKeymapSync, fmt.Errorf("keymap sync of %s: %w", model.Name, err))
			}

			return res, err
		}

		if len(changes) == 0 {
			break
		}

		next := changes[len(changes)-1].CID + 1

		err = s.keymap.WithTx(ctx, name, func(tx *keymap.Tx) error {
			for _, change := range changes {
				if hasWatermark && change.Created.Before(watermark) {
					res.Skipped++
					continue
				}

				if err := s.apply(ctx, tx, model, change, &res); err != nil {
					return err
				}
			}

			return tx.SetSyncCursor(ctx, next)
		})
		if err != nil {
			return res, fmt.Errorf("failed to apply changes of %s: %w", model.Name, err)
		}

		cid = next

		log.WithFields(logrus.Fields{"cid": cid, "changes": len(changes)}).Debug("Applied changelog page")

		if len(changes) < s.cfg.PageSize {
			break
		}
	}

	if ts, ok, err := s.keymap.MaxModified(ctx, name); err != nil {
		return res, err
	} else if ok {
		res.Watermark = ts
		observability.RecordWatermark(model.Name, float64(ts.Unix()))
	}

	log.WithFields(logrus.Fields{
		"applied":   res.Applied,
		"skipped":   res.Skipped,
		"redirects": res.Redirects,
	}).Info("Keymap synced")

	return res, nil
}

func (s *Syncer) apply(ctx context.Context, tx *keymap.Tx, model *manifest.Model, change remote.Change, res *Result) error {
	switch change.Op {
	case remote.OpDelete:
		if s.cfg.DeletePolicy == DeleteRemove {
			if err := tx.Delete(ctx, change.ID); err != nil {
				return err
			}

			res.Deleted++
			res.Applied++
			observability.RecordSyncChange(model.Name, change.Op)

			return nil
		}
	default:
		key, ok := NaturalKey(model, change.Data)
		if !ok {
			if change.Op != remote.OpPatch {
				s.log.WithFields(logrus.Fields{"model": model.Name, "_id": change.ID, "_cid": change.CID}).
					Debug("Change carries no natural key, skipping")

				res.Skipped++

				return nil
			}

			break
		}

		previous, err := tx.Remap(ctx, keymap.KeyValue(key), change.ID)
		if err != nil {
			return err
		}

		if previous != "" {
			res.Redirects++
		}
	}

	if !change.Created.IsZero() {
		if err := tx.UpdateModified(ctx, change.ID, change.Created); err != nil {
			return err
		}
	}

	res.Applied++
	observability.RecordSyncChange(model.Name, change.Op)

	return nil
}
