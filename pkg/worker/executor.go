package worker

import (
	"context"
	"sync"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/atviriduomenys/spinta-sync/pkg/replicator"
	"github.com/atviriduomenys/spinta-sync/pkg/tasks"
	"github.com/sirupsen/logrus"
)

// Resolver opens the replicator of a remote named by a task
type Resolver func(ctx context.Context, remote string) (*replicator.Replicator, error)

// ModelPusher runs one push task with the replicator of the task's remote
type ModelPusher struct {
	log      logrus.FieldLogger
	manifest *manifest.Manifest
	resolve  Resolver

	mu          sync.RWMutex
	replicators map[string]*replicator.Replicator
}

// NewModelPusher creates a pusher over the manifest. Remotes that are not
// registered are opened with resolve on first use; resolve may be nil.
func NewModelPusher(log logrus.FieldLogger, m *manifest.Manifest, resolve Resolver) *ModelPusher {
	return &ModelPusher{
		log:         log.WithField("component", "model-pusher"),
		manifest:    m,
		resolve:     resolve,
		replicators: make(map[string]*replicator.Replicator),
	}
}

// Register makes a remote available to tasks
func (p *ModelPusher) Register(remote string, r *replicator.Replicator) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.replicators[remote] = r
}

// PushModel pushes one model to one remote
func (p *ModelPusher) PushModel(ctx context.Context, remote, model string, incremental bool) error {
	m, ok := p.manifest.Model(model)
	if !ok {
		return errcode.Errorf(errcode.UnknownProperty, "model %q is not in the manifest", model)
	}

	r, err := p.replicatorFor(ctx, remote)
	if err != nil {
		return err
	}

	summary, err := r.Push(ctx, replicator.Options{
		Models:      []*manifest.Model{m},
		Incremental: incremental,
	})
	if err != nil {
		return err
	}

	if s, found := summary.Model(model); found {
		p.log.WithFields(logrus.Fields{
			"remote":  remote,
			"model":   model,
			"sent":    s.Sent,
			"skipped": s.Skipped,
			"failed":  s.Failed,
			"deleted": s.Deleted,
		}).Debug("Pushed model")
	}

	return nil
}

func (p *ModelPusher) replicatorFor(ctx context.Context, remote string) (*replicator.Replicator, error) {
	p.mu.RLock()
	r, ok := p.replicators[remote]
	p.mu.RUnlock()

	if ok {
		return r, nil
	}

	if p.resolve == nil {
		return nil, errcode.Errorf(errcode.InvalidResourceSource, "remote %q is not configured on this worker", remote)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if r, ok := p.replicators[remote]; ok {
		return r, nil
	}

	r, err := p.resolve(ctx, remote)
	if err != nil {
		return nil, err
	}

	p.replicators[remote] = r

	return r, nil
}

var _ tasks.Pusher = (*ModelPusher)(nil)
