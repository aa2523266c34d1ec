// Package replicator pushes source rows to a remote in dependency order
package replicator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/keymap"
	"github.com/atviriduomenys/spinta-sync/pkg/keysync"
	"github.com/atviriduomenys/spinta-sync/pkg/lock"
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/atviriduomenys/spinta-sync/pkg/pushstate"
	"github.com/atviriduomenys/spinta-sync/pkg/remote"
	"github.com/atviriduomenys/spinta-sync/pkg/source"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Define static errors
var (
	ErrTooManyErrors = errors.New("too many rows failed")
	ErrNoSink        = errors.New("no remote to push to")
	ErrNoOutput      = errors.New("no output to write to")
)

// Deps are the collaborators of a replicator
type Deps struct {
	Keymap  *keymap.Store
	Sources *source.Pool
	// Sink and State may be nil for Export
	Sink  remote.Sink
	State *pushstate.Store
	// Syncer resolves refs to models this run does not push; nil disables it
	Syncer *keysync.Syncer
	// Locker serializes pushes of one (remote, model); defaults to in-process
	Locker lock.Locker
	// Remote names the remote in push state and lock keys
	Remote string
}

// Options select what one push does
type Options struct {
	Models []*manifest.Model
	// Incremental resumes from stored cursors instead of rescanning
	Incremental bool
	// Sync refreshes the keymap of every model from the remote first
	Sync bool
	// DryRun writes payloads to Output instead of sending them
	DryRun bool
	Output io.Writer
}

// ModelSummary counts what happened to one model
type ModelSummary struct {
	Model     string
	Read      int
	Sent      int
	Skipped   int
	Failed    int
	Retried   int
	Deleted   int
	Conflicts int
	Duration  time.Duration
}

// Summary is the outcome of a push
type Summary struct {
	Models []ModelSummary
}

// Model returns the summary of one model
func (s *Summary) Model(name string) (ModelSummary, bool) {
	for _, m := range s.Models {
		if m.Model == name {
			return m, true
		}
	}

	return ModelSummary{}, false
}

// Replicator pushes models to one remote
type Replicator struct {
	log  logrus.FieldLogger
	cfg  *Config
	deps Deps
}

// New creates a replicator
func New(log logrus.FieldLogger, cfg *Config, deps Deps) *Replicator {
	cfg.SetDefaults()

	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}

	return &Replicator{
		log:  log.WithFields(logrus.Fields{"component": "replicator", "remote": deps.Remote}),
		cfg:  cfg,
		deps: deps,
	}
}

// run is the state shared by the model pipelines of one push
type run struct {
	*Replicator

	opts       Options
	keymap     *keymap.Store
	sources    *source.Pool
	controlled map[string]bool

	// persist writes push state; stateful reads it to pick ops and revisions
	persist  bool
	stateful bool
	failed   atomic.Int64

	mu      sync.Mutex
	synced  map[string]bool
	pending map[string]string
	outMu   sync.Mutex
	summary []ModelSummary
}

// Push replicates the models level by level. Models in one level run
// concurrently; a failure stops the push after the running models finish.
func (r *Replicator) Push(ctx context.Context, opts Options) (*Summary, error) {
	if opts.DryRun {
		if opts.Output == nil {
			return nil, ErrNoOutput
		}
	} else if r.deps.Sink == nil || r.deps.State == nil {
		return nil, ErrNoSink
	}

	return r.execute(ctx, opts, !opts.DryRun, r.deps.State != nil)
}

// Export writes the payloads of every model to w as JSON lines without
// touching push state or assigning identifiers in the keymap
func (r *Replicator) Export(ctx context.Context, models []*manifest.Model, w io.Writer) (*Summary, error) {
	return r.execute(ctx, Options{Models: models, DryRun: true, Output: w}, false, false)
}

func (r *Replicator) execute(ctx context.Context, opts Options, persist, stateful bool) (*Summary, error) {
	if err := r.deps.Keymap.Check(); err != nil {
		return nil, err
	}

	graph, err := manifest.NewGraph(opts.Models)
	if err != nil {
		return nil, err
	}

	job := &run{
		Replicator: r,
		opts:       opts,
		keymap:     r.deps.Keymap,
		sources:    r.deps.Sources,
		controlled: make(map[string]bool),
		persist:    persist,
		stateful:   stateful,
		synced:     make(map[string]bool),
		pending:    make(map[string]string),
	}

	for _, model := range opts.Models {
		if model.Sourced() {
			job.controlled[model.Name] = true
		}
	}

	if opts.Sync && r.deps.Syncer != nil {
		if _, err := r.deps.Syncer.Sync(ctx, graph.Ordered()); err != nil {
			return nil, err
		}

		for _, model := range opts.Models {
			job.synced[model.Name] = true
		}
	}

	for i, level := range graph.Levels() {
		if err := ctx.Err(); err != nil {
			return job.result(), err
		}

		r.log.WithFields(logrus.Fields{"level": i, "models": len(level)}).Debug("Pushing dependency level")

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Concurrency)

		for _, model := range level {
			if !model.Sourced() {
				r.log.WithField("model", model.Name).Debug("Model has no source, skipping")
				continue
			}

			g.Go(func() error {
				return job.pushModel(gctx, model)
			})
		}

		if err := g.Wait(); err != nil {
			return job.result(), err
		}
	}

	return job.result(), nil
}

func (r *run) result() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	models := slices.Clone(r.summary)
	index := make(map[string]int, len(r.opts.Models))

	for i, model := range r.opts.Models {
		index[model.Name] = i
	}

	slices.SortFunc(models, func(a, b ModelSummary) int {
		return index[a.Model] - index[b.Model]
	})

	return &Summary{Models: models}
}

func (r *run) record(s ModelSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.summary = append(r.summary, s)
}

// assign returns the identifier of value under model. Runs that persist
// nothing look identifiers up and keep new ones in memory for the run only.
func (r *run) assign(ctx context.Context, model string, value any) (string, error) {
	if r.persist {
		return r.keymap.Encode(ctx, model, value)
	}

	id, found, err := r.keymap.Lookup(ctx, model, value)
	if err != nil || found {
		return id, err
	}

	_, hash, err := keymap.HashValue(value)
	if err != nil {
		return "", err
	}

	key := model + "\x00" + hash

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.pending[key]; ok {
		return id, nil
	}

	id = uuid.NewString()
	r.pending[key] = id

	return id, nil
}

// syncOnce syncs a referenced model the first time one of its identifiers
// is missing. It reports false when nothing more can be learned.
func (r *run) syncOnce(ctx context.Context, model *manifest.Model) bool {
	if r.deps.Syncer == nil {
		return false
	}

	r.mu.Lock()
	done := r.synced[model.Name]
	r.synced[model.Name] = true
	r.mu.Unlock()

	if done {
		return false
	}

	if _, err := r.deps.Syncer.SyncModel(ctx, model); err != nil {
		r.log.WithError(err).WithField("model", model.Name).Warn("Keymap sync of referenced model failed")
		return false
	}

	return true
}

func (r *run) retrying(reader source.Reader) source.Reader {
	return &retryReader{
		Reader:  reader,
		log:     r.log,
		tries:   r.cfg.SourceRetries,
		initial: 200 * time.Millisecond,
	}
}

// write emits payloads as JSON lines
func (r *run) write(rows []remote.Payload) ([]remote.Result, error) {
	r.outMu.Lock()
	defer r.outMu.Unlock()

	enc := json.NewEncoder(r.opts.Output)
	enc.SetEscapeHTML(false)

	results := make([]remote.Result, len(rows))

	for i, row := range rows {
		if err := enc.Encode(row); err != nil {
			return nil, fmt.Errorf("failed to write payload: %w", err)
		}

		results[i] = remote.Result{ID: row.ID, Revision: row.Revision}
	}

	return results, nil
}

// countFailures adds to the shared failure count and reports whether the limit is exceeded
func (r *run) countFailures(n int) error {
	if n == 0 {
		return nil
	}

	total := r.failed.Add(int64(n))
	if r.cfg.MaxErrors > 0 && total > int64(r.cfg.MaxErrors) {
		return fmt.Errorf("%w: %d rows failed, limit is %d", ErrTooManyErrors, total, r.cfg.MaxErrors)
	}

	return nil
}
