package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/keymap"
	"github.com/atviriduomenys/spinta-sync/pkg/keysync"
	"github.com/atviriduomenys/spinta-sync/pkg/lock"
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/atviriduomenys/spinta-sync/pkg/pushstate"
	"github.com/atviriduomenys/spinta-sync/pkg/remote"
	"github.com/atviriduomenys/spinta-sync/pkg/replicator"
	"github.com/atviriduomenys/spinta-sync/pkg/source"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Engine opens the components a command needs on first use and closes them together
type Engine struct {
	log      logrus.FieldLogger
	config   *Config
	registry *source.Registry

	mu        sync.Mutex
	manifest  *manifest.Manifest
	keymap    *keymap.Store
	state     *pushstate.Store
	sources   *source.Pool
	redis     *goredis.Client
	locker    lock.Locker
	target    *sql.DB
	creds     map[string]remote.Credentials
	clients   map[string]*remote.Client
	replicas  map[string]*replicator.Replicator
	closeFunc []func() error
}

// New creates an engine. The registry backs memory resources and may be nil.
func New(log logrus.FieldLogger, cfg *Config, registry *source.Registry) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if registry == nil {
		registry = source.NewRegistry()
	}

	return &Engine{
		log:      log.WithField("component", "engine"),
		config:   cfg,
		registry: registry,
		clients:  make(map[string]*remote.Client),
		replicas: make(map[string]*replicator.Replicator),
	}, nil
}

// Config returns the configuration
func (e *Engine) Config() *Config {
	return e.config
}

// Manifest loads the configured manifest files once
func (e *Engine) Manifest() (*manifest.Manifest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.manifest != nil {
		return e.manifest, nil
	}

	if len(e.config.Manifest.Paths) == 0 {
		return nil, ErrManifestRequired
	}

	m, err := manifest.LoadFiles(e.config.Manifest.Paths...)
	if err != nil {
		return nil, err
	}

	e.manifest = m

	return m, nil
}

// Models returns the models of the datasets, every model when none is given,
// in dependency order
func (e *Engine) Models(datasets ...string) ([]*manifest.Model, error) {
	m, err := e.Manifest()
	if err != nil {
		return nil, err
	}

	models, err := m.Filter(datasets...)
	if err != nil {
		return nil, err
	}

	graph, err := manifest.NewGraph(models)
	if err != nil {
		return nil, err
	}

	return graph.Ordered(), nil
}

// Keymap opens the keymap store
func (e *Engine) Keymap(ctx context.Context) (*keymap.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.openKeymap(ctx)
}

func (e *Engine) openKeymap(ctx context.Context) (*keymap.Store, error) {
	if e.keymap != nil {
		return e.keymap, nil
	}

	km, err := keymap.Open(ctx, &e.config.Keymap, e.log)
	if err != nil {
		return nil, err
	}

	e.keymap = km
	e.closeFunc = append(e.closeFunc, km.Close)

	return km, nil
}

// PushState opens the push state store
func (e *Engine) PushState(ctx context.Context) (*pushstate.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.openPushState(ctx)
}

func (e *Engine) openPushState(ctx context.Context) (*pushstate.Store, error) {
	if e.state != nil {
		return e.state, nil
	}

	state, err := pushstate.Open(ctx, &e.config.PushState, e.log)
	if err != nil {
		return nil, err
	}

	e.state = state
	e.closeFunc = append(e.closeFunc, state.Close)

	return state, nil
}

func (e *Engine) openSources() *source.Pool {
	if e.sources == nil {
		e.sources = source.NewPool(e.registry, e.log)
		e.closeFunc = append(e.closeFunc, e.sources.Close)
	}

	return e.sources
}

// Redis returns the shared redis client, nil when redis is not configured
func (e *Engine) Redis() (*goredis.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.openRedis()
}

func (e *Engine) openRedis() (*goredis.Client, error) {
	if e.redis != nil || !e.config.Redis.Enabled() {
		return e.redis, nil
	}

	opts, err := e.config.Redis.Options()
	if err != nil {
		return nil, err
	}

	e.redis = goredis.NewClient(opts)
	e.closeFunc = append(e.closeFunc, e.redis.Close)

	return e.redis, nil
}

// RedisOptions returns the redis connection options, nil when redis is not configured
func (e *Engine) RedisOptions() (*goredis.Options, error) {
	if !e.config.Redis.Enabled() {
		return nil, nil
	}

	return e.config.Redis.Options()
}

// Locker returns a redis locker when redis is configured and an in-process one otherwise
func (e *Engine) Locker() (lock.Locker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.openLocker()
}

func (e *Engine) openLocker() (lock.Locker, error) {
	if e.locker != nil {
		return e.locker, nil
	}

	client, err := e.openRedis()
	if err != nil {
		return nil, err
	}

	if client == nil {
		e.locker = lock.NewLocal()
	} else {
		e.locker = lock.NewRedis(e.log, client, e.config.Redis.Prefix, 0)
	}

	return e.locker, nil
}

// Remote opens a client for a remote given as a URL or a credentials
// section name. An empty name uses the configured remote.
func (e *Engine) Remote(ctx context.Context, name string) (*remote.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.openRemote(ctx, name)
}

func (e *Engine) openRemote(ctx context.Context, name string) (*remote.Client, error) {
	if client, ok := e.clients[name]; ok {
		return client, nil
	}

	cfg, creds, err := e.remoteConfig(name)
	if err != nil {
		return nil, err
	}

	client, err := remote.NewClient(ctx, e.log, cfg, creds)
	if err != nil {
		return nil, err
	}

	e.clients[name] = client
	e.closeFunc = append(e.closeFunc, client.Close)

	return client, nil
}

// remoteConfig resolves the connection settings and credentials of a remote
func (e *Engine) remoteConfig(name string) (*remote.Config, *remote.Credentials, error) {
	cfg := e.config.Remote

	switch {
	case name == "":
	case strings.Contains(name, "://"):
		cfg.URL = name
		cfg.Name = ""
	default:
		cfg.Name = name
		cfg.URL = ""
	}

	if cfg.Credentials == "" {
		if cfg.URL == "" {
			return nil, nil, errcode.Errorf(errcode.InvalidResourceSource, "remote %q needs a credentials file", name)
		}

		return &cfg, nil, nil
	}

	if e.creds == nil {
		creds, err := remote.LoadCredentials(cfg.Credentials)
		if err != nil {
			return nil, nil, err
		}

		e.creds = creds
	}

	if cfg.Name == "" {
		if u, err := url.Parse(cfg.URL); err == nil {
			cfg.Name = u.Host
		}
	}

	creds, err := remote.Lookup(e.creds, cfg.Name)
	if err != nil {
		if cfg.URL != "" && errors.Is(err, remote.ErrNoCredentials) {
			e.log.WithField("remote", cfg.Name).Warn("No credentials for remote, sending anonymous requests")
			return &cfg, nil, nil
		}

		return nil, nil, err
	}

	if cfg.URL == "" {
		cfg.URL = creds.Server
	}

	return &cfg, &creds, nil
}

// Syncer creates a keymap syncer reading the changelog of a remote
func (e *Engine) Syncer(ctx context.Context, name string) (*keysync.Syncer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.openSyncer(ctx, name)
}

func (e *Engine) openSyncer(ctx context.Context, name string) (*keysync.Syncer, error) {
	km, err := e.openKeymap(ctx)
	if err != nil {
		return nil, err
	}

	client, err := e.openRemote(ctx, name)
	if err != nil {
		return nil, err
	}

	return keysync.New(e.log, km, client, &e.config.Sync), nil
}

// Replicator creates the replicator pushing to a remote. Refs to models the
// push does not cover are synced from the same remote.
func (e *Engine) Replicator(ctx context.Context, name string) (*replicator.Replicator, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.replicas[name]; ok {
		return r, nil
	}

	km, err := e.openKeymap(ctx)
	if err != nil {
		return nil, err
	}

	state, err := e.openPushState(ctx)
	if err != nil {
		return nil, err
	}

	client, err := e.openRemote(ctx, name)
	if err != nil {
		return nil, err
	}

	syncer, err := e.openSyncer(ctx, name)
	if err != nil {
		return nil, err
	}

	locker, err := e.openLocker()
	if err != nil {
		return nil, err
	}

	r := replicator.New(e.log, &e.config.Push, replicator.Deps{
		Keymap:  km,
		Sources: e.openSources(),
		Sink:    client,
		State:   state,
		Syncer:  syncer,
		Locker:  locker,
		Remote:  client.URL(),
	})

	e.replicas[name] = r

	return r, nil
}

// Exporter creates a replicator that only writes payloads
func (e *Engine) Exporter(ctx context.Context) (*replicator.Replicator, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	km, err := e.openKeymap(ctx)
	if err != nil {
		return nil, err
	}

	return replicator.New(e.log, &e.config.Push, replicator.Deps{
		Keymap:  km,
		Sources: e.openSources(),
	}), nil
}

// Target opens the postgres target database
func (e *Engine) Target(ctx context.Context) (*sql.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.target != nil {
		return e.target, nil
	}

	e.config.Target.SetDefaults()

	if err := e.config.Target.Validate(); err != nil {
		return nil, fmt.Errorf("invalid target configuration: %w", err)
	}

	db, err := sql.Open("postgres", e.config.Target.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open target: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errcode.New(errcode.UnreachableSource, fmt.Errorf("failed to connect to target: %w", err))
	}

	e.target = db
	e.closeFunc = append(e.closeFunc, db.Close)

	return db, nil
}

// Close closes everything opened, last opened first
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error

	for i := len(e.closeFunc) - 1; i >= 0; i-- {
		if err := e.closeFunc[i](); err != nil {
			errs = append(errs, err)
		}
	}

	e.closeFunc = nil

	return errors.Join(errs...)
}
