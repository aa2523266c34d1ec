// Package lock provides exclusive locks for push pairs and migrations
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	defaultTTL   = 30 * time.Second
	pollInterval = 200 * time.Millisecond
)

// Define static errors
var (
	ErrNotHeld = errors.New("lock is not held")
)

// Locker hands out exclusive locks by key
type Locker interface {
	// Acquire blocks until key is held or ctx ends
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Lease is a held lock
type Lease interface {
	Release(ctx context.Context) error
}

// local locks keys within one process
type local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocal returns an in-process locker
func NewLocal() Locker {
	return &local{slots: make(map[string]chan struct{})}
}

func (l *local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}

	return ch
}

func (l *local) Acquire(ctx context.Context, key string) (Lease, error) {
	ch := l.slot(key)

	select {
	case ch <- struct{}{}:
		return &localLease{ch: ch}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
	}
}

type localLease struct {
	once sync.Once
	ch   chan struct{}
}

func (l *localLease) Release(context.Context) error {
	released := false

	l.once.Do(func() {
		<-l.ch
		released = true
	})

	if !released {
		return ErrNotHeld
	}

	return nil
}

//nolint:gochecknoglobals // Scripts are compiled once and shared
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// distributed locks keys across processes with a Redis lease
type distributed struct {
	log    logrus.FieldLogger
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis returns a locker backed by Redis. Held leases are renewed until released.
func NewRedis(log logrus.FieldLogger, client redis.UniversalClient, prefix string, ttl time.Duration) Locker {
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &distributed{
		log:    log.WithField("component", "lock"),
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (d *distributed) key(key string) string {
	if d.prefix == "" {
		return "lock:" + key
	}

	return d.prefix + ":lock:" + key
}

func (d *distributed) Acquire(ctx context.Context, key string) (Lease, error) {
	redisKey := d.key(key)
	token := uuid.NewString()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ok, err := d.client.SetNX(ctx, redisKey, token, d.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}

		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}

	lease := &redisLease{
		locker: d,
		key:    redisKey,
		token:  token,
		done:   make(chan struct{}),
	}

	lease.wg.Add(1)

	go lease.renew()

	d.log.WithField("key", redisKey).Debug("Acquired lock")

	return lease, nil
}

type redisLease struct {
	locker *distributed
	key    string
	token  string

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

func (l *redisLease) renew() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.locker.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.locker.ttl/3)
			n, err := renewScript.Run(ctx, l.locker.client, []string{l.key}, l.token, l.locker.ttl.Milliseconds()).Int()
			cancel()

			if err != nil {
				l.locker.log.WithError(err).WithField("key", l.key).Warn("Failed to renew lock")
				continue
			}

			if n == 0 {
				l.locker.log.WithField("key", l.key).Warn("Lock lost before release")
				return
			}
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	first := false

	l.once.Do(func() {
		first = true
		close(l.done)
	})

	if !first {
		return ErrNotHeld
	}

	l.wg.Wait()

	n, err := releaseScript.Run(ctx, l.locker.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotHeld, l.key)
	}

	return nil
}

// PushKey names the lock of one (remote, model) pipeline
func PushKey(remoteURL, model string) string {
	return "push:" + remoteURL + ":" + model
}

// MigrateKey names the lock of migrations on a target
func MigrateKey(target string) string {
	return "migrate:" + target
}
