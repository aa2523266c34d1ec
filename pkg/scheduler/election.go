package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	leaseTTL      = 10 * time.Second
	renewInterval = 3 * time.Second
)

//nolint:gochecknoglobals // Scripts are compiled once and shared by every elector
var (
	// claimScript takes a free lease or extends one this instance already holds
	claimScript = redis.NewScript(`
local owner = redis.call("GET", KEYS[1])
if owner == false then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
if owner == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
return 0`)

	resignScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// LeaderElector decides which scheduler instance fires the schedule
type LeaderElector interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
}

// elector holds a renewable lease on one redis key
type elector struct {
	log      logrus.FieldLogger
	redis    *redis.Client
	instance string
	key      string

	mu     sync.RWMutex
	leader bool

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewLeaderElector creates an elector competing for prefix's schedule lease.
// The client stays owned by the caller.
func NewLeaderElector(log logrus.FieldLogger, client *redis.Client, prefix string) LeaderElector {
	return newElector(log, client, prefix)
}

func newElector(log logrus.FieldLogger, client *redis.Client, prefix string) *elector {
	instance := uuid.NewString()

	return &elector{
		log:      log.WithFields(logrus.Fields{"component": "election", "instance": instance}),
		redis:    client,
		instance: instance,
		key:      prefix + ":scheduler:leader",
		done:     make(chan struct{}),
	}
}

// Start claims the lease once and keeps competing in the background
func (e *elector) Start(ctx context.Context) error {
	e.campaign(ctx)

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(renewInterval)
		defer ticker.Stop()

		for {
			select {
			case <-e.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.campaign(ctx)
			}
		}
	}()

	return nil
}

// Stop ends the campaign and frees the lease when held
func (e *elector) Stop() error {
	e.stopOnce.Do(func() { close(e.done) })
	e.wg.Wait()

	if !e.IsLeader() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), renewInterval)
	defer cancel()

	if err := resignScript.Run(ctx, e.redis, []string{e.key}, e.instance).Err(); err != nil {
		e.log.WithError(err).Warn("Failed to resign leadership")
	}

	e.setLeader(false)

	return nil
}

// IsLeader reports whether this instance held the lease at its last renewal
func (e *elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.leader
}

// campaign claims or renews the lease. A redis error counts as lost
// leadership so two instances never fire together.
func (e *elector) campaign(ctx context.Context) {
	held, err := claimScript.Run(ctx, e.redis, []string{e.key}, e.instance, leaseTTL.Milliseconds()).Int()
	if err != nil {
		e.log.WithError(err).Debug("Failed to claim schedule lease")
	}

	leader := err == nil && held == 1

	if leader != e.IsLeader() {
		e.setLeader(leader)

		if leader {
			e.log.Info("Became schedule leader")
		} else {
			e.log.Info("Lost schedule leadership")
		}
	}
}

func (e *elector) setLeader(leader bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.leader = leader
}

var _ LeaderElector = (*elector)(nil)
