package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// scheduleTracker remembers when a schedule last fired, so a newly elected
// leader does not repeat a run its predecessor already started
type scheduleTracker interface {
	// GetLastRun returns zero time if the schedule never ran
	GetLastRun(ctx context.Context, id string) (time.Time, error)
	SetLastRun(ctx context.Context, id string, timestamp time.Time) error
}

type redisScheduleTracker struct {
	log    logrus.FieldLogger
	redis  *redis.Client
	prefix string
}

// newScheduleTracker creates a Redis-backed schedule tracker
func newScheduleTracker(log logrus.FieldLogger, client *redis.Client, prefix string) scheduleTracker {
	return &redisScheduleTracker{
		log:    log.WithField("component", "schedule_tracker"),
		redis:  client,
		prefix: prefix + ":scheduler:run:",
	}
}

func (r *redisScheduleTracker) GetLastRun(ctx context.Context, id string) (time.Time, error) {
	val, err := r.redis.Get(ctx, r.prefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}

		return time.Time{}, fmt.Errorf("failed to get last run of %s: %w", id, err)
	}

	timestamp, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"schedule":  id,
			"raw_value": val,
		}).Error("Failed to parse timestamp")

		return time.Time{}, fmt.Errorf("failed to parse last run of %s: %w", id, err)
	}

	return timestamp, nil
}

func (r *redisScheduleTracker) SetLastRun(ctx context.Context, id string, timestamp time.Time) error {
	if err := r.redis.Set(ctx, r.prefix+id, timestamp.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("failed to set last run of %s: %w", id, err)
	}

	return nil
}

// memoryTracker serves a single instance without redis
type memoryTracker struct {
	mu   sync.Mutex
	runs map[string]time.Time
}

func newMemoryTracker() scheduleTracker {
	return &memoryTracker{runs: make(map[string]time.Time)}
}

func (m *memoryTracker) GetLastRun(_ context.Context, id string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.runs[id], nil
}

func (m *memoryTracker) SetLastRun(_ context.Context, id string, timestamp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[id] = timestamp

	return nil
}

var (
	_ scheduleTracker = (*redisScheduleTracker)(nil)
	_ scheduleTracker = (*memoryTracker)(nil)
)
