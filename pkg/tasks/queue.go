package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/observability"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// DefaultQueue is the queue push tasks go to
const DefaultQueue = "push"

// Queue enqueues push tasks
type Queue struct {
	log       logrus.FieldLogger
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
	timeout   time.Duration
}

// NewQueue creates a queue on queueName; tasks run for at most timeout
func NewQueue(log logrus.FieldLogger, redisOpt asynq.RedisConnOpt, queueName string, timeout time.Duration) *Queue {
	if queueName == "" {
		queueName = DefaultQueue
	}

	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	return &Queue{
		log:       log.WithField("component", "queue"),
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		queue:     queueName,
		timeout:   timeout,
	}
}

// Enqueue adds a push task. It reports false when a task for the same
// pair is already queued or running.
func (q *Queue) Enqueue(ctx context.Context, payload PushPayload, opts ...asynq.Option) (bool, error) {
	if err := payload.Validate(); err != nil {
		return false, err
	}

	if payload.EnqueuedAt.IsZero() {
		payload.EnqueuedAt = time.Now().UTC()
	}

	if payload.Trigger == "" {
		payload.Trigger = TriggerManual
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}

	allOpts := []asynq.Option{
		asynq.TaskID(payload.UniqueID()),
		asynq.Queue(q.queue),
		asynq.MaxRetry(3),
		asynq.Timeout(q.timeout),
	}
	allOpts = append(allOpts, opts...)

	if _, err := q.client.EnqueueContext(ctx, asynq.NewTask(TypePush, data), allOpts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			q.log.WithField("task_id", payload.UniqueID()).Debug("Push already queued, skipping")

			return false, nil
		}

		return false, fmt.Errorf("failed to enqueue %s: %w", payload.UniqueID(), err)
	}

	observability.RecordTaskEnqueued(payload.Model, payload.Trigger)

	return true, nil
}

// EnqueueAll adds one task per model in the given order and returns how many were added
func (q *Queue) EnqueueAll(ctx context.Context, remote string, models []string, incremental bool, trigger string) (int, error) {
	added := 0

	for _, model := range models {
		ok, err := q.Enqueue(ctx, PushPayload{
			Remote:      remote,
			Model:       model,
			Incremental: incremental,
			Trigger:     trigger,
		})
		if err != nil {
			return added, err
		}

		if ok {
			added++
		}
	}

	q.log.WithFields(logrus.Fields{
		"remote":  remote,
		"models":  len(models),
		"added":   added,
		"trigger": trigger,
	}).Info("Enqueued push tasks")

	return added, nil
}

// Pending reports whether a task for the pair is waiting or running
func (q *Queue) Pending(payload PushPayload) (bool, error) {
	info, err := q.inspector.GetTaskInfo(q.queue, payload.UniqueID())
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return false, nil
		}

		return false, err
	}

	return info.State == asynq.TaskStatePending ||
		info.State == asynq.TaskStateActive ||
		info.State == asynq.TaskStateRetry, nil
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.queue
}

// Close closes the queue
func (q *Queue) Close() error {
	if err := q.inspector.Close(); err != nil {
		q.log.WithError(err).Warn("Failed to close inspector")
	}

	return q.client.Close()
}
