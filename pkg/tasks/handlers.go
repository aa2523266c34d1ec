package tasks

//go:generate mockgen -package mock -destination mock/pusher.mock.go -source handlers.go Pusher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/observability"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Pusher pushes one model to one remote
type Pusher interface {
	PushModel(ctx context.Context, remote, model string, incremental bool) error
}

// TaskHandler handles task execution
type TaskHandler struct {
	log    logrus.FieldLogger
	pusher Pusher
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(log logrus.FieldLogger, pusher Pusher) *TaskHandler {
	return &TaskHandler{
		log:    log.WithField("component", "task-handler"),
		pusher: pusher,
	}
}

// HandlePush handles push tasks. Errors no retry can fix skip the retries.
func (h *TaskHandler) HandlePush(ctx context.Context, t *asynq.Task) error {
	var payload PushPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		observability.RecordError("task-handler", "unmarshal_error")
		return fmt.Errorf("failed to unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	log := h.log.WithFields(logrus.Fields{
		"remote":      payload.Remote,
		"model":       payload.Model,
		"incremental": payload.Incremental,
		"trigger":     payload.Trigger,
	})

	log.Info("Starting push task")

	start := time.Now()

	observability.RecordTaskStart(payload.Model)
	defer observability.RecordTaskComplete(payload.Model)

	if err := h.pusher.PushModel(ctx, payload.Remote, payload.Model, payload.Incremental); err != nil {
		code := errcode.Of(err)
		observability.RecordError("task-handler", string(code))

		log.WithError(err).WithField("code", code).Error("Push task failed")

		if permanent(code) {
			return fmt.Errorf("push %s: %w: %w", payload.UniqueID(), err, asynq.SkipRetry)
		}

		return fmt.Errorf("push %s: %w", payload.UniqueID(), err)
	}

	log.WithField("duration", time.Since(start)).Info("Push task completed")

	return nil
}

// Routes returns the task handler routes for Asynq
func (h *TaskHandler) Routes() map[string]asynq.HandlerFunc {
	return map[string]asynq.HandlerFunc{
		TypePush: h.HandlePush,
	}
}

// permanent reports codes a later attempt cannot fix
func permanent(code errcode.Code) bool {
	switch code {
	case errcode.AuthorizedClientsOnly,
		errcode.InvalidToken,
		errcode.Forbidden,
		errcode.UnknownProperty,
		errcode.UnsupportedDataTypeConfiguration,
		errcode.KeymapMigrationRequired,
		errcode.SchemaMismatch,
		errcode.InvalidQuery:
		return true
	default:
		return false
	}
}
