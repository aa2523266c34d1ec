// Package tasks provides distributed push tasks using Asynq
package tasks

import (
	"errors"
	"time"
)

const (
	// TypePush is the task type pushing one model to one remote
	TypePush = "push:model"
)

// Triggers label where a task came from
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
)

var (
	// ErrRemoteRequired is returned when a payload names no remote
	ErrRemoteRequired = errors.New("push task remote is required")
	// ErrModelRequired is returned when a payload names no model
	ErrModelRequired = errors.New("push task model is required")
)

// PushPayload is the payload of a push task
type PushPayload struct {
	Remote      string    `json:"remote"`
	Model       string    `json:"model"`
	Incremental bool      `json:"incremental"`
	Trigger     string    `json:"trigger"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// UniqueID identifies the (remote, model) pair; one task per pair can be queued at a time
func (p PushPayload) UniqueID() string {
	return p.Remote + ":" + p.Model
}

// Validate checks the payload names a pair
func (p PushPayload) Validate() error {
	if p.Remote == "" {
		return ErrRemoteRequired
	}

	if p.Model == "" {
		return ErrModelRequired
	}

	return nil
}
