// Package task provides the Task domain entity and the task store with its
// pending priority queue.
package task

import (
	"github.com/blackms/flyswarm-go/internal/shared"
)

// Task represents a unit of work submitted to the swarm.
//
// Task is not safe for concurrent use; the owning store's caller serializes
// access.
type Task struct {
	ID          string
	Type        string
	Priority    shared.TaskPriority
	Status      shared.TaskStatus
	AssignedTo  string
	Payload     shared.Payload
	Result      shared.Payload
	Error       string
	CreatedAt   int64
	StartedAt   int64
	CompletedAt int64
}

// Config holds configuration for creating a task.
type Config struct {
	ID       string
	Type     string
	Priority shared.TaskPriority
	Payload  shared.Payload
}

// New creates a new pending Task from the given configuration.
func New(config Config) *Task {
	priority := config.Priority
	if priority == "" {
		priority = shared.PriorityMedium
	}

	return &Task{
		ID:        config.ID,
		Type:      config.Type,
		Priority:  priority,
		Status:    shared.TaskStatusPending,
		Payload:   shared.CopyPayload(config.Payload),
		CreatedAt: shared.Now(),
	}
}

// Assign moves a pending task to assigned.
func (t *Task) Assign(workerID string, now int64) error {
	if t.Status != shared.TaskStatusPending {
		return t.transitionError(shared.TaskStatusAssigned)
	}

	t.Status = shared.TaskStatusAssigned
	t.AssignedTo = workerID
	t.StartedAt = atLeast(now, t.CreatedAt)
	return nil
}

// Complete moves an assigned task to completed with its result.
func (t *Task) Complete(result shared.Payload, now int64) error {
	if !t.Status.IsActive() {
		return t.transitionError(shared.TaskStatusCompleted)
	}

	t.Status = shared.TaskStatusCompleted
	t.Result = shared.CopyPayload(result)
	t.CompletedAt = atLeast(now, t.StartedAt)
	return nil
}

// Fail moves an assigned task to failed with an error message.
func (t *Task) Fail(errMsg string, now int64) error {
	if !t.Status.IsActive() {
		return t.transitionError(shared.TaskStatusFailed)
	}

	if errMsg == "" {
		errMsg = "unknown error"
	}
	t.Status = shared.TaskStatusFailed
	t.Error = errMsg
	t.CompletedAt = atLeast(now, t.StartedAt)
	return nil
}

// GetDuration returns the execution duration in milliseconds, or zero if
// the task has not finished.
func (t *Task) GetDuration() int64 {
	if t.StartedAt > 0 && t.CompletedAt > 0 {
		return t.CompletedAt - t.StartedAt
	}
	return 0
}

// ToShared converts the Task to a shared.Task snapshot.
func (t *Task) ToShared() shared.Task {
	return shared.Task{
		ID:          t.ID,
		Type:        t.Type,
		Priority:    t.Priority,
		AssignedTo:  t.AssignedTo,
		Status:      t.Status,
		Payload:     shared.CopyPayload(t.Payload),
		Result:      shared.CopyPayload(t.Result),
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
}

func (t *Task) transitionError(target shared.TaskStatus) error {
	return shared.NewInvalidStateError("invalid task status transition", map[string]interface{}{
		"taskId": t.ID,
		"from":   string(t.Status),
		"to":     string(target),
	})
}

// atLeast clamps ts so timestamps never run backwards on clock skew.
func atLeast(ts, floor int64) int64 {
	if ts < floor {
		return floor
	}
	return ts
}
