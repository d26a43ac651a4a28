package task

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/blackms/flyswarm-go/internal/shared"
)

// Store owns task records and the ordered view of pending tasks.
//
// The queue holds pointers into the task table, so moving a task in or out
// of the queue never copies it. A task is in the queue exactly when its
// status is pending, given callers only mutate status through the store.
//
// Store is not safe for concurrent use; the coordinator serializes access.
type Store struct {
	tasks map[string]*Task
	order []string
	queue []*Task
}

// NewStore creates an empty task store.
func NewStore() *Store {
	return &Store{
		tasks: make(map[string]*Task),
		order: make([]string, 0),
		queue: make([]*Task, 0),
	}
}

// NewTaskID returns a task id combining a millisecond timestamp with a
// random suffix, so tasks created in the same instant do not collide.
func NewTaskID() string {
	return fmt.Sprintf("task-%d-%s", shared.Now(), shared.ShortID())
}

// Create registers a pending task and enqueues it. The queue is re-sorted by
// priority after every insert; the sort is stable so earlier tasks of equal
// priority keep their place.
func (s *Store) Create(taskType string, payload shared.Payload, priority shared.TaskPriority) (*Task, error) {
	if strings.TrimSpace(taskType) == "" {
		return nil, shared.NewValidationError("task type is required", nil)
	}
	if priority == "" {
		priority = shared.PriorityMedium
	}
	if !priority.IsValid() {
		return nil, shared.NewValidationError("unknown task priority", map[string]interface{}{"priority": string(priority)})
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, shared.NewValidationError("task payload is not valid JSON", nil)
	}

	id := NewTaskID()
	for s.tasks[id] != nil {
		id = NewTaskID()
	}

	t := New(Config{
		ID:       id,
		Type:     taskType,
		Priority: priority,
		Payload:  payload,
	})
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)

	s.queue = append(s.queue, t)
	sort.SliceStable(s.queue, func(i, j int) bool {
		return s.queue[i].Priority.Rank() < s.queue[j].Priority.Rank()
	})

	return t, nil
}

// Get returns a task by id.
func (s *Store) Get(taskID string) (*Task, error) {
	t, exists := s.tasks[taskID]
	if !exists {
		return nil, shared.NewNotFoundError("task not found", map[string]interface{}{"taskId": taskID})
	}
	return t, nil
}

// List returns every task in creation order.
func (s *Store) List() []*Task {
	out := make([]*Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id])
	}
	return out
}

// Queued returns the pending queue in dispatch order.
func (s *Store) Queued() []*Task {
	out := make([]*Task, len(s.queue))
	copy(out, s.queue)
	return out
}

// QueueLen returns the number of pending tasks.
func (s *Store) QueueLen() int {
	return len(s.queue)
}

// Drain removes up to n tasks from the head of the queue.
func (s *Store) Drain(n int) []*Task {
	if n <= 0 || len(s.queue) == 0 {
		return nil
	}
	if n > len(s.queue) {
		n = len(s.queue)
	}

	drained := make([]*Task, n)
	copy(drained, s.queue[:n])
	s.queue = s.queue[n:]
	return drained
}

// RequeueFront puts drained tasks back at the head of the queue in the given
// order without re-sorting. Tasks that are no longer pending are skipped.
func (s *Store) RequeueFront(tasks ...*Task) {
	front := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		if t != nil && t.Status == shared.TaskStatusPending {
			front = append(front, t)
		}
	}
	if len(front) == 0 {
		return
	}
	s.queue = append(front, s.queue...)
}

// MarkAssigned moves a pending task to assigned. The task must already be
// drained from the queue.
func (s *Store) MarkAssigned(taskID, workerID string, now int64) error {
	t, err := s.Get(taskID)
	if err != nil {
		return err
	}
	if err := t.Assign(workerID, now); err != nil {
		return err
	}
	s.dequeue(t)
	return nil
}

// MarkCompleted moves an assigned task to completed.
func (s *Store) MarkCompleted(taskID string, result shared.Payload, now int64) error {
	t, err := s.Get(taskID)
	if err != nil {
		return err
	}
	return t.Complete(result, now)
}

// MarkFailed moves an assigned task to failed.
func (s *Store) MarkFailed(taskID, errMsg string, now int64) error {
	t, err := s.Get(taskID)
	if err != nil {
		return err
	}
	return t.Fail(errMsg, now)
}

// Counts summarizes the task table by status.
type Counts struct {
	Active    int
	Queued    int
	Completed int
	Failed    int
}

// Counts returns the number of tasks per lifecycle bucket.
func (s *Store) Counts() Counts {
	c := Counts{Queued: len(s.queue)}
	for _, t := range s.tasks {
		switch {
		case t.Status.IsActive():
			c.Active++
		case t.Status == shared.TaskStatusCompleted:
			c.Completed++
		case t.Status == shared.TaskStatusFailed:
			c.Failed++
		}
	}
	return c
}

// dequeue drops t from the queue if it is still there.
func (s *Store) dequeue(t *Task) {
	for i, queued := range s.queue {
		if queued == t {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}
