package worker

import (
	"fmt"

	"github.com/blackms/flyswarm-go/internal/shared"
)

// Registry owns the swarm roster: workers keyed by id plus their
// registration order, which is the listing order used for tie-breaks.
//
// Registry is not safe for concurrent use. The coordinator serializes every
// call behind its own lock so roster, task table and proposals move together.
type Registry struct {
	workers map[string]*Worker
	order   []string
	nextID  int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]*Worker),
		order:   make([]string, 0),
	}
}

// Initialize populates the roster with counts[i] idle workers of types[i].
func (r *Registry) Initialize(types []shared.WorkerType, counts []int) ([]*Worker, error) {
	if len(types) != len(counts) {
		return nil, shared.NewValidationError("types and counts must have the same length", map[string]interface{}{
			"types":  len(types),
			"counts": len(counts),
		})
	}
	for i, t := range types {
		if !t.IsValid() {
			return nil, shared.NewValidationError("unknown worker type", map[string]interface{}{"type": string(t)})
		}
		if counts[i] < 0 {
			return nil, shared.NewValidationError("worker count must be non-negative", map[string]interface{}{
				"type":  string(t),
				"count": counts[i],
			})
		}
	}

	spawned := make([]*Worker, 0)
	for i, t := range types {
		for j := 0; j < counts[i]; j++ {
			spawned = append(spawned, r.spawn(t))
		}
	}
	return spawned, nil
}

// InitializeDefault populates the roster with one worker of every type.
func (r *Registry) InitializeDefault() []*Worker {
	counts := make([]int, len(shared.WorkerTypes))
	for i := range counts {
		counts[i] = 1
	}
	spawned, _ := r.Initialize(shared.WorkerTypes, counts)
	return spawned
}

// Get returns a worker by id.
func (r *Registry) Get(workerID string) (*Worker, error) {
	w, exists := r.workers[workerID]
	if !exists {
		return nil, shared.NewNotFoundError("worker not found", map[string]interface{}{"workerId": workerID})
	}
	return w, nil
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	return len(r.order)
}

// List returns every worker in registration order.
func (r *Registry) List() []*Worker {
	out := make([]*Worker, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.workers[id])
	}
	return out
}

// IDs returns the ids of every worker in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ListIdle returns the idle workers in registration order. The result is a
// snapshot; callers must re-check status before mutating.
func (r *Registry) ListIdle() []*Worker {
	out := make([]*Worker, 0)
	for _, id := range r.order {
		if w := r.workers[id]; w.IsIdle() {
			out = append(out, w)
		}
	}
	return out
}

// CountByType returns how many workers of the given type are registered,
// whatever their status.
func (r *Registry) CountByType(workerType shared.WorkerType) int {
	count := 0
	for _, id := range r.order {
		if r.workers[id].Type == workerType {
			count++
		}
	}
	return count
}

// MarkBusy links a worker to a task.
func (r *Registry) MarkBusy(workerID, taskID string) error {
	w, err := r.Get(workerID)
	if err != nil {
		return err
	}
	if w.Status != shared.WorkerStatusIdle {
		return shared.NewInvalidStateError("worker is not idle", map[string]interface{}{
			"workerId":    workerID,
			"status":      string(w.Status),
			"currentTask": w.CurrentTask,
		})
	}

	w.Status = shared.WorkerStatusBusy
	w.CurrentTask = taskID
	return nil
}

// MarkIdle clears a worker's task link. Marking an idle worker idle is a no-op.
func (r *Registry) MarkIdle(workerID string) error {
	w, err := r.Get(workerID)
	if err != nil {
		return err
	}

	w.Status = shared.WorkerStatusIdle
	w.CurrentTask = ""
	return nil
}

// RecordSuccess folds a successful task into the worker's performance record.
func (r *Registry) RecordSuccess(workerID string, durationMs int64) error {
	w, err := r.Get(workerID)
	if err != nil {
		return err
	}
	w.recordSuccess(float64(durationMs))
	return nil
}

// RecordFailure dilutes the worker's success rate by one failed attempt.
func (r *Registry) RecordFailure(workerID string) error {
	w, err := r.Get(workerID)
	if err != nil {
		return err
	}
	w.recordFailure()
	return nil
}

// Scale moves the number of workers of a type towards target. Workers are
// spawned when below target; when above, only idle workers of the type are
// removed, so busy workers can keep the count above target until they idle.
func (r *Registry) Scale(workerType shared.WorkerType, target int) (spawned, removed []*Worker, err error) {
	if !workerType.IsValid() {
		return nil, nil, shared.NewValidationError("unknown worker type", map[string]interface{}{"type": string(workerType)})
	}
	if target < 0 {
		return nil, nil, shared.NewValidationError("worker count must be non-negative", map[string]interface{}{"count": target})
	}

	current := r.CountByType(workerType)
	spawned = make([]*Worker, 0)
	removed = make([]*Worker, 0)

	switch {
	case target > current:
		for i := 0; i < target-current; i++ {
			spawned = append(spawned, r.spawn(workerType))
		}
	case target < current:
		excess := current - target
		for _, w := range r.ListIdle() {
			if len(removed) == excess {
				break
			}
			if w.Type == workerType {
				removed = append(removed, w)
			}
		}
		for _, w := range removed {
			r.remove(w.ID)
		}
	}

	return spawned, removed, nil
}

// spawn registers a new idle worker with the next monotonic id.
func (r *Registry) spawn(workerType shared.WorkerType) *Worker {
	r.nextID++
	w := New(Config{
		ID:   fmt.Sprintf("worker-%d", r.nextID),
		Type: workerType,
	})
	r.workers[w.ID] = w
	r.order = append(r.order, w.ID)
	return w
}

func (r *Registry) remove(workerID string) {
	delete(r.workers, workerID)
	for i, id := range r.order {
		if id == workerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
