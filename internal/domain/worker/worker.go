// Package worker provides the Worker domain entity and the worker registry.
package worker

import (
	"github.com/blackms/flyswarm-go/internal/shared"
)

// InitialSuccessRate is the success rate every new worker starts with.
const InitialSuccessRate = 100.0

// Worker represents a typed member of the swarm roster.
//
// Worker is not safe for concurrent use; the owning registry's caller
// serializes access.
type Worker struct {
	ID           string
	Type         shared.WorkerType
	Status       shared.WorkerStatus
	Capabilities []string
	CurrentTask  string
	Performance  shared.WorkerPerformance
	CreatedAt    int64
}

// Config holds configuration for creating a worker.
type Config struct {
	ID           string
	Type         shared.WorkerType
	Capabilities []string
}

// New creates a new idle Worker from the given configuration.
func New(config Config) *Worker {
	capabilities := config.Capabilities
	if capabilities == nil {
		capabilities = GetDefaultCapabilities(config.Type)
	}

	return &Worker{
		ID:           config.ID,
		Type:         config.Type,
		Status:       shared.WorkerStatusIdle,
		Capabilities: capabilities,
		Performance: shared.WorkerPerformance{
			SuccessRate: InitialSuccessRate,
		},
		CreatedAt: shared.Now(),
	}
}

// IsIdle reports whether the worker can accept a task.
func (w *Worker) IsIdle() bool {
	return w.Status == shared.WorkerStatusIdle
}

// HasCapability checks if the worker has a specific capability tag.
func (w *Worker) HasCapability(capability string) bool {
	for _, c := range w.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// recordSuccess folds a completed task's duration into the incremental mean.
func (w *Worker) recordSuccess(durationMs float64) {
	w.Performance.TasksCompleted++
	n := float64(w.Performance.TasksCompleted)
	w.Performance.AverageTime = (w.Performance.AverageTime*(n-1) + durationMs) / n
}

// recordFailure dilutes the success rate as if the failure were one more
// attempt on top of the completed count. The completed count itself does not
// move, so repeated failures approach zero without reaching it unless the
// completed count is zero.
func (w *Worker) recordFailure() {
	n := float64(w.Performance.TasksCompleted)
	w.Performance.SuccessRate = w.Performance.SuccessRate * n / (n + 1)
}

// ToShared converts the Worker to a shared.Worker snapshot.
func (w *Worker) ToShared() shared.Worker {
	capabilities := make([]string, len(w.Capabilities))
	copy(capabilities, w.Capabilities)

	return shared.Worker{
		ID:           w.ID,
		Type:         w.Type,
		Status:       w.Status,
		CurrentTask:  w.CurrentTask,
		Capabilities: capabilities,
		Performance:  w.Performance,
		CreatedAt:    w.CreatedAt,
	}
}

// GetDefaultCapabilities returns the capability tags for a worker type.
func GetDefaultCapabilities(workerType shared.WorkerType) []string {
	defaults := map[shared.WorkerType][]string{
		shared.WorkerTypeResearcher: {"search", "analyze", "summarize", "extract"},
		shared.WorkerTypeCoder:      {"implement", "refactor", "debug", "optimize"},
		shared.WorkerTypeAnalyst:    {"evaluate", "metrics", "report", "visualize"},
		shared.WorkerTypeTester:     {"test", "validate", "benchmark", "verify"},
	}

	caps, exists := defaults[workerType]
	if !exists {
		return []string{}
	}
	out := make([]string, len(caps))
	copy(out, caps)
	return out
}
