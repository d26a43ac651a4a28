package worker

import (
	"math"
	"testing"

	"github.com/blackms/flyswarm-go/internal/shared"
)

func TestRegistry_InitializeDefaultAssignsCapabilities(t *testing.T) {
	r := NewRegistry()
	spawned := r.InitializeDefault()

	if len(spawned) != 4 {
		t.Fatalf("expected 4 workers, got %d", len(spawned))
	}

	expected := []struct {
		id         string
		workerType shared.WorkerType
		capability string
	}{
		{"worker-1", shared.WorkerTypeResearcher, "summarize"},
		{"worker-2", shared.WorkerTypeCoder, "refactor"},
		{"worker-3", shared.WorkerTypeAnalyst, "visualize"},
		{"worker-4", shared.WorkerTypeTester, "benchmark"},
	}
	for i, e := range expected {
		w := r.List()[i]
		if w.ID != e.id || w.Type != e.workerType {
			t.Fatalf("expected %s/%s at position %d, got %s/%s", e.id, e.workerType, i, w.ID, w.Type)
		}
		if !w.HasCapability(e.capability) {
			t.Fatalf("expected %s to have capability %q, got %v", w.ID, e.capability, w.Capabilities)
		}
		if w.Status != shared.WorkerStatusIdle || w.Performance.SuccessRate != 100 {
			t.Fatalf("expected idle worker with success rate 100, got %+v", w)
		}
	}
}

func TestRegistry_InitializeRejectsBadInput(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Initialize([]shared.WorkerType{shared.WorkerTypeCoder}, []int{1, 2}); !shared.IsValidation(err) {
		t.Fatalf("expected validation error for mismatched lengths, got %v", err)
	}
	if _, err := r.Initialize([]shared.WorkerType{"queen"}, []int{1}); !shared.IsValidation(err) {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}
	if _, err := r.Initialize([]shared.WorkerType{shared.WorkerTypeCoder}, []int{-1}); !shared.IsValidation(err) {
		t.Fatalf("expected validation error for negative count, got %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("expected rejected initialization to leave the roster empty, got %d", r.Len())
	}
}

func TestRegistry_MarkBusyAndIdle(t *testing.T) {
	r := NewRegistry()
	r.InitializeDefault()

	if err := r.MarkBusy("worker-2", "task-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w, _ := r.Get("worker-2")
	if w.Status != shared.WorkerStatusBusy || w.CurrentTask != "task-1" {
		t.Fatalf("expected busy worker linked to task-1, got %+v", w)
	}

	if err := r.MarkBusy("worker-2", "task-2"); !shared.IsInvalidState(err) {
		t.Fatalf("expected invalid state for double busy, got %v", err)
	}
	if w.CurrentTask != "task-1" {
		t.Fatalf("expected rejected mark busy to keep task-1, got %q", w.CurrentTask)
	}

	if err := r.MarkBusy("worker-99", "task-3"); !shared.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := r.MarkIdle("worker-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Status != shared.WorkerStatusIdle || w.CurrentTask != "" {
		t.Fatalf("expected idle worker without task, got %+v", w)
	}
	if err := r.MarkIdle("worker-2"); err != nil {
		t.Fatalf("expected idempotent mark idle, got %v", err)
	}
	if err := r.MarkIdle("worker-99"); !shared.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRegistry_ListIdleKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.InitializeDefault()
	_ = r.MarkBusy("worker-1", "task-1")
	_ = r.MarkBusy("worker-3", "task-2")

	idle := r.ListIdle()
	if len(idle) != 2 || idle[0].ID != "worker-2" || idle[1].ID != "worker-4" {
		t.Fatalf("expected [worker-2 worker-4], got %v", ids(idle))
	}
}

func TestRegistry_RecordSuccessUsesIncrementalMean(t *testing.T) {
	r := NewRegistry()
	r.InitializeDefault()

	for _, d := range []int64{2000, 4000, 3000} {
		if err := r.RecordSuccess("worker-1", d); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	w, _ := r.Get("worker-1")
	if w.Performance.TasksCompleted != 3 {
		t.Fatalf("expected 3 completed, got %d", w.Performance.TasksCompleted)
	}
	if math.Abs(w.Performance.AverageTime-3000) > 1e-9 {
		t.Fatalf("expected average 3000, got %v", w.Performance.AverageTime)
	}
	if w.Performance.SuccessRate != 100 {
		t.Fatalf("expected success rate untouched at 100, got %v", w.Performance.SuccessRate)
	}
}

func TestRegistry_RecordFailureDilutesSuccessRate(t *testing.T) {
	tests := []struct {
		name      string
		completed int
		rate      float64
		expected  float64
	}{
		{name: "zero completed collapses to zero", completed: 0, rate: 100, expected: 0},
		{name: "one completed halves", completed: 1, rate: 100, expected: 50},
		{name: "three completed", completed: 3, rate: 80, expected: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			r.InitializeDefault()
			w, _ := r.Get("worker-1")
			w.Performance.TasksCompleted = tt.completed
			w.Performance.SuccessRate = tt.rate

			if err := r.RecordFailure("worker-1"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(w.Performance.SuccessRate-tt.expected) > 1e-9 {
				t.Fatalf("expected success rate %v, got %v", tt.expected, w.Performance.SuccessRate)
			}
			if w.Performance.TasksCompleted != tt.completed {
				t.Fatalf("expected completed count to stay %d, got %d", tt.completed, w.Performance.TasksCompleted)
			}
		})
	}
}

func TestRegistry_RepeatedFailuresApproachButNeverReachZero(t *testing.T) {
	r := NewRegistry()
	r.InitializeDefault()
	w, _ := r.Get("worker-1")
	w.Performance.TasksCompleted = 2

	previous := w.Performance.SuccessRate
	for i := 0; i < 20; i++ {
		_ = r.RecordFailure("worker-1")
		if w.Performance.SuccessRate >= previous || w.Performance.SuccessRate <= 0 {
			t.Fatalf("iteration %d: expected rate to shrink and stay positive, got %v after %v", i, w.Performance.SuccessRate, previous)
		}
		previous = w.Performance.SuccessRate
	}
}

func TestRegistry_ScaleUpUsesMonotonicIDs(t *testing.T) {
	r := NewRegistry()
	r.InitializeDefault()

	_, removed, err := r.Scale(shared.WorkerTypeCoder, 0)
	if err != nil || len(removed) != 1 {
		t.Fatalf("expected one coder removed, got %v (%v)", ids(removed), err)
	}

	spawned, _, err := r.Scale(shared.WorkerTypeCoder, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ids(spawned); len(got) != 2 || got[0] != "worker-5" || got[1] != "worker-6" {
		t.Fatalf("expected [worker-5 worker-6], got %v", got)
	}
	if r.CountByType(shared.WorkerTypeCoder) != 2 {
		t.Fatalf("expected 2 coders, got %d", r.CountByType(shared.WorkerTypeCoder))
	}
}

func TestRegistry_ScaleDownNeverRemovesBusyWorkers(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Initialize([]shared.WorkerType{shared.WorkerTypeTester}, []int{3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = r.MarkBusy("worker-2", "task-1")

	_, removed, err := r.Scale(shared.WorkerTypeTester, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ids(removed); len(got) != 2 || got[0] != "worker-1" || got[1] != "worker-3" {
		t.Fatalf("expected idle workers [worker-1 worker-3] removed, got %v", got)
	}
	if r.CountByType(shared.WorkerTypeTester) != 1 {
		t.Fatalf("expected busy tester to remain, got %d testers", r.CountByType(shared.WorkerTypeTester))
	}
	if _, err := r.Get("worker-2"); err != nil {
		t.Fatalf("expected busy worker-2 to remain, got %v", err)
	}
}

func TestRegistry_ScaleOnlyTouchesRequestedType(t *testing.T) {
	r := NewRegistry()
	r.InitializeDefault()

	if _, _, err := r.Scale(shared.WorkerTypeAnalyst, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Len() != 3 || r.CountByType(shared.WorkerTypeAnalyst) != 0 {
		t.Fatalf("expected only the analyst removed, got %v", r.IDs())
	}
}

func TestRegistry_ScaleValidatesInput(t *testing.T) {
	r := NewRegistry()

	if _, _, err := r.Scale(shared.WorkerTypeCoder, -1); !shared.IsValidation(err) {
		t.Fatalf("expected validation error for negative count, got %v", err)
	}
	if _, _, err := r.Scale("queen", 1); !shared.IsValidation(err) {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}
}

func TestWorker_ToSharedCopiesCapabilities(t *testing.T) {
	w := New(Config{ID: "worker-1", Type: shared.WorkerTypeCoder})
	snapshot := w.ToShared()
	snapshot.Capabilities[0] = "mutated"

	if w.Capabilities[0] != "implement" {
		t.Fatalf("expected snapshot mutation to stay isolated, got %v", w.Capabilities)
	}
}

func ids(workers []*Worker) []string {
	out := make([]string, len(workers))
	for i, w := range workers {
		out[i] = w.ID
	}
	return out
}
