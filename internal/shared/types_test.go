package shared

import (
	"fmt"
	"testing"
)

func TestPriorityRank(t *testing.T) {
	tests := []struct {
		name     string
		input    TaskPriority
		expected int
	}{
		{name: "high first", input: PriorityHigh, expected: 0},
		{name: "medium second", input: PriorityMedium, expected: 1},
		{name: "low last", input: PriorityLow, expected: 2},
		{name: "unknown ranks as medium", input: TaskPriority("urgent"), expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.input.Rank()
			if got != tt.expected {
				t.Fatalf("Rank(%q) = %d, expected %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("")
	if err != nil || p != PriorityMedium {
		t.Fatalf("expected empty priority to default to medium, got %q (%v)", p, err)
	}

	p, err = ParsePriority("low")
	if err != nil || p != PriorityLow {
		t.Fatalf("expected low, got %q (%v)", p, err)
	}

	if _, err := ParsePriority("urgent"); !IsValidation(err) {
		t.Fatalf("expected validation error for unknown priority, got %v", err)
	}
}

func TestWorkerTypeIsValid(t *testing.T) {
	for _, wt := range WorkerTypes {
		if !wt.IsValid() {
			t.Fatalf("expected %q to be valid", wt)
		}
	}
	if WorkerType("queen").IsValid() {
		t.Fatal("expected queen to be rejected")
	}
}

func TestErrorHelpersSeeThroughWrapping(t *testing.T) {
	base := NewNotFoundError("worker not found", map[string]interface{}{"workerId": "worker-9"})
	wrapped := fmt.Errorf("mark busy: %w", base)

	if !IsNotFound(wrapped) {
		t.Fatal("expected wrapped not found error to be detected")
	}
	if IsInvalidState(wrapped) || IsValidation(wrapped) {
		t.Fatal("expected not found error not to match other kinds")
	}
	if wrapped.Error() != "mark busy: NOT_FOUND: worker not found" {
		t.Fatalf("unexpected message %q", wrapped.Error())
	}
}

func TestStatusPredicates(t *testing.T) {
	if !TaskStatusInProgress.IsActive() || !TaskStatusAssigned.IsActive() {
		t.Fatal("expected assigned and in_progress to be active")
	}
	if TaskStatusPending.IsActive() || TaskStatusPending.IsTerminal() {
		t.Fatal("expected pending to be neither active nor terminal")
	}
	if !TaskStatusCompleted.IsTerminal() || !TaskStatusFailed.IsTerminal() {
		t.Fatal("expected completed and failed to be terminal")
	}
}
