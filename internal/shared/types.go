// Package shared provides shared types used across all modules in flyswarm-go.
package shared

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Worker Types
// ============================================================================

// WorkerStatus represents the current status of a worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusOffline WorkerStatus = "offline"
)

// WorkerType represents the specialization of a worker.
type WorkerType string

const (
	WorkerTypeResearcher WorkerType = "researcher"
	WorkerTypeCoder      WorkerType = "coder"
	WorkerTypeAnalyst    WorkerType = "analyst"
	WorkerTypeTester     WorkerType = "tester"
)

// WorkerTypes lists every worker type in roster order.
var WorkerTypes = []WorkerType{
	WorkerTypeResearcher,
	WorkerTypeCoder,
	WorkerTypeAnalyst,
	WorkerTypeTester,
}

// IsValid reports whether t is one of the known worker types.
func (t WorkerType) IsValid() bool {
	for _, known := range WorkerTypes {
		if t == known {
			return true
		}
	}
	return false
}

// WorkerPerformance holds the rolling performance record of a worker.
type WorkerPerformance struct {
	TasksCompleted int     `json:"tasksCompleted"`
	AverageTime    float64 `json:"averageTime"`
	SuccessRate    float64 `json:"successRate"`
}

// Worker is a point-in-time snapshot of a worker.
type Worker struct {
	ID           string            `json:"id"`
	Type         WorkerType        `json:"type"`
	Status       WorkerStatus      `json:"status"`
	CurrentTask  string            `json:"currentTask,omitempty"`
	Capabilities []string          `json:"capabilities"`
	Performance  WorkerPerformance `json:"performance"`
	CreatedAt    int64             `json:"createdAt"`
}

// ============================================================================
// Task Types
// ============================================================================

// TaskPriority represents the priority of a task.
type TaskPriority string

const (
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

// Rank returns the dispatch rank of the priority; lower ranks dispatch first.
// Unknown priorities rank with medium.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// IsValid reports whether p is one of the known priorities.
func (p TaskPriority) IsValid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// ParsePriority converts a raw string to a TaskPriority. An empty string
// yields the medium default.
func ParsePriority(raw string) (TaskPriority, error) {
	if raw == "" {
		return PriorityMedium, nil
	}
	p := TaskPriority(raw)
	if !p.IsValid() {
		return "", NewValidationError("unknown task priority", map[string]interface{}{"priority": raw})
	}
	return p, nil
}

// TaskStatus represents the current status of a task.
type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusInProgress is accepted wherever assigned is expected.
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether the status is completed or failed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// IsActive reports whether the status is assigned or its in_progress alias.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusAssigned || s == TaskStatusInProgress
}

// Payload is opaque task data. The coordinator stores and forwards it
// without interpreting it.
type Payload = json.RawMessage

// Task is a point-in-time snapshot of a task.
type Task struct {
	ID          string       `json:"id"`
	Type        string       `json:"type"`
	Priority    TaskPriority `json:"priority"`
	AssignedTo  string       `json:"assignedTo,omitempty"`
	Status      TaskStatus   `json:"status"`
	Payload     Payload      `json:"data,omitempty"`
	Result      Payload      `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   int64        `json:"createdAt"`
	StartedAt   int64        `json:"startedAt,omitempty"`
	CompletedAt int64        `json:"completedAt,omitempty"`
}

// ============================================================================
// Consensus Types
// ============================================================================

// ProposalStatus represents the status of a consensus proposal.
type ProposalStatus string

const (
	ProposalStatusOpen     ProposalStatus = "open"
	ProposalStatusApproved ProposalStatus = "approved"
	ProposalStatusRejected ProposalStatus = "rejected"
)

// ConsensusProposal is a point-in-time snapshot of a proposal.
type ConsensusProposal struct {
	ID           string          `json:"id"`
	Topic        string          `json:"topic"`
	Proposer     string          `json:"proposer"`
	Threshold    float64         `json:"threshold"`
	Deadline     int64           `json:"deadline"`
	Participants []string        `json:"participants"`
	Votes        map[string]bool `json:"votes"`
	Status       ProposalStatus  `json:"status"`
	Expired      bool            `json:"expired,omitempty"`
	CreatedAt    int64           `json:"createdAt"`
	ResolvedAt   int64           `json:"resolvedAt,omitempty"`
}

// ============================================================================
// Swarm Types
// ============================================================================

// SwarmStatus is a consistent snapshot of the whole coordinator.
type SwarmStatus struct {
	SwarmID            string              `json:"swarmId"`
	Workers            []Worker            `json:"workers"`
	ActiveTaskCount    int                 `json:"activeTasks"`
	QueuedTaskCount    int                 `json:"queuedTasks"`
	CompletedTaskCount int                 `json:"completedTasks"`
	FailedTaskCount    int                 `json:"failedTasks"`
	Proposals          []ConsensusProposal `json:"consensusProposals"`
}

// ============================================================================
// Trace Event Types
// ============================================================================

// TaskEvent describes a task lifecycle transition for the tracing sink.
type TaskEvent struct {
	TaskID   string     `json:"taskId"`
	WorkerID string     `json:"workerId"`
	Status   TaskStatus `json:"status"`
	Duration int64      `json:"duration,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// ConsensusEvent describes a resolved consensus vote for the tracing sink.
type ConsensusEvent struct {
	ProposalID   string          `json:"proposalId"`
	Topic        string          `json:"topic"`
	Votes        map[string]bool `json:"votes"`
	Result       ProposalStatus  `json:"result"`
	Participants []string        `json:"participants"`
}

// ============================================================================
// Utility Functions
// ============================================================================

// Now returns the current time in milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// CopyPayload returns an independent copy of p.
func CopyPayload(p Payload) Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	copy(out, p)
	return out
}

// ShortID returns eight random hex characters for id suffixes.
func ShortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
