// Package tracing records swarm lifecycle events through a non-blocking
// sink and exports them to logs, OpenTelemetry or a local SQLite journal.
package tracing

import (
	"context"
	"errors"
)

// Kind names a trace event.
type Kind string

const (
	KindSessionStart       Kind = "session-start"
	KindSessionEnd         Kind = "session-end"
	KindWorkerSpawn        Kind = "worker-spawn"
	KindTaskExecution      Kind = "task-execution"
	KindConsensusVote      Kind = "consensus-vote"
	KindAgentCommunication Kind = "agent-communication"
)

// Event is one trace record.
type Event struct {
	Kind       Kind                   `json:"kind"`
	SwarmID    string                 `json:"swarmId"`
	Timestamp  int64                  `json:"timestamp"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Exporter delivers events to a backend. Export is called from a single
// goroutine; Close is called once after the last Export.
type Exporter interface {
	Export(ctx context.Context, event Event) error
	Close(ctx context.Context) error
}

// Multi fans an event out to every exporter and joins their errors.
type Multi []Exporter

// Export delivers event to every exporter even if some fail.
func (m Multi) Export(ctx context.Context, event Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Export(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every exporter.
func (m Multi) Close(ctx context.Context) error {
	var errs []error
	for _, e := range m {
		if err := e.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Export(context.Context, Event) error { return nil }
func (Discard) Close(context.Context) error         { return nil }
