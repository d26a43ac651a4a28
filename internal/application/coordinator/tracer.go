package coordinator

import (
	"github.com/blackms/flyswarm-go/internal/shared"
)

// Tracer receives the swarm's lifecycle records. Implementations must not
// block: the coordinator calls them while holding its lock, and handles
// their failures by logging only.
type Tracer interface {
	RecordSessionStart(objective, queenType string, workerCount int)
	RecordWorkerSpawn(workerType shared.WorkerType, workerID string)
	RecordTaskEvent(event shared.TaskEvent)
	RecordConsensusEvent(event shared.ConsensusEvent)
	RecordCommunication(from, to string, message map[string]interface{})
	RecordSessionEnd(summary map[string]interface{})
}

// NopTracer discards every record.
type NopTracer struct{}

func (NopTracer) RecordSessionStart(string, string, int)                     {}
func (NopTracer) RecordWorkerSpawn(shared.WorkerType, string)                {}
func (NopTracer) RecordTaskEvent(shared.TaskEvent)                           {}
func (NopTracer) RecordConsensusEvent(shared.ConsensusEvent)                 {}
func (NopTracer) RecordCommunication(string, string, map[string]interface{}) {}
func (NopTracer) RecordSessionEnd(map[string]interface{})                    {}
