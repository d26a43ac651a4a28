package coordinator

import (
	"encoding/json"

	"github.com/blackms/flyswarm-go/internal/shared"
)

// BatchTask describes one task of a prepared workload.
type BatchTask struct {
	Type     string
	Payload  json.RawMessage
	Priority shared.TaskPriority
}

// BatchProposal describes the proposal raised with a prepared workload.
type BatchProposal struct {
	Topic     string
	Proposer  string
	Threshold float64
}

// DemoBatch is the demonstration workload: one task per worker
// specialization.
var DemoBatch = []BatchTask{
	{"search-analyze", json.RawMessage(`{"query":"optimal swarm patterns","depth":"comprehensive"}`), shared.PriorityHigh},
	{"implement-feature", json.RawMessage(`{"feature":"adaptive load balancing","complexity":"medium"}`), shared.PriorityHigh},
	{"metrics-report", json.RawMessage(`{"metrics":["performance","efficiency","throughput"],"period":"24h"}`), shared.PriorityMedium},
	{"validate-system", json.RawMessage(`{"components":["api","workers","consensus"],"coverage":0.8}`), shared.PriorityMedium},
}

// DemoProposal accompanies DemoBatch.
var DemoProposal = BatchProposal{Topic: "scale-up-workers", Proposer: "auto-scaler", Threshold: 0.6}
