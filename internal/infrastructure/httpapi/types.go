// Package httpapi exposes the swarm coordinator over HTTP with a JSON API
// and a Server-Sent Events stream, and provides a client for it.
package httpapi

import (
	"encoding/json"

	"github.com/blackms/flyswarm-go/internal/shared"
)

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
	Version   string      `json:"version"`
	Region    string      `json:"region"`
	Instance  string      `json:"instance"`
	Uptime    float64     `json:"uptime"`
	Memory    MemoryUsage `json:"memory"`
}

// MemoryUsage reports heap usage in megabytes.
type MemoryUsage struct {
	Used  float64 `json:"used"`
	Total float64 `json:"total"`
	Unit  string  `json:"unit"`
}

// StatusResponse is returned by GET /api/swarm.
type StatusResponse struct {
	shared.SwarmStatus
	Region   string `json:"region"`
	Instance string `json:"instance"`
}

// DebugResponse is returned by GET /api/debug.
type DebugResponse struct {
	Timestamp string       `json:"timestamp"`
	Version   string       `json:"version"`
	Region    string       `json:"region"`
	Instance  string       `json:"instance"`
	Runtime   RuntimeInfo  `json:"runtime"`
	Tracing   TracingInfo  `json:"tracing"`
	Events    EventBusInfo `json:"events"`
}

// RuntimeInfo describes the serving process.
type RuntimeInfo struct {
	GoVersion  string  `json:"goVersion"`
	Platform   string  `json:"platform"`
	Goroutines int     `json:"goroutines"`
	Uptime     float64 `json:"uptime"`
}

// TracingInfo reports the configured exporters and trace sink counters.
type TracingInfo struct {
	Exporters []string `json:"exporters"`
	Exported  uint64   `json:"exported"`
	Dropped   uint64   `json:"dropped"`
	Failed    uint64   `json:"failed"`
}

// EventBusInfo reports event bus load. Emitted counts events by type since
// the swarm opened.
type EventBusInfo struct {
	Subscribers int               `json:"subscribers"`
	Dropped     uint64            `json:"dropped"`
	Emitted     map[string]uint64 `json:"emitted,omitempty"`
}

// Diagnostics is the host state GET /api/debug reports beyond what the
// swarm itself exposes.
type Diagnostics struct {
	Tracing TracingInfo
	Emitted map[string]uint64
}

// CreateTaskRequest is the body of POST /api/swarm/tasks.
type CreateTaskRequest struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Priority string          `json:"priority,omitempty"`
}

// ProposeRequest is the body of POST /api/swarm/consensus. A missing
// threshold means 0.5.
type ProposeRequest struct {
	Topic     string   `json:"topic"`
	Proposer  string   `json:"proposer"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// VoteRequest is the body of POST /api/swarm/consensus/{id}/votes.
type VoteRequest struct {
	WorkerID string `json:"workerId"`
	Approve  bool   `json:"approve"`
}

// ScaleRequest is the body of POST /api/swarm/scale.
type ScaleRequest struct {
	Type  string `json:"type"`
	Count *int   `json:"count"`
}

// BatchResponse is returned by POST /api/swarm/batch.
type BatchResponse struct {
	Message           string                   `json:"message"`
	Tasks             []shared.Task            `json:"tasks"`
	ConsensusProposal shared.ConsensusProposal `json:"consensusProposal"`
	Status            shared.SwarmStatus       `json:"status"`
}

// ErrorBody is the error envelope of every failed request.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
