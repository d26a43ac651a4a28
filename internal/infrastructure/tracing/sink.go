package tracing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/blackms/flyswarm-go/internal/shared"
)

// Sink defaults.
const (
	DefaultQueueSize     = 1024
	DefaultExportTimeout = 2 * time.Second
)

// SinkConfig holds configuration for a Sink.
type SinkConfig struct {
	SwarmID       string
	Exporter      Exporter
	QueueSize     int
	ExportTimeout time.Duration
	Logger        *zap.Logger
}

// Sink queues trace events and exports them from one background goroutine.
// Recording never blocks: when the queue is full the event is dropped and
// counted. Export failures are logged and counted.
type Sink struct {
	swarmID  string
	exporter Exporter
	timeout  time.Duration
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}

	dropped  atomic.Uint64
	exported atomic.Uint64
	failed   atomic.Uint64
}

// NewSink creates a sink and starts its drain goroutine.
func NewSink(config SinkConfig) *Sink {
	size := config.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	timeout := config.ExportTimeout
	if timeout <= 0 {
		timeout = DefaultExportTimeout
	}
	exporter := config.Exporter
	if exporter == nil {
		exporter = Discard{}
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Sink{
		swarmID:  config.SwarmID,
		exporter: exporter,
		timeout:  timeout,
		logger:   logger,
		queue:    make(chan Event, size),
		done:     make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *Sink) drain() {
	defer close(s.done)

	for ev := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.exporter.Export(ctx, ev)
		cancel()

		if err != nil {
			s.failed.Add(1)
			s.logger.Warn("trace export failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
			continue
		}
		s.exported.Add(1)
	}
}

// Record enqueues an event without blocking. Events recorded after Close are
// dropped.
func (s *Sink) Record(kind Kind, attributes map[string]interface{}) {
	ev := Event{
		Kind:       kind,
		SwarmID:    s.swarmID,
		Timestamp:  shared.Now(),
		Attributes: attributes,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Close stops accepting events, waits for the queue to drain and closes the
// exporter. If ctx ends first the exporter is left open, because the drain
// goroutine may still be using it.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.exporter.Close(ctx)
}

// Dropped returns the number of events lost to a full queue or a closed sink.
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }

// Exported returns the number of events delivered successfully.
func (s *Sink) Exported() uint64 { return s.exported.Load() }

// Failed returns the number of events the exporter rejected.
func (s *Sink) Failed() uint64 { return s.failed.Load() }

// ============================================================================
// Swarm Tracer
// ============================================================================

// RecordSessionStart records the start of a swarm session.
func (s *Sink) RecordSessionStart(objective, queenType string, workerCount int) {
	s.Record(KindSessionStart, map[string]interface{}{
		"objective":   objective,
		"queenType":   queenType,
		"workerCount": workerCount,
		"startTime":   time.Now().UTC().Format(time.RFC3339),
	})
}

// RecordWorkerSpawn records a worker joining the roster.
func (s *Sink) RecordWorkerSpawn(workerType shared.WorkerType, workerID string) {
	s.Record(KindWorkerSpawn, map[string]interface{}{
		"workerType": string(workerType),
		"workerId":   workerID,
	})
}

// RecordTaskEvent records a task lifecycle transition.
func (s *Sink) RecordTaskEvent(event shared.TaskEvent) {
	attrs := map[string]interface{}{
		"taskId":   event.TaskID,
		"workerId": event.WorkerID,
		"status":   string(event.Status),
	}
	if event.Duration > 0 {
		attrs["duration"] = event.Duration
	}
	if event.Error != "" {
		attrs["error"] = event.Error
	}
	s.Record(KindTaskExecution, attrs)
}

// RecordConsensusEvent records a resolved vote.
func (s *Sink) RecordConsensusEvent(event shared.ConsensusEvent) {
	approvals := 0
	for _, v := range event.Votes {
		if v {
			approvals++
		}
	}
	s.Record(KindConsensusVote, map[string]interface{}{
		"proposalId":   event.ProposalID,
		"topic":        event.Topic,
		"result":       string(event.Result),
		"participants": event.Participants,
		"votes":        event.Votes,
		"approvals":    approvals,
	})
}

// RecordCommunication records a message between swarm members.
func (s *Sink) RecordCommunication(from, to string, message map[string]interface{}) {
	s.Record(KindAgentCommunication, map[string]interface{}{
		"from":    from,
		"to":      to,
		"message": message,
	})
}

// RecordSessionEnd records the end of a swarm session with its summary.
func (s *Sink) RecordSessionEnd(summary map[string]interface{}) {
	attrs := make(map[string]interface{}, len(summary)+1)
	for k, v := range summary {
		attrs[k] = v
	}
	attrs["endTime"] = time.Now().UTC().Format(time.RFC3339)
	s.Record(KindSessionEnd, attrs)
}
