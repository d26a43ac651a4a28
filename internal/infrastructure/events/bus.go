// Package events provides an event bus implementation using Go channels.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/blackms/flyswarm-go/internal/shared"
)

// EventType identifies a swarm event.
type EventType string

const (
	EventTaskAssigned      EventType = "task:assigned"
	EventTaskCompleted     EventType = "task:completed"
	EventTaskFailed        EventType = "task:failed"
	EventWorkerSpawned     EventType = "worker:spawned"
	EventWorkerRemoved     EventType = "worker:removed"
	EventConsensusProposed EventType = "consensus:proposed"
	EventConsensusResolved EventType = "consensus:resolved"

	// EventAll subscribes to every event type.
	EventAll EventType = "*"
)

// Event is a swarm notification delivered to subscribers.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp int64                  `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Handler is a function that handles events.
type Handler func(event Event)

// Subscription is a channel of events registered on the bus.
type Subscription struct {
	ID   string
	Type EventType
	C    <-chan Event

	ch chan Event
}

type registeredHandler struct {
	id      string
	handler Handler
}

// EventBus provides a publish-subscribe event system using Go channels.
// Delivery never blocks the publisher: events for a full subscriber are
// dropped and counted.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]*Subscription
	handlers    map[EventType][]registeredHandler
	bufferSize  int
	closed      bool
	dropped     atomic.Uint64
}

// Option configures the EventBus.
type Option func(*EventBus)

// WithBufferSize sets the channel buffer size.
func WithBufferSize(size int) Option {
	return func(eb *EventBus) {
		if size > 0 {
			eb.bufferSize = size
		}
	}
}

// New creates a new EventBus.
func New(opts ...Option) *EventBus {
	eb := &EventBus{
		subscribers: make(map[EventType][]*Subscription),
		handlers:    make(map[EventType][]registeredHandler),
		bufferSize:  100,
	}

	for _, opt := range opts {
		opt(eb)
	}

	return eb
}

// Subscribe creates a subscription receiving events of the given type. On a
// closed bus the returned subscription's channel is already closed.
func (eb *EventBus) Subscribe(eventType EventType) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, eb.bufferSize)
	sub := &Subscription{ID: uuid.NewString(), Type: eventType, C: ch, ch: ch}
	if eb.closed {
		close(ch)
		return sub
	}
	eb.subscribers[eventType] = append(eb.subscribers[eventType], sub)
	return sub
}

// SubscribeAll creates a subscription receiving all events.
func (eb *EventBus) SubscribeAll() *Subscription {
	return eb.Subscribe(EventAll)
}

// Unsubscribe removes a subscription and closes its channel. Unknown or
// already removed subscriptions are ignored.
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[sub.Type]
	for i, s := range subs {
		if s.ID == sub.ID {
			eb.subscribers[sub.Type] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// On registers a handler for events of the given type and returns its id.
func (eb *EventBus) On(eventType EventType, handler Handler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := uuid.NewString()
	eb.handlers[eventType] = append(eb.handlers[eventType], registeredHandler{id: id, handler: handler})
	return id
}

// Off removes the handler with the given id. An empty id removes every
// handler for the type.
func (eb *EventBus) Off(eventType EventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if handlerID == "" {
		delete(eb.handlers, eventType)
		return
	}

	hs := eb.handlers[eventType]
	for i, h := range hs {
		if h.id == handlerID {
			eb.handlers[eventType] = append(hs[:i], hs[i+1:]...)
			return
		}
	}
}

// Emit publishes an event to all subscribers and handlers.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = shared.Now()
	}

	eb.deliver(eb.subscribers[event.Type], event)
	if event.Type != EventAll {
		eb.deliver(eb.subscribers[EventAll], event)
	}

	for _, h := range eb.handlers[event.Type] {
		go h.handler(event)
	}
	if event.Type != EventAll {
		for _, h := range eb.handlers[EventAll] {
			go h.handler(event)
		}
	}
}

func (eb *EventBus) deliver(subs []*Subscription, event Event) {
	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			eb.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events skipped because a subscriber was full.
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

// SubscriberCount returns the number of live subscriptions.
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	n := 0
	for _, subs := range eb.subscribers {
		n += len(subs)
	}
	return n
}

// Close closes all subscriber channels and stops the event bus.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, subs := range eb.subscribers {
		for _, sub := range subs {
			close(sub.ch)
		}
	}

	eb.subscribers = make(map[EventType][]*Subscription)
	eb.handlers = make(map[EventType][]registeredHandler)
}

// ============================================================================
// Helper Functions
// ============================================================================

// EmitTaskAssigned emits a task assigned event.
func (eb *EventBus) EmitTaskAssigned(taskID, taskType, workerID string) {
	eb.Emit(Event{
		Type:      EventTaskAssigned,
		Timestamp: shared.Now(),
		Payload: map[string]interface{}{
			"taskId":   taskID,
			"taskType": taskType,
			"workerId": workerID,
		},
	})
}

// EmitTaskCompleted emits a task completed event.
func (eb *EventBus) EmitTaskCompleted(taskID, workerID string, duration int64) {
	eb.Emit(Event{
		Type:      EventTaskCompleted,
		Timestamp: shared.Now(),
		Payload: map[string]interface{}{
			"taskId":   taskID,
			"workerId": workerID,
			"duration": duration,
		},
	})
}

// EmitTaskFailed emits a task failed event.
func (eb *EventBus) EmitTaskFailed(taskID, workerID, errMsg string) {
	eb.Emit(Event{
		Type:      EventTaskFailed,
		Timestamp: shared.Now(),
		Payload: map[string]interface{}{
			"taskId":   taskID,
			"workerId": workerID,
			"error":    errMsg,
		},
	})
}

// EmitWorkerSpawned emits a worker spawned event.
func (eb *EventBus) EmitWorkerSpawned(workerID string, workerType shared.WorkerType) {
	eb.Emit(Event{
		Type:      EventWorkerSpawned,
		Timestamp: shared.Now(),
		Payload: map[string]interface{}{
			"workerId": workerID,
			"type":     string(workerType),
		},
	})
}

// EmitWorkerRemoved emits a worker removed event.
func (eb *EventBus) EmitWorkerRemoved(workerID string, workerType shared.WorkerType) {
	eb.Emit(Event{
		Type:      EventWorkerRemoved,
		Timestamp: shared.Now(),
		Payload: map[string]interface{}{
			"workerId": workerID,
			"type":     string(workerType),
		},
	})
}

// EmitConsensusProposed emits a consensus proposed event.
func (eb *EventBus) EmitConsensusProposed(proposalID, topic, proposer string, participants int) {
	eb.Emit(Event{
		Type:      EventConsensusProposed,
		Timestamp: shared.Now(),
		Payload: map[string]interface{}{
			"proposalId":   proposalID,
			"topic":        topic,
			"proposer":     proposer,
			"participants": participants,
		},
	})
}

// EmitConsensusResolved emits a consensus resolved event.
func (eb *EventBus) EmitConsensusResolved(proposalID string, status shared.ProposalStatus, approvals, votes int) {
	eb.Emit(Event{
		Type:      EventConsensusResolved,
		Timestamp: shared.Now(),
		Payload: map[string]interface{}{
			"proposalId": proposalID,
			"status":     string(status),
			"approvals":  approvals,
			"votes":      votes,
		},
	})
}
