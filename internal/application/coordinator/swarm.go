// Package coordinator provides the SwarmCoordinator, which owns the worker
// roster, the task store and the consensus engine and dispatches queued tasks
// to idle workers.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blackms/flyswarm-go/internal/application/consensus"
	"github.com/blackms/flyswarm-go/internal/application/executor"
	"github.com/blackms/flyswarm-go/internal/domain/task"
	"github.com/blackms/flyswarm-go/internal/domain/worker"
	"github.com/blackms/flyswarm-go/internal/infrastructure/events"
	"github.com/blackms/flyswarm-go/internal/shared"
)

// Defaults for coordinator options.
const (
	DefaultObjective = "distributed task processing"
	DefaultQueenType = "adaptive"
	DefaultVoteDelay = time.Second
	queenID          = "queen"
)

// Options holds configuration options for SwarmCoordinator.
type Options struct {
	SwarmID   string
	Objective string
	QueenType string

	// WorkerTypes and WorkerCounts seed the roster. Both nil means one
	// worker of each type.
	WorkerTypes  []shared.WorkerType
	WorkerCounts []int

	Executor     executor.WorkExecutor
	Voter        consensus.Voter
	VoteDelay    time.Duration
	VotingWindow time.Duration

	Tracer   Tracer
	EventBus *events.EventBus
	Logger   *zap.Logger
}

// SwarmCoordinator coordinates a swarm of typed workers.
//
// A single mutex serializes every read and write of the registry, the task
// store and the consensus engine. Task execution and vote collection run in
// goroutines tracked by wg and re-enter the lock only to record outcomes.
type SwarmCoordinator struct {
	mu        sync.Mutex
	swarmID   string
	objective string
	queenType string
	registry  *worker.Registry
	store     *task.Store
	consensus *consensus.Engine
	closed    bool

	executor  executor.WorkExecutor
	voteDelay time.Duration
	tracer    Tracer
	eventBus  *events.EventBus
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a SwarmCoordinator, seeds its roster and records the session
// start.
func New(opts Options) (*SwarmCoordinator, error) {
	swarmID := opts.SwarmID
	if swarmID == "" {
		swarmID = fmt.Sprintf("swarm-%d", shared.Now())
	}
	objective := opts.Objective
	if objective == "" {
		objective = DefaultObjective
	}
	queenType := opts.QueenType
	if queenType == "" {
		queenType = DefaultQueenType
	}
	exec := opts.Executor
	if exec == nil {
		exec = executor.NewSimulated(executor.SimulatedConfig{})
	}
	voteDelay := opts.VoteDelay
	if voteDelay <= 0 {
		voteDelay = DefaultVoteDelay
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = NopTracer{}
	}
	eventBus := opts.EventBus
	if eventBus == nil {
		eventBus = events.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := worker.NewRegistry()
	var seeded []*worker.Worker
	if opts.WorkerTypes == nil && opts.WorkerCounts == nil {
		seeded = registry.InitializeDefault()
	} else {
		var err error
		seeded, err = registry.Initialize(opts.WorkerTypes, opts.WorkerCounts)
		if err != nil {
			return nil, fmt.Errorf("initialize workers: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sc := &SwarmCoordinator{
		swarmID:   swarmID,
		objective: objective,
		queenType: queenType,
		registry:  registry,
		store:     task.NewStore(),
		consensus: consensus.New(consensus.Config{
			Voter:        opts.Voter,
			VotingWindow: opts.VotingWindow,
		}),
		executor:  exec,
		voteDelay: voteDelay,
		tracer:    tracer,
		eventBus:  eventBus,
		logger:    logger.With(zap.String("swarm_id", swarmID)),
		ctx:       ctx,
		cancel:    cancel,
	}

	sc.tracer.RecordSessionStart(objective, queenType, len(seeded))
	for _, w := range seeded {
		sc.tracer.RecordWorkerSpawn(w.Type, w.ID)
		sc.eventBus.EmitWorkerSpawned(w.ID, w.Type)
	}
	sc.logger.Info("swarm initialized",
		zap.String("objective", objective),
		zap.String("queen_type", queenType),
		zap.Int("workers", len(seeded)))

	return sc, nil
}

// SwarmID returns the swarm identifier.
func (sc *SwarmCoordinator) SwarmID() string {
	return sc.swarmID
}

// EventBus returns the bus the coordinator publishes to.
func (sc *SwarmCoordinator) EventBus() *events.EventBus {
	return sc.eventBus
}

// ============================================================================
// Tasks
// ============================================================================

// CreateTask queues a task and runs an assignment cycle. The returned
// snapshot reflects the task after that cycle, so it may already be assigned.
func (sc *SwarmCoordinator) CreateTask(ctx context.Context, taskType string, payload shared.Payload, priority shared.TaskPriority) (shared.Task, error) {
	if err := ctx.Err(); err != nil {
		return shared.Task{}, err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if err := sc.checkOpen(); err != nil {
		return shared.Task{}, err
	}

	t, err := sc.store.Create(taskType, payload, priority)
	if err != nil {
		return shared.Task{}, err
	}
	sc.logger.Debug("task queued",
		zap.String("task_id", t.ID),
		zap.String("type", t.Type),
		zap.String("priority", string(t.Priority)))

	sc.assignTasks()
	return t.ToShared(), nil
}

// GetTask returns a snapshot of a task.
func (sc *SwarmCoordinator) GetTask(taskID string) (shared.Task, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	t, err := sc.store.Get(taskID)
	if err != nil {
		return shared.Task{}, err
	}
	return t.ToShared(), nil
}

// ListTasks returns snapshots of every task in creation order.
func (sc *SwarmCoordinator) ListTasks() []shared.Task {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	tasks := sc.store.List()
	out := make([]shared.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.ToShared()
	}
	return out
}

// assignTasks pairs queued tasks with idle workers until either runs out or
// the head task has no eligible worker. Callers hold sc.mu.
func (sc *SwarmCoordinator) assignTasks() {
	for sc.store.QueueLen() > 0 {
		idle := sc.registry.ListIdle()
		if len(idle) == 0 {
			return
		}

		head := sc.store.Drain(1)[0]
		w := SelectWorker(head, idle)
		if w == nil {
			sc.store.RequeueFront(head)
			return
		}

		if err := sc.registry.MarkBusy(w.ID, head.ID); err != nil {
			sc.store.RequeueFront(head)
			sc.logger.Error("mark worker busy", zap.String("worker_id", w.ID), zap.Error(err))
			return
		}
		if err := sc.store.MarkAssigned(head.ID, w.ID, shared.Now()); err != nil {
			_ = sc.registry.MarkIdle(w.ID)
			sc.logger.Error("assign task", zap.String("task_id", head.ID), zap.Error(err))
			continue
		}

		sc.tracer.RecordTaskEvent(shared.TaskEvent{
			TaskID:   head.ID,
			WorkerID: w.ID,
			Status:   shared.TaskStatusAssigned,
		})
		sc.eventBus.EmitTaskAssigned(head.ID, head.Type, w.ID)
		sc.logger.Debug("task assigned", zap.String("task_id", head.ID), zap.String("worker_id", w.ID))

		sc.wg.Add(1)
		go sc.execute(head.ToShared(), w.ToShared())
	}
}

// execute runs one assigned task outside the lock and records its outcome.
func (sc *SwarmCoordinator) execute(t shared.Task, w shared.Worker) {
	defer sc.wg.Done()

	start := time.Now()
	result, err := sc.run(t, w)
	duration := time.Since(start).Milliseconds()

	sc.mu.Lock()
	defer sc.mu.Unlock()

	now := shared.Now()
	if err != nil {
		sc.fail(t, w, err.Error(), now)
	} else {
		sc.complete(t, w, result, duration, now)
	}

	if err := sc.registry.MarkIdle(w.ID); err != nil {
		sc.logger.Error("mark worker idle", zap.String("worker_id", w.ID), zap.Error(err))
	}

	if !sc.closed {
		sc.assignTasks()
	}
}

// run calls the executor, converting a panic into an error.
func (sc *SwarmCoordinator) run(t shared.Task, w shared.Worker) (result shared.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return sc.executor.Execute(sc.ctx, t, w)
}

func (sc *SwarmCoordinator) complete(t shared.Task, w shared.Worker, result shared.Payload, duration, now int64) {
	if err := sc.store.MarkCompleted(t.ID, result, now); err != nil {
		sc.logger.Error("complete task", zap.String("task_id", t.ID), zap.Error(err))
		return
	}
	if err := sc.registry.RecordSuccess(w.ID, duration); err != nil {
		sc.logger.Error("record success", zap.String("worker_id", w.ID), zap.Error(err))
	}

	sc.tracer.RecordTaskEvent(shared.TaskEvent{
		TaskID:   t.ID,
		WorkerID: w.ID,
		Status:   shared.TaskStatusCompleted,
		Duration: duration,
	})
	sc.eventBus.EmitTaskCompleted(t.ID, w.ID, duration)
	sc.logger.Debug("task completed",
		zap.String("task_id", t.ID),
		zap.String("worker_id", w.ID),
		zap.Int64("duration_ms", duration))
}

func (sc *SwarmCoordinator) fail(t shared.Task, w shared.Worker, errMsg string, now int64) {
	if err := sc.store.MarkFailed(t.ID, errMsg, now); err != nil {
		sc.logger.Error("fail task", zap.String("task_id", t.ID), zap.Error(err))
		return
	}
	if err := sc.registry.RecordFailure(w.ID); err != nil {
		sc.logger.Error("record failure", zap.String("worker_id", w.ID), zap.Error(err))
	}

	// Span from assignment to failure.
	var duration int64
	if stored, err := sc.store.Get(t.ID); err == nil {
		duration = stored.GetDuration()
	}
	sc.tracer.RecordTaskEvent(shared.TaskEvent{
		TaskID:   t.ID,
		WorkerID: w.ID,
		Status:   shared.TaskStatusFailed,
		Duration: duration,
		Error:    errMsg,
	})
	sc.eventBus.EmitTaskFailed(t.ID, w.ID, errMsg)
	sc.logger.Warn("task failed",
		zap.String("task_id", t.ID),
		zap.String("worker_id", w.ID),
		zap.String("error", errMsg))
}

// ============================================================================
// Consensus
// ============================================================================

// ProposeConsensus opens a proposal over the current roster and schedules
// vote collection after the vote delay. The returned snapshot is still open.
func (sc *SwarmCoordinator) ProposeConsensus(ctx context.Context, topic, proposer string, threshold float64) (shared.ConsensusProposal, error) {
	if err := ctx.Err(); err != nil {
		return shared.ConsensusProposal{}, err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if err := sc.checkOpen(); err != nil {
		return shared.ConsensusProposal{}, err
	}

	now := shared.Now()
	p, err := sc.consensus.Propose(topic, proposer, threshold, sc.registry.IDs(), now)
	if err != nil {
		return shared.ConsensusProposal{}, err
	}
	sc.eventBus.EmitConsensusProposed(p.ID, p.Topic, p.Proposer, len(p.Participants))
	sc.logger.Debug("consensus proposed",
		zap.String("proposal_id", p.ID),
		zap.String("topic", p.Topic),
		zap.Float64("threshold", p.Threshold))

	sc.wg.Add(1)
	go sc.collectVotes(p.ID)

	return p.ToShared(now), nil
}

// RecordVote records a participant's vote on an open proposal ahead of the
// scheduled collection.
func (sc *SwarmCoordinator) RecordVote(ctx context.Context, proposalID, workerID string, approve bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if err := sc.checkOpen(); err != nil {
		return err
	}
	if err := sc.consensus.RecordVote(proposalID, workerID, approve); err != nil {
		return err
	}
	sc.tracer.RecordCommunication(workerID, queenID, voteMessage(proposalID, approve))
	return nil
}

// GetProposal returns a snapshot of a proposal.
func (sc *SwarmCoordinator) GetProposal(proposalID string) (shared.ConsensusProposal, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	p, err := sc.consensus.Get(proposalID)
	if err != nil {
		return shared.ConsensusProposal{}, err
	}
	return p.ToShared(shared.Now()), nil
}

// collectVotes waits out the vote delay, then gathers the remaining votes and
// resolves the proposal.
func (sc *SwarmCoordinator) collectVotes(proposalID string) {
	defer sc.wg.Done()

	timer := time.NewTimer(sc.voteDelay)
	defer timer.Stop()
	select {
	case <-sc.ctx.Done():
		return
	case <-timer.C:
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	p, err := sc.consensus.Get(proposalID)
	if err != nil {
		sc.logger.Error("collect votes", zap.String("proposal_id", proposalID), zap.Error(err))
		return
	}
	before := make(map[string]bool, len(p.Votes))
	for id := range p.Votes {
		before[id] = true
	}

	if _, err := sc.consensus.CollectVotes(proposalID, shared.Now()); err != nil {
		sc.logger.Error("collect votes", zap.String("proposal_id", proposalID), zap.Error(err))
		return
	}

	for _, workerID := range p.Participants {
		if before[workerID] {
			continue
		}
		sc.tracer.RecordCommunication(workerID, queenID, voteMessage(proposalID, p.Votes[workerID]))
	}
	sc.tracer.RecordConsensusEvent(p.ToEvent())
	sc.eventBus.EmitConsensusResolved(p.ID, p.Status, p.Approvals(), len(p.Votes))
	sc.logger.Info("consensus resolved",
		zap.String("proposal_id", p.ID),
		zap.String("topic", p.Topic),
		zap.String("status", string(p.Status)),
		zap.Int("approvals", p.Approvals()),
		zap.Int("votes", len(p.Votes)))
}

func voteMessage(proposalID string, approve bool) map[string]interface{} {
	return map[string]interface{}{
		"type":       "vote",
		"proposalId": proposalID,
		"vote":       approve,
	}
}

// ============================================================================
// Workers
// ============================================================================

// ScaleWorkers brings the number of workers of a type toward count. Busy
// workers are never removed, so the count may stay above target until they
// finish. Newly spawned workers pick up queued tasks immediately.
func (sc *SwarmCoordinator) ScaleWorkers(ctx context.Context, workerType shared.WorkerType, count int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if err := sc.checkOpen(); err != nil {
		return err
	}

	spawned, removed, err := sc.registry.Scale(workerType, count)
	if err != nil {
		return err
	}
	for _, w := range spawned {
		sc.tracer.RecordWorkerSpawn(w.Type, w.ID)
		sc.eventBus.EmitWorkerSpawned(w.ID, w.Type)
	}
	for _, w := range removed {
		sc.eventBus.EmitWorkerRemoved(w.ID, w.Type)
	}
	sc.logger.Info("workers scaled",
		zap.String("type", string(workerType)),
		zap.Int("target", count),
		zap.Int("spawned", len(spawned)),
		zap.Int("removed", len(removed)),
		zap.Int("current", sc.registry.CountByType(workerType)))

	sc.assignTasks()
	return nil
}

// ============================================================================
// Status & Lifecycle
// ============================================================================

// GetStatus returns a consistent snapshot of the swarm.
func (sc *SwarmCoordinator) GetStatus() shared.SwarmStatus {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	return sc.statusLocked()
}

func (sc *SwarmCoordinator) statusLocked() shared.SwarmStatus {
	now := shared.Now()

	workers := sc.registry.List()
	workerSnapshots := make([]shared.Worker, len(workers))
	for i, w := range workers {
		workerSnapshots[i] = w.ToShared()
	}

	proposals := sc.consensus.List()
	proposalSnapshots := make([]shared.ConsensusProposal, len(proposals))
	for i, p := range proposals {
		proposalSnapshots[i] = p.ToShared(now)
	}

	counts := sc.store.Counts()
	return shared.SwarmStatus{
		SwarmID:            sc.swarmID,
		Workers:            workerSnapshots,
		ActiveTaskCount:    counts.Active,
		QueuedTaskCount:    counts.Queued,
		CompletedTaskCount: counts.Completed,
		FailedTaskCount:    counts.Failed,
		Proposals:          proposalSnapshots,
	}
}

// Shutdown stops accepting work and waits for in-flight executions and vote
// collections. If ctx ends first, running work is cancelled and ctx's error
// is returned. The session end is recorded either way.
func (sc *SwarmCoordinator) Shutdown(ctx context.Context) error {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return nil
	}
	sc.closed = true
	sc.mu.Unlock()

	done := make(chan struct{})
	go func() {
		sc.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	sc.cancel()

	sc.mu.Lock()
	status := sc.statusLocked()
	sc.mu.Unlock()

	sc.tracer.RecordSessionEnd(map[string]interface{}{
		"swarmId":        status.SwarmID,
		"workers":        len(status.Workers),
		"activeTasks":    status.ActiveTaskCount,
		"queuedTasks":    status.QueuedTaskCount,
		"completedTasks": status.CompletedTaskCount,
		"failedTasks":    status.FailedTaskCount,
		"proposals":      len(status.Proposals),
	})
	sc.logger.Info("swarm shut down",
		zap.Int("completed_tasks", status.CompletedTaskCount),
		zap.Int("failed_tasks", status.FailedTaskCount),
		zap.Bool("timed_out", waitErr != nil))

	return waitErr
}

func (sc *SwarmCoordinator) checkOpen() error {
	if sc.closed {
		return shared.NewInvalidStateError("swarm is shut down", map[string]interface{}{"swarmId": sc.swarmID})
	}
	return nil
}
