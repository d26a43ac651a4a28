package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/blackms/flyswarm-go/internal/application/consensus"
	"github.com/blackms/flyswarm-go/internal/application/executor"
	"github.com/blackms/flyswarm-go/internal/shared"
)

// ============================================================================
// Test Helpers
// ============================================================================

type recordingTracer struct {
	mu             sync.Mutex
	sessionStarts  int
	spawns         []string
	taskEvents     []shared.TaskEvent
	consensus      []shared.ConsensusEvent
	communications int
	sessionEnd     map[string]interface{}
}

func (r *recordingTracer) RecordSessionStart(string, string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionStarts++
}

func (r *recordingTracer) RecordWorkerSpawn(_ shared.WorkerType, workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spawns = append(r.spawns, workerID)
}

func (r *recordingTracer) RecordTaskEvent(event shared.TaskEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taskEvents = append(r.taskEvents, event)
}

func (r *recordingTracer) RecordConsensusEvent(event shared.ConsensusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consensus = append(r.consensus, event)
}

func (r *recordingTracer) RecordCommunication(string, string, map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.communications++
}

func (r *recordingTracer) RecordSessionEnd(summary map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionEnd = summary
}

func (r *recordingTracer) statuses(taskID string) []shared.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.TaskStatus
	for _, ev := range r.taskEvents {
		if ev.TaskID == taskID {
			out = append(out, ev.Status)
		}
	}
	return out
}

// gatedExecutor blocks every execution until release is called.
type gatedExecutor struct {
	gate chan struct{}
	once sync.Once

	mu    sync.Mutex
	runs  map[string]int
	count int
}

func newGatedExecutor() *gatedExecutor {
	return &gatedExecutor{gate: make(chan struct{}), runs: make(map[string]int)}
}

func (g *gatedExecutor) Execute(ctx context.Context, t shared.Task, w shared.Worker) (json.RawMessage, error) {
	g.mu.Lock()
	g.runs[t.ID]++
	g.count++
	g.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.gate:
	}
	return json.RawMessage(fmt.Sprintf(`{"by":%q}`, w.ID)), nil
}

func (g *gatedExecutor) release() {
	g.once.Do(func() { close(g.gate) })
}

func newTestCoordinator(t *testing.T, opts Options) (*SwarmCoordinator, *recordingTracer) {
	t.Helper()
	tracer := &recordingTracer{}
	if opts.Tracer == nil {
		opts.Tracer = tracer
	}
	if opts.VoteDelay == 0 {
		opts.VoteDelay = 10 * time.Millisecond
	}
	sc, err := New(opts)
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sc.Shutdown(ctx)
	})
	return sc, tracer
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func workerByID(status shared.SwarmStatus, id string) (shared.Worker, bool) {
	for _, w := range status.Workers {
		if w.ID == id {
			return w, true
		}
	}
	return shared.Worker{}, false
}

// ============================================================================
// Tests
// ============================================================================

func TestSwarmCoordinator_NewSeedsDefaultRoster(t *testing.T) {
	sc, tracer := newTestCoordinator(t, Options{SwarmID: "swarm-test", Executor: newGatedExecutor()})

	status := sc.GetStatus()
	if status.SwarmID != "swarm-test" || len(status.Workers) != 4 {
		t.Fatalf("expected swarm-test with 4 workers, got %s with %d", status.SwarmID, len(status.Workers))
	}
	if tracer.sessionStarts != 1 || len(tracer.spawns) != 4 {
		t.Fatalf("expected one session start and 4 spawns, got %d and %v", tracer.sessionStarts, tracer.spawns)
	}
}

func TestSwarmCoordinator_NewRejectsBadRoster(t *testing.T) {
	_, err := New(Options{WorkerTypes: []shared.WorkerType{"queen"}, WorkerCounts: []int{1}})
	if !shared.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSwarmCoordinator_CreateAssignComplete(t *testing.T) {
	exec := newGatedExecutor()
	sc, tracer := newTestCoordinator(t, Options{Executor: exec})
	ctx := context.Background()

	created, err := sc.CreateTask(ctx, "implement-feature", json.RawMessage(`{"feature":"auth"}`), shared.PriorityHigh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Status != shared.TaskStatusAssigned || created.AssignedTo != "worker-2" {
		t.Fatalf("expected task assigned to the coder worker-2, got %s/%s", created.Status, created.AssignedTo)
	}

	status := sc.GetStatus()
	if status.ActiveTaskCount != 1 || status.QueuedTaskCount != 0 {
		t.Fatalf("expected active=1 queued=0, got active=%d queued=%d", status.ActiveTaskCount, status.QueuedTaskCount)
	}
	coder, _ := workerByID(status, "worker-2")
	if coder.Status != shared.WorkerStatusBusy || coder.CurrentTask != created.ID {
		t.Fatalf("expected busy coder on %s, got %+v", created.ID, coder)
	}

	exec.release()
	waitFor(t, "task completion", func() bool { return sc.GetStatus().CompletedTaskCount == 1 })

	done, err := sc.GetTask(created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done.Status != shared.TaskStatusCompleted || string(done.Result) != `{"by":"worker-2"}` {
		t.Fatalf("expected completed task with result, got %+v", done)
	}
	if done.CompletedAt < done.StartedAt || done.StartedAt < done.CreatedAt {
		t.Fatalf("expected non-decreasing timestamps, got %+v", done)
	}

	coder, _ = workerByID(sc.GetStatus(), "worker-2")
	if coder.Status != shared.WorkerStatusIdle || coder.CurrentTask != "" || coder.Performance.TasksCompleted != 1 {
		t.Fatalf("expected idle coder with one completion, got %+v", coder)
	}

	got := tracer.statuses(created.ID)
	if len(got) != 2 || got[0] != shared.TaskStatusAssigned || got[1] != shared.TaskStatusCompleted {
		t.Fatalf("expected assigned then completed trace events, got %v", got)
	}
}

func TestSwarmCoordinator_NoDoubleAssignmentUnderConcurrency(t *testing.T) {
	exec := newGatedExecutor()
	sc, _ := newTestCoordinator(t, Options{Executor: exec})
	ctx := context.Background()

	const total = 20
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := sc.CreateTask(ctx, fmt.Sprintf("job-%d", i), nil, shared.PriorityMedium); err != nil {
				t.Errorf("create task: %v", err)
			}
		}(i)
	}
	wg.Wait()

	status := sc.GetStatus()
	if status.ActiveTaskCount != 4 || status.QueuedTaskCount != total-4 {
		t.Fatalf("expected 4 active and %d queued, got %d/%d", total-4, status.ActiveTaskCount, status.QueuedTaskCount)
	}
	seen := make(map[string]string)
	for _, w := range status.Workers {
		if w.Status != shared.WorkerStatusBusy || w.CurrentTask == "" {
			t.Fatalf("expected every worker busy, got %+v", w)
		}
		if other, dup := seen[w.CurrentTask]; dup {
			t.Fatalf("task %s held by %s and %s", w.CurrentTask, other, w.ID)
		}
		seen[w.CurrentTask] = w.ID
	}

	exec.release()
	waitFor(t, "all tasks completed", func() bool { return sc.GetStatus().CompletedTaskCount == total })

	exec.mu.Lock()
	defer exec.mu.Unlock()
	if exec.count != total {
		t.Fatalf("expected %d executions, got %d", total, exec.count)
	}
	for id, n := range exec.runs {
		if n != 1 {
			t.Fatalf("task %s executed %d times", id, n)
		}
	}
}

func TestSwarmCoordinator_HeadOfQueueWithoutEligibleWorkerStopsCycle(t *testing.T) {
	exec := newGatedExecutor()
	sc, _ := newTestCoordinator(t, Options{Executor: exec})
	ctx := context.Background()

	first, _ := sc.CreateTask(ctx, "implement-a", nil, shared.PriorityHigh)
	blocked, _ := sc.CreateTask(ctx, "implement-b", nil, shared.PriorityHigh)
	behind, _ := sc.CreateTask(ctx, "search-c", nil, shared.PriorityLow)

	if first.AssignedTo != "worker-2" {
		t.Fatalf("expected first task on the coder, got %q", first.AssignedTo)
	}
	if blocked.Status != shared.TaskStatusPending || behind.Status != shared.TaskStatusPending {
		t.Fatalf("expected both later tasks pending, got %s and %s", blocked.Status, behind.Status)
	}
	researcher, _ := workerByID(sc.GetStatus(), "worker-1")
	if researcher.Status != shared.WorkerStatusIdle {
		t.Fatalf("expected researcher to stay idle behind the blocked head, got %s", researcher.Status)
	}

	exec.release()
	waitFor(t, "queue drained", func() bool { return sc.GetStatus().CompletedTaskCount == 3 })

	second, _ := sc.GetTask(blocked.ID)
	third, _ := sc.GetTask(behind.ID)
	if second.AssignedTo != "worker-2" || third.AssignedTo != "worker-1" {
		t.Fatalf("expected implement-b on worker-2 and search-c on worker-1, got %s and %s", second.AssignedTo, third.AssignedTo)
	}
}

func TestSwarmCoordinator_UnmatchedTypePrefersBestSuccessRate(t *testing.T) {
	failing := executor.Func(func(context.Context, shared.Task, shared.Worker) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})
	sc, _ := newTestCoordinator(t, Options{Executor: failing})
	ctx := context.Background()

	bad, _ := sc.CreateTask(ctx, "search-fail", nil, shared.PriorityHigh)
	waitFor(t, "failure recorded", func() bool { return sc.GetStatus().FailedTaskCount == 1 })
	if bad.AssignedTo != "worker-1" {
		t.Fatalf("expected researcher to take the search task, got %s", bad.AssignedTo)
	}

	generic, _ := sc.CreateTask(ctx, "generic", nil, shared.PriorityHigh)
	if generic.AssignedTo != "worker-2" {
		t.Fatalf("expected worker-2 to win the tie among full success rates over degraded worker-1, got %s", generic.AssignedTo)
	}
}

func TestSwarmCoordinator_FailurePaths(t *testing.T) {
	tests := []struct {
		name     string
		exec     executor.WorkExecutor
		expected string
	}{
		{
			name: "executor error",
			exec: executor.Func(func(context.Context, shared.Task, shared.Worker) (json.RawMessage, error) {
				return nil, errors.New("disk on fire")
			}),
			expected: "disk on fire",
		},
		{
			name: "executor panic",
			exec: executor.Func(func(context.Context, shared.Task, shared.Worker) (json.RawMessage, error) {
				panic("kaboom")
			}),
			expected: "executor panic: kaboom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, tracer := newTestCoordinator(t, Options{Executor: tt.exec})

			created, err := sc.CreateTask(context.Background(), "validate-system", nil, shared.PriorityMedium)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			waitFor(t, "task failure", func() bool { return sc.GetStatus().FailedTaskCount == 1 })

			failed, _ := sc.GetTask(created.ID)
			if failed.Status != shared.TaskStatusFailed || failed.Error != tt.expected || failed.Result != nil {
				t.Fatalf("expected failed task with %q, got %+v", tt.expected, failed)
			}

			tester, _ := workerByID(sc.GetStatus(), "worker-4")
			if tester.Status != shared.WorkerStatusIdle || tester.Performance.SuccessRate != 0 {
				t.Fatalf("expected idle tester with diluted success rate 0, got %+v", tester)
			}
			got := tracer.statuses(created.ID)
			if len(got) != 2 || got[1] != shared.TaskStatusFailed {
				t.Fatalf("expected failed trace event, got %v", got)
			}
		})
	}
}

func TestSwarmCoordinator_FailureTraceCarriesDuration(t *testing.T) {
	sc, tracer := newTestCoordinator(t, Options{
		Executor: executor.Func(func(context.Context, shared.Task, shared.Worker) (json.RawMessage, error) {
			time.Sleep(30 * time.Millisecond)
			return nil, errors.New("timeout upstream")
		}),
	})

	created, _ := sc.CreateTask(context.Background(), "implement-feature", nil, shared.PriorityHigh)
	waitFor(t, "task failure", func() bool { return sc.GetStatus().FailedTaskCount == 1 })

	stored, _ := sc.GetTask(created.ID)
	want := stored.CompletedAt - stored.StartedAt

	tracer.mu.Lock()
	defer tracer.mu.Unlock()
	var got *shared.TaskEvent
	for i := range tracer.taskEvents {
		if tracer.taskEvents[i].TaskID == created.ID && tracer.taskEvents[i].Status == shared.TaskStatusFailed {
			got = &tracer.taskEvents[i]
		}
	}
	if got == nil {
		t.Fatalf("expected failed trace event, got %+v", tracer.taskEvents)
	}
	if got.Duration != want || got.Duration < 20 {
		t.Fatalf("expected failure duration %dms from the stored task, got %d", want, got.Duration)
	}
}

func TestSwarmCoordinator_ScaleDownKeepsBusyWorkers(t *testing.T) {
	exec := newGatedExecutor()
	sc, tracer := newTestCoordinator(t, Options{Executor: exec})
	ctx := context.Background()

	if _, err := sc.CreateTask(ctx, "implement-feature", nil, shared.PriorityHigh); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sc.ScaleWorkers(ctx, shared.WorkerTypeCoder, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := workerByID(sc.GetStatus(), "worker-2"); !ok {
		t.Fatal("expected busy coder to survive scale-down")
	}

	if err := sc.ScaleWorkers(ctx, shared.WorkerTypeCoder, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	status := sc.GetStatus()
	if len(status.Workers) != 6 {
		t.Fatalf("expected 6 workers after scaling coders to 3, got %d", len(status.Workers))
	}
	if _, ok := workerByID(status, "worker-6"); !ok {
		t.Fatal("expected monotonic id worker-6 to exist")
	}
	if len(tracer.spawns) != 6 {
		t.Fatalf("expected 6 recorded spawns, got %v", tracer.spawns)
	}

	if err := sc.ScaleWorkers(ctx, "queen", 1); !shared.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSwarmCoordinator_ScaleUpDispatchesQueuedTasks(t *testing.T) {
	exec := newGatedExecutor()
	sc, _ := newTestCoordinator(t, Options{
		Executor:     exec,
		WorkerTypes:  []shared.WorkerType{shared.WorkerTypeResearcher},
		WorkerCounts: []int{1},
	})
	ctx := context.Background()

	queued, _ := sc.CreateTask(ctx, "implement-feature", nil, shared.PriorityHigh)
	if queued.Status != shared.TaskStatusPending {
		t.Fatalf("expected task to wait for a coder, got %s", queued.Status)
	}

	if err := sc.ScaleWorkers(ctx, shared.WorkerTypeCoder, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assigned, _ := sc.GetTask(queued.ID)
	if assigned.Status != shared.TaskStatusAssigned || assigned.AssignedTo != "worker-2" {
		t.Fatalf("expected new coder worker-2 to pick up the task, got %+v", assigned)
	}
}

func TestSwarmCoordinator_ConsensusResolvesAfterDelay(t *testing.T) {
	sc, tracer := newTestCoordinator(t, Options{
		Executor: newGatedExecutor(),
		Voter:    consensus.FixedVoter{Votes: map[string]bool{"worker-1": true, "worker-2": true}},
	})
	ctx := context.Background()

	p, err := sc.ProposeConsensus(ctx, "scale-up-workers", "auto-scaler", 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != shared.ProposalStatusOpen || len(p.Participants) != 4 {
		t.Fatalf("expected open proposal over 4 workers, got %+v", p)
	}

	waitFor(t, "proposal resolution", func() bool {
		got, _ := sc.GetProposal(p.ID)
		return got.Status != shared.ProposalStatusOpen
	})

	resolved, _ := sc.GetProposal(p.ID)
	if resolved.Status != shared.ProposalStatusApproved || len(resolved.Votes) != 4 {
		t.Fatalf("expected approval at 2/4 with 4 votes, got %+v", resolved)
	}

	tracer.mu.Lock()
	defer tracer.mu.Unlock()
	if tracer.communications != 4 || len(tracer.consensus) != 1 || tracer.consensus[0].Result != shared.ProposalStatusApproved {
		t.Fatalf("expected 4 vote messages and one approved consensus record, got %d / %+v", tracer.communications, tracer.consensus)
	}
}

func TestSwarmCoordinator_RecordVoteBeforeCollection(t *testing.T) {
	sc, _ := newTestCoordinator(t, Options{
		Executor:  newGatedExecutor(),
		Voter:     consensus.FixedVoter{Default: false},
		VoteDelay: 50 * time.Millisecond,
	})
	ctx := context.Background()

	p, _ := sc.ProposeConsensus(ctx, "adopt-policy", "worker-1", 0.25)
	if err := sc.RecordVote(ctx, p.ID, "worker-3", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sc.RecordVote(ctx, p.ID, "worker-3", false); !shared.IsInvalidState(err) {
		t.Fatalf("expected double vote rejected, got %v", err)
	}

	waitFor(t, "proposal resolution", func() bool {
		got, _ := sc.GetProposal(p.ID)
		return got.Status != shared.ProposalStatusOpen
	})
	resolved, _ := sc.GetProposal(p.ID)
	if resolved.Status != shared.ProposalStatusApproved || !resolved.Votes["worker-3"] {
		t.Fatalf("expected early vote kept and 1/4 to meet 0.25, got %+v", resolved)
	}
}

func TestSwarmCoordinator_ProposeValidates(t *testing.T) {
	sc, _ := newTestCoordinator(t, Options{Executor: newGatedExecutor()})

	if _, err := sc.ProposeConsensus(context.Background(), "topic", "p", 1.5); !shared.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := sc.GetProposal("consensus-missing"); !shared.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := sc.GetTask("task-missing"); !shared.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSwarmCoordinator_ShutdownRefusesWorkAndTimesOut(t *testing.T) {
	exec := newGatedExecutor()
	sc, tracer := newTestCoordinator(t, Options{Executor: exec})
	bg := context.Background()

	if _, err := sc.CreateTask(bg, "implement-feature", nil, shared.PriorityHigh); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(bg, 30*time.Millisecond)
	defer cancel()
	if err := sc.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while a task is gated, got %v", err)
	}
	if err := sc.Shutdown(bg); err != nil {
		t.Fatalf("expected second shutdown to be a no-op, got %v", err)
	}

	if _, err := sc.CreateTask(bg, "late", nil, shared.PriorityLow); !shared.IsInvalidState(err) {
		t.Fatalf("expected invalid state after shutdown, got %v", err)
	}
	if _, err := sc.ProposeConsensus(bg, "late", "p", 0.5); !shared.IsInvalidState(err) {
		t.Fatalf("expected invalid state after shutdown, got %v", err)
	}
	if err := sc.ScaleWorkers(bg, shared.WorkerTypeCoder, 2); !shared.IsInvalidState(err) {
		t.Fatalf("expected invalid state after shutdown, got %v", err)
	}
	if err := sc.RecordVote(bg, "consensus-missing", "worker-1", true); !shared.IsInvalidState(err) {
		t.Fatalf("expected vote refused after shutdown, got %v", err)
	}

	tracer.mu.Lock()
	defer tracer.mu.Unlock()
	if tracer.sessionEnd == nil || tracer.sessionEnd["swarmId"] != sc.SwarmID() {
		t.Fatalf("expected session end summary, got %v", tracer.sessionEnd)
	}
}

func TestSwarmCoordinator_ShutdownWaitsForInFlightWork(t *testing.T) {
	exec := newGatedExecutor()
	sc, _ := newTestCoordinator(t, Options{Executor: exec})

	created, _ := sc.CreateTask(context.Background(), "implement-feature", nil, shared.PriorityHigh)
	go func() {
		time.Sleep(20 * time.Millisecond)
		exec.release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sc.Shutdown(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done, _ := sc.GetTask(created.ID)
	if done.Status != shared.TaskStatusCompleted {
		t.Fatalf("expected in-flight task to finish before shutdown returned, got %s", done.Status)
	}
}

func TestSwarmCoordinator_CreateTaskHonorsContext(t *testing.T) {
	sc, _ := newTestCoordinator(t, Options{Executor: newGatedExecutor()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := sc.CreateTask(ctx, "implement", nil, shared.PriorityHigh); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if sc.GetStatus().QueuedTaskCount != 0 {
		t.Fatal("expected cancelled create to leave nothing queued")
	}
}
