// Package executor provides the WorkExecutor abstraction the coordinator uses
// to run assigned tasks, plus the simulated executor used by the swarm.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/blackms/flyswarm-go/internal/shared"
)

// Default simulation bounds.
const (
	DefaultMinDelay      = 2 * time.Second
	DefaultMaxDelay      = 5 * time.Second
	DefaultMinConfidence = 0.85

	// MinSimulatedDelay keeps every simulated run strictly positive.
	MinSimulatedDelay = time.Millisecond
)

// ErrSimulatedFailure is returned when Simulated decides a task fails.
var ErrSimulatedFailure = errors.New("simulated task failure")

// WorkExecutor runs one task on one worker and returns its opaque result.
// Implementations must honor ctx cancellation.
type WorkExecutor interface {
	Execute(ctx context.Context, task shared.Task, worker shared.Worker) (json.RawMessage, error)
}

// Func adapts an ordinary function to WorkExecutor.
type Func func(ctx context.Context, task shared.Task, worker shared.Worker) (json.RawMessage, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, task shared.Task, worker shared.Worker) (json.RawMessage, error) {
	return f(ctx, task, worker)
}

// ============================================================================
// Simulated Executor
// ============================================================================

// SimulatedConfig holds configuration for the simulated executor.
type SimulatedConfig struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	// FailureRate is the probability in [0,1] that a task fails.
	FailureRate float64
	// Seed makes the random stream reproducible when non-zero.
	Seed uint64
}

// Simulated sleeps for a random delay and reports a synthetic result.
type Simulated struct {
	minDelay    time.Duration
	maxDelay    time.Duration
	failureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// Metrics is the metrics block of a simulated result.
type Metrics struct {
	ProcessingTime int64   `json:"processingTime"`
	Confidence     float64 `json:"confidence"`
}

// Result is the body of a simulated result.
type Result struct {
	Success bool    `json:"success"`
	Data    string  `json:"data"`
	Metrics Metrics `json:"metrics"`
}

// NewSimulated creates a simulated executor. When both delay bounds are
// zero the defaults apply. Otherwise the lower bound is raised to
// MinSimulatedDelay and an inverted upper bound is raised to the lower.
func NewSimulated(config SimulatedConfig) *Simulated {
	minDelay, maxDelay := config.MinDelay, config.MaxDelay
	if minDelay <= 0 && maxDelay <= 0 {
		minDelay, maxDelay = DefaultMinDelay, DefaultMaxDelay
	}
	if minDelay < MinSimulatedDelay {
		minDelay = MinSimulatedDelay
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	failureRate := config.FailureRate
	if failureRate < 0 {
		failureRate = 0
	}
	if failureRate > 1 {
		failureRate = 1
	}

	var src rand.Source
	if config.Seed != 0 {
		src = rand.NewPCG(config.Seed, config.Seed^0x9e3779b97f4a7c15)
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}

	return &Simulated{
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		failureRate: failureRate,
		rng:         rand.New(src),
	}
}

// Execute waits for the simulated processing time, then returns either a
// success result or ErrSimulatedFailure.
func (s *Simulated) Execute(ctx context.Context, task shared.Task, worker shared.Worker) (json.RawMessage, error) {
	delay, confidence, fail := s.draw()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	if fail {
		return nil, fmt.Errorf("task %s on %s: %w", task.ID, worker.ID, ErrSimulatedFailure)
	}

	return json.Marshal(Result{
		Success: true,
		Data:    fmt.Sprintf("Task %s completed by %s", task.ID, worker.ID),
		Metrics: Metrics{
			ProcessingTime: delay.Milliseconds(),
			Confidence:     confidence,
		},
	})
}

// draw samples delay, confidence and outcome under the rng lock.
func (s *Simulated) draw() (time.Duration, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delay := s.minDelay
	if span := s.maxDelay - s.minDelay; span > 0 {
		delay += time.Duration(s.rng.Int64N(int64(span)))
	}
	confidence := DefaultMinConfidence + s.rng.Float64()*(1-DefaultMinConfidence)
	fail := s.failureRate > 0 && s.rng.Float64() < s.failureRate
	return delay, confidence, fail
}
