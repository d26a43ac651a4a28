// Package flyswarm provides the public API for flyswarm-go.
//
// It assembles a swarm coordinator with its executor, voter, event bus and
// trace sink from a single configuration.
//
// Example:
//
//	cfg := config.Default()
//	swarm, err := flyswarm.Open(ctx, cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer swarm.Close(context.Background())
//
//	task, err := swarm.CreateTask(ctx, "implement-feature", nil, flyswarm.PriorityHigh)
package flyswarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blackms/flyswarm-go/internal/application/consensus"
	"github.com/blackms/flyswarm-go/internal/application/coordinator"
	"github.com/blackms/flyswarm-go/internal/application/executor"
	"github.com/blackms/flyswarm-go/internal/infrastructure/config"
	"github.com/blackms/flyswarm-go/internal/infrastructure/events"
	"github.com/blackms/flyswarm-go/internal/infrastructure/httpapi"
	"github.com/blackms/flyswarm-go/internal/infrastructure/tracing"
	"github.com/blackms/flyswarm-go/internal/shared"
)

// Re-export types for public API
type (
	Config       = config.Config
	Task         = shared.Task
	Worker       = shared.Worker
	WorkerType   = shared.WorkerType
	TaskPriority = shared.TaskPriority
	TaskStatus   = shared.TaskStatus
	Proposal     = shared.ConsensusProposal
	SwarmStatus  = shared.SwarmStatus
	Event        = events.Event
	EventType    = events.EventType
	WorkExecutor = executor.WorkExecutor
	Voter        = consensus.Voter
)

// Re-export constants
const (
	WorkerTypeResearcher = shared.WorkerTypeResearcher
	WorkerTypeCoder      = shared.WorkerTypeCoder
	WorkerTypeAnalyst    = shared.WorkerTypeAnalyst
	WorkerTypeTester     = shared.WorkerTypeTester

	PriorityHigh   = shared.PriorityHigh
	PriorityMedium = shared.PriorityMedium
	PriorityLow    = shared.PriorityLow

	ProposalStatusOpen     = shared.ProposalStatusOpen
	ProposalStatusApproved = shared.ProposalStatusApproved
	ProposalStatusRejected = shared.ProposalStatusRejected
)

const defaultFlushTimeout = 2 * time.Second

var _ coordinator.Tracer = (*tracing.Sink)(nil)

// Option customizes Open.
type Option func(*openOptions)

type openOptions struct {
	executor executor.WorkExecutor
	voter    consensus.Voter
}

// WithExecutor replaces the simulated executor.
func WithExecutor(e WorkExecutor) Option {
	return func(o *openOptions) { o.executor = e }
}

// WithVoter replaces the random voter.
func WithVoter(v Voter) Option {
	return func(o *openOptions) { o.voter = v }
}

// Swarm is a running coordinator together with the infrastructure it owns.
type Swarm struct {
	*coordinator.SwarmCoordinator

	cfg       config.Config
	sink      *tracing.Sink
	bus       *events.EventBus
	logger    *zap.Logger
	handlerID string

	mu      sync.Mutex
	emitted map[events.EventType]uint64
}

// Open validates cfg and starts a swarm. A nil logger discards logs.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*Swarm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.executor == nil {
		o.executor = executor.NewSimulated(executor.SimulatedConfig{
			MinDelay:    cfg.Swarm.MinDelay(),
			MaxDelay:    cfg.Swarm.MaxDelay(),
			FailureRate: cfg.Swarm.FailureRate,
		})
	}
	if o.voter == nil {
		o.voter = &consensus.RandomVoter{ApprovalRate: cfg.Swarm.ApprovalRate}
	}

	swarmID := cfg.Swarm.ID
	if swarmID == "" {
		swarmID = fmt.Sprintf("swarm-%d", shared.Now())
	}

	sink, err := tracing.NewFromConfig(ctx, cfg.Tracing, swarmID, logger)
	if err != nil {
		return nil, fmt.Errorf("configure tracing: %w", err)
	}

	bus := events.New()
	s := &Swarm{
		cfg:     cfg,
		sink:    sink,
		bus:     bus,
		logger:  logger,
		emitted: make(map[events.EventType]uint64),
	}
	// Registered before the coordinator so the initial spawns are counted.
	s.handlerID = bus.On(events.EventAll, s.observe)

	types, counts := cfg.Swarm.WorkerRoster()
	sc, err := coordinator.New(coordinator.Options{
		SwarmID:      swarmID,
		Objective:    cfg.Swarm.Objective,
		QueenType:    cfg.Swarm.QueenType,
		WorkerTypes:  types,
		WorkerCounts: counts,
		Executor:     o.executor,
		Voter:        o.voter,
		VoteDelay:    cfg.Swarm.VoteDelay(),
		VotingWindow: cfg.Swarm.VotingWindow(),
		Tracer:       sink,
		EventBus:     bus,
		Logger:       logger,
	})
	if err != nil {
		_ = sink.Close(ctx)
		bus.Close()
		return nil, err
	}
	s.SwarmCoordinator = sc
	return s, nil
}

func (s *Swarm) observe(ev events.Event) {
	s.mu.Lock()
	s.emitted[ev.Type]++
	s.mu.Unlock()
	s.logger.Debug("swarm event", zap.String("type", string(ev.Type)), zap.Any("payload", ev.Payload))
}

// EventCounts returns how many events of each type the bus has delivered
// since Open.
func (s *Swarm) EventCounts() map[EventType]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[EventType]uint64, len(s.emitted))
	for t, n := range s.emitted {
		out[t] = n
	}
	return out
}

// Server returns an API server for the swarm using the server section of
// the configuration it was opened with.
func (s *Swarm) Server() *httpapi.Server {
	return httpapi.NewServer(httpapi.Options{
		Addr:            s.cfg.Server.Addr,
		Swarm:           s,
		Logger:          s.logger,
		Version:         s.cfg.Server.Version,
		Region:          s.cfg.Server.Region,
		Instance:        s.cfg.Server.Instance,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout(),
		Diagnostics:     s.diagnostics,
	})
}

func (s *Swarm) diagnostics() httpapi.Diagnostics {
	exported, dropped, failed := s.TraceStats()
	emitted := make(map[string]uint64)
	for t, n := range s.EventCounts() {
		emitted[string(t)] = n
	}
	return httpapi.Diagnostics{
		Tracing: httpapi.TracingInfo{
			Exporters: append([]string(nil), s.cfg.Tracing.Exporters...),
			Exported:  exported,
			Dropped:   dropped,
			Failed:    failed,
		},
		Emitted: emitted,
	}
}

// TraceStats reports the trace sink counters.
func (s *Swarm) TraceStats() (exported, dropped, failed uint64) {
	return s.sink.Exported(), s.sink.Dropped(), s.sink.Failed()
}

// Close shuts the coordinator down, flushes traces and closes the event
// bus. Every step runs even if an earlier one fails.
func (s *Swarm) Close(ctx context.Context) error {
	var errs []error
	if err := s.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown coordinator: %w", err))
	}
	flushCtx := ctx
	if ctx.Err() != nil {
		timeout := s.cfg.Tracing.ExportTimeout()
		if timeout <= 0 {
			timeout = defaultFlushTimeout
		}
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(context.Background(), timeout)
		defer cancel()
	}
	if err := s.sink.Close(flushCtx); err != nil {
		errs = append(errs, fmt.Errorf("flush traces: %w", err))
	}
	s.bus.Off(events.EventAll, s.handlerID)
	s.bus.Close()
	return errors.Join(errs...)
}
