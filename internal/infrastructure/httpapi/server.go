package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/blackms/flyswarm-go/internal/application/coordinator"
	"github.com/blackms/flyswarm-go/internal/infrastructure/events"
	"github.com/blackms/flyswarm-go/internal/shared"
)

const (
	maxBodyBytes             = 1 << 20
	defaultHeartbeat         = 15 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
	defaultConsensusQuorum   = 0.5
)

// Swarm is the coordinator surface the API serves.
type Swarm interface {
	CreateTask(ctx context.Context, taskType string, payload shared.Payload, priority shared.TaskPriority) (shared.Task, error)
	GetTask(taskID string) (shared.Task, error)
	ListTasks() []shared.Task
	ProposeConsensus(ctx context.Context, topic, proposer string, threshold float64) (shared.ConsensusProposal, error)
	RecordVote(ctx context.Context, proposalID, workerID string, approve bool) error
	GetProposal(proposalID string) (shared.ConsensusProposal, error)
	ScaleWorkers(ctx context.Context, workerType shared.WorkerType, count int) error
	GetStatus() shared.SwarmStatus
	EventBus() *events.EventBus
}

// Options holds configuration options for the HTTP server.
type Options struct {
	Addr            string
	Swarm           Swarm
	Logger          *zap.Logger
	Version         string
	Region          string
	Instance        string
	Heartbeat       time.Duration
	ShutdownTimeout time.Duration

	// Diagnostics feeds GET /api/debug. Nil reports only runtime and bus
	// state.
	Diagnostics func() Diagnostics
}

// Server serves the swarm API.
type Server struct {
	addr            string
	swarm           Swarm
	logger          *zap.Logger
	version         string
	region          string
	instance        string
	heartbeat       time.Duration
	shutdownTimeout time.Duration
	diagnostics     func() Diagnostics
	startedAt       time.Time
	handler         http.Handler
}

// NewServer creates a new API server.
func NewServer(opts Options) *Server {
	addr := opts.Addr
	if addr == "" {
		addr = ":3000"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	version := opts.Version
	if version == "" {
		version = "1.0.0"
	}
	region := opts.Region
	if region == "" {
		region = "local"
	}
	instance := opts.Instance
	if instance == "" {
		instance = "local-dev"
	}
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{
		addr:            addr,
		swarm:           opts.Swarm,
		logger:          logger.Named("http"),
		version:         version,
		region:          region,
		instance:        instance,
		heartbeat:       heartbeat,
		shutdownTimeout: shutdownTimeout,
		diagnostics:     opts.Diagnostics,
		startedAt:       time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/debug", s.handleDebug)
	mux.HandleFunc("GET /api/swarm", s.handleStatus)
	mux.HandleFunc("GET /api/swarm/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/swarm/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/swarm/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /api/swarm/batch", s.handleBatch)
	mux.HandleFunc("POST /api/swarm/consensus", s.handlePropose)
	mux.HandleFunc("GET /api/swarm/consensus/{id}", s.handleGetProposal)
	mux.HandleFunc("POST /api/swarm/consensus/{id}/votes", s.handleVote)
	mux.HandleFunc("POST /api/swarm/scale", s.handleScale)
	mux.HandleFunc("GET /api/swarm/events", s.handleEvents)
	s.handler = s.logRequests(mux)

	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", ln.Addr().String()))
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api: %w", err)
	}
	s.logger.Info("api stopped")
	return nil
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.version,
		Region:    s.region,
		Instance:  s.instance,
		Uptime:    time.Since(s.startedAt).Seconds(),
		Memory: MemoryUsage{
			Used:  float64(mem.HeapAlloc) / 1024 / 1024,
			Total: float64(mem.HeapSys) / 1024 / 1024,
			Unit:  "MB",
		},
	})
}

func (s *Server) handleDebug(w http.ResponseWriter, _ *http.Request) {
	var diag Diagnostics
	if s.diagnostics != nil {
		diag = s.diagnostics()
	}
	if diag.Tracing.Exporters == nil {
		diag.Tracing.Exporters = []string{}
	}
	bus := s.swarm.EventBus()

	writeJSON(w, http.StatusOK, DebugResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.version,
		Region:    s.region,
		Instance:  s.instance,
		Runtime: RuntimeInfo{
			GoVersion:  runtime.Version(),
			Platform:   runtime.GOOS + "/" + runtime.GOARCH,
			Goroutines: runtime.NumGoroutine(),
			Uptime:     time.Since(s.startedAt).Seconds(),
		},
		Tracing: diag.Tracing,
		Events: EventBusInfo{
			Subscribers: bus.SubscriberCount(),
			Dropped:     bus.Dropped(),
			Emitted:     diag.Emitted,
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		SwarmStatus: s.swarm.GetStatus(),
		Region:      s.region,
		Instance:    s.instance,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.swarm.ListTasks())
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if !s.decode(w, r, &req) {
		return
	}
	priority, err := shared.ParsePriority(req.Priority)
	if err != nil {
		s.writeError(w, err)
		return
	}

	t, err := s.swarm.CreateTask(r.Context(), req.Type, req.Payload, priority)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.swarm.GetTask(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tasks := make([]shared.Task, 0, len(coordinator.DemoBatch))
	for _, b := range coordinator.DemoBatch {
		t, err := s.swarm.CreateTask(ctx, b.Type, b.Payload, b.Priority)
		if err != nil {
			s.writeError(w, err)
			return
		}
		tasks = append(tasks, t)
	}

	proposal, err := s.swarm.ProposeConsensus(ctx, coordinator.DemoProposal.Topic, coordinator.DemoProposal.Proposer, coordinator.DemoProposal.Threshold)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BatchResponse{
		Message:           "Swarm tasks initiated",
		Tasks:             tasks,
		ConsensusProposal: proposal,
		Status:            s.swarm.GetStatus(),
	})
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req ProposeRequest
	if !s.decode(w, r, &req) {
		return
	}
	threshold := defaultConsensusQuorum
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	p, err := s.swarm.ProposeConsensus(r.Context(), req.Topic, req.Proposer, threshold)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.swarm.GetProposal(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req VoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	if err := s.swarm.RecordVote(r.Context(), id, req.WorkerID, req.Approve); err != nil {
		s.writeError(w, err)
		return
	}

	p, err := s.swarm.GetProposal(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleScale(w http.ResponseWriter, r *http.Request) {
	var req ScaleRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Count == nil {
		s.writeError(w, shared.NewValidationError("count is required", nil))
		return
	}

	if err := s.swarm.ScaleWorkers(r.Context(), shared.WorkerType(req.Type), *req.Count); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.swarm.GetStatus())
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, shared.NewValidationError("request body too large or unreadable", nil))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		s.writeError(w, shared.NewValidationError("invalid JSON body", map[string]interface{}{"reason": err.Error()}))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) (int, ErrorDetail) {
	detail := ErrorDetail{Code: "INTERNAL", Message: err.Error()}
	if base := shared.AsSwarmError(err); base != nil {
		detail = ErrorDetail{Code: base.Code, Message: base.Message, Details: base.Details}
	}

	switch {
	case shared.IsValidation(err):
		return http.StatusBadRequest, detail
	case shared.IsNotFound(err):
		return http.StatusNotFound, detail
	case shared.IsInvalidState(err):
		return http.StatusConflict, detail
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, detail
	default:
		return http.StatusInternalServerError, detail
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, detail := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, ErrorBody{Error: detail})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush forwards to the wrapped writer so SSE works through the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
