package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blackms/flyswarm-go/internal/infrastructure/events"
	"github.com/blackms/flyswarm-go/internal/shared"
)

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Client calls a flyswarm API server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL. A nil httpClient
// uses a client with a 30 second timeout; event streams always run without
// a client timeout and stop with their context.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Health calls GET /api/health.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, "/api/health", nil, &out)
	return out, err
}

// Debug calls GET /api/debug.
func (c *Client) Debug(ctx context.Context) (DebugResponse, error) {
	var out DebugResponse
	err := c.do(ctx, http.MethodGet, "/api/debug", nil, &out)
	return out, err
}

// Status calls GET /api/swarm.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/swarm", nil, &out)
	return out, err
}

// CreateTask calls POST /api/swarm/tasks.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (shared.Task, error) {
	var out shared.Task
	err := c.do(ctx, http.MethodPost, "/api/swarm/tasks", req, &out)
	return out, err
}

// Task calls GET /api/swarm/tasks/{id}.
func (c *Client) Task(ctx context.Context, id string) (shared.Task, error) {
	var out shared.Task
	err := c.do(ctx, http.MethodGet, "/api/swarm/tasks/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Tasks calls GET /api/swarm/tasks.
func (c *Client) Tasks(ctx context.Context) ([]shared.Task, error) {
	var out []shared.Task
	err := c.do(ctx, http.MethodGet, "/api/swarm/tasks", nil, &out)
	return out, err
}

// Batch calls POST /api/swarm/batch.
func (c *Client) Batch(ctx context.Context) (BatchResponse, error) {
	var out BatchResponse
	err := c.do(ctx, http.MethodPost, "/api/swarm/batch", struct{}{}, &out)
	return out, err
}

// Propose calls POST /api/swarm/consensus.
func (c *Client) Propose(ctx context.Context, req ProposeRequest) (shared.ConsensusProposal, error) {
	var out shared.ConsensusProposal
	err := c.do(ctx, http.MethodPost, "/api/swarm/consensus", req, &out)
	return out, err
}

// Proposal calls GET /api/swarm/consensus/{id}.
func (c *Client) Proposal(ctx context.Context, id string) (shared.ConsensusProposal, error) {
	var out shared.ConsensusProposal
	err := c.do(ctx, http.MethodGet, "/api/swarm/consensus/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Vote calls POST /api/swarm/consensus/{id}/votes.
func (c *Client) Vote(ctx context.Context, id string, req VoteRequest) (shared.ConsensusProposal, error) {
	var out shared.ConsensusProposal
	err := c.do(ctx, http.MethodPost, "/api/swarm/consensus/"+url.PathEscape(id)+"/votes", req, &out)
	return out, err
}

// Scale calls POST /api/swarm/scale.
func (c *Client) Scale(ctx context.Context, workerType shared.WorkerType, count int) (shared.SwarmStatus, error) {
	var out shared.SwarmStatus
	err := c.do(ctx, http.MethodPost, "/api/swarm/scale", ScaleRequest{Type: string(workerType), Count: &count}, &out)
	return out, err
}

// Events streams GET /api/swarm/events, calling fn for every event until
// ctx is cancelled, the server ends the stream or fn returns an error.
// An empty eventType streams everything.
func (c *Client) Events(ctx context.Context, eventType events.EventType, fn func(events.Event) error) error {
	path := "/api/swarm/events"
	if eventType != "" && eventType != events.EventAll {
		path += "?type=" + url.QueryEscape(string(eventType))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	streaming := *c.http
	streaming.Timeout = 0
	resp, err := streaming.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	if err := readSSE(resp.Body, fn); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Code: "HTTP_ERROR", Message: resp.Status}
	var body ErrorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err == nil && body.Error.Code != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	}
	return apiErr
}
