package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"lesson-plan-agent/internal/models"
)

// DefaultTimeout bounds a single request when the context carries no deadline.
const DefaultTimeout = 30 * time.Second

// ErrUnauthorized marks a 401/403 from the backend. Fatal to the attempt.
var ErrUnauthorized = errors.New("unauthorized")

// ErrMalformedResponse marks a response body that could not be decoded.
var ErrMalformedResponse = errors.New("malformed response")

// ErrNotFound marks a 404 for a resource lookup.
var ErrNotFound = errors.New("not found")

// Client talks to the generation backend over HTTP/JSON.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// New builds a client for the given base URL. token may be empty in dev.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: DefaultTimeout},
	}
}

// GenerateRequest asks the backend to start one generation job.
type GenerateRequest struct {
	PlanID    string                  `json:"plan_id,omitempty"`
	Day       string                  `json:"day,omitempty"`
	TeacherID string                  `json:"teacher_id"`
	Kind      string                  `json:"kind"`
	Params    models.GenerationParams `json:"params"`
}

// GenerateResponse acknowledges a job request. If ResultIDs is already
// populated the backend served a cached result and the job is Ready.
type GenerateResponse struct {
	Accepted  bool     `json:"accepted"`
	JobID     string   `json:"job_id,omitempty"`
	ResultIDs []string `json:"result_ids,omitempty"`
}

// SessionStatus is one poll result for a voice job session.
type SessionStatus struct {
	Status     string   `json:"status"` // pending | generating | ready | error
	NavigateTo string   `json:"navigate_to,omitempty"`
	ResultIDs  []string `json:"result_ids,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// IntentResponse is the classifier's read of one utterance.
type IntentResponse struct {
	Intent        models.Intent `json:"intent"`
	MissingFields []string      `json:"missing_fields,omitempty"`
}

// ExecuteResponse acknowledges a voice command execution.
type ExecuteResponse struct {
	Accepted  bool   `json:"accepted"`
	SessionID string `json:"session_id"`
}

type intentRequest struct {
	Command   string `json:"command"`
	TeacherID string `json:"teacher_id"`
}

type executeRequest struct {
	Intent    models.Intent `json:"intent"`
	TeacherID string        `json:"teacher_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SubmitGeneration submits a plan-bound generation job.
func (c *Client) SubmitGeneration(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	var resp GenerateResponse
	if err := c.do(ctx, http.MethodPost, "/v1/generate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QuerySession fetches the status of a voice job session.
func (c *Client) QuerySession(ctx context.Context, sessionID string) (*SessionStatus, error) {
	var resp SessionStatus
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+sessionID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClassifyIntent sends an utterance to the intent classifier.
func (c *Client) ClassifyIntent(ctx context.Context, command, teacherID string) (*IntentResponse, error) {
	var resp IntentResponse
	req := intentRequest{Command: command, TeacherID: teacherID}
	if err := c.do(ctx, http.MethodPost, "/v1/voice/intent", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExecuteIntent launches the job described by a fully resolved intent and
// returns the session id to poll.
func (c *Client) ExecuteIntent(ctx context.Context, intent models.Intent, teacherID string) (*ExecuteResponse, error) {
	var resp ExecuteResponse
	req := executeRequest{Intent: intent, TeacherID: teacherID}
	if err := c.do(ctx, http.MethodPost, "/v1/voice/execute", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchWeeklyPlan retrieves the teacher's current weekly plan.
func (c *Client) FetchWeeklyPlan(ctx context.Context, teacherID string) (*models.WeeklyPlan, error) {
	var resp models.WeeklyPlan
	if err := c.do(ctx, http.MethodGet, "/v1/plans/week?teacher_id="+teacherID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		var er errorResponse
		if err := json.Unmarshal(data, &er); err == nil && er.Error != "" {
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, er.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", ErrMalformedResponse)
		}
	}
	return nil
}
