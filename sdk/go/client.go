package flowgensdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout is the ceiling applied to every call.
const DefaultTimeout = 60 * time.Second

// DefaultBaseURL is used when no backend URL is configured.
const DefaultBaseURL = "http://localhost:8000"

// Client is a minimal HTTP client for the workflow generation backend.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
	Logger      *slog.Logger
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: baseURL,
		Timeout: DefaultTimeout,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
	// Detail is the backend supplied message, if any.
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api error: status=%d detail=%s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ErrorMessage returns the backend detail carried by err, or fallback when there is none.
func ErrorMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// --- workflow ---

// CreateWorkflow creates a workflow generation request.
func (c *Client) CreateWorkflow(ctx context.Context, req UserRequirement) (WorkflowRequest, error) {
	var resp WorkflowRequest
	err := c.do(ctx, http.MethodPost, "api/workflow/create", req, &resp)
	return resp, err
}

// Analyze analyzes the requirement and returns clarifying questions.
func (c *Client) Analyze(ctx context.Context, id int64) (Analysis, error) {
	var resp Analysis
	err := c.do(ctx, http.MethodPost, workflowPath(id, "analyze"), nil, &resp)
	return resp, err
}

// SubmitAnswers posts answers to the clarifying questions.
func (c *Client) SubmitAnswers(ctx context.Context, id int64, answers []Answer) (Message, error) {
	if answers == nil {
		answers = []Answer{}
	}
	var resp Message
	err := c.do(ctx, http.MethodPost, workflowPath(id, "answers"), answers, &resp)
	return resp, err
}

// GenerateSpec generates the development specification.
func (c *Client) GenerateSpec(ctx context.Context, id int64) (SpecResult, error) {
	var resp SpecResult
	err := c.do(ctx, http.MethodPost, workflowPath(id, "generate-spec"), nil, &resp)
	return resp, err
}

// UpdateSpec pushes a reviewed specification back to the backend.
func (c *Client) UpdateSpec(ctx context.Context, id int64, spec string) (Message, error) {
	body := map[string]any{"development_spec": spec}
	var resp Message
	err := c.do(ctx, http.MethodPut, workflowPath(id, "update-spec"), body, &resp)
	return resp, err
}

// GenerateJSON generates the workflow document.
func (c *Client) GenerateJSON(ctx context.Context, id int64) (JSONResult, error) {
	var resp JSONResult
	err := c.do(ctx, http.MethodPost, workflowPath(id, "generate-json"), nil, &resp)
	return resp, err
}

// TestAndOptimize tests the generated document and returns an optimized version when available.
func (c *Client) TestAndOptimize(ctx context.Context, id int64) (TestResult, error) {
	var resp TestResult
	err := c.do(ctx, http.MethodPost, workflowPath(id, "test-optimize"), nil, &resp)
	return resp, err
}

// GetWorkflow fetches a workflow request by id.
func (c *Client) GetWorkflow(ctx context.Context, id int64) (WorkflowRequest, error) {
	var resp WorkflowRequest
	err := c.do(ctx, http.MethodGet, workflowPath(id, ""), nil, &resp)
	return resp, err
}

// ListWorkflows returns a page of workflow requests, newest first.
func (c *Client) ListWorkflows(ctx context.Context, skip, limit int) (WorkflowList, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))
	var resp WorkflowList
	err := c.do(ctx, http.MethodGet, "api/workflow/?"+q.Encode(), nil, &resp)
	return resp, err
}

// --- llm config ---

// CreateLLMConfig creates a provider configuration.
func (c *Client) CreateLLMConfig(ctx context.Context, cfg LLMConfig) (LLMConfig, error) {
	var resp LLMConfig
	err := c.do(ctx, http.MethodPost, "api/llm/config", cfg, &resp)
	return resp, err
}

// ListLLMConfigs returns all provider configurations.
func (c *Client) ListLLMConfigs(ctx context.Context) ([]LLMConfig, error) {
	var resp []LLMConfig
	err := c.do(ctx, http.MethodGet, "api/llm/config", nil, &resp)
	return resp, err
}

// GetLLMConfig fetches a provider configuration.
func (c *Client) GetLLMConfig(ctx context.Context, id int64) (LLMConfig, error) {
	var resp LLMConfig
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("api/llm/config/%d", id), nil, &resp)
	return resp, err
}

// ActivateLLMConfig makes a configuration the active one. The backend deactivates the others.
func (c *Client) ActivateLLMConfig(ctx context.Context, id int64) (Message, error) {
	var resp Message
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("api/llm/config/%d/activate", id), nil, &resp)
	return resp, err
}

// DeleteLLMConfig removes a configuration.
func (c *Client) DeleteLLMConfig(ctx context.Context, id int64) (Message, error) {
	var resp Message
	err := c.do(ctx, http.MethodDelete, fmt.Sprintf("api/llm/config/%d", id), nil, &resp)
	return resp, err
}

// --- learning ---

// RunLearningCycle starts a learning cycle. The backend runs it asynchronously.
func (c *Client) RunLearningCycle(ctx context.Context) (Message, error) {
	var resp Message
	err := c.do(ctx, http.MethodPost, "api/learning/run", nil, &resp)
	return resp, err
}

// ListExamples returns learned examples, optionally filtered by source.
func (c *Client) ListExamples(ctx context.Context, skip, limit int, source string) ([]LearnedExample, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))
	if source != "" {
		q.Set("source", source)
	}
	var resp []LearnedExample
	err := c.do(ctx, http.MethodGet, "api/learning/examples?"+q.Encode(), nil, &resp)
	return resp, err
}

// GetExample fetches a learned example including its workflow JSON.
func (c *Client) GetExample(ctx context.Context, id int64) (LearnedExample, error) {
	var resp LearnedExample
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("api/learning/examples/%d", id), nil, &resp)
	return resp, err
}

// ListLearningLogs returns learning run logs, newest first.
func (c *Client) ListLearningLogs(ctx context.Context, skip, limit int) ([]LearningLog, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))
	var resp []LearningLog
	err := c.do(ctx, http.MethodGet, "api/learning/logs?"+q.Encode(), nil, &resp)
	return resp, err
}

// LearningStats returns aggregate statistics over learned examples.
func (c *Client) LearningStats(ctx context.Context) (LearningStats, error) {
	var resp LearningStats
	err := c.do(ctx, http.MethodGet, "api/learning/stats", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.HTTPClient = &http.Client{Timeout: timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.logger().Debug("request failed", "method", method, "path", endpoint, "request_id", requestID, "error", err)
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	c.logger().Debug("request done", "method", method, "path", endpoint, "request_id", requestID,
		"status", resp.StatusCode, "duration", time.Since(start))
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b), Detail: extractDetail(b)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, endpoint, err)
		}
	}
	return nil
}

// extractDetail reads {"detail": "..."} or {"detail": [{"msg": "..."}]} bodies.
func extractDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err == nil && len(items) > 0 {
		return items[0].Msg
	}
	return ""
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func workflowPath(id int64, action string) string {
	if action == "" {
		return fmt.Sprintf("api/workflow/%d", id)
	}
	return fmt.Sprintf("api/workflow/%d/%s", id, action)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
