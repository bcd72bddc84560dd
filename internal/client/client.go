// Package client is the HTTP client used by the agent CLI and any other
// programmatic consumer of the API.
package client

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

	"github.com/crewline/crewline/internal/agent"
	"github.com/crewline/crewline/internal/message"
	"github.com/crewline/crewline/internal/step"
	"github.com/crewline/crewline/internal/task"
	"github.com/crewline/crewline/pkg/cerr"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type wireError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var we wireError
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&we); err != nil {
			return cerr.NewError(cerr.Unknown, fmt.Sprintf("%s %s returned status %d", method, path, resp.StatusCode), nil)
		}
		e := cerr.NewError(cerr.CodeFromString(we.Code), we.Message, nil)
		for _, d := range we.Details {
			e.AddDetail(d)
		}
		return e
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type stepEnvelope struct {
	Step *step.Step `json:"step"`
}

func (c *Client) MySteps(ctx context.Context) ([]step.AssignedStep, error) {
	var resp struct {
		Steps []step.AssignedStep `json:"steps"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/my/steps", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Steps, nil
}

func (c *Client) Claim(ctx context.Context, stepID string) (*step.Step, error) {
	var resp stepEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/steps/"+url.PathEscape(stepID)+"/claim", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Step, nil
}

type SubmitRequest struct {
	Result     string `json:"result"`
	Summary    string `json:"summary,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

func (c *Client) Submit(ctx context.Context, stepID string, req SubmitRequest) (*step.Step, error) {
	var resp stepEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/steps/"+url.PathEscape(stepID)+"/submit", req, &resp); err != nil {
		return nil, err
	}
	return resp.Step, nil
}

func (c *Client) Approve(ctx context.Context, stepID string) (*step.Step, error) {
	var resp stepEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/steps/"+url.PathEscape(stepID)+"/approve", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Step, nil
}

func (c *Client) Reject(ctx context.Context, stepID, reason string) (*step.Step, error) {
	var resp stepEnvelope
	body := map[string]string{"reason": reason}
	if err := c.do(ctx, http.MethodPost, "/api/steps/"+url.PathEscape(stepID)+"/reject", body, &resp); err != nil {
		return nil, err
	}
	return resp.Step, nil
}

func (c *Client) Appeal(ctx context.Context, stepID, text string) (*step.Step, error) {
	var resp stepEnvelope
	body := map[string]string{"appealText": text}
	if err := c.do(ctx, http.MethodPost, "/api/steps/"+url.PathEscape(stepID)+"/appeal", body, &resp); err != nil {
		return nil, err
	}
	return resp.Step, nil
}

func (c *Client) ResolveAppeal(ctx context.Context, stepID, decision, note string) (*step.Step, error) {
	var resp stepEnvelope
	body := map[string]string{"decision": decision, "note": note}
	if err := c.do(ctx, http.MethodPost, "/api/steps/"+url.PathEscape(stepID)+"/resolve-appeal", body, &resp); err != nil {
		return nil, err
	}
	return resp.Step, nil
}

func (c *Client) Skip(ctx context.Context, stepID, reason string) (*step.Step, error) {
	var resp stepEnvelope
	body := map[string]string{"reason": reason}
	if err := c.do(ctx, http.MethodPost, "/api/steps/"+url.PathEscape(stepID)+"/skip", body, &resp); err != nil {
		return nil, err
	}
	return resp.Step, nil
}

type CreateTaskRequest struct {
	WorkspaceID string          `json:"workspaceId,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Mode        task.Mode       `json:"mode,omitempty"`
	Steps       []CreateStepSpec `json:"steps,omitempty"`
}

type CreateStepSpec struct {
	Title            string              `json:"title"`
	Description      string              `json:"description,omitempty"`
	AssigneeID       string              `json:"assigneeId,omitempty"`
	RequiresApproval bool                `json:"requiresApproval,omitempty"`
	CompletionMode   step.CompletionMode `json:"completionMode,omitempty"`
	ParallelGroup    *string             `json:"parallelGroup,omitempty"`
}

func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (*task.Task, []*step.Step, error) {
	var resp struct {
		Task  *task.Task   `json:"task"`
		Steps []*step.Step `json:"steps"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/tasks", req, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Task, resp.Steps, nil
}

func (c *Client) ListTasks(ctx context.Context) ([]*task.Task, error) {
	var resp struct {
		Tasks []*task.Task `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*task.Task, []*step.Step, error) {
	var resp struct {
		Task  *task.Task   `json:"task"`
		Steps []*step.Step `json:"steps"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Task, resp.Steps, nil
}

func (c *Client) RegisterAgent(ctx context.Context, name, emoji string, capabilities []string) (*agent.Agent, error) {
	var resp struct {
		Agent *agent.Agent `json:"agent"`
	}
	body := map[string]any{"name": name, "emoji": emoji, "capabilities": capabilities}
	if err := c.do(ctx, http.MethodPost, "/api/agents/register", body, &resp); err != nil {
		return nil, err
	}
	return resp.Agent, nil
}

func (c *Client) MyAgent(ctx context.Context) (*agent.Agent, error) {
	var resp struct {
		Agent *agent.Agent `json:"agent"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/agents/my", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agent, nil
}

func (c *Client) Reply(ctx context.Context, messageID, content string) (*message.Message, error) {
	var resp struct {
		Message *message.Message `json:"message"`
	}
	body := map[string]string{"messageId": messageID, "content": content}
	if err := c.do(ctx, http.MethodPost, "/api/chat/reply", body, &resp); err != nil {
		return nil, err
	}
	return resp.Message, nil
}
