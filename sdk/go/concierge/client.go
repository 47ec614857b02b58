package concierge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the Concierge Engine REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// WishSubmission represents the payload required to create a new task.
type WishSubmission struct {
	ID     string         `json:"id,omitempty"`
	UserID string         `json:"user_id"`
	Wish   string         `json:"wish"`
	Params map[string]any `json:"params,omitempty"`
}

// Task mirrors the task resource returned by the API.
type Task struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Wish           string         `json:"wish"`
	Category       string         `json:"category"`
	Service        string         `json:"service"`
	Status         string         `json:"status"`
	ProposedAction string         `json:"proposed_action,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
	Result         *Result        `json:"result,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	CreatedAt      int64          `json:"created_at"`
	UpdatedAt      int64          `json:"updated_at"`
}

// Result carries the outcome of a finished execution.
type Result struct {
	Success            bool           `json:"success"`
	ConfirmationNumber string         `json:"confirmation_number,omitempty"`
	Message            string         `json:"message,omitempty"`
	Details            map[string]any `json:"details,omitempty"`
}

// ExecutionStatus is the polling projection of an in-flight execution.
type ExecutionStatus struct {
	TaskID             string   `json:"task_id"`
	Status             string   `json:"status"`
	CurrentStep        string   `json:"current_step,omitempty"`
	CompletedSteps     []string `json:"completed_steps,omitempty"`
	RemainingSteps     []string `json:"remaining_steps,omitempty"`
	RequiresCredential bool     `json:"requires_credential"`
	RequiresOTP        bool     `json:"requires_otp"`
	RequiredService    string   `json:"required_service,omitempty"`
	Detail             string   `json:"detail,omitempty"`
	Result             *Result  `json:"result,omitempty"`
	Error              string   `json:"error,omitempty"`
	ErrorCode          string   `json:"error_code,omitempty"`
}

// LogEntry is one append-only execution log record.
type LogEntry struct {
	TaskID    string `json:"task_id"`
	Sequence  int    `json:"sequence"`
	Step      string `json:"step"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Kind != "" {
		return fmt.Sprintf("concierge api error (%d): %s - %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("concierge api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the Concierge Engine API. When httpClient
// is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SubmitWish creates a new task from a natural-language wish.
func (c *Client) SubmitWish(ctx context.Context, submission WishSubmission) (*Task, error) {
	var created Task
	if err := c.post(ctx, "/api/v1/tasks", submission, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetTask fetches task details by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var detail Task
	if err := c.get(ctx, "/api/v1/tasks/"+url.PathEscape(taskID), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Confirm approves the proposed action and triggers asynchronous execution.
func (c *Client) Confirm(ctx context.Context, taskID string) (*Task, error) {
	var updated Task
	endpoint := fmt.Sprintf("/api/v1/tasks/%s/confirm", url.PathEscape(taskID))
	if err := c.post(ctx, endpoint, nil, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// ProvideCredentials resumes a task suspended on a credential request.
// When persist is true the secret is also stored in the vault.
func (c *Client) ProvideCredentials(ctx context.Context, taskID, service string, secret map[string]string, persist bool) error {
	payload := map[string]any{
		"service": service,
		"secret":  secret,
		"persist": persist,
	}
	endpoint := fmt.Sprintf("/api/v1/tasks/%s/credentials", url.PathEscape(taskID))
	return c.post(ctx, endpoint, payload, nil)
}

// Status returns the execution progress snapshot for a task.
func (c *Client) Status(ctx context.Context, taskID string) (*ExecutionStatus, error) {
	var status ExecutionStatus
	endpoint := fmt.Sprintf("/api/v1/tasks/%s/status", url.PathEscape(taskID))
	if err := c.get(ctx, endpoint, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Log returns the ordered execution log for a task.
func (c *Client) Log(ctx context.Context, taskID string) ([]LogEntry, error) {
	var entries []LogEntry
	endpoint := fmt.Sprintf("/api/v1/tasks/%s/log", url.PathEscape(taskID))
	if err := c.get(ctx, endpoint, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Cancel requests cooperative cancellation of a task.
func (c *Client) Cancel(ctx context.Context, taskID string) error {
	endpoint := fmt.Sprintf("/api/v1/tasks/%s/cancel", url.PathEscape(taskID))
	return c.post(ctx, endpoint, nil, nil)
}

// StoreCredential saves a credential in the vault ahead of execution.
func (c *Client) StoreCredential(ctx context.Context, userID, service string, secret map[string]string) error {
	payload := map[string]any{
		"user_id": userID,
		"service": service,
		"secret":  secret,
	}
	return c.post(ctx, "/api/v1/credentials", payload, nil)
}

// RecordCode registers a one-time code extracted from mail, SMS or voice.
func (c *Client) RecordCode(ctx context.Context, userID, source, service, code string) error {
	payload := map[string]any{
		"user_id": userID,
		"source":  source,
		"service": service,
		"code":    code,
	}
	return c.post(ctx, "/api/v1/otp", payload, nil)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			var wrapped struct {
				Error *APIError `json:"error"`
			}
			wrapped.Error = &apiErr
			if err := json.Unmarshal(data, &wrapped); err != nil {
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
