package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/flowpbx/pushcall/internal/app"
	"github.com/flowpbx/pushcall/internal/call"
	"github.com/flowpbx/pushcall/internal/history"
	"github.com/flowpbx/pushcall/internal/notify"
)

// envelope mirrors the agent API response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// APIError is a non-2xx answer from the agent.
type APIError struct {
	Status  int
	Message string
	// Data is the envelope's data, e.g. the canonical outcome on a 409.
	Data json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agent: %s (status %d)", e.Message, e.Status)
}

// AgentClient talks to a running agent's HTTP API.
type AgentClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewAgentClient creates a client for the agent at baseURL.
func NewAgentClient(baseURL string, timeout time.Duration) *AgentClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AgentClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// PushResult is the agent's answer to an ingested push.
type PushResult struct {
	Kind       string          `json:"kind"`
	CallID     string          `json:"call_id,omitempty"`
	Duplicate  bool            `json:"duplicate,omitempty"`
	Deadline   *time.Time      `json:"deadline,omitempty"`
	Record     *history.Record `json:"record,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Push delivers a raw payload as the push transport would.
func (c *AgentClient) Push(ctx context.Context, payload map[string]string) (PushResult, error) {
	var res PushResult
	err := c.do(ctx, http.MethodPost, "/v1/push", payload, &res)
	return res, err
}

// Calls lists pending and recently resolved calls.
func (c *AgentClient) Calls(ctx context.Context) ([]call.Snapshot, error) {
	var out []call.Snapshot
	err := c.do(ctx, http.MethodGet, "/v1/calls", nil, &out)
	return out, err
}

// Call returns one call.
func (c *AgentClient) Call(ctx context.Context, id string) (call.Snapshot, error) {
	var out call.Snapshot
	err := c.do(ctx, http.MethodGet, "/v1/calls/"+url.PathEscape(id), nil, &out)
	return out, err
}

// WaitCall returns a call's state once its prompt is torn down or wait
// elapses, whichever comes first.
func (c *AgentClient) WaitCall(ctx context.Context, id string, wait time.Duration) (call.Snapshot, error) {
	var out call.Snapshot
	path := "/v1/calls/" + url.PathEscape(id) + "?wait=" + url.QueryEscape(wait.String())
	client := *c.httpClient
	client.Timeout += wait
	err := c.send(ctx, &client, http.MethodGet, path, nil, &out)
	return out, err
}

// Tap taps accept or reject on a call's prompt.
func (c *AgentClient) Tap(ctx context.Context, id string, action call.Action) (call.Outcome, error) {
	var out call.Outcome
	path := "/v1/calls/" + url.PathEscape(id) + "/" + tapPath(action)
	err := c.do(ctx, http.MethodPost, path, nil, &out)
	return out, err
}

func tapPath(a call.Action) string {
	if a == call.Accepted {
		return "accept"
	}
	return "reject"
}

// Action sends an action intent to the agent's action receiver.
func (c *AgentClient) Action(ctx context.Context, in call.ActionIntent) (call.Outcome, error) {
	var out call.Outcome
	err := c.do(ctx, http.MethodPost, "/v1/actions", in, &out)
	return out, err
}

// Notifications lists the notifications in the tray.
func (c *AgentClient) Notifications(ctx context.Context) ([]notify.Notification, error) {
	var out []notify.Notification
	err := c.do(ctx, http.MethodGet, "/v1/notifications", nil, &out)
	return out, err
}

// ClearNotifications removes every notification from the tray.
func (c *AgentClient) ClearNotifications(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/notifications", nil, nil)
}

// TapNotification taps an action button of a notification.
func (c *AgentClient) TapNotification(ctx context.Context, id int32, action string) (call.Outcome, error) {
	var out call.Outcome
	path := fmt.Sprintf("/v1/notifications/%d/actions/%s", id, url.PathEscape(action))
	err := c.do(ctx, http.MethodPost, path, nil, &out)
	return out, err
}

// History lists history records, newest first. A non-empty callID lists
// only that call's records.
func (c *AgentClient) History(ctx context.Context, limit int, callID string) ([]history.Record, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if callID != "" {
		q.Set("call_id", callID)
	}
	path := "/v1/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []history.Record
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ClearHistory deletes every history record.
func (c *AgentClient) ClearHistory(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/history", nil, nil)
}

// SetForeground marks the app visible or hidden.
func (c *AgentClient) SetForeground(ctx context.Context, fg bool) error {
	return c.do(ctx, http.MethodPut, "/v1/app/foreground", map[string]bool{"foreground": fg}, nil)
}

// TakeLaunch consumes the latest launch intent. It returns nil when the app
// was not launched since the last call.
func (c *AgentClient) TakeLaunch(ctx context.Context) (*app.Launch, error) {
	var out *app.Launch
	err := c.do(ctx, http.MethodGet, "/v1/app/launch", nil, &out)
	return out, err
}

type tokenBody struct {
	Token string `json:"token"`
}

// SetToken registers the device push token.
func (c *AgentClient) SetToken(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPut, "/v1/device/token", tokenBody{Token: token}, nil)
}

// Token returns the registered device push token.
func (c *AgentClient) Token(ctx context.Context) (string, error) {
	var out tokenBody
	err := c.do(ctx, http.MethodGet, "/v1/device/token", nil, &out)
	return out.Token, err
}

func (c *AgentClient) do(ctx context.Context, method, path string, in, out any) error {
	return c.send(ctx, c.httpClient, method, path, in, out)
}

func (c *AgentClient) send(ctx context.Context, client *http.Client, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("agent: marshalling request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("agent: creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("agent: sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("agent: decoding response: %w", err)
	}

	if resp.StatusCode >= 300 {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg, Data: env.Data}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("agent: decoding data: %w", err)
	}
	return nil
}
