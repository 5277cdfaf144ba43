package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Client talks to a relay over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a relay client. A zero timeout means 10 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// SendMessage asks the relay to deliver a message push.
func (c *Client) SendMessage(ctx context.Context, req MessageRequest) (SendResponse, error) {
	var resp SendResponse
	err := c.do(ctx, http.MethodPost, "/send-message", req, &resp)
	return resp, err
}

// SendCall asks the relay to deliver an incoming call push.
func (c *Client) SendCall(ctx context.Context, req CallRequest) (SendResponse, error) {
	var resp SendResponse
	err := c.do(ctx, http.MethodPost, "/send-call", req, &resp)
	return resp, err
}

// Health returns the relay's health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &h)
	return h, err
}

// PushLog returns the most recent delivery attempts.
func (c *Client) PushLog(ctx context.Context, limit int) ([]PushLogEntry, error) {
	var entries []PushLogEntry
	err := c.do(ctx, http.MethodGet, "/push-log?limit="+strconv.Itoa(limit), nil, &entries)
	return entries, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("relay: marshalling request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("relay: creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay: sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("relay: reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			if e.Details != "" {
				return fmt.Errorf("relay: %s (status %d): %s", e.Error, resp.StatusCode, e.Details)
			}
			return fmt.Errorf("relay: %s (status %d)", e.Error, resp.StatusCode)
		}
		return fmt.Errorf("relay: unexpected status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("relay: decoding response: %w", err)
	}
	return nil
}
