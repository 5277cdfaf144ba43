package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/flowpbx/pushcall/internal/ratelimit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockSender implements Sender for testing.
type mockSender struct {
	mu   sync.Mutex
	id   string
	err  error
	sent []Push
}

func (m *mockSender) Send(_ context.Context, p Push) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, p)
	return m.id, m.err
}

func (m *mockSender) last() Push {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

// mockPushLogger implements PushLogger for testing.
type mockPushLogger struct {
	mu        sync.Mutex
	entries   []PushLogEntry
	recentErr error
}

func (m *mockPushLogger) Log(_ context.Context, e PushLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockPushLogger) Recent(_ context.Context, limit int) ([]PushLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	var out []PushLogEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestServer(cfg ServerConfig) *Server {
	s := NewServer(cfg, discardLogger())
	s.now = func() time.Time { return fixedNow }
	return s
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestSendMessage_Success(t *testing.T) {
	sender := &mockSender{id: "projects/demo/messages/1"}
	log := &mockPushLogger{}
	srv := newTestServer(ServerConfig{Sender: sender, Log: log})

	w := doRequest(t, srv, http.MethodPost, "/send-message",
		`{"token":"device-token-abc","sender":"Mary Jane  Watson","message":"see you at 8"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody[SendResponse](t, w)
	if !resp.Success || resp.MessageID != "projects/demo/messages/1" {
		t.Errorf("response = %+v", resp)
	}

	p := sender.last()
	if p.Platform != PlatformFCM {
		t.Errorf("platform = %q, want fcm default", p.Platform)
	}
	if p.Kind != KindMessage || p.Title != "Mary Jane  Watson" || p.Body != "see you at 8" {
		t.Errorf("push = %+v", p)
	}
	want := map[string]string{
		"type":      "message",
		"sender":    "Mary Jane  Watson",
		"message":   "see you at 8",
		"timestamp": "1773480413000",
		"chatId":    "chat_mary_jane_watson",
	}
	for k, v := range want {
		if p.Data[k] != v {
			t.Errorf("data[%q] = %q, want %q", k, p.Data[k], v)
		}
	}

	if len(log.entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(log.entries))
	}
	e := log.entries[0]
	if !e.Success || e.Kind != KindMessage || e.TokenPrefix != "device-t..." {
		t.Errorf("log entry = %+v", e)
	}
}

func TestSendMessage_KeepsTimestamp(t *testing.T) {
	sender := &mockSender{id: "m"}
	srv := newTestServer(ServerConfig{Sender: sender})

	w := doRequest(t, srv, http.MethodPost, "/send-message",
		`{"token":"tok","sender":"Bo","message":"hi","timestamp":"1700000000000"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := sender.last().Data["timestamp"]; got != "1700000000000" {
		t.Errorf("timestamp = %q", got)
	}
}

func TestSendCall_Success(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantType string
		wantID   string
	}{
		{
			name:     "explicit id and video",
			body:     `{"token":"tok","caller_name":"Ana","call_type":"Video","call_id":"c1"}`,
			wantType: "video",
			wantID:   "c1",
		},
		{
			name:     "default type",
			body:     `{"token":"tok","caller_name":"Ana","call_id":"c2"}`,
			wantType: "voice",
			wantID:   "c2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &mockSender{id: "mid"}
			srv := newTestServer(ServerConfig{Sender: sender})

			w := doRequest(t, srv, http.MethodPost, "/send-call", tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
			}
			resp := decodeBody[SendResponse](t, w)
			if resp.CallID != tt.wantID {
				t.Errorf("call_id = %q, want %q", resp.CallID, tt.wantID)
			}

			p := sender.last()
			if p.Kind != KindCall {
				t.Errorf("kind = %q", p.Kind)
			}
			if p.Data["type"] != "call" || p.Data["caller_name"] != "Ana" {
				t.Errorf("data = %v", p.Data)
			}
			if p.Data["call_type"] != tt.wantType {
				t.Errorf("call_type = %q, want %q", p.Data["call_type"], tt.wantType)
			}
			if p.Data["call_id"] != tt.wantID {
				t.Errorf("call_id = %q, want %q", p.Data["call_id"], tt.wantID)
			}
		})
	}
}

func TestSendCall_SynthesizesID(t *testing.T) {
	sender := &mockSender{id: "mid"}
	log := &mockPushLogger{}
	srv := newTestServer(ServerConfig{Sender: sender, Log: log})

	w := doRequest(t, srv, http.MethodPost, "/send-call", `{"token":"tok","caller_name":"Ana"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decodeBody[SendResponse](t, w)
	if !strings.HasPrefix(resp.CallID, "1773480413000-") {
		t.Errorf("call_id = %q, want millisecond prefix", resp.CallID)
	}
	if sender.last().Data["call_id"] != resp.CallID {
		t.Error("pushed call_id differs from the response")
	}
	if log.entries[0].CallID != resp.CallID {
		t.Error("logged call_id differs from the response")
	}
}

func TestSend_Validation(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		body      string
		wantError string
	}{
		{"message missing token", "/send-message", `{"sender":"a","message":"b"}`, "Token, sender, and message are required"},
		{"message missing sender", "/send-message", `{"token":"t","message":"b"}`, "Token, sender, and message are required"},
		{"message missing text", "/send-message", `{"token":"t","sender":"a"}`, "Token, sender, and message are required"},
		{"call missing caller", "/send-call", `{"token":"t"}`, "Token and caller_name are required"},
		{"call missing token", "/send-call", `{"caller_name":"Ana"}`, "Token and caller_name are required"},
		{"bad json", "/send-call", `{"token":`, "invalid request body"},
		{"two objects", "/send-message", `{"token":"t"} {"token":"u"}`, "invalid request body"},
		{"bad platform", "/send-call", `{"token":"t","caller_name":"Ana","platform":"webpush"}`, "platform must be fcm or apns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &mockSender{}
			srv := newTestServer(ServerConfig{Sender: sender})

			w := doRequest(t, srv, http.MethodPost, tt.path, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			resp := decodeBody[ErrorResponse](t, w)
			if resp.Error != tt.wantError {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
			}
			if len(sender.sent) != 0 {
				t.Error("sender should not be called on invalid input")
			}
		})
	}
}

func TestSend_DeliveryFailure(t *testing.T) {
	sender := &mockSender{err: errors.New("fcm: token no longer valid")}
	log := &mockPushLogger{}
	srv := newTestServer(ServerConfig{Sender: sender, Log: log})

	w := doRequest(t, srv, http.MethodPost, "/send-call", `{"token":"tok","caller_name":"Ana","call_id":"c9"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	resp := decodeBody[ErrorResponse](t, w)
	if resp.Error != "Failed to send call notification" {
		t.Errorf("error = %q", resp.Error)
	}
	if resp.Details != "fcm: token no longer valid" {
		t.Errorf("details = %q", resp.Details)
	}

	if len(log.entries) != 1 {
		t.Fatalf("expected failed attempt to be logged")
	}
	if e := log.entries[0]; e.Success || e.Error == "" || e.CallID != "c9" {
		t.Errorf("log entry = %+v", e)
	}
}

func TestSend_NoSender(t *testing.T) {
	srv := newTestServer(ServerConfig{})

	w := doRequest(t, srv, http.MethodPost, "/send-message", `{"token":"t","sender":"a","message":"b"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestSend_RateLimited(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{
		Rate:            rate.Limit(1),
		Burst:           1,
		CleanupInterval: time.Hour,
		MaxAge:          time.Hour,
	}, discardLogger())
	defer limiter.Stop()

	sender := &mockSender{id: "m"}
	srv := newTestServer(ServerConfig{Sender: sender, Limiter: limiter})

	body := `{"token":"same-device","caller_name":"Ana"}`
	if w := doRequest(t, srv, http.MethodPost, "/send-call", body); w.Code != http.StatusOK {
		t.Fatalf("first send: expected 200, got %d", w.Code)
	}
	if w := doRequest(t, srv, http.MethodPost, "/send-call", body); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second send: expected 429, got %d", w.Code)
	}
	if w := doRequest(t, srv, http.MethodPost, "/send-call", `{"token":"other-device","caller_name":"Ana"}`); w.Code != http.StatusOK {
		t.Fatalf("other device: expected 200, got %d", w.Code)
	}
	if len(sender.sent) != 2 {
		t.Errorf("expected 2 deliveries, got %d", len(sender.sent))
	}
}

func TestHealthAndIndex(t *testing.T) {
	multi := NewMultiSender(map[string]Sender{PlatformFCM: &mockSender{}})
	srv := newTestServer(ServerConfig{Sender: multi})

	w := doRequest(t, srv, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	h := decodeBody[Health](t, w)
	if h.Status != "healthy" || !h.Firebase || h.APNs {
		t.Errorf("health = %+v", h)
	}
	if !h.Timestamp.Equal(fixedNow) {
		t.Errorf("timestamp = %v", h.Timestamp)
	}

	w = doRequest(t, srv, http.MethodGet, "/", "")
	idx := decodeBody[Index](t, w)
	if idx.Status != "running" || idx.Firebase != "connected" {
		t.Errorf("index = %+v", idx)
	}
	if _, ok := idx.Endpoints["POST /send-call"]; !ok {
		t.Error("index should list POST /send-call")
	}

	idx = decodeBody[Index](t, doRequest(t, newTestServer(ServerConfig{}), http.MethodGet, "/", ""))
	if idx.Firebase != "not configured" {
		t.Errorf("firebase = %q, want not configured", idx.Firebase)
	}
}

func TestPushLog(t *testing.T) {
	sender := &mockSender{id: "m"}
	log := &mockPushLogger{}
	srv := newTestServer(ServerConfig{Sender: sender, Log: log})

	for _, id := range []string{"c1", "c2", "c3"} {
		doRequest(t, srv, http.MethodPost, "/send-call", `{"token":"tok","caller_name":"Ana","call_id":"`+id+`"}`)
	}

	w := doRequest(t, srv, http.MethodGet, "/push-log?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	entries := decodeBody[[]PushLogEntry](t, w)
	if len(entries) != 2 || entries[0].CallID != "c3" || entries[1].CallID != "c2" {
		t.Errorf("entries = %+v", entries)
	}

	for _, q := range []string{"0", "1001", "x"} {
		if w := doRequest(t, srv, http.MethodGet, "/push-log?limit="+q, ""); w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", q, w.Code)
		}
	}

	log.recentErr = errors.New("db down")
	if w := doRequest(t, srv, http.MethodGet, "/push-log", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on store error, got %d", w.Code)
	}

	if w := doRequest(t, newTestServer(ServerConfig{}), http.MethodGet, "/push-log", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a log, got %d", w.Code)
	}
}

func TestPushLog_EmptyIsArray(t *testing.T) {
	srv := newTestServer(ServerConfig{Log: &mockPushLogger{}})
	w := doRequest(t, srv, http.MethodGet, "/push-log", "")
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestDefaultTokenLimit(t *testing.T) {
	cfg := DefaultTokenLimit()
	if cfg.Rate != rate.Limit(1) || cfg.Burst != 10 {
		t.Errorf("default token limit = %v/%d, want 1/10", cfg.Rate, cfg.Burst)
	}
}

func TestTruncateToken(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "short"},
		{"12345678", "12345678"},
		{"123456789", "12345678..."},
	}
	for _, tt := range tests {
		if got := truncateToken(tt.in); got != tt.want {
			t.Errorf("truncateToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
