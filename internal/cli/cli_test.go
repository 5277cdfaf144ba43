package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flowpbx/pushcall/internal/call"
	"github.com/flowpbx/pushcall/internal/history"
	"github.com/flowpbx/pushcall/internal/notify"
	"github.com/flowpbx/pushcall/internal/relay"
)

// fakeAgent records requests and answers from canned envelopes.
type fakeAgent struct {
	mu       sync.Mutex
	requests []recorded
	routes   map[string]cannedResponse
}

type recorded struct {
	method, path, query string
	body                map[string]any
}

type cannedResponse struct {
	status int
	data   any
	err    string
}

func newFakeAgent(t *testing.T, routes map[string]cannedResponse) (*fakeAgent, string) {
	t.Helper()
	f := &fakeAgent{routes: routes}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv.URL
}

func (f *fakeAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	json.Unmarshal(raw, &body)

	key := r.Method + " " + r.URL.Path
	f.mu.Lock()
	f.requests = append(f.requests, recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: body})
	resp, ok := f.routes[key]
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"data": nil, "error": "not found"})
		return
	}
	if resp.status == http.StatusNoContent {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	status := resp.status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"data": resp.data, "error": resp.err})
}

func (f *fakeAgent) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestPushCall(t *testing.T) {
	deadline := t0.Add(30 * time.Second)
	agent, url := newFakeAgent(t, map[string]cannedResponse{
		"POST /v1/push": {status: http.StatusAccepted, data: PushResult{Kind: "call", CallID: "c1", Deadline: &deadline, ReceivedAt: t0}},
	})

	out, err := runCLI(t, "--agent", url, "push", "call", "Ana", "--id", "c1", "--type", "video")
	if err != nil {
		t.Fatalf("push call: %v", err)
	}
	if !strings.Contains(out, "Call c1 ringing") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "Times out at") {
		t.Errorf("output missing deadline: %q", out)
	}

	req := agent.last()
	if req.method != http.MethodPost || req.path != "/v1/push" {
		t.Errorf("request = %s %s", req.method, req.path)
	}
	want := map[string]string{"type": "call", "caller_name": "Ana", "call_id": "c1", "call_type": "video"}
	for k, v := range want {
		if req.body[k] != v {
			t.Errorf("body[%q] = %v, want %q", k, req.body[k], v)
		}
	}
}

func TestPushCall_Duplicate(t *testing.T) {
	_, url := newFakeAgent(t, map[string]cannedResponse{
		"POST /v1/push": {status: http.StatusAccepted, data: PushResult{Kind: "call", CallID: "c1", Duplicate: true}},
	})

	out, err := runCLI(t, "--agent", url, "push", "call", "Ana", "--id", "c1")
	if err != nil {
		t.Fatalf("push call: %v", err)
	}
	if !strings.Contains(out, "duplicate") {
		t.Errorf("output = %q", out)
	}
}

func TestPushMessage(t *testing.T) {
	agent, url := newFakeAgent(t, map[string]cannedResponse{
		"POST /v1/push": {status: http.StatusAccepted, data: PushResult{Kind: "message", Record: &history.Record{ID: "r1"}}},
	})

	out, err := runCLI(t, "--agent", url, "push", "message", "Hi", "see you", "--sender", "Bo")
	if err != nil {
		t.Fatalf("push message: %v", err)
	}
	if !strings.Contains(out, "Message stored as r1") {
		t.Errorf("output = %q", out)
	}
	body := agent.last().body
	if body["type"] != "message" || body["title"] != "Hi" || body["body"] != "see you" || body["sender"] != "Bo" {
		t.Errorf("body = %v", body)
	}
}

func TestCallsList(t *testing.T) {
	_, url := newFakeAgent(t, map[string]cannedResponse{
		"GET /v1/calls": {data: []call.Snapshot{
			{Event: call.Event{ID: "c2", CallerName: "Bo", Type: call.TypeVoice, ReceivedAt: t0}, State: "pending"},
			{
				Event:   call.Event{ID: "c1", CallerName: "Ana", Type: call.TypeVideo, ReceivedAt: t0},
				State:   "resolved",
				Outcome: &call.Outcome{CallID: "c1", Action: call.Accepted, ResolvedBy: call.SourcePresenterUI, ResolvedAt: t0},
			},
		}},
	})

	out, err := runCLI(t, "--agent", url, "calls", "list")
	if err != nil {
		t.Fatalf("calls list: %v", err)
	}
	for _, want := range []string{"CALL ID", "c1", "c2", "Ana", "accepted", "Total: 2 calls (1 pending)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCallsList_Empty(t *testing.T) {
	_, url := newFakeAgent(t, map[string]cannedResponse{
		"GET /v1/calls": {data: []call.Snapshot{}},
	})

	out, err := runCLI(t, "--agent", url, "calls", "list")
	if err != nil {
		t.Fatalf("calls list: %v", err)
	}
	if !strings.Contains(out, "No calls found") {
		t.Errorf("output = %q", out)
	}
}

func TestCallsShow_Wait(t *testing.T) {
	agent, url := newFakeAgent(t, map[string]cannedResponse{
		"GET /v1/calls/c1": {data: call.Snapshot{
			Event:   call.Event{ID: "c1", CallerName: "Ana", Type: call.TypeVideo, ReceivedAt: t0},
			State:   "resolved",
			Outcome: &call.Outcome{CallID: "c1", Action: call.TimedOut, ResolvedBy: call.SourceDeadline, ResolvedAt: t0},
		}},
	})

	out, err := runCLI(t, "--agent", url, "calls", "show", "c1", "--wait", "30s")
	if err != nil {
		t.Fatalf("calls show: %v", err)
	}
	if got := agent.last().query; got != "wait=30s" {
		t.Errorf("query = %q, want wait=30s", got)
	}
	for _, want := range []string{"State:    resolved", "timed_out", "deadline"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCallsAccept(t *testing.T) {
	agent, url := newFakeAgent(t, map[string]cannedResponse{
		"POST /v1/calls/c1/accept": {data: call.Outcome{CallID: "c1", Action: call.Accepted, ResolvedBy: call.SourcePresenterUI, ResolvedAt: t0}},
	})

	out, err := runCLI(t, "--agent", url, "calls", "accept", "c1")
	if err != nil {
		t.Fatalf("calls accept: %v", err)
	}
	if !strings.Contains(out, "Call c1 accepted") {
		t.Errorf("output = %q", out)
	}
	if got := agent.last().path; got != "/v1/calls/c1/accept" {
		t.Errorf("path = %q", got)
	}
}

func TestCallsReject_AlreadyResolved(t *testing.T) {
	_, url := newFakeAgent(t, map[string]cannedResponse{
		"POST /v1/calls/c1/reject": {
			status: http.StatusConflict,
			data:   call.Outcome{CallID: "c1", Action: call.Accepted, ResolvedBy: call.SourceActionReceiver},
			err:    "call already resolved",
		},
	})

	out, err := runCLI(t, "--agent", url, "calls", "reject", "c1")
	if err == nil {
		t.Fatal("expected error for a resolved call")
	}
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Status != http.StatusConflict {
		t.Fatalf("err = %v, want 409 APIError", err)
	}
	if !strings.Contains(out, "already resolved: accepted by action_receiver") {
		t.Errorf("output = %q", out)
	}
}

func TestAction(t *testing.T) {
	tests := []struct {
		arg        string
		wantAction string
	}{
		{"accept", notify.ActionAccept},
		{"REJECT", notify.ActionReject},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			agent, url := newFakeAgent(t, map[string]cannedResponse{
				"POST /v1/actions": {data: call.Outcome{CallID: "c1", Action: call.Rejected, ResolvedBy: call.SourceActionReceiver}},
			})

			if _, err := runCLI(t, "--agent", url, "action", tt.arg, "c1", "--caller", "Ana", "--type", "video"); err != nil {
				t.Fatalf("action: %v", err)
			}
			body := agent.last().body
			if body["action"] != tt.wantAction || body["call_id"] != "c1" || body["caller_name"] != "Ana" || body["call_type"] != "video" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestNotificationsListAndTap(t *testing.T) {
	id := notify.NotificationID("c1")
	agent, url := newFakeAgent(t, map[string]cannedResponse{
		"GET /v1/notifications": {data: []notify.Notification{{
			ID:         id,
			Channel:    notify.ChannelCall,
			Title:      "Incoming Call",
			Body:       "Ana",
			FullScreen: true,
			Actions:    []notify.Action{{ID: notify.ActionAccept, Title: "Accept"}, {ID: notify.ActionReject, Title: "Reject"}},
			PostedAt:   t0,
		}}},
	})

	out, err := runCLI(t, "--agent", url, "notifications", "list")
	if err != nil {
		t.Fatalf("notifications list: %v", err)
	}
	for _, want := range []string{"Incoming Call", "ACCEPT_CALL,REJECT_CALL", "Total: 1 notifications"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if _, err := runCLI(t, "--agent", url, "notif", "tap", "abc", "ACCEPT_CALL"); err == nil {
		t.Error("expected error for non-numeric notification id")
	}

	runCLI(t, "--agent", url, "notif", "tap", "--", "-12", "ACCEPT_CALL")
	if got := agent.last().path; got != "/v1/notifications/-12/actions/ACCEPT_CALL" {
		t.Errorf("path = %q", got)
	}
}

func TestHistoryList(t *testing.T) {
	agent, url := newFakeAgent(t, map[string]cannedResponse{
		"GET /v1/history": {data: []history.Record{
			{ID: "r2", Title: "Call Accepted", Body: "Ana", Kind: history.KindCall, CallID: "c1", Timestamp: t0},
			{ID: "r1", Title: "Hi", Body: "see you", Kind: history.KindMessage, Timestamp: t0},
		}},
		"DELETE /v1/history": {status: http.StatusNoContent},
	})

	out, err := runCLI(t, "--agent", url, "history", "list", "--limit", "5", "--call-id", "c1")
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	if !strings.Contains(out, "Call Accepted") || !strings.Contains(out, "Total: 2 records") {
		t.Errorf("output = %q", out)
	}
	q := agent.last().query
	if !strings.Contains(q, "limit=5") || !strings.Contains(q, "call_id=c1") {
		t.Errorf("query = %q", q)
	}

	out, err = runCLI(t, "--agent", url, "history", "clear")
	if err != nil {
		t.Fatalf("history clear: %v", err)
	}
	if !strings.Contains(out, "History cleared") {
		t.Errorf("output = %q", out)
	}
}

func TestAppCommands(t *testing.T) {
	agent, url := newFakeAgent(t, map[string]cannedResponse{
		"PUT /v1/app/foreground": {data: map[string]bool{"foreground": true}},
		"GET /v1/app/launch":     {data: nil},
	})

	if _, err := runCLI(t, "--agent", url, "app", "foreground", "on"); err != nil {
		t.Fatalf("app foreground: %v", err)
	}
	if agent.last().body["foreground"] != true {
		t.Errorf("body = %v", agent.last().body)
	}

	if _, err := runCLI(t, "--agent", url, "app", "foreground", "maybe"); err == nil {
		t.Error("expected error for invalid state")
	}

	out, err := runCLI(t, "--agent", url, "app", "launch")
	if err != nil {
		t.Fatalf("app launch: %v", err)
	}
	if !strings.Contains(out, "No pending launch") {
		t.Errorf("output = %q", out)
	}
}

func TestToken(t *testing.T) {
	agent, url := newFakeAgent(t, map[string]cannedResponse{
		"PUT /v1/device/token": {data: tokenBody{Token: "tok-1"}},
		"GET /v1/device/token": {data: tokenBody{Token: "tok-1"}},
	})

	if _, err := runCLI(t, "--agent", url, "token", "set", "tok-1"); err != nil {
		t.Fatalf("token set: %v", err)
	}
	if agent.last().body["token"] != "tok-1" {
		t.Errorf("body = %v", agent.last().body)
	}

	out, err := runCLI(t, "--agent", url, "token", "get")
	if err != nil {
		t.Fatalf("token get: %v", err)
	}
	if strings.TrimSpace(out) != "tok-1" {
		t.Errorf("output = %q", out)
	}
}

type stubSender struct{}

func (stubSender) Send(_ context.Context, p relay.Push) (string, error) {
	return "msg-" + p.Kind, nil
}

func TestRelaySendCall_UsesAgentToken(t *testing.T) {
	_, agentURL := newFakeAgent(t, map[string]cannedResponse{
		"GET /v1/device/token": {data: tokenBody{Token: "registered-token"}},
	})
	logger := &memoryPushLog{}
	relaySrv := httptest.NewServer(relay.NewServer(relay.ServerConfig{Sender: stubSender{}, Log: logger}, discardLogger()))
	defer relaySrv.Close()

	out, err := runCLI(t, "--agent", agentURL, "--relay", relaySrv.URL, "relay", "send-call", "Ana", "--id", "c9")
	if err != nil {
		t.Fatalf("relay send-call: %v", err)
	}
	if !strings.Contains(out, "Call c9 sent (message id msg-call)") {
		t.Errorf("output = %q", out)
	}
	if len(logger.entries) != 1 || logger.entries[0].TokenPrefix != "register..." {
		t.Errorf("push log = %+v", logger.entries)
	}

	out, err = runCLI(t, "--relay", relaySrv.URL, "relay", "log")
	if err != nil {
		t.Fatalf("relay log: %v", err)
	}
	if !strings.Contains(out, "c9") || !strings.Contains(out, "Total: 1 attempts (0 failed)") {
		t.Errorf("output = %q", out)
	}
}

func TestRelayHealth(t *testing.T) {
	relaySrv := httptest.NewServer(relay.NewServer(relay.ServerConfig{
		Sender: relay.NewMultiSender(map[string]relay.Sender{relay.PlatformFCM: stubSender{}}),
	}, discardLogger()))
	defer relaySrv.Close()

	out, err := runCLI(t, "--relay", relaySrv.URL, "relay", "health")
	if err != nil {
		t.Fatalf("relay health: %v", err)
	}
	if !strings.Contains(out, "healthy") || !strings.Contains(out, "APNs:     not configured") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigFileAndEnv(t *testing.T) {
	_, url := newFakeAgent(t, map[string]cannedResponse{
		"GET /v1/device/token": {data: tokenBody{Token: "from-config"}},
	})

	dir := t.TempDir()
	cfg := filepath.Join(dir, "ctl.yaml")
	if err := os.WriteFile(cfg, []byte("agent: "+url+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "--config", cfg, "token", "get")
	if err != nil {
		t.Fatalf("token get via config: %v", err)
	}
	if strings.TrimSpace(out) != "from-config" {
		t.Errorf("output = %q", out)
	}

	t.Setenv("PUSHCALLCTL_AGENT", url)
	out, err = runCLI(t, "token", "get")
	if err != nil {
		t.Fatalf("token get via env: %v", err)
	}
	if strings.TrimSpace(out) != "from-config" {
		t.Errorf("output = %q", out)
	}
}
