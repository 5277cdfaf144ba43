package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClient_SendCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/send-call" {
			t.Errorf("expected path /send-call, got %s", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}

		var req CallRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Token != "device-token" || req.CallerName != "Ana" || req.CallID != "c1" {
			t.Errorf("request = %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SendResponse{Success: true, MessageID: "m1", CallID: "c1"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	resp, err := client.SendCall(context.Background(), CallRequest{Token: "device-token", CallerName: "Ana", CallID: "c1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success || resp.CallID != "c1" || resp.MessageID != "m1" {
		t.Errorf("response = %+v", resp)
	}
}

func TestClient_AgainstServer(t *testing.T) {
	sender := &mockSender{id: "m7"}
	log := &mockPushLogger{}
	srv := httptest.NewServer(NewServer(ServerConfig{Sender: sender, Log: log}, discardLogger()))
	defer srv.Close()

	client := NewClient(srv.URL, 0)
	ctx := context.Background()

	resp, err := client.SendMessage(ctx, MessageRequest{Token: "tok", Sender: "Bo", Message: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.MessageID != "m7" {
		t.Errorf("message id = %q", resp.MessageID)
	}

	h, err := client.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "healthy" {
		t.Errorf("status = %q", h.Status)
	}

	entries, err := client.PushLog(ctx, 10)
	if err != nil {
		t.Fatalf("PushLog: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != KindMessage {
		t.Errorf("entries = %+v", entries)
	}
}

func TestClient_ErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantSub string
	}{
		{"with details", http.StatusBadGateway, `{"error":"Failed to send call notification","details":"fcm: send failed"}`, "Failed to send call notification (status 502): fcm: send failed"},
		{"without details", http.StatusBadRequest, `{"error":"Token and caller_name are required"}`, "Token and caller_name are required (status 400)"},
		{"not json", http.StatusInternalServerError, `oops`, "unexpected status 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second).SendCall(context.Background(), CallRequest{Token: "t", CallerName: "Ana"})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %q, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := NewClient(url, time.Second).Health(context.Background()); err == nil {
		t.Fatal("expected error for closed server")
	}
}
