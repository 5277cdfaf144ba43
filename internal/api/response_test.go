package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusCreated, map[string]string{"name": "test"})

	if w.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected content-type application/json, got %q", ct)
	}

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if env.Error != "" {
		t.Errorf("expected empty error, got %q", env.Error)
	}
	data, ok := env.Data.(map[string]any)
	if !ok || data["name"] != "test" {
		t.Errorf("data = %v", env.Data)
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusNotFound, "call not found")

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	var raw map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if raw["error"] != "call not found" {
		t.Errorf("error = %v", raw["error"])
	}
	if v, ok := raw["data"]; !ok || v != nil {
		t.Errorf("expected data:null, got %v (present=%v)", v, ok)
	}
}

func TestDecodeJSON(t *testing.T) {
	type req struct {
		Value string `json:"value"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"value":"x"}`, ""},
		{"empty", ``, "request body is empty"},
		{"unknown field", `{"value":"x","other":1}`, "invalid request body"},
		{"malformed", `{"value":`, "invalid request body"},
		{"too large", `{"value":"` + strings.Repeat("a", maxBodyBytes) + `"}`, "exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var v req
			err := decodeJSON(httptest.NewRecorder(), r, &v)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if v.Value != "x" {
					t.Errorf("value = %q", v.Value)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
