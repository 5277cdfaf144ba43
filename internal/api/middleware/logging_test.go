package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func jsonLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestStructuredLogger(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		status     int
		wantStatus float64
		wantLevel  string
	}{
		{"default status", http.MethodGet, "/v1/calls", 0, 200, "INFO"},
		{"explicit status", http.MethodPost, "/v1/missing", http.StatusNotFound, 404, "INFO"},
		{"health at debug", http.MethodGet, "/healthz", 0, 200, "DEBUG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			handler := StructuredLogger(jsonLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				w.Write([]byte("ok"))
			}))

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("failed to parse log output: %v", err)
			}
			if entry["method"] != tt.method || entry["path"] != tt.path {
				t.Errorf("logged %v %v, want %s %s", entry["method"], entry["path"], tt.method, tt.path)
			}
			// JSON numbers decode as float64.
			if entry["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %v", entry["status"], tt.wantStatus)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if entry["subsystem"] != "http" {
				t.Errorf("subsystem = %v, want http", entry["subsystem"])
			}
			if _, ok := entry["duration_ms"]; !ok {
				t.Error("expected duration_ms in log output")
			}
		})
	}
}

func TestStatusRecorderFirstWriteWins(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: rr, status: http.StatusOK}
	rec.WriteHeader(http.StatusConflict)
	rec.WriteHeader(http.StatusOK)
	if rec.status != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.status)
	}
}
