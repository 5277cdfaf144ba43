package pgstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/flowpbx/pushcall/internal/relay"
)

// openTestStore connects to PUSHCALL_TEST_PG_DSN or skips.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PUSHCALL_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("PUSHCALL_TEST_PG_DSN not set, skipping postgresql tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := New(ctx, dsn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Skipf("postgresql unavailable: %v", err)
	}
	t.Cleanup(func() {
		s.db.Exec("DELETE FROM push_logs")
		s.Close()
	})
	if _, err := s.db.Exec("DELETE FROM push_logs"); err != nil {
		t.Fatalf("truncating push_logs: %v", err)
	}
	return s
}

func TestLogAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond)

	entries := []relay.PushLogEntry{
		{Platform: relay.PlatformFCM, Kind: relay.KindMessage, TokenPrefix: "abcdefgh...", MessageID: "m1", Success: true, Timestamp: base},
		{Platform: relay.PlatformFCM, Kind: relay.KindCall, CallID: "c1", TokenPrefix: "abcdefgh...", Success: false, Error: "fcm: send failed", Timestamp: base.Add(time.Second)},
		{Platform: relay.PlatformAPNs, Kind: relay.KindCall, CallID: "c2", TokenPrefix: "ffff", MessageID: "apns-1", Success: true, Timestamp: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := s.Log(ctx, e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].CallID != "c2" || got[1].CallID != "c1" {
		t.Errorf("order = %s,%s, want c2,c1", got[0].CallID, got[1].CallID)
	}
	if got[1].Success || got[1].Error != "fcm: send failed" {
		t.Errorf("failed attempt = %+v", got[1])
	}
}

func TestMigrateIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
