package cli

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/flowpbx/pushcall/internal/relay"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryPushLog implements relay.PushLogger in memory.
type memoryPushLog struct {
	mu      sync.Mutex
	entries []relay.PushLogEntry
}

func (m *memoryPushLog) Log(_ context.Context, e relay.PushLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryPushLog) Recent(_ context.Context, limit int) ([]relay.PushLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []relay.PushLogEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}
