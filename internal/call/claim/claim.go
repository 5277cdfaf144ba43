// Package claim records which resolution won for a call id. A claim is
// written at most once; every later writer loses and can read the winner.
package claim

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Store is a set-once map from call id to an encoded outcome.
type Store interface {
	// Claim stores value for callID unless a claim already exists.
	// It reports whether this call won.
	Claim(ctx context.Context, callID string, value []byte) (bool, error)
	// Get returns the winning value for callID.
	Get(ctx context.Context, callID string) ([]byte, bool, error)
}

// MemoryConfig configures the in-process claim store.
type MemoryConfig struct {
	// TTL is how long a claim is remembered.
	TTL time.Duration
	// CleanupInterval is how often expired claims are removed.
	CleanupInterval time.Duration
	// Logger receives cleanup logs. Defaults to slog.Default.
	Logger *slog.Logger
}

// DefaultMemoryConfig keeps claims for ten minutes.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		TTL:             10 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryStore is a Store for a single agent process.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	cfg     MemoryConfig
	logger  *slog.Logger
	now     func() time.Time
	stopCh  chan struct{}
	stop    sync.Once
}

// NewMemoryStore creates a store and starts background cleanup.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Claim implements Store. The compare-and-set is atomic under s.mu.
func (s *MemoryStore) Claim(_ context.Context, callID string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[callID]; ok && now.Before(e.expires) {
		return false, nil
	}
	s.entries[callID] = memoryEntry{
		value:   append([]byte(nil), value...),
		expires: now.Add(s.cfg.TTL),
	}
	return true, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, callID string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[callID]
	if !ok || !s.now().Before(e.expires) {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Len returns the number of live claims.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop terminates the background cleanup goroutine.
func (s *MemoryStore) Stop() {
	s.stop.Do(func() { close(s.stopCh) })
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup removes expired claims.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("claim store cleanup", "removed", removed, "remaining", len(s.entries))
	}
}
