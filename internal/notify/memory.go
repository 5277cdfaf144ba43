package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// MemoryTray is a Tray for headless hosts. Every change is logged and the
// active set can be inspected over the agent API.
type MemoryTray struct {
	mu       sync.RWMutex
	channels map[ChannelID]Channel
	active   map[int32]Notification
	logger   *slog.Logger
}

// NewMemoryTray creates an empty tray.
func NewMemoryTray(logger *slog.Logger) *MemoryTray {
	return &MemoryTray{
		channels: make(map[ChannelID]Channel),
		active:   make(map[int32]Notification),
		logger:   logger.With("subsystem", "tray"),
	}
}

// CreateChannel registers or replaces a channel.
func (t *MemoryTray) CreateChannel(_ context.Context, ch Channel) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.channels[ch.ID] = ch
	t.logger.Debug("channel created",
		"channel", ch.ID,
		"importance", ch.Importance.String(),
		"bypass_dnd", ch.BypassDND,
		"sound", ch.Sound,
	)
	return nil
}

// Post shows a notification, replacing any active one with the same id.
func (t *MemoryTray) Post(_ context.Context, n Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.channels[n.Channel]; !ok {
		return fmt.Errorf("posting notification %d: %w: %s", n.ID, ErrUnknownChannel, n.Channel)
	}
	t.active[n.ID] = n
	t.logger.Info("notification posted",
		"id", n.ID,
		"channel", n.Channel,
		"title", n.Title,
		"actions", len(n.Actions),
	)
	return nil
}

// Cancel withdraws a notification. Unknown ids are ignored.
func (t *MemoryTray) Cancel(_ context.Context, id int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[id]; !ok {
		return nil
	}
	delete(t.active, id)
	t.logger.Info("notification withdrawn", "id", id)
	return nil
}

// CancelAll withdraws every active notification.
func (t *MemoryTray) CancelAll(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.active)
	t.active = make(map[int32]Notification)
	t.logger.Info("all notifications withdrawn", "count", n)
	return nil
}

// Active returns the posted notifications, oldest first.
func (t *MemoryTray) Active(_ context.Context) ([]Notification, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Notification, 0, len(t.active))
	for _, n := range t.active {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].PostedAt.Before(out[j].PostedAt)
	})
	return out, nil
}

// Get returns the active notification with the given id.
func (t *MemoryTray) Get(id int32) (Notification, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.active[id]
	return n, ok
}

// Channels returns the created channels.
func (t *MemoryTray) Channels() map[ChannelID]Channel {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[ChannelID]Channel, len(t.channels))
	for k, v := range t.channels {
		out[k] = v
	}
	return out
}

// Len returns the number of active notifications.
func (t *MemoryTray) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}
