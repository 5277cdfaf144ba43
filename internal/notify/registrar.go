package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// channels holds the fixed configuration of both presentation categories.
var channels = map[ChannelID]Channel{
	ChannelMessage: {
		ID:          ChannelMessage,
		Name:        "Messages",
		Description: "Message notifications",
		Importance:  ImportanceHigh,
		Vibration:   true,
		Lights:      true,
		Sound:       true,
	},
	ChannelCall: {
		ID:          ChannelCall,
		Name:        "Incoming Calls",
		Description: "Incoming call notifications",
		Importance:  ImportanceMax,
		BypassDND:   true,
		Vibration:   true,
		Lights:      true,
		// The ringer loops the ringtone; a channel sound would play once.
		Sound: false,
	},
}

// ChannelConfig returns the configuration for a known channel.
func ChannelConfig(id ChannelID) (Channel, bool) {
	ch, ok := channels[id]
	return ch, ok
}

// Registrar ensures channels exist on the tray before any alert is raised.
// Ensure is safe to call on every event.
type Registrar struct {
	tray   Tray
	logger *slog.Logger

	mu      sync.Mutex
	created map[ChannelID]bool
}

// NewRegistrar creates a registrar for the given tray.
func NewRegistrar(tray Tray, logger *slog.Logger) *Registrar {
	return &Registrar{
		tray:    tray,
		logger:  logger.With("subsystem", "channel-registrar"),
		created: make(map[ChannelID]bool),
	}
}

// Ensure creates the channel on first use. Later calls are no-ops.
func (r *Registrar) Ensure(ctx context.Context, id ChannelID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.created[id] {
		return nil
	}
	ch, ok := channels[id]
	if !ok {
		return fmt.Errorf("ensuring channel %q: %w", id, ErrUnknownChannel)
	}
	if err := r.tray.CreateChannel(ctx, ch); err != nil {
		return fmt.Errorf("creating channel %q: %w", id, err)
	}
	r.created[id] = true
	r.logger.Info("notification channel registered", "channel", id, "importance", ch.Importance.String())
	return nil
}
