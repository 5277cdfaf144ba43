package relay

import (
	"context"
	"fmt"
)

// Sender delivers one push and returns the delivery service's message id.
type Sender interface {
	Send(ctx context.Context, p Push) (string, error)
}

// MultiSender routes pushes to the sender registered for their platform.
type MultiSender struct {
	senders map[string]Sender
}

// NewMultiSender creates a MultiSender from a map of platform name to sender.
func NewMultiSender(senders map[string]Sender) *MultiSender {
	return &MultiSender{senders: senders}
}

// Send delegates to the sender registered for p.Platform.
func (m *MultiSender) Send(ctx context.Context, p Push) (string, error) {
	s, ok := m.senders[p.Platform]
	if !ok {
		return "", fmt.Errorf("no sender configured for platform %q", p.Platform)
	}
	return s.Send(ctx, p)
}

// Has reports whether a sender is registered for platform.
func (m *MultiSender) Has(platform string) bool {
	_, ok := m.senders[platform]
	return ok
}
