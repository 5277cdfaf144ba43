package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowpbx/pushcall/internal/call"
)

// Screens shows incoming calls inside the foregrounded app instead of as a
// system alert. Prompts share the resolver with the system presenter, so a
// call shown both ways still resolves once.
type Screens struct {
	resolver  *call.Resolver
	timeout   time.Duration
	afterFunc call.AfterFunc
	logger    *slog.Logger
}

// NewScreens creates the in-app call screens. A zero timeout means
// call.DefaultTimeout.
func NewScreens(resolver *call.Resolver, timeout time.Duration, logger *slog.Logger) *Screens {
	return &Screens{
		resolver: resolver,
		timeout:  timeout,
		logger:   logger.With("subsystem", "call-screens"),
	}
}

// Show opens the in-app prompt for ev. No system notification is posted.
func (s *Screens) Show(ctx context.Context, ev call.Event) (*call.Prompt, error) {
	p, err := call.OpenPrompt(ctx, s.resolver, ev, call.PromptOptions{
		Timeout:   s.timeout,
		AfterFunc: s.afterFunc,
		Surface:   "in-app",
	})
	if err != nil {
		return nil, fmt.Errorf("showing in-app call %s: %w", ev.ID, err)
	}
	s.logger.Debug("in-app call screen shown", "call_id", ev.ID)
	return p, nil
}
