package call

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowpbx/pushcall/internal/notify"
)

// Poster posts notifications to the tray.
type Poster interface {
	Post(ctx context.Context, n notify.Notification) error
}

// Presenter shows the system-level incoming call alert: one persistent
// notification with accept and reject actions, plus a full-screen prompt
// with a deadline.
type Presenter struct {
	resolver  *Resolver
	tray      Poster
	timeout   time.Duration
	afterFunc AfterFunc
	logger    *slog.Logger
}

// NewPresenter creates a presenter. A zero timeout means DefaultTimeout.
func NewPresenter(resolver *Resolver, tray Poster, timeout time.Duration, logger *slog.Logger) *Presenter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Presenter{
		resolver:  resolver,
		tray:      tray,
		timeout:   timeout,
		afterFunc: realAfterFunc,
		logger:    logger.With("subsystem", "call-presenter"),
	}
}

// Show posts the call notification and opens the full-screen prompt.
func (p *Presenter) Show(ctx context.Context, ev Event) (*Prompt, error) {
	n := CallNotification(ev, p.resolver.now())
	prompt, err := OpenPrompt(ctx, p.resolver, ev, PromptOptions{
		Timeout:   p.timeout,
		AfterFunc: p.afterFunc,
		Surface:   "full-screen",
		Post: func(ctx context.Context) error {
			return p.tray.Post(ctx, n)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("showing call %s: %w", ev.ID, err)
	}
	return prompt, nil
}

// CallNotification builds the persistent alert for ev. Both actions carry
// the call's identity so the action receiver needs nothing else.
func CallNotification(ev Event, now time.Time) notify.Notification {
	extras := map[string]string{
		notify.ExtraCallID:     ev.ID,
		notify.ExtraCallerName: ev.CallerName,
		notify.ExtraCallType:   string(ev.Type),
	}
	title := "Incoming voice call"
	if ev.Type == TypeVideo {
		title = "Incoming video call"
	}
	return notify.Notification{
		ID:         notify.NotificationID(ev.ID),
		Channel:    notify.ChannelCall,
		Title:      title,
		Body:       ev.CallerName,
		Ongoing:    true,
		FullScreen: true,
		Actions: []notify.Action{
			{ID: notify.ActionReject, Title: "Decline", Extras: extras},
			{ID: notify.ActionAccept, Title: "Accept", Extras: extras},
		},
		Data: map[string]string{
			notify.ExtraCallID:     ev.ID,
			notify.ExtraCallerName: ev.CallerName,
			notify.ExtraCallType:   string(ev.Type),
		},
		PostedAt: now,
	}
}
