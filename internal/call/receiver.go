package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowpbx/pushcall/internal/notify"
)

// ActionIntent is a tap on an action of the call notification, delivered
// without the prompt being involved.
type ActionIntent struct {
	Action     string `json:"action"` // notify.ActionAccept or notify.ActionReject
	CallID     string `json:"call_id"`
	CallerName string `json:"caller_name"`
	CallType   string `json:"call_type,omitempty"`
}

// LaunchIntent brings the app to the foreground carrying a call's outcome.
type LaunchIntent struct {
	Action     Action  `json:"action"`
	CallID     string  `json:"call_id"`
	CallerName string  `json:"caller_name"`
	CallType   Type    `json:"call_type"`
	Outcome    Outcome `json:"outcome"`
}

// Launcher brings the app to the foreground.
type Launcher interface {
	Launch(ctx context.Context, intent LaunchIntent)
}

// ActionFor maps a notification action id to a call action.
func ActionFor(id string) (Action, error) {
	switch id {
	case notify.ActionAccept:
		return Accepted, nil
	case notify.ActionReject:
		return Rejected, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, id)
	}
}

// ActionReceiver resolves calls from notification action taps. It does not
// need a prompt to exist.
type ActionReceiver struct {
	resolver *Resolver
	ringer   RingStopper
	tray     Withdrawer
	launcher Launcher
	logger   *slog.Logger
}

// NewActionReceiver creates an action receiver. A nil launcher skips the
// foreground launch.
func NewActionReceiver(resolver *Resolver, ringer RingStopper, tray Withdrawer, launcher Launcher, logger *slog.Logger) *ActionReceiver {
	return &ActionReceiver{
		resolver: resolver,
		ringer:   ringer,
		tray:     tray,
		launcher: launcher,
		logger:   logger.With("subsystem", "action-receiver"),
	}
}

// Receive silences the call, withdraws its notification, resolves it and
// launches the app with the canonical outcome. A call that was already
// resolved returns a *ResolvedError but still launches with the winner.
func (a *ActionReceiver) Receive(ctx context.Context, in ActionIntent) (Outcome, error) {
	action, err := ActionFor(in.Action)
	if err != nil {
		return Outcome{}, err
	}
	if in.CallID == "" {
		return Outcome{}, ErrMissingCallID
	}

	if a.ringer != nil {
		a.ringer.StopFor(in.CallID)
	}
	if a.tray != nil {
		if err := a.tray.Cancel(ctx, notify.NotificationID(in.CallID)); err != nil {
			a.logger.Warn("withdrawing call notification", "call_id", in.CallID, "error", err)
		}
	}

	// A call this process never saw is registered from the action extras
	// so its outcome carries the caller name.
	if _, known := a.resolver.Lookup(in.CallID); !known {
		a.resolver.Begin(ctx, Event{
			ID:         in.CallID,
			CallerName: in.CallerName,
			Type:       ParseType(in.CallType),
			ReceivedAt: a.resolver.now(),
		})
	}

	out, err := a.resolver.Resolve(ctx, in.CallID, action, SourceActionReceiver)
	canonical, known := CanonicalOutcome(out, err)
	if err != nil && !errors.Is(err, ErrAlreadyResolved) {
		return Outcome{}, err
	}
	if !known {
		a.logger.Warn("call resolved elsewhere with unknown outcome, not launching", "call_id", in.CallID)
		return Outcome{}, err
	}

	ev, _ := a.resolver.Lookup(in.CallID)
	callerName := in.CallerName
	if callerName == "" {
		callerName = ev.CallerName
	}
	callType := ev.Type
	if callType == "" {
		callType = ParseType(in.CallType)
	}

	if a.launcher != nil {
		a.launcher.Launch(ctx, LaunchIntent{
			Action:     canonical.Action,
			CallID:     in.CallID,
			CallerName: callerName,
			CallType:   callType,
			Outcome:    canonical,
		})
	}
	return canonical, err
}
