package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowpbx/pushcall/internal/call"
	"github.com/flowpbx/pushcall/internal/history"
	"github.com/flowpbx/pushcall/internal/notify"
)

// ChannelEnsurer creates notification channels on demand.
type ChannelEnsurer interface {
	Ensure(ctx context.Context, id notify.ChannelID) error
}

// Ringer starts and stops the looping ringtone.
type Ringer interface {
	Start(callID string)
	StopFor(callID string)
}

// CallShower shows an incoming call prompt.
type CallShower interface {
	Show(ctx context.Context, ev call.Event) (*call.Prompt, error)
}

// Poster posts notifications to the tray.
type Poster interface {
	Post(ctx context.Context, n notify.Notification) error
}

// Appender appends history records.
type Appender interface {
	Append(ctx context.Context, rec history.Record) (history.Record, error)
}

// Foregrounder reports whether the app is visible.
type Foregrounder interface {
	Foreground() bool
}

// Dispatcher routes classified payloads. Calls go to the ringer and a
// presenter; messages go to a one-shot notification and the history list.
type Dispatcher struct {
	registrar  ChannelEnsurer
	ringer     Ringer
	resolver   *call.Resolver
	presenter  CallShower
	screens    CallShower
	foreground Foregrounder
	tray       Poster
	history    Appender
	logger     *slog.Logger
	now        func() time.Time
}

// DispatcherDeps lists the dispatcher's collaborators. Screens and
// Foreground are optional; without them calls always use the presenter.
type DispatcherDeps struct {
	Registrar  ChannelEnsurer
	Ringer     Ringer
	Resolver   *call.Resolver
	Presenter  CallShower
	Screens    CallShower
	Foreground Foregrounder
	Tray       Poster
	History    Appender
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(deps DispatcherDeps, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registrar:  deps.Registrar,
		ringer:     deps.Ringer,
		resolver:   deps.Resolver,
		presenter:  deps.Presenter,
		screens:    deps.Screens,
		foreground: deps.Foreground,
		tray:       deps.Tray,
		history:    deps.History,
		logger:     logger.With("subsystem", "inbound"),
		now:        time.Now,
	}
}

// Result describes what Dispatch did with a payload.
type Result struct {
	Event     Event
	Duplicate bool         // a call id that is already pending or resolved
	Prompt    *call.Prompt // the prompt shown for a call
	Record    *history.Record
}

// Dispatch classifies p and runs the matching pipeline.
func (d *Dispatcher) Dispatch(ctx context.Context, p Payload) (Result, error) {
	ev := Classify(p, d.now())
	switch e := ev.(type) {
	case Call:
		return d.dispatchCall(ctx, e)
	case Message:
		return d.dispatchMessage(ctx, e)
	default:
		return Result{}, fmt.Errorf("unhandled event type %T", ev)
	}
}

func (d *Dispatcher) dispatchCall(ctx context.Context, c Call) (Result, error) {
	res := Result{Event: c}
	logger := d.logger.With("call_id", c.ID)
	if c.Synthesized {
		logger.Warn("call payload missing call_id, synthesized one")
	}

	if err := d.registrar.Ensure(ctx, notify.ChannelCall); err != nil {
		logger.Warn("ensuring call channel", "error", err)
	}

	if !d.resolver.Begin(ctx, c.Event) {
		logger.Info("duplicate call push ignored")
		res.Duplicate = true
		return res, nil
	}

	d.ringer.Start(c.ID)

	shower, surface := d.presenter, "system"
	if d.screens != nil && d.foreground != nil && d.foreground.Foreground() {
		shower, surface = d.screens, "in-app"
	}

	prompt, err := shower.Show(ctx, c.Event)
	if err != nil {
		// Resolved between Begin and Show; the resolution may have stopped
		// the ringer before it started.
		d.ringer.StopFor(c.ID)
		if errors.Is(err, call.ErrAlreadyResolved) {
			res.Duplicate = true
			return res, nil
		}
		return res, fmt.Errorf("presenting call: %w", err)
	}
	res.Prompt = prompt

	logger.Info("incoming call presented",
		"caller_name", c.CallerName,
		"call_type", c.Type,
		"surface", surface,
	)
	return res, nil
}

func (d *Dispatcher) dispatchMessage(ctx context.Context, m Message) (Result, error) {
	res := Result{Event: m}

	// The history record is written only once the notification is up, and
	// shares its id with it.
	rec := history.Record{
		ID:        uuid.NewString(),
		Title:     m.Title,
		Body:      m.Body,
		Data:      m.Data,
		Kind:      history.KindMessage,
		Timestamp: m.ReceivedAt,
	}

	if err := d.registrar.Ensure(ctx, notify.ChannelMessage); err != nil {
		return res, fmt.Errorf("ensuring message channel: %w", err)
	}

	data := map[string]string{}
	for k, v := range m.Data {
		data[k] = v
	}
	if m.Sender != "" {
		data[KeySender] = m.Sender
		data["chat_id"] = ChatID(m.Sender)
	}

	n := notify.Notification{
		ID:       notify.NotificationID(rec.ID),
		Channel:  notify.ChannelMessage,
		Title:    m.Title,
		Body:     m.Body,
		Data:     data,
		PostedAt: m.ReceivedAt,
	}
	if err := d.tray.Post(ctx, n); err != nil {
		return res, fmt.Errorf("posting message notification: %w", err)
	}
	d.logger.Info("message notification posted", "title", m.Title)

	if d.history != nil {
		saved, err := d.history.Append(ctx, rec)
		if err != nil {
			d.logger.Error("appending message to history", "error", err)
		} else {
			res.Record = &saved
		}
	}
	return res, nil
}

// ChatID derives the conversation id for a sender: "chat_" plus the
// lowercased name with whitespace runs replaced by underscores.
func ChatID(sender string) string {
	return "chat_" + strings.Join(strings.Fields(strings.ToLower(sender)), "_")
}
