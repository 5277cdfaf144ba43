// Package notify models the host notification tray: alert channels, posted
// notifications with user-selectable actions, and their withdrawal.
package notify

import (
	"context"
	"errors"
	"time"
)

// ChannelID names one presentation category of system alert.
type ChannelID string

const (
	// ChannelMessage carries ordinary message alerts with a one-shot sound.
	ChannelMessage ChannelID = "messages"
	// ChannelCall carries incoming-call alerts. It has no sound of its own;
	// the looping ringtone is played by the ringer.
	ChannelCall ChannelID = "incoming_calls"
)

// Importance is the interruption level of a channel.
type Importance int

const (
	ImportanceDefault Importance = iota
	ImportanceHigh
	ImportanceMax
)

func (i Importance) String() string {
	switch i {
	case ImportanceHigh:
		return "high"
	case ImportanceMax:
		return "max"
	default:
		return "default"
	}
}

// Channel describes the priority and behavior class of a notification channel.
type Channel struct {
	ID          ChannelID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Importance  Importance `json:"importance"`
	BypassDND   bool       `json:"bypass_dnd"`
	Vibration   bool       `json:"vibration"`
	Lights      bool       `json:"lights"`
	Sound       bool       `json:"sound"`
}

// Notification action identifiers routed to the action receiver.
const (
	ActionAccept = "ACCEPT_CALL"
	ActionReject = "REJECT_CALL"
)

// Extras keys carried on call notification actions.
const (
	ExtraCallID     = "call_id"
	ExtraCallerName = "caller_name"
	ExtraCallType   = "call_type"
)

// Action is one user-selectable affordance on a posted notification.
type Action struct {
	ID     string            `json:"id"`
	Title  string            `json:"title"`
	Extras map[string]string `json:"extras,omitempty"`
}

// Notification is one alert posted to the tray.
type Notification struct {
	ID         int32             `json:"id"`
	Channel    ChannelID         `json:"channel"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Ongoing    bool              `json:"ongoing"`
	FullScreen bool              `json:"full_screen"`
	Actions    []Action          `json:"actions,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	PostedAt   time.Time         `json:"posted_at"`
}

// FindAction returns the action with the given id.
func (n Notification) FindAction(id string) (Action, bool) {
	for _, a := range n.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// ErrUnknownChannel is returned when posting to a channel that was never created.
var ErrUnknownChannel = errors.New("notification channel not created")

// Tray is the host notification surface. Cancel of an id that was never
// posted is a no-op, not an error.
type Tray interface {
	CreateChannel(ctx context.Context, ch Channel) error
	Post(ctx context.Context, n Notification) error
	Cancel(ctx context.Context, id int32) error
	CancelAll(ctx context.Context) error
	Active(ctx context.Context) ([]Notification, error)
}

// NotificationID derives the stable tray id for a call. It matches the
// 32-bit string hash used by the mobile client so ids agree across processes.
func NotificationID(callID string) int32 {
	var h int32
	for _, c := range utf16Units(callID) {
		h = 31*h + int32(c)
	}
	return h
}

func utf16Units(s string) []uint16 {
	units := make([]uint16, 0, len(s))
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			units = append(units, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
			continue
		}
		units = append(units, uint16(r))
	}
	return units
}
