// Package call owns the incoming-call alert lifecycle: the full-screen prompt
// with its deadline, the out-of-app action receiver, and the resolver that
// commits exactly one outcome per call id.
package call

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type labels the kind of call. It carries no media semantics.
type Type string

const (
	TypeVoice Type = "voice"
	TypeVideo Type = "video"
	TypeOther Type = "other"
)

// ParseType maps a payload value to a call type. Empty means voice.
func ParseType(s string) Type {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "voice", "audio":
		return TypeVoice
	case "video":
		return TypeVideo
	default:
		return TypeOther
	}
}

// Event identifies one incoming call.
type Event struct {
	ID         string            `json:"call_id"`
	CallerName string            `json:"caller_name"`
	Type       Type              `json:"call_type"`
	ReceivedAt time.Time         `json:"received_at"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Action is the resolved result of a call.
type Action string

const (
	Accepted Action = "accepted"
	Rejected Action = "rejected"
	TimedOut Action = "timed_out"
)

// Source is the entry point that produced a resolution.
type Source string

const (
	SourcePresenterUI    Source = "presenter_ui"
	SourceActionReceiver Source = "action_receiver"
	SourceDeadline       Source = "deadline"
)

// Outcome is the single canonical result of a call.
type Outcome struct {
	CallID     string    `json:"call_id"`
	Action     Action    `json:"action"`
	ResolvedAt time.Time `json:"resolved_at"`
	ResolvedBy Source    `json:"resolved_by"`
}

// Resolution is delivered to sinks once per call, when its outcome commits.
type Resolution struct {
	Outcome Outcome
	Event   Event
}

// Sentinel errors.
var (
	ErrAlreadyResolved = errors.New("call already resolved")
	ErrNotResolved     = errors.New("call not resolved")
	ErrUnknownAction   = errors.New("unknown call action")
	ErrMissingCallID   = errors.New("missing call id")
)

// ResolvedError is returned for every resolution attempt after the first.
// It carries the canonical outcome when it is known to this process.
type ResolvedError struct {
	CallID  string
	Outcome *Outcome
}

func (e *ResolvedError) Error() string {
	if e.Outcome == nil {
		return fmt.Sprintf("call %s already resolved", e.CallID)
	}
	return fmt.Sprintf("call %s already resolved as %s by %s", e.CallID, e.Outcome.Action, e.Outcome.ResolvedBy)
}

func (e *ResolvedError) Unwrap() error { return ErrAlreadyResolved }

// CanonicalOutcome extracts the winning outcome from a Resolve result.
// A first-time resolution and an already-resolved error with a known winner
// both yield it.
func CanonicalOutcome(out Outcome, err error) (Outcome, bool) {
	if err == nil {
		return out, true
	}
	var re *ResolvedError
	if errors.As(err, &re) && re.Outcome != nil {
		return *re.Outcome, true
	}
	return Outcome{}, false
}
