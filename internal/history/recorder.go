package history

import (
	"context"
	"fmt"

	"github.com/flowpbx/pushcall/internal/call"
)

// Titles of derived call records.
const (
	TitleCallAccepted = "Call Accepted"
	TitleCallRejected = "Call Rejected"
	TitleMissedCall   = "Missed Call"
)

// Recorder appends one derived record per committed call outcome. It is a
// call.Sink; history write failures are logged and dropped.
type Recorder struct {
	store *Store
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// CallResolved implements call.Sink.
func (r *Recorder) CallResolved(ctx context.Context, res call.Resolution) {
	rec := CallRecord(res)
	if _, err := r.store.Append(ctx, rec); err != nil {
		r.store.logger.Error("recording call outcome", "call_id", res.Outcome.CallID, "error", err)
	}
}

// CallRecord derives the history entry for a resolved call.
func CallRecord(res call.Resolution) Record {
	out := res.Outcome
	caller := res.Event.CallerName
	if caller == "" {
		caller = "Unknown"
	}
	callType := res.Event.Type
	if callType == "" {
		callType = call.TypeVoice
	}

	var title string
	switch out.Action {
	case call.Accepted:
		title = TitleCallAccepted
	case call.Rejected:
		title = TitleCallRejected
	default:
		title = TitleMissedCall
	}

	return Record{
		Title: title,
		Body:  fmt.Sprintf("%s call from %s", callType, caller),
		Data: map[string]string{
			"call_id":     out.CallID,
			"caller_name": caller,
			"call_type":   string(callType),
			"action":      string(out.Action),
			"resolved_by": string(out.ResolvedBy),
		},
		Kind:      KindCall,
		CallID:    out.CallID,
		Timestamp: out.ResolvedAt,
	}
}
