// Package inbound classifies push payloads and routes them to the call or
// message pipeline.
package inbound

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowpbx/pushcall/internal/call"
)

// Payload is the opaque key/value data delivered by the push transport.
type Payload map[string]string

// Recognized payload keys.
const (
	KeyType       = "type"
	KeyCallerName = "caller_name"
	KeyCallType   = "call_type"
	KeyCallID     = "call_id"
	KeyTitle      = "title"
	KeyBody       = "body"
	KeySender     = "sender"
	KeyMessage    = "message"

	typeCall = "call"
)

var recognized = map[string]bool{
	KeyType: true, KeyCallerName: true, KeyCallType: true, KeyCallID: true,
	KeyTitle: true, KeyBody: true, KeySender: true, KeyMessage: true,
}

// Defaults applied when a payload omits a field.
const (
	DefaultCallerName   = "Unknown"
	DefaultMessageTitle = "New Message"
	DefaultMessageBody  = "You have a new message"
)

// Event is either a Call or a Message.
type Event interface {
	isEvent()
}

// Call is a payload classified as an incoming call.
type Call struct {
	call.Event
	// Synthesized is true when the payload carried no call id.
	Synthesized bool
}

// Message is a payload classified as a plain message.
type Message struct {
	Title      string
	Body       string
	Sender     string
	Data       map[string]string
	ReceivedAt time.Time
}

func (Call) isEvent()    {}
func (Message) isEvent() {}

// Classify turns a payload into a typed event. It never fails: missing
// fields degrade to defaults and unrecognized keys pass through.
func Classify(p Payload, now time.Time) Event {
	if strings.EqualFold(strings.TrimSpace(p[KeyType]), typeCall) {
		return classifyCall(p, now)
	}
	return Message{
		Title:      firstNonEmpty(p[KeyTitle], p[KeySender], DefaultMessageTitle),
		Body:       firstNonEmpty(p[KeyBody], p[KeyMessage], DefaultMessageBody),
		Sender:     p[KeySender],
		Data:       passthrough(p),
		ReceivedAt: now,
	}
}

func classifyCall(p Payload, now time.Time) Call {
	c := Call{Event: call.Event{
		ID:         strings.TrimSpace(p[KeyCallID]),
		CallerName: firstNonEmpty(p[KeyCallerName], DefaultCallerName),
		Type:       call.ParseType(p[KeyCallType]),
		ReceivedAt: now,
		Extra:      passthrough(p),
	}}
	if c.ID == "" {
		c.ID = SynthesizeCallID(now)
		c.Synthesized = true
	}
	return c
}

// SynthesizeCallID builds an id for a call whose payload carried none. The
// arrival time keeps ids ordered; the random suffix keeps two calls that
// arrive in the same millisecond apart.
func SynthesizeCallID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()[:8]
}

func passthrough(p Payload) map[string]string {
	var out map[string]string
	for k, v := range p {
		if recognized[k] {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[k] = v
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// envelope is the shape of a push message with separate data and display
// sections.
type envelope struct {
	Data         map[string]any `json:"data"`
	Notification *struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"notification"`
}

// DecodePayload reads a push body. It accepts a flat JSON object or an
// envelope with "data" and "notification" sections; the notification's
// title and body fill in missing ones. Non-string values are stringified.
func DecodePayload(r io.Reader) (Payload, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding push payload: %w", err)
	}

	_, hasData := raw["data"]
	_, hasNotification := raw["notification"]
	if !hasData && !hasNotification {
		flat := make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return nil, fmt.Errorf("decoding push field %q: %w", k, err)
			}
			flat[k] = val
		}
		return stringify(flat), nil
	}

	var env envelope
	for k, v := range raw {
		switch k {
		case "data":
			if err := json.Unmarshal(v, &env.Data); err != nil {
				return nil, fmt.Errorf("decoding push data: %w", err)
			}
		case "notification":
			if err := json.Unmarshal(v, &env.Notification); err != nil {
				return nil, fmt.Errorf("decoding push notification: %w", err)
			}
		}
	}

	p := stringify(env.Data)
	if env.Notification != nil {
		if p[KeyTitle] == "" && env.Notification.Title != "" {
			p[KeyTitle] = env.Notification.Title
		}
		if p[KeyBody] == "" && env.Notification.Body != "" {
			p[KeyBody] = env.Notification.Body
		}
	}
	return p, nil
}

func stringify(m map[string]any) Payload {
	p := make(Payload, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case nil:
		case string:
			p[k] = val
		case float64:
			p[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			p[k] = strconv.FormatBool(val)
		default:
			b, _ := json.Marshal(val)
			p[k] = string(b)
		}
	}
	return p
}
