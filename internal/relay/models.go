package relay

import "time"

// Platforms a push can be delivered to.
const (
	PlatformFCM  = "fcm"
	PlatformAPNs = "apns"
)

// Kinds of push the relay sends.
const (
	KindMessage = "message"
	KindCall    = "call"
)

// MessageRequest is the JSON body for POST /send-message.
type MessageRequest struct {
	Token     string `json:"token"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
	Platform  string `json:"platform,omitempty"` // "fcm" (default) or "apns"
}

// CallRequest is the JSON body for POST /send-call.
type CallRequest struct {
	Token      string `json:"token"`
	CallerName string `json:"caller_name"`
	CallType   string `json:"call_type,omitempty"`
	CallID     string `json:"call_id,omitempty"`
	Platform   string `json:"platform,omitempty"`
}

// SendResponse is returned when a push was accepted by the delivery service.
type SendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	Message   string `json:"message,omitempty"`
	CallID    string `json:"call_id,omitempty"`
}

// ErrorResponse is returned on any failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Health is the JSON response for GET /health.
type Health struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Firebase  bool      `json:"firebase"`
	APNs      bool      `json:"apns"`
}

// Index is the JSON response for GET /.
type Index struct {
	Message   string            `json:"message"`
	Status    string            `json:"status"`
	Firebase  string            `json:"firebase"`
	Endpoints map[string]string `json:"endpoints"`
}

// Push is one notification handed to a Sender.
type Push struct {
	Platform string
	Token    string
	Kind     string
	// Title and Body are shown by the device for message pushes. Call
	// pushes are data-only so the agent owns presentation.
	Title string
	Body  string
	Data  map[string]string
}

// PushLogEntry records one delivery attempt.
type PushLogEntry struct {
	Platform    string    `json:"platform"`
	Kind        string    `json:"kind"`
	CallID      string    `json:"call_id,omitempty"`
	TokenPrefix string    `json:"token_prefix"`
	MessageID   string    `json:"message_id,omitempty"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
