// Package relay is the demo push relay: it turns send requests into FCM or
// APNs pushes that the agent classifies on arrival.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/flowpbx/pushcall/internal/call"
	"github.com/flowpbx/pushcall/internal/inbound"
	"github.com/flowpbx/pushcall/internal/ratelimit"
)

// PushLogger records delivery attempts for audit and debugging.
type PushLogger interface {
	Log(ctx context.Context, entry PushLogEntry) error
	Recent(ctx context.Context, limit int) ([]PushLogEntry, error)
}

// DefaultTokenLimit allows 1 send per second per device token with a burst
// of 10.
func DefaultTokenLimit() ratelimit.Config {
	return ratelimit.Config{
		Rate:            rate.Limit(1),
		Burst:           10,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// ServerConfig lists the relay's collaborators. Any may be nil: without a
// sender sends answer 503, without a limiter sends are unlimited, without
// a log nothing is recorded.
type ServerConfig struct {
	Sender  Sender
	Limiter *ratelimit.Limiter // keyed by device token
	Log     PushLogger
}

// Server holds the relay HTTP handler dependencies.
type Server struct {
	router  *chi.Mux
	sender  Sender
	limiter *ratelimit.Limiter
	pushLog PushLogger
	logger  *slog.Logger
	now     func() time.Time
}

// NewServer creates a relay HTTP server with all routes mounted.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		sender:  cfg.Sender,
		limiter: cfg.Limiter,
		pushLog: cfg.Log,
		logger:  logger.With("subsystem", "relay"),
		now:     time.Now,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Post("/send-message", s.handleSendMessage)
	r.Post("/send-call", s.handleSendCall)
	r.Get("/push-log", s.handlePushLog)
}

func (s *Server) hasPlatform(platform string) bool {
	if s.sender == nil {
		return false
	}
	if m, ok := s.sender.(interface{ Has(string) bool }); ok {
		return m.Has(platform)
	}
	return true
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	firebase := "not configured"
	if s.hasPlatform(PlatformFCM) {
		firebase = "connected"
	}
	writeJSON(w, http.StatusOK, Index{
		Message:  "Notification Relay API",
		Status:   "running",
		Firebase: firebase,
		Endpoints: map[string]string{
			"GET /health":        "Health check",
			"POST /send-message": "Send message notification",
			"POST /send-call":    "Send incoming call push",
			"GET /push-log":      "Recent delivery attempts",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Health{
		Status:    "healthy",
		Timestamp: s.now().UTC(),
		Firebase:  s.hasPlatform(PlatformFCM),
		APNs:      s.hasPlatform(PlatformAPNs),
	})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Token == "" || req.Sender == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "Token, sender, and message are required", "")
		return
	}

	ts := req.Timestamp
	if ts == "" {
		ts = strconv.FormatInt(s.now().UnixMilli(), 10)
	}
	p := Push{
		Platform: req.Platform,
		Token:    req.Token,
		Kind:     KindMessage,
		Title:    req.Sender,
		Body:     req.Message,
		Data: map[string]string{
			inbound.KeyType:    KindMessage,
			inbound.KeySender:  req.Sender,
			inbound.KeyMessage: req.Message,
			"timestamp":        ts,
			"chatId":           inbound.ChatID(req.Sender),
		},
	}

	id, ok := s.send(w, r, &p, "", "Failed to send message notification")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, SendResponse{
		Success:   true,
		MessageID: id,
		Message:   "Message notification sent successfully",
	})
}

func (s *Server) handleSendCall(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Token == "" || req.CallerName == "" {
		writeError(w, http.StatusBadRequest, "Token and caller_name are required", "")
		return
	}

	callID := strings.TrimSpace(req.CallID)
	if callID == "" {
		callID = inbound.SynthesizeCallID(s.now())
	}
	p := Push{
		Platform: req.Platform,
		Token:    req.Token,
		Kind:     KindCall,
		Data: map[string]string{
			inbound.KeyType:       KindCall,
			inbound.KeyCallerName: req.CallerName,
			inbound.KeyCallType:   string(call.ParseType(req.CallType)),
			inbound.KeyCallID:     callID,
		},
	}

	id, ok := s.send(w, r, &p, callID, "Failed to send call notification")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, SendResponse{
		Success:   true,
		MessageID: id,
		Message:   "Call notification sent successfully",
		CallID:    callID,
	})
}

// send validates the platform, applies the per-token limit, delivers p and
// logs the attempt. It writes the error response itself and reports false
// on any failure.
func (s *Server) send(w http.ResponseWriter, r *http.Request, p *Push, callID, failMsg string) (string, bool) {
	if p.Platform == "" {
		p.Platform = PlatformFCM
	}
	if p.Platform != PlatformFCM && p.Platform != PlatformAPNs {
		writeError(w, http.StatusBadRequest, "platform must be fcm or apns", "")
		return "", false
	}
	if s.sender == nil {
		writeError(w, http.StatusServiceUnavailable, "push delivery not configured", "")
		return "", false
	}
	if s.limiter != nil && !s.limiter.Allow(p.Token) {
		s.logger.Warn("rate limit exceeded", "token_prefix", truncateToken(p.Token))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "")
		return "", false
	}

	id, err := s.sender.Send(r.Context(), *p)
	s.logAttempt(r.Context(), *p, callID, id, err)
	if err != nil {
		s.logger.Error("delivery failed", "error", err, "platform", p.Platform, "kind", p.Kind, "call_id", callID)
		writeError(w, http.StatusBadGateway, failMsg, err.Error())
		return "", false
	}

	s.logger.Info("push sent", "platform", p.Platform, "kind", p.Kind, "call_id", callID, "message_id", id)
	return id, true
}

func (s *Server) logAttempt(ctx context.Context, p Push, callID, messageID string, sendErr error) {
	if s.pushLog == nil {
		return
	}
	entry := PushLogEntry{
		Platform:    p.Platform,
		Kind:        p.Kind,
		CallID:      callID,
		TokenPrefix: truncateToken(p.Token),
		MessageID:   messageID,
		Success:     sendErr == nil,
		Timestamp:   s.now(),
	}
	if sendErr != nil {
		entry.Error = sendErr.Error()
	}
	if err := s.pushLog.Log(ctx, entry); err != nil {
		s.logger.Error("failed to write push log", "error", err)
	}
}

func (s *Server) handlePushLog(w http.ResponseWriter, r *http.Request) {
	if s.pushLog == nil {
		writeError(w, http.StatusServiceUnavailable, "push log not configured", "")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000", "")
			return
		}
		limit = n
	}
	entries, err := s.pushLog.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("reading push log", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	if entries == nil {
		entries = []PushLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// truncateToken returns the first 8 characters of a device token for safe
// logging.
func truncateToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}

// maxRequestBodySize is the upper limit for JSON request bodies (1 MB).
const maxRequestBodySize = 1 << 20

// readJSON decodes a size-limited JSON body holding a single object.
func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBodySize))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single json object")
	}
	return nil
}
