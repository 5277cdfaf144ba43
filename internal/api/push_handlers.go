package api

import (
	"net/http"
	"time"

	"github.com/flowpbx/pushcall/internal/history"
	"github.com/flowpbx/pushcall/internal/inbound"
)

// pushResponse describes what the agent did with an ingested push.
type pushResponse struct {
	Kind       string          `json:"kind"` // "call" or "message"
	CallID     string          `json:"call_id,omitempty"`
	Duplicate  bool            `json:"duplicate,omitempty"`
	Deadline   *time.Time      `json:"deadline,omitempty"`
	Record     *history.Record `json:"record,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// handlePush accepts a push payload as delivered by the transport and runs
// it through the inbound dispatcher.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	payload, err := inbound.DecodePayload(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), payload)
	if err != nil {
		s.logger.Error("dispatching push", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to handle push")
		return
	}

	resp := pushResponse{Duplicate: res.Duplicate, Record: res.Record}
	switch ev := res.Event.(type) {
	case inbound.Call:
		resp.Kind = "call"
		resp.CallID = ev.ID
		resp.ReceivedAt = ev.ReceivedAt
	case inbound.Message:
		resp.Kind = "message"
		resp.ReceivedAt = ev.ReceivedAt
	}
	if res.Prompt != nil {
		d := res.Prompt.Deadline()
		resp.Deadline = &d
	}

	writeJSON(w, http.StatusAccepted, resp)
}
