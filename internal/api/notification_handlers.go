package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/flowpbx/pushcall/internal/call"
	"github.com/flowpbx/pushcall/internal/notify"
)

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	active, err := s.tray.Active(r.Context())
	if err != nil {
		s.logger.Error("listing notifications", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *Server) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	if err := s.tray.CancelAll(r.Context()); err != nil {
		s.logger.Error("clearing notifications", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear notifications")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleNotificationAction is a tap on one of a notification's action
// buttons. The intent is built from the action's extras, as the host would
// deliver it to the action receiver.
func (s *Server) handleNotificationAction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	actionID := chi.URLParam(r, "action")

	active, err := s.tray.Active(r.Context())
	if err != nil {
		s.logger.Error("listing notifications", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	var (
		action notify.Action
		found  bool
	)
	for _, n := range active {
		if n.ID == int32(id) {
			action, found = n.FindAction(actionID)
			if !found {
				writeError(w, http.StatusNotFound, "notification has no such action")
				return
			}
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}

	out, err := s.receiver.Receive(r.Context(), call.ActionIntent{
		Action:     action.ID,
		CallID:     action.Extras[notify.ExtraCallID],
		CallerName: action.Extras[notify.ExtraCallerName],
		CallType:   action.Extras[notify.ExtraCallType],
	})
	s.writeOutcome(w, out, err)
}
