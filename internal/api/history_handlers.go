package api

import (
	"net/http"
	"strconv"

	"github.com/flowpbx/pushcall/internal/history"
)

// maxHistoryLimit bounds GET /v1/history?limit=.
const maxHistoryLimit = 1000

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := history.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	var records []history.Record
	if callID := r.URL.Query().Get("call_id"); callID != "" {
		records = s.history.ForCall(r.Context(), callID)
	} else {
		records = s.history.List(r.Context(), limit)
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Clear(r.Context()); err != nil {
		s.logger.Error("clearing history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear history")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
