package api

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/flowpbx/pushcall/internal/history"
)

// maxTokenLen bounds device push tokens. FCM tokens are about 160 chars.
const maxTokenLen = 4096

type foregroundRequest struct {
	Foreground *bool `json:"foreground"`
}

func (s *Server) handleSetForeground(w http.ResponseWriter, r *http.Request) {
	var req foregroundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Foreground == nil {
		writeError(w, http.StatusBadRequest, "foreground is required")
		return
	}
	s.app.SetForeground(*req.Foreground)
	writeJSON(w, http.StatusOK, map[string]bool{"foreground": s.app.Foreground()})
}

// handleTakeLaunch returns the intent the app was last launched with. Each
// launch is returned once; afterwards data is null.
func (s *Server) handleTakeLaunch(w http.ResponseWriter, r *http.Request) {
	l, ok := s.app.TakeLaunch()
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleSetToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if utf8.RuneCountInString(req.Token) > maxTokenLen {
		writeError(w, http.StatusBadRequest, "token exceeds maximum length")
		return
	}

	if err := s.history.SetSetting(r.Context(), history.KeyDeviceToken, req.Token); err != nil {
		s.logger.Error("storing device token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store token")
		return
	}
	s.logger.Info("device push token registered")
	writeJSON(w, http.StatusOK, tokenRequest{Token: req.Token})
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	token, ok, err := s.history.Setting(r.Context(), history.KeyDeviceToken)
	if err != nil {
		s.logger.Error("reading device token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read token")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no device token registered")
		return
	}
	writeJSON(w, http.StatusOK, tokenRequest{Token: token})
}
