package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flowpbx/pushcall/internal/call"
)

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.resolver.Snapshots())
}

// maxCallWait caps the long-poll on a pending call. It stays under the
// agent's HTTP write timeout.
const maxCallWait = 45 * time.Second

// handleGetCall returns a call's state. With ?wait=<duration> a pending
// call's prompt is waited on until it is torn down or the wait elapses.
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if raw := r.URL.Query().Get("wait"); raw != "" {
		wait, err := time.ParseDuration(raw)
		if err != nil || wait < 0 {
			writeError(w, http.StatusBadRequest, "invalid wait duration")
			return
		}
		if wait > maxCallWait {
			wait = maxCallWait
		}
		if p, ok := s.resolver.Prompt(id); ok && wait > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), wait)
			_, err := p.Wait(ctx)
			cancel()
			if err != nil && r.Context().Err() != nil {
				return
			}
		}
	}

	snap, ok := s.resolver.Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handlePromptTap is an accept or reject tap on a call's prompt. Taps on a
// call that already resolved answer 409 with the canonical outcome.
func (s *Server) handlePromptTap(action call.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, ok := s.resolver.Lookup(id); !ok {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}

		var (
			out call.Outcome
			err error
		)
		if p, ok := s.resolver.Prompt(id); ok {
			if action == call.Accepted {
				out, err = p.Accept(r.Context())
			} else {
				out, err = p.Reject(r.Context())
			}
		} else {
			out, err = s.resolver.Resolve(r.Context(), id, action, call.SourcePresenterUI)
		}
		s.writeOutcome(w, out, err)
	}
}

// handleAction delivers an action intent as the notification shortcut
// would, without going through the tray.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var in call.ActionIntent
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.receiver.Receive(r.Context(), in)
	s.writeOutcome(w, out, err)
}

func (s *Server) writeOutcome(w http.ResponseWriter, out call.Outcome, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, out)
	case errors.Is(err, call.ErrAlreadyResolved):
		env := envelope{Error: err.Error()}
		if canonical, ok := call.CanonicalOutcome(out, err); ok {
			env.Data = canonical
		}
		writeEnvelope(w, http.StatusConflict, env)
	case errors.Is(err, call.ErrUnknownAction), errors.Is(err, call.ErrMissingCallID):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("resolving call", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve call")
	}
}
