// internal/handlers/presence.go
package handlers

import (
	"net/http"

	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/presence"
)

func (s *Server) getPresence(w http.ResponseWriter, r *http.Request, u *models.User) {
	rec, err := s.presence.Get(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"presence": rec})
}

func (s *Server) presenceHeartbeat(w http.ResponseWriter, r *http.Request, u *models.User) {
	var in presence.HeartbeatInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.presence.Heartbeat(r.Context(), u.ID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) presenceShutdown(w http.ResponseWriter, r *http.Request, u *models.User) {
	res, err := s.presence.Cleanup(r.Context(), u.ID, presence.ReasonShutdown)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
