// internal/handlers/realtime.go
package handlers

import (
	"net/http"

	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/realtime"
)

// realtimeAuth handles GET /realtime/auth?lobbyId=&dmId=&browseTelemetry=1.
func (s *Server) realtimeAuth(w http.ResponseWriter, r *http.Request, u *models.User) {
	w.Header().Set("Cache-Control", "no-store")

	lobbyID, err := queryUUID(r, "lobbyId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dmID, err := queryUUID(r, "dmId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	desc, err := s.authorizer.Authorize(r.Context(), u.ID, realtime.Request{
		LobbyID:         lobbyID,
		DMID:            dmID,
		BrowseTelemetry: queryFlag(r, "browseTelemetry"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}
