// internal/handlers/lobby.go
package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/lobby"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/telemetry"
)

// createLobby handles POST /lobbies.
//
// Request payload: { "title": "...", "mode": "...", "map": "...", "region": "...", "slotsTotal": 8 }
func (s *Server) createLobby(w http.ResponseWriter, r *http.Request, u *models.User) {
	var in lobby.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.lobbies.Create(r.Context(), u.ID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) currentLobby(w http.ResponseWriter, r *http.Request, u *models.User) {
	cur, err := s.lobbies.CurrentLobbyForUser(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if cur == nil {
		writeJSON(w, http.StatusOK, map[string]any{"lobby": nil, "isHost": false})
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

// leaveAndCreate closes the caller's hosted lobby or leaves its membership, then
// opens a new lobby.
func (s *Server) leaveAndCreate(w http.ResponseWriter, r *http.Request, u *models.User) {
	var in lobby.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	action, prev, err := s.lobbies.ReleaseCurrent(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.lobbies.Create(r.Context(), u.ID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"released": map[string]any{"action": action, "lobbyId": prev},
		"lobby":    l,
	})
}

// withLobby parses the {id} path value before calling h.
func (s *Server) withLobby(w http.ResponseWriter, r *http.Request, h func(lobbyID uuid.UUID)) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	h(id)
}

func (s *Server) lobbyHeartbeat(w http.ResponseWriter, r *http.Request, u *models.User) {
	s.withLobby(w, r, func(lobbyID uuid.UUID) {
		res, err := s.lobbies.TouchHeartbeat(r.Context(), lobbyID, u.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
}

func (s *Server) closeLobby(w http.ResponseWriter, r *http.Request, u *models.User) {
	s.withLobby(w, r, func(lobbyID uuid.UUID) {
		res, err := s.lobbies.CloseHostedLobby(r.Context(), lobbyID, u.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
}

func (s *Server) leaveLobby(w http.ResponseWriter, r *http.Request, u *models.User) {
	s.withLobby(w, r, func(lobbyID uuid.UUID) {
		if err := s.lobbies.LeaveMembership(r.Context(), lobbyID, u.ID); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"lobbyId": lobbyID, "left": true})
	})
}

// createJoinRequest handles POST /lobbies/{id}/requests.
//
// Request payload: { "note": "optional, up to 280 chars" }
func (s *Server) createJoinRequest(w http.ResponseWriter, r *http.Request, u *models.User) {
	s.withLobby(w, r, func(lobbyID uuid.UUID) {
		var in lobby.JoinInput
		if err := decodeJSON(r, &in); err != nil {
			s.writeError(w, r, err)
			return
		}
		req, err := s.lobbies.CreateJoinRequest(r.Context(), lobbyID, u.ID, in)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, req)
	})
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request, u *models.User) {
	s.withLobby(w, r, func(lobbyID uuid.UUID) {
		var in struct {
			Body string `json:"body"`
		}
		if err := decodeJSON(r, &in); err != nil {
			s.writeError(w, r, err)
			return
		}
		msg, err := s.lobbies.PostMessage(r.Context(), lobbyID, u.ID, in.Body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	})
}

func (s *Server) updateTelemetry(w http.ResponseWriter, r *http.Request, u *models.User) {
	s.withLobby(w, r, func(lobbyID uuid.UUID) {
		var in telemetry.Update
		if err := decodeJSON(r, &in); err != nil {
			s.writeError(w, r, err)
			return
		}
		p, err := s.lobbies.UpdateTelemetry(r.Context(), lobbyID, u.ID, in)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	})
}

func (s *Server) decideJoinRequest(d lobby.Decision) authedHandler {
	return func(w http.ResponseWriter, r *http.Request, u *models.User) {
		id, err := pathUUID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		req, err := s.lobbies.Decide(r.Context(), id, u.ID, d)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}
