// internal/handlers/friend.go
package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/apperr"
	"github.com/jason-s-yu/lobbyhub/internal/models"
)

func decodeID(r *http.Request, field string) (uuid.UUID, error) {
	var body map[string]string
	if err := decodeJSON(r, &body); err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(body[field])
	if err != nil {
		return uuid.Nil, apperr.Invalid("invalid " + field)
	}
	return id, nil
}

// listFriends handles GET /friends and returns the caller's friend ids.
func (s *Server) listFriends(w http.ResponseWriter, r *http.Request, u *models.User) {
	ids, err := s.social.ListFriends(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"friends": ids})
}

// sendFriendRequest handles POST /friends/request.
//
// Request payload: { "userId": "some-uuid-string" }
func (s *Server) sendFriendRequest(w http.ResponseWriter, r *http.Request, u *models.User) {
	to, err := decodeID(r, "userId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.social.SendFriendRequest(r.Context(), u.ID, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// acceptFriendRequest handles POST /friends/accept.
//
// Request payload: { "requestId": "some-uuid-string" }
func (s *Server) acceptFriendRequest(w http.ResponseWriter, r *http.Request, u *models.User) {
	id, err := decodeID(r, "requestId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := s.social.AcceptFriendRequest(r.Context(), id, u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) declineFriendRequest(w http.ResponseWriter, r *http.Request, u *models.User) {
	id, err := decodeID(r, "requestId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.social.DeclineFriendRequest(r.Context(), id, u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// removeFriend handles POST /friends/remove.
//
// Request payload: { "userId": "some-uuid-string" }
func (s *Server) removeFriend(w http.ResponseWriter, r *http.Request, u *models.User) {
	other, err := decodeID(r, "userId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.social.RemoveFriendship(r.Context(), u.ID, other); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) blockUser(w http.ResponseWriter, r *http.Request, u *models.User) {
	target, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.social.Block(r.Context(), u.ID, target); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unblockUser(w http.ResponseWriter, r *http.Request, u *models.User) {
	target, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.social.Unblock(r.Context(), u.ID, target); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
