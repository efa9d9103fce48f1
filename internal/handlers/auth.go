// internal/handlers/auth.go
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/apperr"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/store"
)

type authedHandler func(w http.ResponseWriter, r *http.Request, u *models.User)

// authed resolves the session user and rejects banned accounts before calling h.
func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			s.writeError(w, r, apperr.Unauthenticated("missing auth_token"))
			return
		}
		userID, err := s.sessions.Authenticate(token)
		if err != nil {
			s.writeError(w, r, apperr.Unauthenticated("invalid token"))
			return
		}
		u, err := s.lookupUser(r.Context(), userID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if u.IsBanned {
			s.writeError(w, r, apperr.Forbidden("account is banned"))
			return
		}
		h(w, r, u)
	}
}

// lookupUser reads through a short lived cache so streams and heartbeats do not
// hit storage on every request.
func (s *Server) lookupUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := s.users.Get(id); ok {
		return &u, nil
	}
	var u *models.User
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		u, err = tx.GetUser(ctx, id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Unauthenticated("unknown user")
	}
	if err != nil {
		return nil, err
	}
	s.users.Add(id, *u)
	return u, nil
}
