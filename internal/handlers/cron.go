// internal/handlers/cron.go
package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/jason-s-yu/lobbyhub/internal/apperr"
)

// cronCleanup handles /cron/cleanup for an external scheduler. It needs
// "Authorization: Bearer <CRON_SECRET>". Partial failures still answer 200 with
// the counts that succeeded; the janitor logs the rest.
func (s *Server) cronCleanup(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if s.cronSecret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) != 1 {
		s.writeError(w, r, apperr.Unauthenticated("invalid cron secret"))
		return
	}
	rep, err := s.janitor.RunOnce(r.Context())
	if err != nil && rep.ExpiredLobbies == 0 && rep.StalePresence == 0 && rep.PurgedRates == 0 {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
