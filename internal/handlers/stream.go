// internal/handlers/stream.go
package handlers

import (
	"net/http"

	"github.com/gin-contrib/sse"
	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/events"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/sirupsen/logrus"
)

// Stream event names that are not domain events.
const (
	streamReady = "ready"
	streamPing  = "ping"
)

// lobbyEvents streams a lobby topic. The host also receives host-only events.
func (s *Server) lobbyEvents(w http.ResponseWriter, r *http.Request, u *models.User) {
	s.withLobby(w, r, func(lobbyID uuid.UUID) {
		acc, err := s.lobbies.Access(r.Context(), lobbyID, u.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.stream(w, r, u.ID, events.LobbyTopic(lobbyID), acc.IsHost)
	})
}

// hostEvents streams the caller's own notifications topic.
func (s *Server) hostEvents(w http.ResponseWriter, r *http.Request, u *models.User) {
	s.stream(w, r, u.ID, events.HostTopic(u.ID), true)
}

// stream attaches to topic and writes each event as SSE until the client goes
// away or the hub drops the subscription.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, userID uuid.UUID, topic events.Topic, hostView bool) {
	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", sse.ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	sub := s.bus.Subscribe(topic, hostView)
	defer sub.Close()
	done := s.metrics.StreamOpened(topic.Scope())
	defer done()

	log := s.logger.WithFields(logrus.Fields{"user_id": userID, "topic": topic})
	log.Debug("stream attached")

	w.WriteHeader(http.StatusOK)
	if err := s.writeEvent(w, rc, sse.Event{Event: streamReady, Data: map[string]any{"topic": topic}}); err != nil {
		return
	}

	ticker := s.clock.Ticker(s.streamPing)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug("stream detached")
			return
		case <-ticker.C:
			if err := s.writeEvent(w, rc, sse.Event{Event: streamPing, Data: ""}); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				log.Warn("stream evicted, client too slow")
				return
			}
			if err := s.writeEvent(w, rc, sse.Event{Event: ev.Name, Data: string(ev.Data)}); err != nil {
				log.WithError(err).Debug("stream write failed")
				return
			}
		}
	}
}

func (s *Server) writeEvent(w http.ResponseWriter, rc *http.ResponseController, ev sse.Event) error {
	if err := sse.Encode(w, ev); err != nil {
		return err
	}
	return rc.Flush()
}
