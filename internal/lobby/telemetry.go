// internal/lobby/telemetry.go
package lobby

import (
	"context"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/apperr"
	"github.com/jason-s-yu/lobbyhub/internal/events"
	"github.com/jason-s-yu/lobbyhub/internal/store"
	"github.com/jason-s-yu/lobbyhub/internal/telemetry"
)

// UpdateTelemetry replaces the lobby's live telemetry with the normalized update
// and republishes it to lobby watchers and the browse feed.
func (s *Service) UpdateTelemetry(ctx context.Context, lobbyID, actorID uuid.UUID, u telemetry.Update) (*telemetry.Payload, error) {
	t, err := telemetry.Normalize(u)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(lobbyID)
	defer unlock()

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		l, err := lockHostedLobby(ctx, tx, lobbyID, actorID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if !l.Open(now) {
			return apperr.Conflict("lobby not active")
		}
		t.UpdatedAt = &now
		l.Telemetry = t
		return tx.UpdateLobby(ctx, l)
	})
	if err != nil {
		return nil, err
	}

	p := telemetry.PayloadOf(lobbyID, t)
	s.publish(events.LobbyTopic(lobbyID), events.Telemetry, p, false)
	s.publish(events.BrowseTelemetry, events.Telemetry, p, false)
	return &p, nil
}
