// internal/lobby/chat.go
package lobby

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/apperr"
	"github.com/jason-s-yu/lobbyhub/internal/events"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/store"
)

const maxMessageLen = 1000

// PostMessage appends a chat message to the lobby conversation. Only the host and
// roster members may post, and only while the lobby is active.
func (s *Service) PostMessage(ctx context.Context, lobbyID, senderID uuid.UUID, body string) (*models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.Invalid("message body is required")
	}
	if utf8.RuneCountInString(body) > maxMessageLen {
		return nil, apperr.Invalid("message too long")
	}

	unlock := s.locks.lock(lobbyID)
	defer unlock()

	var msg *models.Message
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		l, err := tx.GetLobby(ctx, lobbyID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("lobby not found")
		}
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if !l.Open(now) {
			return apperr.Conflict("lobby not active")
		}
		if l.HostUserID != senderID {
			if _, err := tx.GetMember(ctx, lobbyID, senderID); errors.Is(err, store.ErrNotFound) {
				return apperr.Forbidden("not a lobby member")
			} else if err != nil {
				return err
			}
		}
		conv, err := tx.EnsureLobbyConversation(ctx, lobbyID, now)
		if err != nil {
			return err
		}
		msg = &models.Message{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			SenderUserID:   senderID,
			Body:           body,
			CreatedAt:      now,
		}
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(events.LobbyTopic(lobbyID), events.MessageCreated, MessageCreatedPayload{LobbyID: lobbyID, Message: *msg}, false)
	return msg, nil
}
