// internal/database/conversation.go
package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/models"
)

func (t *pgTx) EnsureLobbyConversation(ctx context.Context, lobbyID uuid.UUID, at time.Time) (*models.Conversation, error) {
	_, err := t.tx.Exec(ctx, `
	INSERT INTO conversations (id, type, lobby_id, created_at)
	VALUES ($1, 'LOBBY', $2, $3)
	ON CONFLICT (lobby_id) WHERE type = 'LOBBY' DO NOTHING
	`, uuid.New(), lobbyID, at)
	if err != nil {
		return nil, err
	}
	var c models.Conversation
	err = t.tx.QueryRow(ctx, `
	SELECT id, type, lobby_id, created_at FROM conversations WHERE lobby_id = $1 AND type = 'LOBBY'
	`, lobbyID).Scan(&c.ID, &c.Type, &c.LobbyID, &c.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (t *pgTx) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var c models.Conversation
	err := t.tx.QueryRow(ctx, `
	SELECT id, type, lobby_id, created_at FROM conversations WHERE id = $1
	`, id).Scan(&c.ID, &c.Type, &c.LobbyID, &c.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (t *pgTx) AddParticipant(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
	INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (conversation_id, user_id) DO NOTHING
	`, conversationID, userID, at)
	return err
}

func (t *pgTx) RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
	DELETE FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	return err
}

func (t *pgTx) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `
	SELECT EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)
	`, conversationID, userID).Scan(&ok)
	return ok, err
}

func (t *pgTx) InsertMessage(ctx context.Context, m *models.Message) error {
	_, err := t.tx.Exec(ctx, `
	INSERT INTO messages (id, conversation_id, sender_user_id, body, created_at)
	VALUES ($1, $2, $3, $4, $5)
	`, m.ID, m.ConversationID, m.SenderUserID, m.Body, m.CreatedAt)
	return mapErr(err)
}
