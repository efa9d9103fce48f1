// internal/models/conversation.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type ConversationType string

const (
	ConversationLobby ConversationType = "LOBBY"
	ConversationDM    ConversationType = "DM"
)

// Conversation is a chat thread. Lobby conversations carry their LobbyID.
type Conversation struct {
	ID        uuid.UUID        `json:"id"`
	Type      ConversationType `json:"type"`
	LobbyID   *uuid.UUID       `json:"lobbyId,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	SenderUserID   uuid.UUID `json:"senderUserId"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"createdAt"`
}
