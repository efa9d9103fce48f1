// internal/lobby/payloads.go
package lobby

import (
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/models"
)

// RequestCreatedPayload is sent to the host when someone asks to join.
type RequestCreatedPayload struct {
	RequestID         uuid.UUID `json:"requestId"`
	LobbyID           uuid.UUID `json:"lobbyId"`
	RequesterUserID   uuid.UUID `json:"requesterUserId"`
	RequesterGamertag string    `json:"requesterGamertag,omitempty"`
	Note              *string   `json:"note,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

type RequestDecidedPayload struct {
	RequestID       uuid.UUID            `json:"requestId"`
	LobbyID         uuid.UUID            `json:"lobbyId"`
	RequesterUserID uuid.UUID            `json:"requesterUserId"`
	Status          models.RequestStatus `json:"status"`
	Blocked         bool                 `json:"blocked,omitempty"`
	DecidedAt       *time.Time           `json:"decidedAt,omitempty"`
}

// Roster actions.
const (
	RosterJoined = "joined"
	RosterLeft   = "left"
	RosterClosed = "closed"
)

type RosterUpdatedPayload struct {
	LobbyID uuid.UUID  `json:"lobbyId"`
	Action  string     `json:"action"`
	UserID  *uuid.UUID `json:"userId,omitempty"`
}

type LobbyExpiredPayload struct {
	LobbyID   uuid.UUID `json:"lobbyId"`
	ExpiresAt time.Time `json:"expiresAt"`
	Declined  int       `json:"declined"`
}

type MessageCreatedPayload struct {
	LobbyID uuid.UUID      `json:"lobbyId"`
	Message models.Message `json:"message"`
}
