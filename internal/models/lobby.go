// internal/models/lobby.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Lobby represents a row in the lobbies table.
// A lobby is never hard deleted; closing flips IsActive.
type Lobby struct {
	ID              uuid.UUID  `json:"id"`
	HostUserID      uuid.UUID  `json:"hostUserId"`
	Title           string     `json:"title"`
	Mode            string     `json:"mode,omitempty"`
	Map             string     `json:"map,omitempty"`
	Region          string     `json:"region,omitempty"`
	SlotsTotal      int        `json:"slotsTotal"`
	IsActive        bool       `json:"isActive"`
	CreatedAt       time.Time  `json:"createdAt"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	LastHeartbeatAt *time.Time `json:"lastHeartbeatAt,omitempty"`
	Telemetry       Telemetry  `json:"telemetry"`
}

// Expired reports whether the lobby is past its expiry at now.
func (l *Lobby) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Open reports whether the lobby is active and not yet expired.
func (l *Lobby) Open(now time.Time) bool {
	return l.IsActive && !l.Expired(now)
}

// Telemetry holds the live game state reported for a lobby by its host.
type Telemetry struct {
	MapName     *string    `json:"mapName,omitempty"`
	ModeName    *string    `json:"modeName,omitempty"`
	PlayerCount *int       `json:"playerCount,omitempty"`
	Status      *string    `json:"status,omitempty"`
	Seq         *int64     `json:"seq,omitempty"`
	EmittedAt   *time.Time `json:"emittedAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// LobbyMember is an accepted roster entry.
type LobbyMember struct {
	LobbyID  uuid.UUID `json:"lobbyId"`
	UserID   uuid.UUID `json:"userId"`
	JoinedAt time.Time `json:"joinedAt"`
}

// RequestStatus is shared by join requests and friend requests.
type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusAccepted RequestStatus = "ACCEPTED"
	StatusDeclined RequestStatus = "DECLINED"
)

// JoinRequest is a player's request to join a lobby.
// DecidedByUserID stays nil for system driven transitions (closure, leave).
type JoinRequest struct {
	ID              uuid.UUID     `json:"id"`
	LobbyID         uuid.UUID     `json:"lobbyId"`
	RequesterUserID uuid.UUID     `json:"requesterUserId"`
	Note            *string       `json:"note,omitempty"`
	Status          RequestStatus `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
	DecidedAt       *time.Time    `json:"decidedAt,omitempty"`
	DecidedByUserID *uuid.UUID    `json:"decidedByUserId,omitempty"`
}
