// internal/models/xp.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// XpKind names the reason for an xp grant.
type XpKind string

const (
	XpHostLobbyCreated   XpKind = "HOST_LOBBY_CREATED"
	XpLobbyActive20Min   XpKind = "LOBBY_ACTIVE_20_MIN"
	XpJoinRequestCreated XpKind = "JOIN_REQUEST_CREATED"
	XpFriendAccepted     XpKind = "FRIEND_ACCEPTED"
)

// XpEvent is an append-only ledger row. Meta doubles as an idempotence key.
type XpEvent struct {
	ID        uuid.UUID         `json:"id"`
	UserID    uuid.UUID         `json:"userId"`
	Kind      XpKind            `json:"kind"`
	Amount    int               `json:"amount"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}
