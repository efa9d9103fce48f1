// internal/models/friend.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Friendship is stored once per unordered pair with UserAID < UserBID.
type Friendship struct {
	UserAID   uuid.UUID `json:"userAId"`
	UserBID   uuid.UUID `json:"userBId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Other returns the friend on the opposite side of userID.
func (f Friendship) Other(userID uuid.UUID) uuid.UUID {
	if f.UserAID == userID {
		return f.UserBID
	}
	return f.UserAID
}

type FriendRequest struct {
	ID         uuid.UUID     `json:"id"`
	FromUserID uuid.UUID     `json:"fromUserId"`
	ToUserID   uuid.UUID     `json:"toUserId"`
	Status     RequestStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
	DecidedAt  *time.Time    `json:"decidedAt,omitempty"`
}

// Block records that BlockerUserID refuses join requests from BlockedUserID.
type Block struct {
	BlockerUserID uuid.UUID `json:"blockerUserId"`
	BlockedUserID uuid.UUID `json:"blockedUserId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CanonicalPair orders two user ids by their string form so that (a,b) and (b,a)
// map to the same key.
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() < b.String() {
		return a, b
	}
	return b, a
}
