// internal/store/store.go
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when an insert violates a uniqueness rule.
	ErrDuplicate = errors.New("store: duplicate")
)

// Store runs units of work atomically. Every multi-row mutation goes through InTx;
// either all of fn's writes commit or none do.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of storage primitives available inside a transaction.
// Lock* methods take a row lock held until the transaction ends.
type Tx interface {
	UserTx
	LobbyTx
	JoinRequestTx
	ConversationTx
	SocialTx
	XpTx
	RateLimitTx
}

type UserTx interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	LockUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateUserXP(ctx context.Context, id uuid.UUID, total, level int) error
}

type LobbyTx interface {
	InsertLobby(ctx context.Context, l *models.Lobby) error
	GetLobby(ctx context.Context, id uuid.UUID) (*models.Lobby, error)
	LockLobby(ctx context.Context, id uuid.UUID) (*models.Lobby, error)
	UpdateLobby(ctx context.Context, l *models.Lobby) error
	// ActiveHostedLobby returns the active, unexpired lobby hosted by hostID.
	ActiveHostedLobby(ctx context.Context, hostID uuid.UUID, now time.Time) (*models.Lobby, error)
	// ActiveMembership returns an active, unexpired lobby userID is a roster member of.
	ActiveMembership(ctx context.Context, userID uuid.UUID, now time.Time) (*models.Lobby, error)
	// ExpiredLobbies lists lobbies with is_active and expires_at <= now.
	ExpiredLobbies(ctx context.Context, now time.Time) ([]models.Lobby, error)

	GetMember(ctx context.Context, lobbyID, userID uuid.UUID) (*models.LobbyMember, error)
	// InsertMember is insert-if-absent.
	InsertMember(ctx context.Context, m *models.LobbyMember) error
	DeleteMember(ctx context.Context, lobbyID, userID uuid.UUID) (bool, error)
	ListMembers(ctx context.Context, lobbyID uuid.UUID) ([]models.LobbyMember, error)
}

type JoinRequestTx interface {
	InsertJoinRequest(ctx context.Context, r *models.JoinRequest) error
	GetJoinRequest(ctx context.Context, id uuid.UUID) (*models.JoinRequest, error)
	LockJoinRequest(ctx context.Context, id uuid.UUID) (*models.JoinRequest, error)
	UpdateJoinRequest(ctx context.Context, r *models.JoinRequest) error
	// OpenJoinRequest returns the PENDING or ACCEPTED request for the pair, if any.
	OpenJoinRequest(ctx context.Context, lobbyID, requesterID uuid.UUID) (*models.JoinRequest, error)
	CountPendingJoinRequests(ctx context.Context, lobbyID uuid.UUID) (int, error)
	// DeclinePendingForLobby flips every PENDING request of the lobby to DECLINED
	// with decided_by cleared.
	DeclinePendingForLobby(ctx context.Context, lobbyID uuid.UUID, at time.Time) (int, error)
	// DeclineAccepted reverses the ACCEPTED request of (lobby, user) to DECLINED.
	DeclineAccepted(ctx context.Context, lobbyID, userID uuid.UUID, at time.Time) (int, error)
	// DeclinePendingByRequester withdraws every PENDING request userID has open.
	DeclinePendingByRequester(ctx context.Context, userID uuid.UUID, at time.Time) ([]models.JoinRequest, error)
}

type ConversationTx interface {
	// EnsureLobbyConversation returns the lobby's conversation, creating it if missing.
	EnsureLobbyConversation(ctx context.Context, lobbyID uuid.UUID, at time.Time) (*models.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	AddParticipant(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error
	RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) error
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	InsertMessage(ctx context.Context, m *models.Message) error
}

type SocialTx interface {
	// GetFriendship expects a canonical pair.
	GetFriendship(ctx context.Context, a, b uuid.UUID) (*models.Friendship, error)
	// InsertFriendship is insert-if-absent; it reports whether a row was created.
	InsertFriendship(ctx context.Context, f *models.Friendship) (bool, error)
	DeleteFriendship(ctx context.Context, a, b uuid.UUID) (bool, error)
	ListFriendships(ctx context.Context, userID uuid.UUID) ([]models.Friendship, error)

	// PendingFriendRequestBetween looks in both directions.
	PendingFriendRequestBetween(ctx context.Context, a, b uuid.UUID) (*models.FriendRequest, error)
	InsertFriendRequest(ctx context.Context, r *models.FriendRequest) error
	LockFriendRequest(ctx context.Context, id uuid.UUID) (*models.FriendRequest, error)
	UpdateFriendRequest(ctx context.Context, r *models.FriendRequest) error

	UpsertBlock(ctx context.Context, b *models.Block) error
	DeleteBlock(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error)
	IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error)
}

type XpTx interface {
	HasXpEvent(ctx context.Context, userID uuid.UUID, kind models.XpKind, meta map[string]string) (bool, error)
	CountXpEvents(ctx context.Context, userID uuid.UUID, kind models.XpKind, since time.Time) (int, error)
	InsertXpEvent(ctx context.Context, e *models.XpEvent) error
}

type RateLimitTx interface {
	CountRateEvents(ctx context.Context, userID uuid.UUID, key string, since time.Time) (int, error)
	InsertRateEvent(ctx context.Context, userID uuid.UUID, key string, at time.Time) error
	PurgeRateEvents(ctx context.Context, before time.Time) (int64, error)
}
