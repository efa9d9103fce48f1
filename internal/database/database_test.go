package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore connects to TEST_DATABASE_URL, migrating it first. Tests are
// skipped when the variable is unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	require.NoError(t, Migrate(ctx, url))
	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewStore(pool)
}

func seedUser(t *testing.T, s *Store, tag string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	tag = tag + "-" + id.String()[:8]
	require.NoError(t, s.UpsertUser(context.Background(), models.User{ID: id, Gamertag: &tag, SRLevel: 1}))
	return id
}

func seedLobby(t *testing.T, s *Store, host uuid.UUID, now time.Time) *models.Lobby {
	t.Helper()
	l := &models.Lobby{
		ID:         uuid.New(),
		HostUserID: host,
		Title:      "Customs",
		SlotsTotal: 8,
		IsActive:   true,
		CreatedAt:  now,
		ExpiresAt:  now.Add(30 * time.Minute),
	}
	require.NoError(t, s.InTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertLobby(context.Background(), l)
	}))
	return l
}

func TestLobbyRoundTripWithTelemetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	host := seedUser(t, s, "host")
	l := seedLobby(t, s, host, now)

	count := 4
	status := "in_game"
	err := s.InTx(ctx, func(tx store.Tx) error {
		got, err := tx.LockLobby(ctx, l.ID)
		if err != nil {
			return err
		}
		got.Telemetry.PlayerCount = &count
		got.Telemetry.Status = &status
		got.LastHeartbeatAt = &now
		return tx.UpdateLobby(ctx, got)
	})
	require.NoError(t, err)

	err = s.InTx(ctx, func(tx store.Tx) error {
		got, err := tx.ActiveHostedLobby(ctx, host, now)
		require.NoError(t, err)
		assert.Equal(t, l.ID, got.ID)
		require.NotNil(t, got.Telemetry.PlayerCount)
		assert.Equal(t, 4, *got.Telemetry.PlayerCount)
		assert.Nil(t, got.Telemetry.MapName)

		_, err = tx.ActiveHostedLobby(ctx, host, now.Add(time.Hour))
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestOpenJoinRequestIsUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	host, player := seedUser(t, s, "host"), seedUser(t, s, "player")
	l := seedLobby(t, s, host, now)

	req := func() *models.JoinRequest {
		return &models.JoinRequest{ID: uuid.New(), LobbyID: l.ID, RequesterUserID: player, Status: models.StatusPending, CreatedAt: now}
	}
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error { return tx.InsertJoinRequest(ctx, req()) }))

	err := s.InTx(ctx, func(tx store.Tx) error { return tx.InsertJoinRequest(ctx, req()) })
	assert.True(t, errors.Is(err, store.ErrDuplicate), "got %v", err)

	err = s.InTx(ctx, func(tx store.Tx) error {
		withdrawn, err := tx.DeclinePendingByRequester(ctx, player, now)
		if err != nil {
			return err
		}
		assert.Len(t, withdrawn, 1)
		assert.Nil(t, withdrawn[0].DecidedByUserID)
		return tx.InsertJoinRequest(ctx, req())
	})
	assert.NoError(t, err, "a declined request frees the slot")
}

func TestEnsureLobbyConversationIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	host := seedUser(t, s, "host")
	l := seedLobby(t, s, host, now)

	var first, second *models.Conversation
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		var err error
		if first, err = tx.EnsureLobbyConversation(ctx, l.ID, now); err != nil {
			return err
		}
		if err = tx.AddParticipant(ctx, first.ID, host, now); err != nil {
			return err
		}
		second, err = tx.EnsureLobbyConversation(ctx, l.ID, now)
		return err
	}))
	assert.Equal(t, first.ID, second.ID)
}

func TestFriendshipInsertIfAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b := models.CanonicalPair(seedUser(t, s, "a"), seedUser(t, s, "b"))
	f := &models.Friendship{UserAID: a, UserBID: b, CreatedAt: time.Now().UTC()}

	err := s.InTx(ctx, func(tx store.Tx) error {
		created, err := tx.InsertFriendship(ctx, f)
		require.NoError(t, err)
		assert.True(t, created)
		created, err = tx.InsertFriendship(ctx, f)
		require.NoError(t, err)
		assert.False(t, created)
		return nil
	})
	require.NoError(t, err)
}

func TestRollbackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	host := seedUser(t, s, "host")
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateUserXP(ctx, host, 500, 3); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		u, err := tx.GetUser(ctx, host)
		require.NoError(t, err)
		assert.Zero(t, u.XPTotal)
		return nil
	}))
}
