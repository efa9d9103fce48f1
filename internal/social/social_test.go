package social

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/apperr"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/store"
	"github.com/jason-s-yu/lobbyhub/internal/xp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc   *Service
	store *store.MemoryStore
	clock *clock.Mock
}

func setup(t *testing.T, users ...uuid.UUID) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := store.NewMemoryStore()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	for _, u := range users {
		s.PutUser(models.User{ID: u})
	}
	return &fixture{svc: NewService(s, xp.NewLedger(s, clk, logger), clk, logger), store: s, clock: clk}
}

// seedPending writes a PENDING request directly, bypassing the pair check.
func (f *fixture) seedPending(t *testing.T, from, to uuid.UUID) uuid.UUID {
	t.Helper()
	id := uuid.New()
	ctx := context.Background()
	require.NoError(t, f.store.InTx(ctx, func(tx store.Tx) error {
		r := &models.FriendRequest{ID: id, FromUserID: from, ToUserID: to, Status: models.StatusDeclined, CreatedAt: f.clock.Now()}
		if err := tx.InsertFriendRequest(ctx, r); err != nil {
			return err
		}
		r.Status = models.StatusPending
		return tx.UpdateFriendRequest(ctx, r)
	}))
	return id
}

func TestCanonicalPairIsOrderIndependent(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	x1, y1 := models.CanonicalPair(a, b)
	x2, y2 := models.CanonicalPair(b, a)
	assert.Equal(t, x1, x2)
	assert.Equal(t, y1, y2)
	assert.Less(t, x1.String(), y1.String())
}

func TestDuplicateRequestConflictsInBothDirections(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	f := setup(t, a, b)
	ctx := context.Background()

	_, err := f.svc.SendFriendRequest(ctx, a, b)
	require.NoError(t, err)

	_, errSame := f.svc.SendFriendRequest(ctx, a, b)
	_, errReverse := f.svc.SendFriendRequest(ctx, b, a)
	assert.True(t, apperr.Is(errSame, apperr.KindConflict))
	assert.True(t, apperr.Is(errReverse, apperr.KindConflict))
	assert.Equal(t, apperr.ReasonOf(errSame), apperr.ReasonOf(errReverse))
}

func TestSelfRequestIsConflict(t *testing.T) {
	a := uuid.New()
	f := setup(t, a)
	_, err := f.svc.SendFriendRequest(context.Background(), a, a)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestUnknownTargetIsNotFound(t *testing.T) {
	a := uuid.New()
	f := setup(t, a)
	_, err := f.svc.SendFriendRequest(context.Background(), a, uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestAcceptCreatesFriendshipAndAwardsBoth(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	f := setup(t, a, b)
	ctx := context.Background()

	req, err := f.svc.SendFriendRequest(ctx, a, b)
	require.NoError(t, err)

	_, err = f.svc.AcceptFriendRequest(ctx, req.ID, a)
	assert.True(t, apperr.Is(err, apperr.KindForbidden), "sender cannot accept")

	fr, err := f.svc.AcceptFriendRequest(ctx, req.ID, b)
	require.NoError(t, err)
	x, y := models.CanonicalPair(a, b)
	assert.Equal(t, x, fr.UserAID)
	assert.Equal(t, y, fr.UserBID)

	_, err = f.svc.AcceptFriendRequest(ctx, req.ID, b)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	assert.Len(t, f.store.XpEvents(a), 1)
	assert.Len(t, f.store.XpEvents(b), 1)

	_, err = f.svc.SendFriendRequest(ctx, b, a)
	assert.Equal(t, "already friends", apperr.ReasonOf(err))
}

func TestCrossingAcceptsYieldOneFriendship(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	f := setup(t, a, b)
	ctx := context.Background()

	ab := f.seedPending(t, a, b)
	ba := f.seedPending(t, b, a)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); _, errs[0] = f.svc.AcceptFriendRequest(ctx, ab, b) }()
	go func() { defer wg.Done(); _, errs[1] = f.svc.AcceptFriendRequest(ctx, ba, a) }()
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, 1, f.store.FriendshipCount())
}

func TestFriendXpCappedPerDay(t *testing.T) {
	hub := uuid.New()
	others := make([]uuid.UUID, 12)
	for i := range others {
		others[i] = uuid.New()
	}
	f := setup(t, append(others, hub)...)
	ctx := context.Background()

	for _, o := range others {
		req, err := f.svc.SendFriendRequest(ctx, o, hub)
		require.NoError(t, err)
		_, err = f.svc.AcceptFriendRequest(ctx, req.ID, hub)
		require.NoError(t, err)
	}
	assert.Len(t, f.store.XpEvents(hub), xp.FriendAcceptedDailyCap)
	assert.Len(t, f.store.XpEvents(others[11]), 1)
}

func TestRemoveFriendshipReportsMissing(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	f := setup(t, a, b)
	ctx := context.Background()

	req, err := f.svc.SendFriendRequest(ctx, a, b)
	require.NoError(t, err)
	_, err = f.svc.AcceptFriendRequest(ctx, req.ID, b)
	require.NoError(t, err)

	friends, err := f.svc.ListFriends(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b}, friends)

	require.NoError(t, f.svc.RemoveFriendship(ctx, b, a))
	err = f.svc.RemoveFriendship(ctx, a, b)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestBlockIsIdempotent(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	f := setup(t, a, b)
	ctx := context.Background()

	require.NoError(t, f.svc.Block(ctx, a, b))
	require.NoError(t, f.svc.Block(ctx, a, b))
	blocked, err := f.svc.IsBlocked(ctx, a, b)
	require.NoError(t, err)
	assert.True(t, blocked)

	blocked, err = f.svc.IsBlocked(ctx, b, a)
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, f.svc.Unblock(ctx, a, b))
	require.NoError(t, f.svc.Unblock(ctx, a, b))
	blocked, _ = f.svc.IsBlocked(ctx, a, b)
	assert.False(t, blocked)
}
