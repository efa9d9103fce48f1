// internal/database/friend.go

package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/store"
)

func (t *pgTx) GetFriendship(ctx context.Context, a, b uuid.UUID) (*models.Friendship, error) {
	var f models.Friendship
	err := t.tx.QueryRow(ctx, `
	SELECT user_a_id, user_b_id, created_at FROM friendships WHERE user_a_id = $1 AND user_b_id = $2
	`, a, b).Scan(&f.UserAID, &f.UserBID, &f.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &f, nil
}

// InsertFriendship relies on the primary key to make concurrent accepts of a
// mirrored pair produce a single row.
func (t *pgTx) InsertFriendship(ctx context.Context, f *models.Friendship) (bool, error) {
	ct, err := t.tx.Exec(ctx, `
	INSERT INTO friendships (user_a_id, user_b_id, created_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (user_a_id, user_b_id) DO NOTHING
	`, f.UserAID, f.UserBID, f.CreatedAt)
	if err != nil {
		return false, mapErr(err)
	}
	return ct.RowsAffected() == 1, nil
}

func (t *pgTx) DeleteFriendship(ctx context.Context, a, b uuid.UUID) (bool, error) {
	ct, err := t.tx.Exec(ctx, `DELETE FROM friendships WHERE user_a_id = $1 AND user_b_id = $2`, a, b)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (t *pgTx) ListFriendships(ctx context.Context, userID uuid.UUID) ([]models.Friendship, error) {
	rows, err := t.tx.Query(ctx, `
	SELECT user_a_id, user_b_id, created_at
	FROM friendships
	WHERE user_a_id = $1 OR user_b_id = $1
	ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Friendship, error) {
		var f models.Friendship
		err := row.Scan(&f.UserAID, &f.UserBID, &f.CreatedAt)
		return f, err
	})
}

const friendRequestColumns = `id, from_user_id, to_user_id, status, created_at, decided_at`

func scanFriendRequest(row pgx.Row) (*models.FriendRequest, error) {
	var r models.FriendRequest
	if err := row.Scan(&r.ID, &r.FromUserID, &r.ToUserID, &r.Status, &r.CreatedAt, &r.DecidedAt); err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (t *pgTx) PendingFriendRequestBetween(ctx context.Context, a, b uuid.UUID) (*models.FriendRequest, error) {
	return scanFriendRequest(t.tx.QueryRow(ctx, `
	SELECT `+friendRequestColumns+`
	FROM friend_requests
	WHERE status = 'PENDING'
	  AND ((from_user_id = $1 AND to_user_id = $2) OR (from_user_id = $2 AND to_user_id = $1))
	LIMIT 1
	`, a, b))
}

func (t *pgTx) InsertFriendRequest(ctx context.Context, r *models.FriendRequest) error {
	_, err := t.tx.Exec(ctx, `
	INSERT INTO friend_requests (`+friendRequestColumns+`)
	VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.FromUserID, r.ToUserID, r.Status, r.CreatedAt, r.DecidedAt)
	return mapErr(err)
}

func (t *pgTx) LockFriendRequest(ctx context.Context, id uuid.UUID) (*models.FriendRequest, error) {
	return scanFriendRequest(t.tx.QueryRow(ctx, `
	SELECT `+friendRequestColumns+` FROM friend_requests WHERE id = $1 FOR UPDATE
	`, id))
}

func (t *pgTx) UpdateFriendRequest(ctx context.Context, r *models.FriendRequest) error {
	ct, err := t.tx.Exec(ctx, `
	UPDATE friend_requests SET status = $2, decided_at = $3 WHERE id = $1
	`, r.ID, r.Status, r.DecidedAt)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) UpsertBlock(ctx context.Context, b *models.Block) error {
	_, err := t.tx.Exec(ctx, `
	INSERT INTO blocks (blocker_user_id, blocked_user_id, created_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (blocker_user_id, blocked_user_id) DO NOTHING
	`, b.BlockerUserID, b.BlockedUserID, b.CreatedAt)
	return err
}

func (t *pgTx) DeleteBlock(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	ct, err := t.tx.Exec(ctx, `
	DELETE FROM blocks WHERE blocker_user_id = $1 AND blocked_user_id = $2
	`, blockerID, blockedID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (t *pgTx) IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `
	SELECT EXISTS (SELECT 1 FROM blocks WHERE blocker_user_id = $1 AND blocked_user_id = $2)
	`, blockerID, blockedID).Scan(&ok)
	return ok, err
}

var _ store.Tx = (*pgTx)(nil)
