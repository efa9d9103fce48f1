// internal/database/request.go
package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/store"
)

const joinRequestColumns = `id, lobby_id, requester_user_id, note, status, created_at, decided_at, decided_by_user_id`

func scanJoinRequest(row pgx.Row) (*models.JoinRequest, error) {
	var r models.JoinRequest
	err := row.Scan(&r.ID, &r.LobbyID, &r.RequesterUserID, &r.Note, &r.Status, &r.CreatedAt, &r.DecidedAt, &r.DecidedByUserID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func collectJoinRequests(rows pgx.Rows, err error) ([]models.JoinRequest, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.JoinRequest
	for rows.Next() {
		r, err := scanJoinRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertJoinRequest(ctx context.Context, r *models.JoinRequest) error {
	_, err := t.tx.Exec(ctx, `
	INSERT INTO join_requests (`+joinRequestColumns+`)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.LobbyID, r.RequesterUserID, r.Note, r.Status, r.CreatedAt, r.DecidedAt, r.DecidedByUserID)
	return mapErr(err)
}

func (t *pgTx) GetJoinRequest(ctx context.Context, id uuid.UUID) (*models.JoinRequest, error) {
	return scanJoinRequest(t.tx.QueryRow(ctx, `SELECT `+joinRequestColumns+` FROM join_requests WHERE id = $1`, id))
}

func (t *pgTx) LockJoinRequest(ctx context.Context, id uuid.UUID) (*models.JoinRequest, error) {
	return scanJoinRequest(t.tx.QueryRow(ctx, `SELECT `+joinRequestColumns+` FROM join_requests WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateJoinRequest(ctx context.Context, r *models.JoinRequest) error {
	ct, err := t.tx.Exec(ctx, `
	UPDATE join_requests SET status = $2, decided_at = $3, decided_by_user_id = $4 WHERE id = $1
	`, r.ID, r.Status, r.DecidedAt, r.DecidedByUserID)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) OpenJoinRequest(ctx context.Context, lobbyID, requesterID uuid.UUID) (*models.JoinRequest, error) {
	return scanJoinRequest(t.tx.QueryRow(ctx, `
	SELECT `+joinRequestColumns+`
	FROM join_requests
	WHERE lobby_id = $1 AND requester_user_id = $2 AND status IN ('PENDING', 'ACCEPTED')
	LIMIT 1
	`, lobbyID, requesterID))
}

func (t *pgTx) CountPendingJoinRequests(ctx context.Context, lobbyID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
	SELECT COUNT(*) FROM join_requests WHERE lobby_id = $1 AND status = 'PENDING'
	`, lobbyID).Scan(&n)
	return n, err
}

func (t *pgTx) DeclinePendingForLobby(ctx context.Context, lobbyID uuid.UUID, at time.Time) (int, error) {
	ct, err := t.tx.Exec(ctx, `
	UPDATE join_requests
	SET status = 'DECLINED', decided_at = $2, decided_by_user_id = NULL
	WHERE lobby_id = $1 AND status = 'PENDING'
	`, lobbyID, at)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (t *pgTx) DeclineAccepted(ctx context.Context, lobbyID, userID uuid.UUID, at time.Time) (int, error) {
	ct, err := t.tx.Exec(ctx, `
	UPDATE join_requests
	SET status = 'DECLINED', decided_at = $3, decided_by_user_id = NULL
	WHERE lobby_id = $1 AND requester_user_id = $2 AND status = 'ACCEPTED'
	`, lobbyID, userID, at)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (t *pgTx) DeclinePendingByRequester(ctx context.Context, userID uuid.UUID, at time.Time) ([]models.JoinRequest, error) {
	return collectJoinRequests(t.tx.Query(ctx, `
	UPDATE join_requests
	SET status = 'DECLINED', decided_at = $2, decided_by_user_id = NULL
	WHERE requester_user_id = $1 AND status = 'PENDING'
	RETURNING `+joinRequestColumns, userID, at))
}
