// internal/database/user.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/store"
)

// UpsertUser writes the account fields this service reads. Accounts are owned
// elsewhere; this exists for seeding dev databases and tests.
func (s *Store) UpsertUser(ctx context.Context, u models.User) error {
	q := `
	INSERT INTO users (id, gamertag, is_banned, xp_total, sr_level)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE
	SET gamertag = EXCLUDED.gamertag, is_banned = EXCLUDED.is_banned
	`
	if _, err := s.pool.Exec(ctx, q, u.ID, u.Gamertag, u.IsBanned, u.XPTotal, u.SRLevel); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

const userColumns = `id, gamertag, is_banned, xp_total, sr_level`

func (t *pgTx) getUser(ctx context.Context, id uuid.UUID, lock bool) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if lock {
		q += ` FOR UPDATE`
	}
	var u models.User
	err := t.tx.QueryRow(ctx, q, id).Scan(&u.ID, &u.Gamertag, &u.IsBanned, &u.XPTotal, &u.SRLevel)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (t *pgTx) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return t.getUser(ctx, id, false)
}

func (t *pgTx) LockUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return t.getUser(ctx, id, true)
}

func (t *pgTx) UpdateUserXP(ctx context.Context, id uuid.UUID, total, level int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE users SET xp_total = $2, sr_level = $3 WHERE id = $1`, id, total, level)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func metaJSON(meta map[string]string) ([]byte, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	return json.Marshal(meta)
}

func (t *pgTx) HasXpEvent(ctx context.Context, userID uuid.UUID, kind models.XpKind, meta map[string]string) (bool, error) {
	m, err := metaJSON(meta)
	if err != nil {
		return false, err
	}
	var exists bool
	err = t.tx.QueryRow(ctx, `
	SELECT EXISTS (
		SELECT 1 FROM xp_events WHERE user_id = $1 AND kind = $2 AND meta = $3::jsonb
	)`, userID, string(kind), string(m)).Scan(&exists)
	return exists, err
}

func (t *pgTx) CountXpEvents(ctx context.Context, userID uuid.UUID, kind models.XpKind, since time.Time) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
	SELECT COUNT(*) FROM xp_events WHERE user_id = $1 AND kind = $2 AND created_at >= $3
	`, userID, string(kind), since).Scan(&n)
	return n, err
}

func (t *pgTx) InsertXpEvent(ctx context.Context, e *models.XpEvent) error {
	m, err := metaJSON(e.Meta)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
	INSERT INTO xp_events (id, user_id, kind, amount, meta, created_at)
	VALUES ($1, $2, $3, $4, $5::jsonb, $6)
	`, e.ID, e.UserID, string(e.Kind), e.Amount, string(m), e.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) CountRateEvents(ctx context.Context, userID uuid.UUID, key string, since time.Time) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
	SELECT COUNT(*) FROM rate_limit_events WHERE user_id = $1 AND key = $2 AND created_at >= $3
	`, userID, key, since).Scan(&n)
	return n, err
}

func (t *pgTx) InsertRateEvent(ctx context.Context, userID uuid.UUID, key string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO rate_limit_events (user_id, key, created_at) VALUES ($1, $2, $3)`, userID, key, at)
	return err
}

func (t *pgTx) PurgeRateEvents(ctx context.Context, before time.Time) (int64, error) {
	ct, err := t.tx.Exec(ctx, `DELETE FROM rate_limit_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
