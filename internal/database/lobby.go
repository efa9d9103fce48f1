// internal/database/lobby.go
package database

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/store"
)

var lobbyColumnList = []string{
	"id", "host_user_id", "title", "mode", "map", "region", "slots_total",
	"is_active", "created_at", "expires_at", "last_heartbeat_at",
	"telemetry_map_name", "telemetry_mode_name", "telemetry_player_count",
	"telemetry_status", "telemetry_seq", "telemetry_emitted_at", "telemetry_updated_at",
}

var lobbyColumns = strings.Join(lobbyColumnList, ", ")

func scanLobby(row pgx.Row) (*models.Lobby, error) {
	var l models.Lobby
	err := row.Scan(
		&l.ID, &l.HostUserID, &l.Title, &l.Mode, &l.Map, &l.Region, &l.SlotsTotal,
		&l.IsActive, &l.CreatedAt, &l.ExpiresAt, &l.LastHeartbeatAt,
		&l.Telemetry.MapName, &l.Telemetry.ModeName, &l.Telemetry.PlayerCount,
		&l.Telemetry.Status, &l.Telemetry.Seq, &l.Telemetry.EmittedAt, &l.Telemetry.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &l, nil
}

func (t *pgTx) InsertLobby(ctx context.Context, l *models.Lobby) error {
	q := `
	INSERT INTO lobbies (
		id, host_user_id, title, mode, map, region, slots_total,
		is_active, created_at, expires_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := t.tx.Exec(ctx, q,
		l.ID, l.HostUserID, l.Title, l.Mode, l.Map, l.Region, l.SlotsTotal,
		l.IsActive, l.CreatedAt, l.ExpiresAt,
	)
	return mapErr(err)
}

func (t *pgTx) GetLobby(ctx context.Context, id uuid.UUID) (*models.Lobby, error) {
	return scanLobby(t.tx.QueryRow(ctx, `SELECT `+lobbyColumns+` FROM lobbies WHERE id = $1`, id))
}

func (t *pgTx) LockLobby(ctx context.Context, id uuid.UUID) (*models.Lobby, error) {
	return scanLobby(t.tx.QueryRow(ctx, `SELECT `+lobbyColumns+` FROM lobbies WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateLobby(ctx context.Context, l *models.Lobby) error {
	q := `
	UPDATE lobbies SET
		title = $2, mode = $3, map = $4, region = $5, slots_total = $6,
		is_active = $7, expires_at = $8, last_heartbeat_at = $9,
		telemetry_map_name = $10, telemetry_mode_name = $11, telemetry_player_count = $12,
		telemetry_status = $13, telemetry_seq = $14, telemetry_emitted_at = $15, telemetry_updated_at = $16
	WHERE id = $1
	`
	ct, err := t.tx.Exec(ctx, q,
		l.ID, l.Title, l.Mode, l.Map, l.Region, l.SlotsTotal,
		l.IsActive, l.ExpiresAt, l.LastHeartbeatAt,
		l.Telemetry.MapName, l.Telemetry.ModeName, l.Telemetry.PlayerCount,
		l.Telemetry.Status, l.Telemetry.Seq, l.Telemetry.EmittedAt, l.Telemetry.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) ActiveHostedLobby(ctx context.Context, hostID uuid.UUID, now time.Time) (*models.Lobby, error) {
	return scanLobby(t.tx.QueryRow(ctx, `
	SELECT `+lobbyColumns+`
	FROM lobbies
	WHERE host_user_id = $1 AND is_active AND expires_at > $2
	ORDER BY created_at DESC
	LIMIT 1
	`, hostID, now))
}

func (t *pgTx) ActiveMembership(ctx context.Context, userID uuid.UUID, now time.Time) (*models.Lobby, error) {
	return scanLobby(t.tx.QueryRow(ctx, `
	SELECT `+prefixed("l")+`
	FROM lobby_members m
	JOIN lobbies l ON l.id = m.lobby_id
	WHERE m.user_id = $1 AND l.is_active AND l.expires_at > $2
	ORDER BY m.joined_at DESC
	LIMIT 1
	`, userID, now))
}

func (t *pgTx) ExpiredLobbies(ctx context.Context, now time.Time) ([]models.Lobby, error) {
	rows, err := t.tx.Query(ctx, `
	SELECT `+lobbyColumns+`
	FROM lobbies
	WHERE is_active AND expires_at <= $1
	ORDER BY expires_at
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Lobby
	for rows.Next() {
		l, err := scanLobby(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (t *pgTx) GetMember(ctx context.Context, lobbyID, userID uuid.UUID) (*models.LobbyMember, error) {
	var m models.LobbyMember
	err := t.tx.QueryRow(ctx, `
	SELECT lobby_id, user_id, joined_at FROM lobby_members WHERE lobby_id = $1 AND user_id = $2
	`, lobbyID, userID).Scan(&m.LobbyID, &m.UserID, &m.JoinedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

func (t *pgTx) InsertMember(ctx context.Context, m *models.LobbyMember) error {
	_, err := t.tx.Exec(ctx, `
	INSERT INTO lobby_members (lobby_id, user_id, joined_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (lobby_id, user_id) DO NOTHING
	`, m.LobbyID, m.UserID, m.JoinedAt)
	return err
}

func (t *pgTx) DeleteMember(ctx context.Context, lobbyID, userID uuid.UUID) (bool, error) {
	ct, err := t.tx.Exec(ctx, `DELETE FROM lobby_members WHERE lobby_id = $1 AND user_id = $2`, lobbyID, userID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (t *pgTx) ListMembers(ctx context.Context, lobbyID uuid.UUID) ([]models.LobbyMember, error) {
	rows, err := t.tx.Query(ctx, `
	SELECT lobby_id, user_id, joined_at FROM lobby_members WHERE lobby_id = $1 ORDER BY joined_at
	`, lobbyID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.LobbyMember, error) {
		var m models.LobbyMember
		err := row.Scan(&m.LobbyID, &m.UserID, &m.JoinedAt)
		return m, err
	})
}

// prefixed qualifies every lobby column with alias.
func prefixed(alias string) string {
	cols := make([]string, len(lobbyColumnList))
	for i, c := range lobbyColumnList {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}
