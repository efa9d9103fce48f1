// internal/presence/tracker.go
package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/apperr"
	"github.com/jason-s-yu/lobbyhub/internal/lobby"
	"github.com/jason-s-yu/lobbyhub/internal/metrics"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// DefaultTTL is how long a heartbeat keeps a user present.
const DefaultTTL = 35 * time.Second

// Reason says why presence is being torn down.
type Reason string

const (
	ReasonHaloStopped Reason = "halo-stopped"
	ReasonShutdown    Reason = "shutdown"
	ReasonTTLExpired  Reason = "ttl-expired"
)

// Lobbies is the part of the lobby state machine presence drives.
type Lobbies interface {
	CurrentLobbyForUser(ctx context.Context, userID uuid.UUID) (*lobby.Current, error)
	TouchHeartbeat(ctx context.Context, lobbyID, actorID uuid.UUID) (*lobby.HeartbeatResult, error)
	ReleaseCurrent(ctx context.Context, userID uuid.UUID) (string, *uuid.UUID, error)
	WithdrawPendingRequests(ctx context.Context, userID uuid.UUID) (int, error)
}

// HeartbeatInput is the body an overlay sends. HaloRunning defaults to true.
type HeartbeatInput struct {
	OverlayInstanceID string `json:"overlayInstanceId"`
	HaloRunning       *bool  `json:"haloRunning"`
}

// CleanupResult tells the caller what cleanup did.
type CleanupResult struct {
	Action    string     `json:"action"`
	LobbyID   *uuid.UUID `json:"lobbyId,omitempty"`
	Withdrawn int        `json:"withdrawnRequests"`
}

// HeartbeatResult carries the refreshed record, or the cleanup outcome when the
// heartbeat reported the game as stopped.
type HeartbeatResult struct {
	Record  *Record        `json:"presence,omitempty"`
	Cleanup *CleanupResult `json:"cleanup,omitempty"`
}

// Tracker turns heartbeats, and their absence, into lobby lifecycle actions.
type Tracker struct {
	store   Store
	lobbies Lobbies
	clock   clock.Clock
	logger  *logrus.Logger
	metrics *metrics.Metrics
	ttl     time.Duration
}

func NewTracker(st Store, lobbies Lobbies, clk clock.Clock, logger *logrus.Logger, m *metrics.Metrics, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{store: st, lobbies: lobbies, clock: clk, logger: logger, metrics: m, ttl: ttl}
}

// Heartbeat renews userID's presence. The hosting flag and current lobby are read
// from lobby state rather than trusted from the client. A host's heartbeat also
// keeps its lobby alive.
func (t *Tracker) Heartbeat(ctx context.Context, userID uuid.UUID, in HeartbeatInput) (*HeartbeatResult, error) {
	if in.HaloRunning != nil && !*in.HaloRunning {
		res, err := t.Cleanup(ctx, userID, ReasonHaloStopped)
		if err != nil {
			return nil, err
		}
		return &HeartbeatResult{Cleanup: res}, nil
	}

	cur, err := t.lobbies.CurrentLobbyForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve current lobby: %w", err)
	}

	now := t.clock.Now()
	rec := Record{
		UserID:            userID,
		OverlayInstanceID: strings.TrimSpace(in.OverlayInstanceID),
		HaloRunning:       true,
		LastSeenAt:        now,
		ExpiresAt:         now.Add(t.ttl),
	}
	if cur != nil {
		id := cur.Lobby.ID
		rec.CurrentLobbyID = &id
		rec.IsHosting = cur.IsHost
	}

	if rec.IsHosting {
		if _, err := t.lobbies.TouchHeartbeat(ctx, *rec.CurrentLobbyID, userID); err != nil {
			// The lobby can lapse between the lookup and the touch; presence still renews.
			if !apperr.Is(err, apperr.KindConflict) && !apperr.Is(err, apperr.KindNotFound) {
				return nil, err
			}
			t.logger.WithFields(logrus.Fields{"user_id": userID, "lobby_id": rec.CurrentLobbyID, "error": err}).Debug("lobby heartbeat skipped")
		}
	}

	if err := t.store.Put(ctx, rec, t.ttl); err != nil {
		return nil, fmt.Errorf("store presence: %w", err)
	}
	return &HeartbeatResult{Record: &rec}, nil
}

// Get returns userID's live record, or nil.
func (t *Tracker) Get(ctx context.Context, userID uuid.UUID) (*Record, error) {
	return t.store.Get(ctx, userID, t.clock.Now())
}

// Cleanup closes the lobby userID hosts or leaves the one it is in, withdraws its
// pending join requests and drops the presence record. It is safe to repeat.
func (t *Tracker) Cleanup(ctx context.Context, userID uuid.UUID, reason Reason) (*CleanupResult, error) {
	action, lobbyID, err := t.lobbies.ReleaseCurrent(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("release current lobby: %w", err)
	}
	withdrawn, err := t.lobbies.WithdrawPendingRequests(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("withdraw pending requests: %w", err)
	}
	if err := t.store.Delete(ctx, userID); err != nil {
		return nil, fmt.Errorf("delete presence: %w", err)
	}

	t.metrics.PresenceCleanup(string(reason), action)
	t.logger.WithFields(logrus.Fields{
		"user_id":   userID,
		"reason":    reason,
		"action":    action,
		"lobby_id":  lobbyID,
		"withdrawn": withdrawn,
	}).Info("presence cleanup")
	return &CleanupResult{Action: action, LobbyID: lobbyID, Withdrawn: withdrawn}, nil
}

// SweepStale runs ttl-expired cleanup for every user whose presence lapsed.
// Users that heartbeated again since the listing are skipped.
func (t *Tracker) SweepStale(ctx context.Context) (int, error) {
	now := t.clock.Now()
	ids, err := t.store.Expired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired presence: %w", err)
	}
	var errs error
	cleaned := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return cleaned, multierr.Append(errs, ctx.Err())
		}
		if rec, err := t.store.Get(ctx, id, t.clock.Now()); err != nil {
			errs = multierr.Append(errs, err)
			continue
		} else if rec != nil {
			continue
		}
		if _, err := t.Cleanup(ctx, id, ReasonTTLExpired); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cleanup %s: %w", id, err))
			continue
		}
		cleaned++
	}
	return cleaned, errs
}
