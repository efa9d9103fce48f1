// internal/lobby/lifecycle.go
package lobby

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/apperr"
	"github.com/jason-s-yu/lobbyhub/internal/events"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/store"
	"github.com/jason-s-yu/lobbyhub/internal/xp"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	maxTitleLen  = 80
	maxFieldLen  = 40
	defaultSlots = 8
	minSlots     = 2
	maxSlots     = 16
)

// CreateInput is the host supplied part of a new lobby.
type CreateInput struct {
	Title      string `json:"title"`
	Mode       string `json:"mode"`
	Map        string `json:"map"`
	Region     string `json:"region"`
	SlotsTotal int    `json:"slotsTotal"`
}

func (in CreateInput) normalize() (CreateInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return in, apperr.Invalid("title is required")
	}
	if utf8.RuneCountInString(in.Title) > maxTitleLen {
		return in, apperr.Invalid("title too long")
	}
	for _, f := range []*string{&in.Mode, &in.Map, &in.Region} {
		*f = strings.TrimSpace(*f)
		if utf8.RuneCountInString(*f) > maxFieldLen {
			return in, apperr.Invalid("field too long")
		}
	}
	if in.SlotsTotal == 0 {
		in.SlotsTotal = defaultSlots
	}
	if in.SlotsTotal < minSlots || in.SlotsTotal > maxSlots {
		return in, apperr.Invalid("slotsTotal out of range")
	}
	return in, nil
}

// Current is the lobby a user is tied to right now.
type Current struct {
	Lobby  models.Lobby `json:"lobby"`
	IsHost bool         `json:"isHost"`
}

// Create opens a new lobby for hostID. The caller must have closed or left any
// lobby it is hosting or sitting in first; Create refuses rather than closing it.
func (s *Service) Create(ctx context.Context, hostID uuid.UUID, in CreateInput) (*models.Lobby, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	l := &models.Lobby{
		ID:         uuid.New(),
		HostUserID: hostID,
		Title:      in.Title,
		Mode:       in.Mode,
		Map:        in.Map,
		Region:     in.Region,
		SlotsTotal: in.SlotsTotal,
		IsActive:   true,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.LobbyTTL),
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := requireOnboarded(ctx, tx, hostID); err != nil {
			return err
		}
		limited, err := s.limited(ctx, tx, hostID, rateLobbyCreate, s.cfg.CreatesPerMinute, time.Minute)
		if err != nil {
			return err
		}
		if limited {
			return apperr.RateLimited("too many lobbies created, try again shortly")
		}
		if _, err := tx.ActiveHostedLobby(ctx, hostID, now); err == nil {
			return apperr.Conflict("already hosting a lobby")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if _, err := tx.ActiveMembership(ctx, hostID, now); err == nil {
			return apperr.Conflict("already in a lobby")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if err := tx.InsertLobby(ctx, l); err != nil {
			return fmt.Errorf("insert lobby: %w", err)
		}
		conv, err := tx.EnsureLobbyConversation(ctx, l.ID, now)
		if err != nil {
			return fmt.Errorf("create lobby conversation: %w", err)
		}
		if err := tx.AddParticipant(ctx, conv.ID, hostID, now); err != nil {
			return err
		}
		return tx.InsertRateEvent(ctx, hostID, rateLobbyCreate, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"lobby_id": l.ID, "host_id": hostID}).Info("lobby created")
	s.award(ctx, hostID, models.XpHostLobbyCreated, xp.HostLobbyCreatedXP, l.ID)
	return l, nil
}

// CurrentLobbyForUser returns the active lobby userID hosts, or else the one it is
// a member of. It returns nil when there is none.
func (s *Service) CurrentLobbyForUser(ctx context.Context, userID uuid.UUID) (*Current, error) {
	var cur *Current
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		now := s.clock.Now()
		hosted, err := tx.ActiveHostedLobby(ctx, userID, now)
		if err == nil {
			cur = &Current{Lobby: *hosted, IsHost: true}
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		joined, err := tx.ActiveMembership(ctx, userID, now)
		if err == nil {
			cur = &Current{Lobby: *joined}
			return nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	})
	return cur, err
}

// HeartbeatResult reports the refreshed lobby and whether the activity reward fired.
type HeartbeatResult struct {
	Lobby   models.Lobby `json:"lobby"`
	Awarded bool         `json:"xpAwarded"`
}

// TouchHeartbeat records a host heartbeat and extends the lobby's expiry.
func (s *Service) TouchHeartbeat(ctx context.Context, lobbyID, actorID uuid.UUID) (*HeartbeatResult, error) {
	unlock := s.locks.lock(lobbyID)
	defer unlock()

	var l *models.Lobby
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		l, err = lockHostedLobby(ctx, tx, lobbyID, actorID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if !l.IsActive {
			return apperr.NotFound("lobby not active")
		}
		if l.Expired(now) {
			return apperr.Conflict("lobby expired")
		}
		l.LastHeartbeatAt = &now
		if ext := now.Add(s.cfg.HeartbeatExtension); ext.After(l.ExpiresAt) {
			l.ExpiresAt = ext
		}
		return tx.UpdateLobby(ctx, l)
	})
	if err != nil {
		return nil, err
	}

	res := &HeartbeatResult{Lobby: *l}
	if s.clock.Now().Sub(l.CreatedAt) >= s.cfg.ActiveRewardAfter {
		res.Awarded = s.award(ctx, actorID, models.XpLobbyActive20Min, xp.LobbyActiveXP, lobbyID)
	}
	return res, nil
}

// ExpiredLobby is one lobby closed by DetectExpired.
type ExpiredLobby struct {
	LobbyID    uuid.UUID `json:"lobbyId"`
	HostUserID uuid.UUID `json:"hostUserId"`
	Declined   int       `json:"declined"`
}

// DetectExpired closes every active lobby past its expiry, declines their pending
// requests and tells each host. It keeps going past per-lobby failures and
// returns them combined.
func (s *Service) DetectExpired(ctx context.Context) ([]ExpiredLobby, error) {
	var candidates []models.Lobby
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		candidates, err = tx.ExpiredLobbies(ctx, s.clock.Now())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list expired lobbies: %w", err)
	}

	var out []ExpiredLobby
	var errs error
	for _, c := range candidates {
		exp, err := s.expireOne(ctx, c.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire lobby %s: %w", c.ID, err))
			continue
		}
		if exp != nil {
			out = append(out, *exp)
		}
	}
	s.metrics.LobbiesExpired(len(out))
	return out, errs
}

func (s *Service) expireOne(ctx context.Context, lobbyID uuid.UUID) (*ExpiredLobby, error) {
	unlock := s.locks.lock(lobbyID)
	defer unlock()

	var exp *ExpiredLobby
	var l *models.Lobby
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		l, err = tx.LockLobby(ctx, lobbyID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		// A heartbeat may have landed between the listing and the lock.
		if !l.IsActive || !l.Expired(now) {
			return nil
		}
		declined, err := s.closeLocked(ctx, tx, l)
		if err != nil {
			return err
		}
		exp = &ExpiredLobby{LobbyID: l.ID, HostUserID: l.HostUserID, Declined: declined}
		return nil
	})
	if err != nil || exp == nil {
		return nil, err
	}

	s.publish(events.HostTopic(l.HostUserID), events.LobbyExpired, LobbyExpiredPayload{
		LobbyID:   l.ID,
		ExpiresAt: l.ExpiresAt,
		Declined:  exp.Declined,
	}, false)
	s.publish(events.LobbyTopic(l.ID), events.RosterUpdated, RosterUpdatedPayload{LobbyID: l.ID, Action: RosterClosed}, false)
	s.logger.WithFields(logrus.Fields{"lobby_id": l.ID, "declined": exp.Declined}).Info("lobby expired")
	return exp, nil
}

// closeLocked flips the lobby inactive and declines its pending requests in tx.
func (s *Service) closeLocked(ctx context.Context, tx store.Tx, l *models.Lobby) (int, error) {
	now := s.clock.Now()
	l.IsActive = false
	if err := tx.UpdateLobby(ctx, l); err != nil {
		return 0, fmt.Errorf("deactivate lobby: %w", err)
	}
	n, err := tx.DeclinePendingForLobby(ctx, l.ID, now)
	if err != nil {
		return 0, fmt.Errorf("decline pending requests: %w", err)
	}
	return n, nil
}

// CloseResult reports what CloseHostedLobby changed.
type CloseResult struct {
	LobbyID  uuid.UUID `json:"lobbyId"`
	Closed   bool      `json:"closed"`
	Declined int       `json:"declined"`
}

// CloseHostedLobby closes a lobby on behalf of its host. Closing an already
// closed lobby is a no-op.
func (s *Service) CloseHostedLobby(ctx context.Context, lobbyID, actorID uuid.UUID) (*CloseResult, error) {
	unlock := s.locks.lock(lobbyID)
	defer unlock()

	res := &CloseResult{LobbyID: lobbyID}
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		l, err := lockHostedLobby(ctx, tx, lobbyID, actorID)
		if err != nil {
			return err
		}
		if !l.IsActive {
			return nil
		}
		res.Declined, err = s.closeLocked(ctx, tx, l)
		res.Closed = err == nil
		return err
	})
	if err != nil {
		return nil, err
	}
	if res.Closed {
		s.publish(events.LobbyTopic(lobbyID), events.RosterUpdated, RosterUpdatedPayload{LobbyID: lobbyID, Action: RosterClosed}, false)
		s.logger.WithFields(logrus.Fields{"lobby_id": lobbyID, "declined": res.Declined}).Info("lobby closed")
	}
	return res, nil
}

// LeaveMembership removes userID from the roster, drops its chat participation and
// turns its ACCEPTED request back into DECLINED with no decider, all at once.
func (s *Service) LeaveMembership(ctx context.Context, lobbyID, userID uuid.UUID) error {
	unlock := s.locks.lock(lobbyID)
	defer unlock()

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		l, err := tx.LockLobby(ctx, lobbyID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("lobby not found")
		}
		if err != nil {
			return err
		}
		if l.HostUserID == userID {
			return apperr.Conflict("host must close the lobby instead of leaving")
		}
		removed, err := tx.DeleteMember(ctx, lobbyID, userID)
		if err != nil {
			return fmt.Errorf("delete member: %w", err)
		}
		if !removed {
			return apperr.NotFound("not a lobby member")
		}
		now := s.clock.Now()
		conv, err := tx.EnsureLobbyConversation(ctx, lobbyID, now)
		if err != nil {
			return err
		}
		if err := tx.RemoveParticipant(ctx, conv.ID, userID); err != nil {
			return fmt.Errorf("remove participant: %w", err)
		}
		if _, err := tx.DeclineAccepted(ctx, lobbyID, userID, now); err != nil {
			return fmt.Errorf("reverse accepted request: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	uid := userID
	s.publish(events.LobbyTopic(lobbyID), events.RosterUpdated, RosterUpdatedPayload{LobbyID: lobbyID, Action: RosterLeft, UserID: &uid}, false)
	return nil
}

// Release actions.
const (
	ActionClosed = "closed"
	ActionLeft   = "left"
	ActionNone   = "none"
)

// ReleaseCurrent closes the lobby userID hosts, or leaves the one it sits in.
// With neither it does nothing. Repeated calls are harmless.
func (s *Service) ReleaseCurrent(ctx context.Context, userID uuid.UUID) (string, *uuid.UUID, error) {
	cur, err := s.CurrentLobbyForUser(ctx, userID)
	if err != nil {
		return ActionNone, nil, err
	}
	if cur == nil {
		return ActionNone, nil, nil
	}
	lobbyID := cur.Lobby.ID
	if cur.IsHost {
		res, err := s.CloseHostedLobby(ctx, lobbyID, userID)
		if err != nil {
			return ActionNone, nil, err
		}
		if !res.Closed {
			return ActionNone, nil, nil
		}
		return ActionClosed, &lobbyID, nil
	}
	if err := s.LeaveMembership(ctx, lobbyID, userID); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return ActionNone, nil, nil
		}
		return ActionNone, nil, err
	}
	return ActionLeft, &lobbyID, nil
}

// WithdrawPendingRequests declines every PENDING request userID has open and
// tells each affected host.
func (s *Service) WithdrawPendingRequests(ctx context.Context, userID uuid.UUID) (int, error) {
	var withdrawn []models.JoinRequest
	hosts := make(map[uuid.UUID]uuid.UUID)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		withdrawn, err = tx.DeclinePendingByRequester(ctx, userID, s.clock.Now())
		if err != nil {
			return err
		}
		for _, r := range withdrawn {
			l, err := tx.GetLobby(ctx, r.LobbyID)
			if err != nil {
				return err
			}
			hosts[r.LobbyID] = l.HostUserID
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, r := range withdrawn {
		s.publish(events.HostTopic(hosts[r.LobbyID]), events.RequestDecided, decidedPayload(&r, false), false)
	}
	return len(withdrawn), nil
}

// Access describes how a user relates to a lobby it may observe.
type Access struct {
	Lobby  models.Lobby
	IsHost bool
}

// Access allows the host, a roster member, or a holder of an ACCEPTED request.
func (s *Service) Access(ctx context.Context, lobbyID, userID uuid.UUID) (*Access, error) {
	var acc *Access
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		acc, err = AccessTx(ctx, tx, lobbyID, userID)
		return err
	})
	return acc, err
}

// AccessTx is Access inside a caller owned transaction.
func AccessTx(ctx context.Context, tx store.Tx, lobbyID, userID uuid.UUID) (*Access, error) {
	l, err := tx.GetLobby(ctx, lobbyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("lobby not found")
	}
	if err != nil {
		return nil, err
	}
	if l.HostUserID == userID {
		return &Access{Lobby: *l, IsHost: true}, nil
	}
	if _, err := tx.GetMember(ctx, lobbyID, userID); err == nil {
		return &Access{Lobby: *l}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	req, err := tx.OpenJoinRequest(ctx, lobbyID, userID)
	if err == nil && req.Status == models.StatusAccepted {
		return &Access{Lobby: *l}, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return nil, apperr.Forbidden("no access to lobby")
}

func lockHostedLobby(ctx context.Context, tx store.Tx, lobbyID, actorID uuid.UUID) (*models.Lobby, error) {
	l, err := tx.LockLobby(ctx, lobbyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("lobby not found")
	}
	if err != nil {
		return nil, err
	}
	if l.HostUserID != actorID {
		return nil, apperr.Forbidden("not lobby host")
	}
	return l, nil
}

func requireOnboarded(ctx context.Context, tx store.Tx, userID uuid.UUID) error {
	u, err := tx.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Unauthenticated("unknown user")
	}
	if err != nil {
		return err
	}
	if u.IsBanned {
		return apperr.Forbidden("account is banned")
	}
	if !u.Onboarded() {
		return apperr.Forbidden("gamertag required")
	}
	return nil
}
