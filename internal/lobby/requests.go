// internal/lobby/requests.go
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
)

const maxNoteLen = 280

// Decision is a host's answer to a join request.
type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
	DecisionBlock   Decision = "block"
)

// JoinInput is the requester supplied part of a join request.
type JoinInput struct {
	Note string `json:"note"`
}

// CreateJoinRequest files a PENDING request from requesterID to join lobbyID and
// notifies the host.
func (s *Service) CreateJoinRequest(ctx context.Context, lobbyID, requesterID uuid.UUID, in JoinInput) (*models.JoinRequest, error) {
	var note *string
	if n := strings.TrimSpace(in.Note); n != "" {
		if utf8.RuneCountInString(n) > maxNoteLen {
			return nil, apperr.Invalid("note too long")
		}
		note = &n
	}

	unlock := s.locks.lock(lobbyID)
	defer unlock()

	now := s.clock.Now()
	req := &models.JoinRequest{
		ID:              uuid.New(),
		LobbyID:         lobbyID,
		RequesterUserID: requesterID,
		Note:            note,
		Status:          models.StatusPending,
		CreatedAt:       now,
	}
	var lobby *models.Lobby
	var gamertag string

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := requireOnboarded(ctx, tx, requesterID); err != nil {
			return err
		}
		requester, err := tx.GetUser(ctx, requesterID)
		if err != nil {
			return err
		}
		gamertag = *requester.Gamertag

		lobby, err = tx.LockLobby(ctx, lobbyID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("lobby not found")
		}
		if err != nil {
			return err
		}
		if !lobby.Open(now) {
			return apperr.NotFound("lobby not available")
		}
		if lobby.HostUserID == requesterID {
			return apperr.Conflict("cannot request your own lobby")
		}

		blocked, err := tx.IsBlocked(ctx, lobby.HostUserID, requesterID)
		if err != nil {
			return err
		}
		if blocked {
			return apperr.Forbidden("blocked by host")
		}

		if _, err := tx.OpenJoinRequest(ctx, lobbyID, requesterID); err == nil {
			return apperr.Conflict("request already exists")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if limited, err := s.limited(ctx, tx, requesterID, rateJoinRequest, s.cfg.JoinsPerMinute, time.Minute); err != nil {
			return err
		} else if limited {
			return apperr.RateLimited("too many join requests, slow down")
		}
		if limited, err := s.limited(ctx, tx, requesterID, rateJoinRequest, s.cfg.JoinsPerHour, time.Hour); err != nil {
			return err
		} else if limited {
			return apperr.RateLimited("hourly join request limit reached")
		}

		pending, err := tx.CountPendingJoinRequests(ctx, lobbyID)
		if err != nil {
			return err
		}
		if s.cfg.MaxPendingRequests > 0 && pending >= s.cfg.MaxPendingRequests {
			return apperr.RateLimited("lobby has too many pending requests")
		}

		if err := tx.InsertJoinRequest(ctx, req); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.Conflict("request already exists")
			}
			return fmt.Errorf("insert join request: %w", err)
		}
		return tx.InsertRateEvent(ctx, requesterID, rateJoinRequest, now)
	})
	if err != nil {
		return nil, err
	}

	payload := RequestCreatedPayload{
		RequestID:         req.ID,
		LobbyID:           lobbyID,
		RequesterUserID:   requesterID,
		RequesterGamertag: gamertag,
		Note:              note,
		CreatedAt:         now,
	}
	s.publish(events.HostTopic(lobby.HostUserID), events.RequestCreated, payload, false)
	s.publish(events.LobbyTopic(lobbyID), events.RequestCreated, payload, true)

	s.award(ctx, requesterID, models.XpJoinRequestCreated, xp.JoinRequestCreatedXP, lobbyID)
	return req, nil
}

// AcceptJoinRequest admits the requester to the roster.
func (s *Service) AcceptJoinRequest(ctx context.Context, requestID, actorID uuid.UUID) (*models.JoinRequest, error) {
	return s.Decide(ctx, requestID, actorID, DecisionAccept)
}

// DeclineJoinRequest turns the request down.
func (s *Service) DeclineJoinRequest(ctx context.Context, requestID, actorID uuid.UUID) (*models.JoinRequest, error) {
	return s.Decide(ctx, requestID, actorID, DecisionDecline)
}

// BlockRequester declines the request if still pending and blocks the requester
// from the host's lobbies. Blocking twice is not an error.
func (s *Service) BlockRequester(ctx context.Context, requestID, actorID uuid.UUID) (*models.JoinRequest, error) {
	return s.Decide(ctx, requestID, actorID, DecisionBlock)
}

// Decide applies a host decision. Only the host of the request's lobby may decide,
// and only PENDING requests can be accepted or declined.
func (s *Service) Decide(ctx context.Context, requestID, actorID uuid.UUID, d Decision) (*models.JoinRequest, error) {
	var lobbyID uuid.UUID
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		r, err := tx.GetJoinRequest(ctx, requestID)
		if err != nil {
			return err
		}
		lobbyID = r.LobbyID
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("request not found")
	}
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(lobbyID)
	defer unlock()

	var req *models.JoinRequest
	changed := false
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		// Lobby first, then request: the same order close uses.
		l, err := lockHostedLobby(ctx, tx, lobbyID, actorID)
		if err != nil {
			return err
		}
		req, err = tx.LockJoinRequest(ctx, requestID)
		if err != nil {
			return err
		}
		now := s.clock.Now()

		switch d {
		case DecisionAccept:
			if req.Status != models.StatusPending {
				return apperr.Conflict("request already decided")
			}
			if !l.Open(now) {
				return apperr.Conflict("lobby is no longer open")
			}
			if err := s.markDecided(ctx, tx, req, models.StatusAccepted, actorID); err != nil {
				return err
			}
			if err := tx.InsertMember(ctx, &models.LobbyMember{LobbyID: lobbyID, UserID: req.RequesterUserID, JoinedAt: now}); err != nil {
				return fmt.Errorf("insert member: %w", err)
			}
			conv, err := tx.EnsureLobbyConversation(ctx, lobbyID, now)
			if err != nil {
				return err
			}
			if err := tx.AddParticipant(ctx, conv.ID, req.RequesterUserID, now); err != nil {
				return fmt.Errorf("add participant: %w", err)
			}
			changed = true

		case DecisionDecline:
			if req.Status != models.StatusPending {
				return apperr.Conflict("request already decided")
			}
			if err := s.markDecided(ctx, tx, req, models.StatusDeclined, actorID); err != nil {
				return err
			}
			changed = true

		case DecisionBlock:
			if err := tx.UpsertBlock(ctx, &models.Block{BlockerUserID: actorID, BlockedUserID: req.RequesterUserID, CreatedAt: now}); err != nil {
				return fmt.Errorf("upsert block: %w", err)
			}
			if req.Status == models.StatusPending {
				if err := s.markDecided(ctx, tx, req, models.StatusDeclined, actorID); err != nil {
					return err
				}
				changed = true
			}

		default:
			return apperr.Invalid("unknown decision")
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("request not found")
	}
	if err != nil {
		return nil, err
	}

	if changed {
		if d == DecisionAccept {
			uid := req.RequesterUserID
			s.publish(events.LobbyTopic(lobbyID), events.RosterUpdated, RosterUpdatedPayload{LobbyID: lobbyID, Action: RosterJoined, UserID: &uid}, false)
		}
		payload := decidedPayload(req, d == DecisionBlock)
		s.publish(events.HostTopic(actorID), events.RequestDecided, payload, false)
		s.publish(events.HostTopic(req.RequesterUserID), events.RequestDecided, payload, false)
	}
	s.logger.WithFields(logrus.Fields{
		"lobby_id":   lobbyID,
		"request_id": requestID,
		"decision":   d,
		"status":     req.Status,
	}).Info("join request decided")
	return req, nil
}

func (s *Service) markDecided(ctx context.Context, tx store.Tx, req *models.JoinRequest, status models.RequestStatus, actorID uuid.UUID) error {
	now := s.clock.Now()
	decider := actorID
	req.Status = status
	req.DecidedAt = &now
	req.DecidedByUserID = &decider
	if err := tx.UpdateJoinRequest(ctx, req); err != nil {
		return fmt.Errorf("update join request: %w", err)
	}
	return nil
}

func decidedPayload(r *models.JoinRequest, blocked bool) RequestDecidedPayload {
	return RequestDecidedPayload{
		RequestID:       r.ID,
		LobbyID:         r.LobbyID,
		RequesterUserID: r.RequesterUserID,
		Status:          r.Status,
		Blocked:         blocked,
		DecidedAt:       r.DecidedAt,
	}
}
