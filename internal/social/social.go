// internal/social/social.go
package social

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/apperr"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/store"
	"github.com/jason-s-yu/lobbyhub/internal/xp"
	"github.com/sirupsen/logrus"
)

// Service owns friend requests, friendships and blocks.
type Service struct {
	store  store.Store
	ledger *xp.Ledger
	clock  clock.Clock
	logger *logrus.Logger
}

func NewService(s store.Store, ledger *xp.Ledger, clk clock.Clock, logger *logrus.Logger) *Service {
	return &Service{store: s, ledger: ledger, clock: clk, logger: logger}
}

// SendFriendRequest opens a PENDING request from -> to. It fails with Conflict when
// the pair is already friends or a request is pending in either direction.
func (s *Service) SendFriendRequest(ctx context.Context, fromID, toID uuid.UUID) (*models.FriendRequest, error) {
	if fromID == toID {
		return nil, apperr.Conflict("cannot friend yourself")
	}
	req := &models.FriendRequest{
		ID:         uuid.New(),
		FromUserID: fromID,
		ToUserID:   toID,
		Status:     models.StatusPending,
		CreatedAt:  s.clock.Now(),
	}
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		target, err := tx.GetUser(ctx, toID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("user not found")
		}
		if err != nil {
			return err
		}
		if target.IsBanned {
			return apperr.Forbidden("user unavailable")
		}

		a, b := models.CanonicalPair(fromID, toID)
		if _, err := tx.GetFriendship(ctx, a, b); err == nil {
			return apperr.Conflict("already friends")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if _, err := tx.PendingFriendRequestBetween(ctx, fromID, toID); err == nil {
			return apperr.Conflict("friend request already pending")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if err := tx.InsertFriendRequest(ctx, req); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.Conflict("friend request already pending")
			}
			return fmt.Errorf("insert friend request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// AcceptFriendRequest lets the recipient accept. The friendship row is created if
// absent, so concurrent accepts of crossing requests settle on one row.
func (s *Service) AcceptFriendRequest(ctx context.Context, requestID, actorID uuid.UUID) (*models.Friendship, error) {
	var friendship *models.Friendship
	var req *models.FriendRequest
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		req, err = s.decide(ctx, tx, requestID, actorID, models.StatusAccepted)
		if err != nil {
			return err
		}
		a, b := models.CanonicalPair(req.FromUserID, req.ToUserID)
		friendship = &models.Friendship{UserAID: a, UserBID: b, CreatedAt: s.clock.Now()}
		created, err := tx.InsertFriendship(ctx, friendship)
		if err != nil {
			return fmt.Errorf("insert friendship: %w", err)
		}
		if !created {
			friendship, err = tx.GetFriendship(ctx, a, b)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Each side is capped on its own daily count.
	for _, uid := range []uuid.UUID{req.FromUserID, req.ToUserID} {
		g := xp.Grant{UserID: uid, Kind: models.XpFriendAccepted, Amount: xp.FriendAcceptedXP, Meta: map[string]string{"requestId": req.ID.String()}}
		if _, err := s.ledger.AwardCapped(ctx, g, xp.FriendAcceptedDailyCap); err != nil {
			s.logger.WithFields(logrus.Fields{"user_id": uid, "error": err}).Warn("friend xp award failed")
		}
	}
	return friendship, nil
}

// DeclineFriendRequest lets the recipient turn a request down.
func (s *Service) DeclineFriendRequest(ctx context.Context, requestID, actorID uuid.UUID) (*models.FriendRequest, error) {
	var req *models.FriendRequest
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		req, err = s.decide(ctx, tx, requestID, actorID, models.StatusDeclined)
		return err
	})
	return req, err
}

func (s *Service) decide(ctx context.Context, tx store.Tx, requestID, actorID uuid.UUID, status models.RequestStatus) (*models.FriendRequest, error) {
	req, err := tx.LockFriendRequest(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("friend request not found")
	}
	if err != nil {
		return nil, err
	}
	if req.ToUserID != actorID {
		return nil, apperr.Forbidden("only the recipient can decide")
	}
	if req.Status != models.StatusPending {
		return nil, apperr.Conflict("friend request already decided")
	}
	now := s.clock.Now()
	req.Status = status
	req.DecidedAt = &now
	if err := tx.UpdateFriendRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("update friend request: %w", err)
	}
	return req, nil
}

// RemoveFriendship deletes the pair. A missing friendship is reported as NotFound.
func (s *Service) RemoveFriendship(ctx context.Context, userID, targetID uuid.UUID) error {
	if userID == targetID {
		return apperr.Invalid("cannot unfriend yourself")
	}
	a, b := models.CanonicalPair(userID, targetID)
	return s.store.InTx(ctx, func(tx store.Tx) error {
		removed, err := tx.DeleteFriendship(ctx, a, b)
		if err != nil {
			return fmt.Errorf("delete friendship: %w", err)
		}
		if !removed {
			return apperr.NotFound("friendship not found")
		}
		return nil
	})
}

// ListFriends returns the ids of userID's friends.
func (s *Service) ListFriends(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		rows, err := tx.ListFriendships(ctx, userID)
		if err != nil {
			return err
		}
		out = make([]uuid.UUID, 0, len(rows))
		for _, f := range rows {
			out = append(out, f.Other(userID))
		}
		return nil
	})
	return out, err
}

// Block is idempotent.
func (s *Service) Block(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	if blockerID == blockedID {
		return apperr.Invalid("cannot block yourself")
	}
	return s.store.InTx(ctx, func(tx store.Tx) error {
		return tx.UpsertBlock(ctx, &models.Block{BlockerUserID: blockerID, BlockedUserID: blockedID, CreatedAt: s.clock.Now()})
	})
}

// Unblock is idempotent.
func (s *Service) Unblock(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	return s.store.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.DeleteBlock(ctx, blockerID, blockedID)
		return err
	})
}

func (s *Service) IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	var blocked bool
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		blocked, err = tx.IsBlocked(ctx, blockerID, blockedID)
		return err
	})
	return blocked, err
}
