// internal/xp/xp.go
package xp

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/store"
	"github.com/sirupsen/logrus"
)

// MaxLevel is the highest reachable SR level.
const MaxLevel = 100

// Award amounts.
const (
	HostLobbyCreatedXP   = 25
	LobbyActiveXP        = 50
	JoinRequestCreatedXP = 15
	FriendAcceptedXP     = 50

	// FriendAcceptedDailyCap bounds FRIEND_ACCEPTED grants per user per UTC day.
	FriendAcceptedDailyCap = 10
)

// Required returns the xp needed to advance from level to level+1.
func Required(level int) int {
	return 150 + 25*level + 10*level*level
}

// LevelFor converts a running total into (level, xp into that level).
func LevelFor(total int) (int, int) {
	level := 1
	remaining := max(0, total)
	for level < MaxLevel {
		need := Required(level)
		if remaining < need {
			break
		}
		remaining -= need
		level++
	}
	return level, remaining
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Grant describes one ledger entry to write.
type Grant struct {
	UserID uuid.UUID
	Kind   models.XpKind
	Amount int
	Meta   map[string]string
}

// Result reports whether a grant was written and the user's totals after it.
type Result struct {
	Awarded bool `json:"awarded"`
	XPTotal int  `json:"xpTotal"`
	SRLevel int  `json:"srLevel"`
}

// Ledger writes xp grants. Every check-then-insert runs with the user row locked,
// so retries and concurrent callers cannot double award or overrun a cap.
type Ledger struct {
	store  store.Store
	clock  clock.Clock
	logger *logrus.Logger
}

func NewLedger(s store.Store, clk clock.Clock, logger *logrus.Logger) *Ledger {
	return &Ledger{store: s, clock: clk, logger: logger}
}

// AwardOnce writes g unless an event with the same kind and meta already exists.
func (l *Ledger) AwardOnce(ctx context.Context, g Grant) (Result, error) {
	var res Result
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = l.AwardOnceTx(ctx, tx, g)
		return err
	})
	return res, err
}

// AwardOnceTx is AwardOnce inside a caller owned transaction.
func (l *Ledger) AwardOnceTx(ctx context.Context, tx store.Tx, g Grant) (Result, error) {
	user, err := tx.LockUser(ctx, g.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("lock user %s: %w", g.UserID, err)
	}
	seen, err := tx.HasXpEvent(ctx, g.UserID, g.Kind, g.Meta)
	if err != nil {
		return Result{}, err
	}
	if seen {
		return Result{XPTotal: user.XPTotal, SRLevel: user.SRLevel}, nil
	}
	return l.apply(ctx, tx, user, g)
}

// AwardCapped writes g unless the user already has perDay grants of that kind today.
func (l *Ledger) AwardCapped(ctx context.Context, g Grant, perDay int) (Result, error) {
	var res Result
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		user, err := tx.LockUser(ctx, g.UserID)
		if err != nil {
			return fmt.Errorf("lock user %s: %w", g.UserID, err)
		}
		n, err := tx.CountXpEvents(ctx, g.UserID, g.Kind, StartOfDay(l.clock.Now()))
		if err != nil {
			return err
		}
		if n >= perDay {
			res = Result{XPTotal: user.XPTotal, SRLevel: user.SRLevel}
			return nil
		}
		res, err = l.apply(ctx, tx, user, g)
		return err
	})
	return res, err
}

func (l *Ledger) apply(ctx context.Context, tx store.Tx, user *models.User, g Grant) (Result, error) {
	if g.Amount == 0 {
		return Result{XPTotal: user.XPTotal, SRLevel: user.SRLevel}, nil
	}
	total := max(0, user.XPTotal+g.Amount)
	level, _ := LevelFor(total)
	if err := tx.UpdateUserXP(ctx, user.ID, total, level); err != nil {
		return Result{}, fmt.Errorf("update xp: %w", err)
	}
	ev := &models.XpEvent{
		ID:        uuid.New(),
		UserID:    user.ID,
		Kind:      g.Kind,
		Amount:    g.Amount,
		Meta:      g.Meta,
		CreatedAt: l.clock.Now(),
	}
	if err := tx.InsertXpEvent(ctx, ev); err != nil {
		return Result{}, fmt.Errorf("insert xp event: %w", err)
	}
	l.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"kind":    g.Kind,
		"amount":  g.Amount,
		"total":   total,
	}).Debug("xp awarded")
	return Result{Awarded: true, XPTotal: total, SRLevel: level}, nil
}
