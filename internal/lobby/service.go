// internal/lobby/service.go
package lobby

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/events"
	"github.com/jason-s-yu/lobbyhub/internal/metrics"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/store"
	"github.com/jason-s-yu/lobbyhub/internal/xp"
	"github.com/sirupsen/logrus"
)

// Config holds the lifecycle timings and limits.
type Config struct {
	// LobbyTTL is the initial lifetime of a new lobby.
	LobbyTTL time.Duration
	// HeartbeatExtension is how far a host heartbeat pushes expiresAt out.
	HeartbeatExtension time.Duration
	// ActiveRewardAfter is the lobby age that earns the one-time activity reward.
	ActiveRewardAfter time.Duration

	MaxPendingRequests int
	CreatesPerMinute   int
	JoinsPerMinute     int
	JoinsPerHour       int
}

func DefaultConfig() Config {
	return Config{
		LobbyTTL:           30 * time.Minute,
		HeartbeatExtension: 30 * time.Minute,
		ActiveRewardAfter:  20 * time.Minute,
		MaxPendingRequests: 20,
		CreatesPerMinute:   3,
		JoinsPerMinute:     5,
		JoinsPerHour:       30,
	}
}

// Rate limit keys.
const (
	rateLobbyCreate = "lobby_create"
	rateJoinRequest = "join_request"
)

// Service is the lobby lifecycle and membership state machine. Every multi-row
// transition runs in one store transaction; events go out after commit while the
// lobby's local lock is still held.
type Service struct {
	store   store.Store
	bus     events.Publisher
	ledger  *xp.Ledger
	clock   clock.Clock
	logger  *logrus.Logger
	metrics *metrics.Metrics
	cfg     Config
	locks   *lockTable
}

func NewService(s store.Store, bus events.Publisher, ledger *xp.Ledger, clk clock.Clock, logger *logrus.Logger, m *metrics.Metrics, cfg Config) *Service {
	return &Service{
		store:   s,
		bus:     bus,
		ledger:  ledger,
		clock:   clk,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
		locks:   newLockTable(),
	}
}

func (s *Service) publish(topic events.Topic, name string, payload any, hostOnly bool) {
	ev, err := events.New(topic, name, payload)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"topic": topic, "event": name, "error": err}).Error("encode event")
		return
	}
	ev.At = s.clock.Now()
	ev.HostOnly = hostOnly
	s.bus.Publish(ev)
}

// award runs an idempotent xp grant after a transition committed. Failures only log.
func (s *Service) award(ctx context.Context, userID uuid.UUID, kind models.XpKind, amount int, lobbyID uuid.UUID) bool {
	res, err := s.ledger.AwardOnce(ctx, xp.Grant{
		UserID: userID,
		Kind:   kind,
		Amount: amount,
		Meta:   map[string]string{"lobbyId": lobbyID.String()},
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"user_id":  userID,
			"lobby_id": lobbyID,
			"kind":     kind,
			"error":    err,
		}).Warn("xp award failed")
		return false
	}
	return res.Awarded
}

// limited reports whether userID has at least limit events for key inside window.
func (s *Service) limited(ctx context.Context, tx store.Tx, userID uuid.UUID, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	n, err := tx.CountRateEvents(ctx, userID, key, s.clock.Now().Add(-window))
	if err != nil {
		return false, err
	}
	return n >= limit, nil
}
