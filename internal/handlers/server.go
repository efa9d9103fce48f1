// internal/handlers/server.go
package handlers

import (
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jason-s-yu/lobbyhub/internal/auth"
	"github.com/jason-s-yu/lobbyhub/internal/events"
	"github.com/jason-s-yu/lobbyhub/internal/lobby"
	"github.com/jason-s-yu/lobbyhub/internal/maintenance"
	"github.com/jason-s-yu/lobbyhub/internal/metrics"
	"github.com/jason-s-yu/lobbyhub/internal/middleware"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/presence"
	"github.com/jason-s-yu/lobbyhub/internal/realtime"
	"github.com/jason-s-yu/lobbyhub/internal/social"
	"github.com/jason-s-yu/lobbyhub/internal/store"
	"github.com/sirupsen/logrus"
)

const userCacheSize = 4096

// Deps is everything the HTTP surface is wired to.
type Deps struct {
	Store      store.Store
	Sessions   *auth.Sessions
	Lobbies    *lobby.Service
	Social     *social.Service
	Presence   *presence.Tracker
	Bus        *events.Bus
	Authorizer *realtime.Authorizer
	Gateway    http.Handler
	Janitor    *maintenance.Janitor
	Metrics    *metrics.Metrics
	Logger     *logrus.Logger
	Clock      clock.Clock

	CronSecret   string
	StreamPing   time.Duration
	UserCacheTTL time.Duration
}

// Server owns the HTTP routes.
type Server struct {
	store      store.Store
	sessions   *auth.Sessions
	lobbies    *lobby.Service
	social     *social.Service
	presence   *presence.Tracker
	bus        *events.Bus
	authorizer *realtime.Authorizer
	gateway    http.Handler
	janitor    *maintenance.Janitor
	metrics    *metrics.Metrics
	logger     *logrus.Logger
	clock      clock.Clock

	cronSecret string
	streamPing time.Duration
	users      *expirable.LRU[uuid.UUID, models.User]
}

func NewServer(d Deps) *Server {
	if d.StreamPing <= 0 {
		d.StreamPing = 15 * time.Second
	}
	if d.UserCacheTTL <= 0 {
		d.UserCacheTTL = 5 * time.Second
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	return &Server{
		store:      d.Store,
		sessions:   d.Sessions,
		lobbies:    d.Lobbies,
		social:     d.Social,
		presence:   d.Presence,
		bus:        d.Bus,
		authorizer: d.Authorizer,
		gateway:    d.Gateway,
		janitor:    d.Janitor,
		metrics:    d.Metrics,
		logger:     d.Logger,
		clock:      d.Clock,
		cronSecret: d.CronSecret,
		streamPing: d.StreamPing,
		users:      expirable.NewLRU[uuid.UUID, models.User](userCacheSize, nil, d.UserCacheTTL),
	}
}

// Routes builds the mux wrapped in request logging and metrics.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /presence", s.authed(s.getPresence))
	mux.HandleFunc("POST /presence/heartbeat", s.authed(s.presenceHeartbeat))
	mux.HandleFunc("POST /presence/shutdown", s.authed(s.presenceShutdown))

	mux.HandleFunc("POST /lobbies", s.authed(s.createLobby))
	mux.HandleFunc("GET /lobbies/current", s.authed(s.currentLobby))
	mux.HandleFunc("POST /lobbies/leave-and-create", s.authed(s.leaveAndCreate))
	mux.HandleFunc("POST /lobbies/{id}/heartbeat", s.authed(s.lobbyHeartbeat))
	mux.HandleFunc("POST /lobbies/{id}/close", s.authed(s.closeLobby))
	mux.HandleFunc("POST /lobbies/{id}/leave", s.authed(s.leaveLobby))
	mux.HandleFunc("POST /lobbies/{id}/requests", s.authed(s.createJoinRequest))
	mux.HandleFunc("POST /lobbies/{id}/messages", s.authed(s.postMessage))
	mux.HandleFunc("POST /lobbies/{id}/telemetry", s.authed(s.updateTelemetry))
	mux.HandleFunc("GET /lobbies/{id}/events", s.authed(s.lobbyEvents))
	mux.HandleFunc("GET /host/events", s.authed(s.hostEvents))

	mux.HandleFunc("POST /requests/{id}/accept", s.authed(s.decideJoinRequest(lobby.DecisionAccept)))
	mux.HandleFunc("POST /requests/{id}/decline", s.authed(s.decideJoinRequest(lobby.DecisionDecline)))
	mux.HandleFunc("POST /requests/{id}/block", s.authed(s.decideJoinRequest(lobby.DecisionBlock)))

	mux.HandleFunc("GET /realtime/auth", s.authed(s.realtimeAuth))
	if s.gateway != nil {
		mux.Handle("GET /realtime/ws", s.gateway)
	}

	mux.HandleFunc("GET /friends", s.authed(s.listFriends))
	mux.HandleFunc("POST /friends/request", s.authed(s.sendFriendRequest))
	mux.HandleFunc("POST /friends/accept", s.authed(s.acceptFriendRequest))
	mux.HandleFunc("POST /friends/decline", s.authed(s.declineFriendRequest))
	mux.HandleFunc("POST /friends/remove", s.authed(s.removeFriend))
	mux.HandleFunc("POST /users/{id}/block", s.authed(s.blockUser))
	mux.HandleFunc("POST /users/{id}/unblock", s.authed(s.unblockUser))

	mux.HandleFunc("GET /cron/cleanup", s.cronCleanup)
	mux.HandleFunc("POST /cron/cleanup", s.cronCleanup)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return middleware.LogMiddleware(s.logger)(middleware.MetricsMiddleware(s.metrics)(mux))
}
