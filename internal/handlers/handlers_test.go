package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/auth"
	"github.com/jason-s-yu/lobbyhub/internal/events"
	"github.com/jason-s-yu/lobbyhub/internal/lobby"
	"github.com/jason-s-yu/lobbyhub/internal/maintenance"
	"github.com/jason-s-yu/lobbyhub/internal/metrics"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/presence"
	"github.com/jason-s-yu/lobbyhub/internal/realtime"
	"github.com/jason-s-yu/lobbyhub/internal/social"
	"github.com/jason-s-yu/lobbyhub/internal/store"
	"github.com/jason-s-yu/lobbyhub/internal/xp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cronSecret = "cron-test-secret"

type fixture struct {
	handler  http.Handler
	store    *store.MemoryStore
	sessions *auth.Sessions
	clock    *clock.Mock
	lobbies  *lobby.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := store.NewMemoryStore()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 7, 4, 19, 30, 0, 0, time.UTC))
	sessions, err := auth.NewSessions(time.Hour, clk)
	require.NoError(t, err)

	m := metrics.New()
	bus := events.NewBus(events.NewHub(events.DefaultBuffer), nil, "test", logger, m)
	ledger := xp.NewLedger(s, clk, logger)
	lobbies := lobby.NewService(s, bus, ledger, clk, logger, m, lobby.DefaultConfig())
	tracker := presence.NewTracker(presence.NewMemoryStore(), lobbies, clk, logger, m, presence.DefaultTTL)

	srv := NewServer(Deps{
		Store:      s,
		Sessions:   sessions,
		Lobbies:    lobbies,
		Social:     social.NewService(s, ledger, clk, logger),
		Presence:   tracker,
		Bus:        bus,
		Authorizer: realtime.NewAuthorizer(s, []byte("rt-secret"), time.Hour, clk),
		Janitor:    maintenance.NewJanitor(lobbies, tracker, s, clk, logger, 0),
		Metrics:    m,
		Logger:     logger,
		Clock:      clk,
		CronSecret: cronSecret,
	})
	return &fixture{handler: srv.Routes(), store: s, sessions: sessions, clock: clk, lobbies: lobbies}
}

// user seeds an onboarded account and returns its id and a session token.
func (f *fixture) user(t *testing.T, tag string) (uuid.UUID, string) {
	t.Helper()
	id := uuid.New()
	f.store.PutUser(models.User{ID: id, Gamertag: &tag})
	token, err := f.sessions.Create(id)
	require.NoError(t, err)
	return id, token
}

func (f *fixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	return decode[map[string]string](t, w)["error"]
}

func TestAuthRequired(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodGet, "/lobbies/current", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "missing auth_token", errorOf(t, w))

	w = f.do(t, http.MethodGet, "/lobbies/current", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	tag := "cheater"
	banned := uuid.New()
	f.store.PutUser(models.User{ID: banned, Gamertag: &tag, IsBanned: true})
	token, err := f.sessions.Create(banned)
	require.NoError(t, err)
	w = f.do(t, http.MethodGet, "/lobbies/current", token, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	_, good := f.user(t, "legit")
	req := httptest.NewRequest(http.MethodGet, "/lobbies/current", nil)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: good})
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"lobby":null,"isHost":false}`, rec.Body.String())
}

func TestLobbyFlow(t *testing.T) {
	f := setup(t)
	host, hostToken := f.user(t, "host")
	_, playerToken := f.user(t, "player")

	w := f.do(t, http.MethodPost, "/lobbies", hostToken, `{"title":"Team Slayer","slotsTotal":8}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	l := decode[models.Lobby](t, w)
	assert.Equal(t, host, l.HostUserID)

	w = f.do(t, http.MethodPost, "/lobbies", hostToken, `{"title":"Again"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/lobbies/"+l.ID.String()+"/requests", playerToken, `{"note":"gg"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	req := decode[models.JoinRequest](t, w)

	w = f.do(t, http.MethodPost, "/requests/"+req.ID.String()+"/accept", playerToken, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/requests/"+req.ID.String()+"/accept", hostToken, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusAccepted, decode[models.JoinRequest](t, w).Status)

	w = f.do(t, http.MethodGet, "/lobbies/current", playerToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	cur := decode[lobby.Current](t, w)
	assert.Equal(t, l.ID, cur.Lobby.ID)
	assert.False(t, cur.IsHost)

	w = f.do(t, http.MethodPost, "/lobbies/"+l.ID.String()+"/messages", playerToken, `{"body":"hi"}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/lobbies/"+l.ID.String()+"/telemetry", playerToken, `{"playerCount":4}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = f.do(t, http.MethodPost, "/lobbies/"+l.ID.String()+"/telemetry", hostToken, `{"playerCount":40,"mapName":" Aquarius "}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"playerCount":16`)

	w = f.do(t, http.MethodPost, "/lobbies/"+l.ID.String()+"/leave", playerToken, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/lobbies/"+l.ID.String()+"/close", hostToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[lobby.CloseResult](t, w).Closed)

	w = f.do(t, http.MethodPost, "/lobbies/"+l.ID.String()+"/heartbeat", hostToken, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/lobbies/not-a-uuid/close", hostToken, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLeaveAndCreate(t *testing.T) {
	f := setup(t)
	_, hostToken := f.user(t, "host")

	w := f.do(t, http.MethodPost, "/lobbies", hostToken, `{"title":"First"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	first := decode[models.Lobby](t, w)

	w = f.do(t, http.MethodPost, "/lobbies/leave-and-create", hostToken, `{"title":"Second"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var out struct {
		Released struct {
			Action  string     `json:"action"`
			LobbyID *uuid.UUID `json:"lobbyId"`
		} `json:"released"`
		Lobby models.Lobby `json:"lobby"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, lobby.ActionClosed, out.Released.Action)
	assert.Equal(t, first.ID, *out.Released.LobbyID)
	assert.Equal(t, "Second", out.Lobby.Title)
}

func TestPresenceEndpoints(t *testing.T) {
	f := setup(t)
	_, token := f.user(t, "player")

	w := f.do(t, http.MethodGet, "/presence", token, "")
	assert.JSONEq(t, `{"presence":null}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/presence/heartbeat", token, `{"overlayInstanceId":"ov-9"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[presence.HeartbeatResult](t, w)
	require.NotNil(t, res.Record)
	assert.False(t, res.Record.IsHosting)

	w = f.do(t, http.MethodPost, "/presence/heartbeat", token, `{bad json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/presence/shutdown", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, lobby.ActionNone, decode[presence.CleanupResult](t, w).Action)
}

func TestFriendFlow(t *testing.T) {
	f := setup(t)
	alice, aliceToken := f.user(t, "alice")
	bob, bobToken := f.user(t, "bob")

	w := f.do(t, http.MethodPost, "/friends/request", aliceToken, `{"userId":"`+bob.String()+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	fr := decode[models.FriendRequest](t, w)

	w = f.do(t, http.MethodPost, "/friends/accept", aliceToken, `{"requestId":"`+fr.ID.String()+`"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/friends/accept", bobToken, `{"requestId":"`+fr.ID.String()+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/friends", bobToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []uuid.UUID{alice}, decode[map[string][]uuid.UUID](t, w)["friends"])

	w = f.do(t, http.MethodPost, "/friends/remove", aliceToken, `{"userId":"`+bob.String()+`"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodPost, "/users/"+alice.String()+"/block", bobToken, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, http.MethodPost, "/users/"+alice.String()+"/unblock", bobToken, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodPost, "/friends/request", aliceToken, `{"userId":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRealtimeAuth(t *testing.T) {
	f := setup(t)
	_, hostToken := f.user(t, "host")
	_, strangerToken := f.user(t, "stranger")

	w := f.do(t, http.MethodPost, "/lobbies", hostToken, `{"title":"Customs"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	l := decode[models.Lobby](t, w)

	w = f.do(t, http.MethodGet, "/realtime/auth?lobbyId="+l.ID.String()+"&browseTelemetry=1", hostToken, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	desc := decode[realtime.TokenDescriptor](t, w)
	assert.True(t, desc.Capability.Allows("lobby:"+l.ID.String(), realtime.CapSubscribe))
	assert.True(t, desc.Capability.Allows("lobbies:telemetry", realtime.CapSubscribe))

	w = f.do(t, http.MethodGet, "/realtime/auth?lobbyId="+l.ID.String(), strangerToken, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	w = f.do(t, http.MethodGet, "/realtime/auth?dmId=zzz", hostToken, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCronCleanup(t *testing.T) {
	f := setup(t)
	_, hostToken := f.user(t, "host")
	w := f.do(t, http.MethodPost, "/lobbies", hostToken, `{"title":"Stale"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/cron/cleanup", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	f.clock.Add(45 * time.Minute)
	w = f.do(t, http.MethodGet, "/cron/cleanup", cronSecret, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rep := decode[maintenance.Report](t, w)
	assert.Equal(t, 1, rep.ExpiredLobbies)
}

func TestHealthAndMetrics(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "lobbyhub_http_requests_total")
}

// sseReader yields (event, data) pairs from a text/event-stream body.
type sseReader struct{ sc *bufio.Scanner }

func (r *sseReader) next(t *testing.T) (string, string) {
	t.Helper()
	var name, data string
	for r.sc.Scan() {
		line := r.sc.Text()
		switch {
		case line == "":
			if name != "" || data != "" {
				return name, data
			}
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	t.Fatalf("stream ended: %v", r.sc.Err())
	return "", ""
}

func TestLobbyEventStream(t *testing.T) {
	f := setup(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	host, hostToken := f.user(t, "host")
	player, _ := f.user(t, "player")
	_, strangerToken := f.user(t, "stranger")
	l, err := f.lobbies.Create(context.Background(), host, lobby.CreateInput{Title: "Customs"})
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/lobbies/"+l.ID.String()+"/events", strangerToken, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/lobbies/"+l.ID.String()+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+hostToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	r := &sseReader{sc: bufio.NewScanner(resp.Body)}
	name, _ := r.next(t)
	require.Equal(t, "ready", name)

	_, err = f.lobbies.CreateJoinRequest(context.Background(), l.ID, player, lobby.JoinInput{Note: "hi"})
	require.NoError(t, err)

	name, data := r.next(t)
	assert.Equal(t, events.RequestCreated, name)
	assert.Contains(t, data, player.String())
}
