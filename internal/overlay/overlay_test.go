package overlay

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/auth"
	"github.com/jason-s-yu/lobbyhub/internal/events"
	"github.com/jason-s-yu/lobbyhub/internal/handlers"
	"github.com/jason-s-yu/lobbyhub/internal/lobby"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/presence"
	"github.com/jason-s-yu/lobbyhub/internal/store"
	"github.com/jason-s-yu/lobbyhub/internal/telemetry"
	"github.com/jason-s-yu/lobbyhub/internal/xp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScannerParsesStream(t *testing.T) {
	raw := ": comment\n" +
		"event:ready\ndata:{\"topic\":\"lobby:x\"}\n\n" +
		"event: telemetry\r\ndata: {\"a\":1,\r\ndata: \"b\":2}\r\n\r\n" +
		"\n\n" +
		"id: 7\nretry: 100\ndata:tail"
	sc := NewScanner(strings.NewReader(raw))

	var got []Event
	for sc.Next() {
		got = append(got, sc.Event())
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []Event{
		{Name: "ready", Data: `{"topic":"lobby:x"}`},
		{Name: "telemetry", Data: "{\"a\":1,\n\"b\":2}"},
		{Name: "", Data: "tail"},
	}, got)
	assert.False(t, sc.Next())
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("reset") }

func TestScannerReportsReadError(t *testing.T) {
	sc := NewScanner(errReader{})
	assert.False(t, sc.Next())
	assert.EqualError(t, sc.Err(), "reset")
}

type fixture struct {
	url      string
	store    *store.MemoryStore
	sessions *auth.Sessions
	lobbies  *lobby.Service
	clock    *clock.Mock
	logger   *logrus.Logger
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := store.NewMemoryStore()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 9, 12, 21, 0, 0, 0, time.UTC))
	sessions, err := auth.NewSessions(time.Hour, clk)
	require.NoError(t, err)

	bus := events.NewBus(events.NewHub(events.DefaultBuffer), nil, "test", logger, nil)
	lobbies := lobby.NewService(s, bus, xp.NewLedger(s, clk, logger), clk, logger, nil, lobby.DefaultConfig())
	srv := handlers.NewServer(handlers.Deps{
		Store:    s,
		Sessions: sessions,
		Lobbies:  lobbies,
		Presence: presence.NewTracker(presence.NewMemoryStore(), lobbies, clk, logger, nil, presence.DefaultTTL),
		Bus:      bus,
		Logger:   logger,
		Clock:    clk,
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &fixture{url: ts.URL, store: s, sessions: sessions, lobbies: lobbies, clock: clk, logger: logger}
}

func (f *fixture) client(t *testing.T, tag string) (uuid.UUID, *Client) {
	t.Helper()
	id := uuid.New()
	f.store.PutUser(models.User{ID: id, Gamertag: &tag})
	token, err := f.sessions.Create(id)
	require.NoError(t, err)
	return id, NewClient(f.url+"/", token, nil)
}

func (f *fixture) companion(c *Client) *Companion {
	return NewCompanion(c, f.clock, f.logger, Options{OverlayInstanceID: "ov-test", PreferLocal: true})
}

func (f *fixture) telemetryOf(t *testing.T, host uuid.UUID) models.Telemetry {
	t.Helper()
	cur, err := f.lobbies.CurrentLobbyForUser(context.Background(), host)
	require.NoError(t, err)
	require.NotNil(t, cur)
	return cur.Lobby.Telemetry
}

func TestHostForwardIsThrottled(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	host, hc := f.client(t, "host")
	l, err := f.lobbies.Create(ctx, host, lobby.CreateInput{Title: "Squads"})
	require.NoError(t, err)

	comp := f.companion(hc)
	require.NoError(t, comp.Beat(ctx))
	require.NotNil(t, comp.Current())
	assert.Equal(t, l.ID, comp.Current().Lobby.ID)
	assert.True(t, comp.Current().IsHost)

	require.NoError(t, comp.ObserveLocal([]byte(`{"mapName":" Recharge ","playerCount":"8","seq":1}`)))
	require.NoError(t, comp.Forward(ctx))
	got := f.telemetryOf(t, host)
	require.NotNil(t, got.MapName)
	assert.Equal(t, "Recharge", *got.MapName)
	assert.Equal(t, 8, *got.PlayerCount)

	require.NoError(t, comp.ObserveLocal([]byte(`{"mapName":"Streets","seq":2}`)))
	require.NoError(t, comp.Forward(ctx))
	assert.Equal(t, "Recharge", *f.telemetryOf(t, host).MapName, "inside the throttle window")

	f.clock.Add(DefaultForwardEvery)
	require.NoError(t, comp.Forward(ctx))
	assert.Equal(t, "Streets", *f.telemetryOf(t, host).MapName)

	view := comp.View()
	assert.Equal(t, telemetry.SourceLocal, view.Source)
}

func TestMemberDoesNotForward(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	host, _ := f.client(t, "host")
	member, mc := f.client(t, "member")
	l, err := f.lobbies.Create(ctx, host, lobby.CreateInput{Title: "Squads"})
	require.NoError(t, err)
	req, err := f.lobbies.CreateJoinRequest(ctx, l.ID, member, lobby.JoinInput{})
	require.NoError(t, err)
	_, err = f.lobbies.AcceptJoinRequest(ctx, req.ID, host)
	require.NoError(t, err)

	comp := f.companion(mc)
	require.NoError(t, comp.Beat(ctx))
	require.NotNil(t, comp.Current())
	assert.False(t, comp.Current().IsHost)

	require.NoError(t, comp.ObserveLocal([]byte(`{"mapName":"Live Fire"}`)))
	require.NoError(t, comp.Forward(ctx))
	assert.Nil(t, f.telemetryOf(t, host).MapName)
}

func TestObserveLocalRejectsJunk(t *testing.T) {
	f := setup(t)
	_, c := f.client(t, "solo")
	comp := f.companion(c)

	assert.NoError(t, comp.ObserveLocal([]byte("  ")))
	assert.Error(t, comp.ObserveLocal([]byte("not json")))
	assert.Error(t, comp.ObserveLocal([]byte(`{}`)))
	assert.Equal(t, telemetry.SourceStatic, comp.View().Source)
}

func TestFollowFeedsServerTelemetry(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	host, hc := f.client(t, "host")
	member, mc := f.client(t, "member")
	l, err := f.lobbies.Create(ctx, host, lobby.CreateInput{Title: "Squads"})
	require.NoError(t, err)
	req, err := f.lobbies.CreateJoinRequest(ctx, l.ID, member, lobby.JoinInput{})
	require.NoError(t, err)
	_, err = f.lobbies.AcceptJoinRequest(ctx, req.ID, host)
	require.NoError(t, err)

	comp := f.companion(mc)
	ready := make(chan struct{})
	seen := make(chan struct{}, 1)
	sctx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- mc.Follow(sctx, l.ID, func(ev Event) error {
			switch ev.Name {
			case "ready":
				close(ready)
			case events.Telemetry:
				defer func() { seen <- struct{}{} }()
			}
			return comp.ObserveServer(ev)
		})
	}()

	select {
	case <-ready:
	case <-ctx.Done():
		t.Fatal("stream never became ready")
	}

	_, err = hc.PostTelemetry(ctx, l.ID, models.Telemetry{MapName: ptr("Aquarius"), Seq: ptr(int64(3))})
	require.NoError(t, err)

	select {
	case <-seen:
	case <-ctx.Done():
		t.Fatal("telemetry event never arrived")
	}
	view := comp.View()
	assert.Equal(t, telemetry.SourceServer, view.Source)
	require.NotNil(t, view.Telemetry.MapName)
	assert.Equal(t, "Aquarius", *view.Telemetry.MapName)

	stop()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestClientSurfacesServerErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	host, _ := f.client(t, "host")
	_, stranger := f.client(t, "stranger")
	l, err := f.lobbies.Create(ctx, host, lobby.CreateInput{Title: "Squads"})
	require.NoError(t, err)

	_, err = stranger.PostTelemetry(ctx, l.ID, models.Telemetry{MapName: ptr("Fragmentation")})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Status)
	assert.Equal(t, "not lobby host", apiErr.Reason)

	cur, err := stranger.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)

	res, err := stranger.Shutdown(ctx)
	require.NoError(t, err)
	assert.Equal(t, lobby.ActionNone, res.Action)
}

func ptr[T any](v T) *T { return &v }

func TestLobbySwitchResetsDisplay(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	host, hc := f.client(t, "host")
	first, err := f.lobbies.Create(ctx, host, lobby.CreateInput{Title: "Squads"})
	require.NoError(t, err)

	comp := f.companion(hc)
	require.NoError(t, comp.Beat(ctx))
	require.NoError(t, comp.ObserveServer(Event{Name: events.Telemetry, Data: `{"mapName":"Highpower","seq":50}`}))
	require.Equal(t, telemetry.SourceServer, comp.View().Source)

	_, err = f.lobbies.CloseHostedLobby(ctx, first.ID, host)
	require.NoError(t, err)
	second, err := f.lobbies.Create(ctx, host, lobby.CreateInput{Title: "Doubles"})
	require.NoError(t, err)
	require.NoError(t, comp.Beat(ctx))
	assert.Equal(t, second.ID, comp.Current().Lobby.ID)

	view := comp.View()
	assert.Equal(t, telemetry.SourceStatic, view.Source, "old lobby values are not carried over")
	assert.Nil(t, view.Telemetry.MapName)

	require.NoError(t, comp.ObserveServer(Event{Name: events.Telemetry, Data: `{"mapName":"Zealot","seq":1}`}))
	view = comp.View()
	assert.Equal(t, telemetry.SourceServer, view.Source)
	assert.Equal(t, "Zealot", *view.Telemetry.MapName)
}
