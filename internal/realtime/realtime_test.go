package realtime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/apperr"
	"github.com/jason-s-yu/lobbyhub/internal/events"
	"github.com/jason-s-yu/lobbyhub/internal/lobby"
	"github.com/jason-s-yu/lobbyhub/internal/metrics"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/store"
	"github.com/jason-s-yu/lobbyhub/internal/xp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

type fixture struct {
	auth    *Authorizer
	lobbies *lobby.Service
	store   *store.MemoryStore
	clock   *clock.Mock
	logger  *logrus.Logger
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := store.NewMemoryStore()
	clk := clock.NewMock()
	clk.Set(time.Now().Truncate(time.Second))
	bus := events.NewBus(events.NewHub(events.DefaultBuffer), nil, "test", logger, nil)
	return &fixture{
		auth:    NewAuthorizer(s, secret, time.Hour, clk),
		lobbies: lobby.NewService(s, bus, xp.NewLedger(s, clk, logger), clk, logger, nil, lobby.DefaultConfig()),
		store:   s,
		clock:   clk,
		logger:  logger,
	}
}

func (f *fixture) user(tag string) uuid.UUID {
	id := uuid.New()
	f.store.PutUser(models.User{ID: id, Gamertag: &tag})
	return id
}

func TestAuthorizeDefaultsToOwnNotifications(t *testing.T) {
	f := setup(t)
	user := f.user("solo")

	desc, err := f.auth.Authorize(context.Background(), user, Request{BrowseTelemetry: true})
	require.NoError(t, err)
	assert.Equal(t, user.String(), desc.ClientID)
	assert.Equal(t, Grants{
		"user:" + user.String() + ":notifications": {CapSubscribe},
		"lobbies:telemetry":                         {CapSubscribe},
	}, desc.Capability)

	claims, err := f.auth.Verify(desc.Token)
	require.NoError(t, err)
	assert.Equal(t, desc.Capability, claims.Cap)
}

func TestAuthorizeLobbyScopes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	host, member, stranger := f.user("host"), f.user("member"), f.user("stranger")
	l, err := f.lobbies.Create(ctx, host, lobby.CreateInput{Title: "Customs"})
	require.NoError(t, err)
	req, err := f.lobbies.CreateJoinRequest(ctx, l.ID, member, lobby.JoinInput{})
	require.NoError(t, err)
	_, err = f.lobbies.AcceptJoinRequest(ctx, req.ID, host)
	require.NoError(t, err)

	for _, u := range []uuid.UUID{host, member} {
		desc, err := f.auth.Authorize(ctx, u, Request{LobbyID: &l.ID})
		require.NoError(t, err)
		assert.True(t, desc.Capability.Allows("lobby:"+l.ID.String(), CapSubscribe))
		assert.False(t, desc.Capability.Allows("lobby:"+l.ID.String(), CapPublish))
		assert.True(t, desc.Capability.Allows("lobby:"+l.ID.String()+":typing", CapPublish))
	}

	desc, err := f.auth.Authorize(ctx, stranger, Request{LobbyID: &l.ID, BrowseTelemetry: true})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	assert.Nil(t, desc, "no partial grant")

	missing := uuid.New()
	_, err = f.auth.Authorize(ctx, host, Request{LobbyID: &missing})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestAuthorizeDMRequiresParticipation(t *testing.T) {
	f := setup(t)
	a, b, c := f.user("a"), f.user("b"), f.user("c")
	dm := models.Conversation{ID: uuid.New(), Type: models.ConversationDM, CreatedAt: f.clock.Now()}
	f.store.PutConversation(dm, a, b)

	desc, err := f.auth.Authorize(context.Background(), a, Request{DMID: &dm.ID})
	require.NoError(t, err)
	assert.True(t, desc.Capability.Allows("dm:"+dm.ID.String(), CapSubscribe))
	assert.True(t, desc.Capability.Allows("dm:"+dm.ID.String()+":typing", CapPublish))

	_, err = f.auth.Authorize(context.Background(), c, Request{DMID: &dm.ID})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestAuthorizeRejectsBannedAndUnonboarded(t *testing.T) {
	f := setup(t)
	tag := "banned"
	banned := uuid.New()
	f.store.PutUser(models.User{ID: banned, Gamertag: &tag, IsBanned: true})
	fresh := uuid.New()
	f.store.PutUser(models.User{ID: fresh})

	_, err := f.auth.Authorize(context.Background(), banned, Request{})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	_, err = f.auth.Authorize(context.Background(), fresh, Request{})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	assert.Equal(t, "gamertag required", apperr.ReasonOf(err))
	_, err = f.auth.Authorize(context.Background(), uuid.New(), Request{})
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	f := setup(t)
	desc, err := f.auth.Authorize(context.Background(), f.user("p"), Request{})
	require.NoError(t, err)

	other := NewAuthorizer(f.store, []byte("another"), time.Hour, f.clock)
	_, err = other.Verify(desc.Token)
	assert.Error(t, err)

	f.clock.Add(2 * time.Hour)
	_, err = f.auth.Verify(desc.Token)
	assert.Error(t, err)
}

type gatewayBroker struct {
	mu        sync.Mutex
	published []events.Envelope
	channels  []string
	sub       chan events.Envelope
}

func (b *gatewayBroker) Publish(_ context.Context, env events.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, env)
	return nil
}

func (b *gatewayBroker) Subscribe(_ context.Context, channels ...string) (events.BrokerSubscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = channels
	return gatewaySub{b.sub}, nil
}

func (b *gatewayBroker) SubscribePattern(ctx context.Context, patterns ...string) (events.BrokerSubscription, error) {
	return b.Subscribe(ctx, patterns...)
}

func (b *gatewayBroker) snapshot() []events.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Envelope(nil), b.published...)
}

type gatewaySub struct{ ch chan events.Envelope }

func (s gatewaySub) Messages() <-chan events.Envelope { return s.ch }
func (s gatewaySub) Close() error                     { return nil }

func readFrame(t *testing.T, ctx context.Context, c *websocket.Conn) Frame {
	t.Helper()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestGatewayForwardsAndEnforcesPublish(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	host := f.user("host")
	l, err := f.lobbies.Create(ctx, host, lobby.CreateInput{Title: "Customs"})
	require.NoError(t, err)
	desc, err := f.auth.Authorize(ctx, host, Request{LobbyID: &l.ID})
	require.NoError(t, err)

	broker := &gatewayBroker{sub: make(chan events.Envelope, 4)}
	srv := httptest.NewServer(NewGateway(f.auth, broker, f.logger, nil, f.clock))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?token=bogus")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"?token="+desc.Token, nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	lobbyCh := "lobby:" + l.ID.String()
	broker.sub <- events.Envelope{Channel: lobbyCh, Name: events.RequestCreated, Data: json.RawMessage(`{}`), HostOnly: true}
	broker.sub <- events.Envelope{Channel: lobbyCh, Name: events.RosterUpdated, Data: json.RawMessage(`{"action":"joined"}`)}

	got := readFrame(t, ctx, c)
	assert.Equal(t, lobbyCh, got.Channel)
	assert.Equal(t, events.RosterUpdated, got.Name)

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"channel":"`+lobbyCh+`","name":"chat"}`)))
	denied := readFrame(t, ctx, c)
	assert.Equal(t, "publish not permitted", denied.Error)

	typing := lobbyCh + ":typing"
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"channel":"`+typing+`","name":"typing","data":{"on":true}}`)))
	require.Eventually(t, func() bool { return len(broker.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, typing, broker.snapshot()[0].Channel)

	broker.mu.Lock()
	assert.ElementsMatch(t, []string{"user:" + host.String() + ":notifications", lobbyCh, typing}, broker.channels)
	broker.mu.Unlock()
}

// openGateways reads the gateway stream gauge.
func openGateways(t *testing.T, m *metrics.Metrics) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "lobbyhub_open_streams" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "kind" && l.GetValue() == "gateway" {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func TestGatewayDropsClientThatStopsAnsweringPings(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	desc, err := f.auth.Authorize(ctx, f.user("idle"), Request{})
	require.NoError(t, err)

	m := metrics.New()
	broker := &gatewayBroker{sub: make(chan events.Envelope)}
	srv := httptest.NewServer(NewGateway(f.auth, broker, f.logger, m, f.clock))
	defer srv.Close()

	// The client never reads, so pongs are never sent back.
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"?token="+desc.Token, nil)
	require.NoError(t, err)
	defer c.CloseNow()
	require.Eventually(t, func() bool { return openGateways(t, m) == 1 }, 2*time.Second, 10*time.Millisecond)

	f.clock.Add(pingInterval)
	require.Eventually(t, func() bool {
		f.clock.Add(writeTimeout)
		return openGateways(t, m) == 0
	}, 3*time.Second, 10*time.Millisecond)
}
