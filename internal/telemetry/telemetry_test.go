package telemetry

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jason-s-yu/lobbyhub/internal/apperr"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, body string) Update {
	t.Helper()
	var u Update
	require.NoError(t, json.Unmarshal([]byte(body), &u))
	return u
}

func TestNormalizeClampsAndTrims(t *testing.T) {
	long := strings.Repeat("x", 80)
	u := decode(t, `{"mapName":"  Lockout  ","modeName":"`+long+`","playerCount":40,"status":"  in   game ","seq":"7","emittedAt":"2026-02-01T10:00:00Z"}`)

	tel, err := Normalize(u)
	require.NoError(t, err)
	assert.Equal(t, "Lockout", *tel.MapName)
	assert.Len(t, *tel.ModeName, MaxModeName)
	assert.Equal(t, "in game", *tel.Status)
	assert.Equal(t, 16, *tel.PlayerCount)
	assert.EqualValues(t, 7, *tel.Seq)
	assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), *tel.EmittedAt)
}

func TestNormalizeNegativePlayersClampToZero(t *testing.T) {
	tel, err := Normalize(decode(t, `{"playerCount":-3}`))
	require.NoError(t, err)
	assert.Equal(t, 0, *tel.PlayerCount)
}

func TestNormalizeUnixMillis(t *testing.T) {
	tel, err := Normalize(decode(t, `{"emittedAt":1767261600000}`))
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1767261600000).UTC(), *tel.EmittedAt)
}

func TestNormalizeBoundsHugeNumbers(t *testing.T) {
	cases := []struct {
		body    string
		players *int
		seq     *int64
		emitted bool
	}{
		{body: `{"playerCount":1e20}`, players: ptr(16)},
		{body: `{"playerCount":-1e20}`, players: ptr(0)},
		{body: `{"playerCount":"9e300","mapName":"x"}`, players: ptr(16)},
		{body: `{"seq":1e30,"mapName":"x"}`},
		{body: `{"seq":9223372036854775807,"mapName":"x"}`},
		{body: `{"seq":4503599627370496}`, seq: ptr(int64(4503599627370496))},
		{body: `{"emittedAt":1e30,"mapName":"x"}`},
		{body: `{"emittedAt":-5,"mapName":"x"}`},
		{body: `{"emittedAt":1767261600000}`, emitted: true},
	}
	for _, tc := range cases {
		tel, err := Normalize(decode(t, tc.body))
		require.NoError(t, err, tc.body)
		assert.Equal(t, tc.players, tel.PlayerCount, tc.body)
		assert.Equal(t, tc.seq, tel.Seq, tc.body)
		assert.Equal(t, tc.emitted, tel.EmittedAt != nil, tc.body)
		if tel.Seq != nil {
			assert.GreaterOrEqual(t, *tel.Seq, int64(0), tc.body)
		}
	}
}

func TestNormalizeRejectsEmpty(t *testing.T) {
	for _, body := range []string{`{}`, `{"mapName":"   ","status":""}`, `{"seq":-1}`, `{"playerCount":"abc"}`} {
		_, err := Normalize(decode(t, body))
		assert.True(t, apperr.Is(err, apperr.KindInvalid), body)
	}
}

func ptr[T any](v T) *T { return &v }

func newReconciler() (*Reconciler, *clock.Mock) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 2, 1, 20, 0, 0, 0, time.UTC))
	return NewReconciler(clk, 5*time.Second, models.Telemetry{MapName: ptr("Listed Map")}), clk
}

func TestReconcilerStaticUntilAnyReading(t *testing.T) {
	r, _ := newReconciler()
	v := r.Display()
	assert.Equal(t, SourceStatic, v.Source)
	assert.Equal(t, "Listed Map", *v.Telemetry.MapName)
}

func TestServerIsAuthoritativeByDefault(t *testing.T) {
	r, _ := newReconciler()
	r.ObserveLocal(models.Telemetry{MapName: ptr("Local")})
	r.ObserveServer(models.Telemetry{MapName: ptr("Server")})

	v := r.Display()
	assert.Equal(t, SourceServer, v.Source)
	assert.Equal(t, "Server", *v.Telemetry.MapName)
}

func TestLocalUsedOnlyWhenPreferredAndFresh(t *testing.T) {
	r, clk := newReconciler()
	r.SetPreferLocal(true)
	r.ObserveServer(models.Telemetry{MapName: ptr("Server")})
	r.ObserveLocal(models.Telemetry{MapName: ptr("Local")})

	assert.Equal(t, SourceLocal, r.Display().Source)

	clk.Add(6 * time.Second)
	r.ObserveServer(models.Telemetry{MapName: ptr("Server 2")})
	v := r.Display()
	assert.Equal(t, SourceServer, v.Source, "stale local falls back to server")
	assert.Equal(t, "Server 2", *v.Telemetry.MapName)
}

func TestBothStaleKeepsLastKnown(t *testing.T) {
	r, clk := newReconciler()
	r.ObserveServer(models.Telemetry{MapName: ptr("Server")})
	require.Equal(t, SourceServer, r.Display().Source)

	clk.Add(time.Minute)
	v := r.Display()
	assert.Equal(t, SourceLastKnown, v.Source)
	assert.Equal(t, "Server", *v.Telemetry.MapName)
	assert.Equal(t, time.Minute, v.Age)
}

func TestOutOfOrderSeqIgnored(t *testing.T) {
	r, _ := newReconciler()
	r.ObserveServer(models.Telemetry{MapName: ptr("new"), Seq: ptr(int64(5))})
	r.ObserveServer(models.Telemetry{MapName: ptr("old"), Seq: ptr(int64(3))})
	assert.Equal(t, "new", *r.Display().Telemetry.MapName)
}

func TestLowerSeqAcceptedOnceStale(t *testing.T) {
	r, clk := newReconciler()
	r.ObserveServer(models.Telemetry{MapName: ptr("Old Map"), Seq: ptr(int64(100))})

	clk.Add(30 * time.Second)
	r.ObserveServer(models.Telemetry{MapName: ptr("New Map"), Seq: ptr(int64(1))})

	v := r.Display()
	assert.Equal(t, SourceServer, v.Source)
	assert.Equal(t, "New Map", *v.Telemetry.MapName)
}

func TestResetForgetsEverything(t *testing.T) {
	r, _ := newReconciler()
	r.ObserveServer(models.Telemetry{MapName: ptr("Lobby A"), Seq: ptr(int64(40))})
	require.Equal(t, SourceServer, r.Display().Source)

	r.Reset()
	v := r.Display()
	assert.Equal(t, SourceStatic, v.Source)
	assert.Equal(t, "Listed Map", *v.Telemetry.MapName)

	r.ObserveServer(models.Telemetry{MapName: ptr("Lobby B"), Seq: ptr(int64(2))})
	assert.Equal(t, "Lobby B", *r.Display().Telemetry.MapName)
}
