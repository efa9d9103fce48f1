// internal/telemetry/normalize.go
package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/apperr"
	"github.com/jason-s-yu/lobbyhub/internal/models"
)

// Field limits.
const (
	MaxMapName  = 60
	MaxModeName = 60
	MaxStatus   = 40
	MaxPlayers  = 16
	minPlayers  = 0

	// Year 9999 in unix milliseconds; larger values are not timestamps.
	maxUnixMilli = 253402300799999
)

// Number accepts a JSON number or a numeric string.
type Number struct {
	Value float64
	Set   bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		n.Value, n.Set = v, true
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("telemetry number: %w", err)
	}
	n.Value, n.Set = v, true
	return nil
}

// Timestamp accepts an RFC 3339 string or unix milliseconds.
type Timestamp struct {
	Time time.Time
	Set  bool
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var n Number
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s)); err == nil {
			t.Time, t.Set = ts.UTC(), true
			return nil
		}
	}
	if err := n.UnmarshalJSON(b); err != nil || !n.Set {
		return nil
	}
	if n.Value < 0 || n.Value > maxUnixMilli {
		return nil
	}
	t.Time, t.Set = time.UnixMilli(int64(n.Value)).UTC(), true
	return nil
}

// Update is the raw telemetry body sent by a host. Every field is optional.
type Update struct {
	MapName     *string   `json:"mapName"`
	ModeName    *string   `json:"modeName"`
	PlayerCount Number    `json:"playerCount"`
	Status      *string   `json:"status"`
	Seq         Number    `json:"seq"`
	EmittedAt   Timestamp `json:"emittedAt"`
}

// Payload is the normalized telemetry published on the lobby and browse topics.
type Payload struct {
	LobbyID     uuid.UUID  `json:"lobbyId"`
	MapName     *string    `json:"mapName"`
	ModeName    *string    `json:"modeName"`
	PlayerCount *int       `json:"playerCount"`
	Status      *string    `json:"status"`
	Seq         *int64     `json:"seq"`
	EmittedAt   *time.Time `json:"emittedAt"`
	UpdatedAt   *time.Time `json:"updatedAt"`
}

// PayloadOf builds the published form of a lobby's stored telemetry.
func PayloadOf(lobbyID uuid.UUID, t models.Telemetry) Payload {
	return Payload{
		LobbyID:     lobbyID,
		MapName:     t.MapName,
		ModeName:    t.ModeName,
		PlayerCount: t.PlayerCount,
		Status:      t.Status,
		Seq:         t.Seq,
		EmittedAt:   t.EmittedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// Normalize trims and bounds every field. It fails with Invalid when nothing usable
// was provided.
func Normalize(u Update) (models.Telemetry, error) {
	var out models.Telemetry
	out.MapName = text(u.MapName, MaxMapName)
	out.ModeName = text(u.ModeName, MaxModeName)
	out.Status = text(u.Status, MaxStatus)
	if u.PlayerCount.Set {
		// Clamp before converting so huge values do not wrap.
		c := int(math.Round(math.Min(math.Max(u.PlayerCount.Value, minPlayers), MaxPlayers)))
		out.PlayerCount = &c
	}
	if u.Seq.Set && u.Seq.Value >= 0 && u.Seq.Value < math.MaxInt64 {
		s := int64(u.Seq.Value)
		out.Seq = &s
	}
	if u.EmittedAt.Set {
		ts := u.EmittedAt.Time
		out.EmittedAt = &ts
	}
	if out.MapName == nil && out.ModeName == nil && out.Status == nil &&
		out.PlayerCount == nil && out.Seq == nil && out.EmittedAt == nil {
		return models.Telemetry{}, apperr.Invalid("no telemetry fields provided")
	}
	return out, nil
}

func text(s *string, limit int) *string {
	if s == nil {
		return nil
	}
	v := strings.Join(strings.Fields(*s), " ")
	if v == "" {
		return nil
	}
	if utf8.RuneCountInString(v) > limit {
		v = strings.TrimSpace(string([]rune(v)[:limit]))
	}
	return &v
}
