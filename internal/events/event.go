// internal/events/event.go
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event names carried on the streams.
const (
	RequestCreated = "request_created"
	RequestDecided = "request_decided"
	LobbyExpired   = "lobby_expired"
	MessageCreated = "message_created"
	RosterUpdated  = "roster_updated"
	Telemetry      = "telemetry"
	Ping           = "ping"
)

// Topic is a delivery channel name. The same string names the broker channel.
type Topic string

// BrowseTelemetry carries telemetry for every active lobby, for lobby browsers.
const BrowseTelemetry Topic = "lobbies:telemetry"

// HostTopic is the per-user notification topic a host listens on.
func HostTopic(userID uuid.UUID) Topic {
	return Topic(fmt.Sprintf("user:%s:notifications", userID))
}

func LobbyTopic(lobbyID uuid.UUID) Topic {
	return Topic("lobby:" + lobbyID.String())
}

func LobbyTypingTopic(lobbyID uuid.UUID) Topic {
	return Topic("lobby:" + lobbyID.String() + ":typing")
}

func DMTopic(conversationID uuid.UUID) Topic {
	return Topic("dm:" + conversationID.String())
}

func DMTypingTopic(conversationID uuid.UUID) Topic {
	return Topic("dm:" + conversationID.String() + ":typing")
}

// Scope is the leading segment of the topic ("user", "lobby", "dm", "lobbies").
func (t Topic) Scope() string {
	s, _, _ := strings.Cut(string(t), ":")
	return s
}

// Event is a single fan-out unit. HostOnly events on a lobby topic reach only
// subscribers that attached as the lobby host.
type Event struct {
	Topic    Topic           `json:"topic"`
	Name     string          `json:"name"`
	Data     json.RawMessage `json:"data"`
	HostOnly bool            `json:"hostOnly,omitempty"`
	At       time.Time       `json:"at"`
}

// New builds an event, encoding payload as JSON.
func New(topic Topic, name string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Event{Topic: topic, Name: name, Data: data, At: time.Now()}, nil
}

// Envelope is the broker wire format. Origin is the publishing instance id.
type Envelope struct {
	Channel  string          `json:"channel"`
	Name     string          `json:"name"`
	Data     json.RawMessage `json:"data"`
	HostOnly bool            `json:"hostOnly,omitempty"`
	Origin   string          `json:"origin,omitempty"`
}

func (e Envelope) Event() Event {
	return Event{Topic: Topic(e.Channel), Name: e.Name, Data: e.Data, HostOnly: e.HostOnly, At: time.Now()}
}

func envelopeOf(ev Event, origin string) Envelope {
	return Envelope{Channel: string(ev.Topic), Name: ev.Name, Data: ev.Data, HostOnly: ev.HostOnly, Origin: origin}
}
