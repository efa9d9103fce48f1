// internal/realtime/authorizer.go
package realtime

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/apperr"
	"github.com/jason-s-yu/lobbyhub/internal/events"
	"github.com/jason-s-yu/lobbyhub/internal/lobby"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/store"
)

// Capability is an operation allowed on a broker channel.
type Capability string

const (
	CapSubscribe Capability = "subscribe"
	CapPublish   Capability = "publish"
)

// Grants maps channel names to the operations allowed on them.
type Grants map[string][]Capability

// Allows reports whether op is granted on channel.
func (g Grants) Allows(channel string, op Capability) bool {
	return slices.Contains(g[channel], op)
}

// Channels returns every channel op is granted on.
func (g Grants) Channels(op Capability) []string {
	var out []string
	for ch, caps := range g {
		if slices.Contains(caps, op) {
			out = append(out, ch)
		}
	}
	slices.Sort(out)
	return out
}

var (
	subscribeOnly    = []Capability{CapSubscribe}
	publishSubscribe = []Capability{CapPublish, CapSubscribe}
)

// Claims is the signed capability token body. Subject is the client id.
type Claims struct {
	Cap Grants `json:"cap"`
	jwt.RegisteredClaims
}

// Request lists the optional scopes a client asks for.
type Request struct {
	LobbyID         *uuid.UUID
	DMID            *uuid.UUID
	BrowseTelemetry bool
}

// TokenDescriptor is returned to the client to hand to the broker gateway.
type TokenDescriptor struct {
	Token      string    `json:"token"`
	ClientID   string    `json:"clientId"`
	Capability Grants    `json:"capability"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Authorizer issues capability tokens scoped to what a user may see.
type Authorizer struct {
	store  store.Store
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewAuthorizer(s store.Store, secret []byte, ttl time.Duration, clk clock.Clock) *Authorizer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Authorizer{store: s, secret: secret, ttl: ttl, clock: clk}
}

// Authorize checks every requested scope and signs a token for all of them. If any
// scope is refused no token is issued.
func (a *Authorizer) Authorize(ctx context.Context, userID uuid.UUID, req Request) (*TokenDescriptor, error) {
	grants := Grants{string(events.HostTopic(userID)): subscribeOnly}

	err := a.store.InTx(ctx, func(tx store.Tx) error {
		u, err := tx.GetUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.Unauthenticated("unknown user")
		}
		if err != nil {
			return err
		}
		if u.IsBanned {
			return apperr.Forbidden("account is banned")
		}
		if !u.Onboarded() {
			return apperr.Forbidden("gamertag required")
		}

		if req.LobbyID != nil {
			if _, err := lobby.AccessTx(ctx, tx, *req.LobbyID, userID); err != nil {
				if apperr.Is(err, apperr.KindNotFound) {
					return apperr.Forbidden("no access to lobby")
				}
				return err
			}
			grants[string(events.LobbyTopic(*req.LobbyID))] = subscribeOnly
			grants[string(events.LobbyTypingTopic(*req.LobbyID))] = publishSubscribe
		}

		if req.DMID != nil {
			conv, err := tx.GetConversation(ctx, *req.DMID)
			if errors.Is(err, store.ErrNotFound) || (err == nil && conv.Type != models.ConversationDM) {
				return apperr.Forbidden("no access to conversation")
			}
			if err != nil {
				return err
			}
			ok, err := tx.IsParticipant(ctx, conv.ID, userID)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Forbidden("no access to conversation")
			}
			grants[string(events.DMTopic(conv.ID))] = subscribeOnly
			grants[string(events.DMTypingTopic(conv.ID))] = publishSubscribe
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.BrowseTelemetry {
		grants[string(events.BrowseTelemetry)] = subscribeOnly
	}

	now := a.clock.Now()
	exp := now.Add(a.ttl)
	claims := Claims{
		Cap: grants,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("sign capability token: %w", err)
	}
	return &TokenDescriptor{
		Token:      signed,
		ClientID:   claims.Subject,
		Capability: grants,
		ExpiresAt:  exp.Truncate(time.Second),
	}, nil
}

// Verify parses a capability token and returns its claims.
func (a *Authorizer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.clock.Now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("capability token: %w", err)
	}
	if !t.Valid {
		return nil, fmt.Errorf("invalid capability token")
	}
	return claims, nil
}
