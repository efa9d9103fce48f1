// internal/realtime/gateway.go
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/jason-s-yu/lobbyhub/internal/events"
	"github.com/jason-s-yu/lobbyhub/internal/metrics"
	"github.com/jason-s-yu/lobbyhub/internal/middleware"
	"github.com/sirupsen/logrus"
)

// Close codes sent before the upgrade can report an HTTP status.
const (
	InvalidTokenClose = 3001
	BrokerClose       = 3002
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
	readLimit    = 4096
	outBuffer    = 32
)

// Frame is the JSON message exchanged with gateway clients.
type Frame struct {
	Channel string          `json:"channel,omitempty"`
	Name    string          `json:"name,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Gateway lets browsers reach the broker over a WebSocket. Each connection is
// limited to the channels in its capability token.
type Gateway struct {
	auth    *Authorizer
	broker  events.Broker
	logger  *logrus.Logger
	metrics *metrics.Metrics
	clock   clock.Clock
	ping    time.Duration
}

func NewGateway(auth *Authorizer, broker events.Broker, logger *logrus.Logger, m *metrics.Metrics, clk clock.Clock) *Gateway {
	if clk == nil {
		clk = clock.New()
	}
	return &Gateway{auth: auth, broker: broker, logger: logger, metrics: m, clock: clk, ping: pingInterval}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.broker == nil {
		http.Error(w, "realtime broker not configured", http.StatusServiceUnavailable)
		return
	}
	claims, err := g.auth.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		g.logger.WithError(err).Warn("websocket accept failed")
		return
	}
	defer c.Close(websocket.StatusInternalError, "gateway closed")
	c.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if claims.ExpiresAt != nil {
		var stop context.CancelFunc
		ctx, stop = g.clock.WithDeadline(ctx, claims.ExpiresAt.Time)
		defer stop()
	}

	sub, err := g.broker.Subscribe(ctx, claims.Cap.Channels(CapSubscribe)...)
	if err != nil {
		g.logger.WithFields(logrus.Fields{"client_id": claims.Subject, "error": err}).Warn("broker subscribe failed")
		c.Close(BrokerClose, "broker unavailable")
		return
	}
	defer sub.Close()

	done := g.metrics.StreamOpened("gateway")
	defer done()
	log := g.logger.WithFields(logrus.Fields{"client_id": claims.Subject, "remote": r.RemoteAddr})
	middleware.LogWebSocketConnect(g.logger, r.RemoteAddr, r.URL.Path, claims.Subject)

	out := make(chan Frame, outBuffer)
	go g.forward(ctx, cancel, sub, out)
	go g.writePump(ctx, cancel, c, out, log)
	readErr := g.readPump(ctx, c, claims, out, log)

	middleware.LogWebSocketDisconnect(g.logger, r.RemoteAddr, r.URL.Path, claims.Subject, readErr)
	c.Close(websocket.StatusNormalClosure, "")
}

// forward copies broker messages to the client. Host-only envelopes are dropped
// since the gateway cannot tell a host connection from a member one.
func (g *Gateway) forward(ctx context.Context, cancel context.CancelFunc, sub events.BrokerSubscription, out chan<- Frame) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.Messages():
			if !ok {
				return
			}
			if env.HostOnly {
				continue
			}
			select {
			case out <- Frame{Channel: env.Channel, Name: env.Name, Data: env.Data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (g *Gateway) writePump(ctx context.Context, cancel context.CancelFunc, c *websocket.Conn, out <-chan Frame, log *logrus.Entry) {
	defer cancel()
	ticker := g.clock.Ticker(g.ping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, pcancel := g.clock.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pctx)
			pcancel()
			if err != nil {
				log.WithError(err).Debug("ping failed")
				return
			}
		case f := <-out:
			data, err := json.Marshal(f)
			if err != nil {
				log.WithError(err).Warn("marshal frame")
				continue
			}
			wctx, wcancel := g.clock.WithTimeout(ctx, writeTimeout)
			err = c.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				log.WithError(err).Debug("write failed")
				return
			}
		}
	}
}

// readPump accepts client publishes on channels granted the publish capability.
// It returns the read error that ended the connection, nil for a clean close.
func (g *Gateway) readPump(ctx context.Context, c *websocket.Conn, claims *Claims, out chan<- Frame, log *logrus.Entry) error {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil || f.Channel == "" || f.Name == "" {
			g.reply(ctx, out, Frame{Error: "invalid frame"})
			continue
		}
		if !claims.Cap.Allows(f.Channel, CapPublish) {
			g.reply(ctx, out, Frame{Channel: f.Channel, Error: "publish not permitted"})
			continue
		}
		env := events.Envelope{Channel: f.Channel, Name: f.Name, Data: f.Data}
		pctx, cancel := g.clock.WithTimeout(ctx, writeTimeout)
		err = g.broker.Publish(pctx, env)
		cancel()
		if err != nil {
			g.metrics.BrokerFailure()
			log.WithError(err).Warn("client publish failed")
		}
	}
}

func (g *Gateway) reply(ctx context.Context, out chan<- Frame, f Frame) {
	select {
	case out <- f:
	case <-ctx.Done():
	}
}
