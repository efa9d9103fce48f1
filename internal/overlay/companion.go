// internal/overlay/companion.go
package overlay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/apperr"
	"github.com/jason-s-yu/lobbyhub/internal/events"
	"github.com/jason-s-yu/lobbyhub/internal/lobby"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/presence"
	"github.com/jason-s-yu/lobbyhub/internal/telemetry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Defaults for Options left zero.
const (
	DefaultHeartbeat    = 10 * time.Second
	DefaultForwardEvery = 2 * time.Second
	DefaultRefresh      = time.Second
	retryDelay          = 3 * time.Second
)

// Options tune a Companion.
type Options struct {
	OverlayInstanceID string
	StaleAfter        time.Duration
	PreferLocal       bool
	Static            models.Telemetry

	Heartbeat    time.Duration
	ForwardEvery time.Duration
	Refresh      time.Duration
}

// Companion runs on the player's machine next to the game bridge. It keeps the
// user's presence alive, follows the current lobby's stream, forwards local
// readings when the user hosts and exposes the reconciled display.
type Companion struct {
	client *Client
	recon  *telemetry.Reconciler
	clock  clock.Clock
	logger *logrus.Logger
	opts   Options

	mu       sync.Mutex
	current  *lobby.Current
	pending  *models.Telemetry
	lastSent time.Time
	restart  chan struct{}
}

func NewCompanion(client *Client, clk clock.Clock, logger *logrus.Logger, opts Options) *Companion {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.ForwardEvery <= 0 {
		opts.ForwardEvery = DefaultForwardEvery
	}
	if opts.Refresh <= 0 {
		opts.Refresh = DefaultRefresh
	}
	recon := telemetry.NewReconciler(clk, opts.StaleAfter, opts.Static)
	recon.SetPreferLocal(opts.PreferLocal)
	return &Companion{
		client:  client,
		recon:   recon,
		clock:   clk,
		logger:  logger,
		opts:    opts,
		restart: make(chan struct{}, 1),
	}
}

// View is the display the overlay should render now.
func (c *Companion) View() telemetry.View {
	return c.recon.Display()
}

// Current is the lobby seen on the last heartbeat, or nil.
func (c *Companion) Current() *lobby.Current {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// ObserveLocal feeds one bridge line. Blank lines are ignored.
func (c *Companion) ObserveLocal(line []byte) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	var u telemetry.Update
	if err := json.Unmarshal(line, &u); err != nil {
		return apperr.Invalid("bridge line is not JSON")
	}
	t, err := telemetry.Normalize(u)
	if err != nil {
		return err
	}
	c.recon.ObserveLocal(t)

	c.mu.Lock()
	if c.current != nil && c.current.IsHost {
		c.pending = &t
	}
	c.mu.Unlock()
	return nil
}

// ObserveServer feeds one event from the lobby stream. Only telemetry matters.
func (c *Companion) ObserveServer(ev Event) error {
	if ev.Name != events.Telemetry {
		return nil
	}
	var p telemetry.Payload
	if err := json.Unmarshal([]byte(ev.Data), &p); err != nil {
		c.logger.WithError(err).Warn("bad telemetry event")
		return nil
	}
	c.recon.ObserveServer(models.Telemetry{
		MapName:     p.MapName,
		ModeName:    p.ModeName,
		PlayerCount: p.PlayerCount,
		Status:      p.Status,
		Seq:         p.Seq,
		EmittedAt:   p.EmittedAt,
		UpdatedAt:   p.UpdatedAt,
	})
	return nil
}

// Beat sends a presence heartbeat and refreshes the current lobby. A change of
// lobby restarts the stream follower.
func (c *Companion) Beat(ctx context.Context) error {
	if _, err := c.client.Heartbeat(ctx, presence.HeartbeatInput{OverlayInstanceID: c.opts.OverlayInstanceID}); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	cur, err := c.client.Current(ctx)
	if err != nil {
		return fmt.Errorf("current lobby: %w", err)
	}

	c.mu.Lock()
	changed := lobbyID(c.current) != lobbyID(cur)
	c.current = cur
	if cur == nil || !cur.IsHost {
		c.pending = nil
	}
	c.mu.Unlock()

	if changed {
		c.recon.Reset()
		c.logger.WithField("lobby_id", lobbyID(cur)).Info("current lobby changed")
		select {
		case c.restart <- struct{}{}:
		default:
		}
	}
	return nil
}

// Forward posts the newest unsent local reading if the user hosts and the
// throttle window has passed.
func (c *Companion) Forward(ctx context.Context) error {
	c.mu.Lock()
	now := c.clock.Now()
	if c.pending == nil || c.current == nil || !c.current.IsHost ||
		(!c.lastSent.IsZero() && now.Sub(c.lastSent) < c.opts.ForwardEvery) {
		c.mu.Unlock()
		return nil
	}
	t, id := *c.pending, c.current.Lobby.ID
	c.pending = nil
	c.lastSent = now
	c.mu.Unlock()

	if _, err := c.client.PostTelemetry(ctx, id, t); err != nil {
		return fmt.Errorf("forward telemetry: %w", err)
	}
	return nil
}

// Run drives the companion until ctx ends. Bridge lines are read from local and
// every refreshed view is handed to show.
func (c *Companion) Run(ctx context.Context, local io.Reader, show func(telemetry.View)) error {
	g, ctx := errgroup.WithContext(ctx)
	// A blocked read cannot observe ctx, so the bridge reader is not waited on.
	go func() {
		if err := c.readLocal(ctx, local); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.WithError(err).Warn("bridge reader stopped")
		}
	}()
	g.Go(func() error { return c.beatLoop(ctx) })
	g.Go(func() error { return c.followLoop(ctx) })
	g.Go(func() error { return c.displayLoop(ctx, show) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Companion) readLocal(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.ObserveLocal(sc.Bytes()); err != nil {
			c.logger.WithError(err).Debug("bridge line dropped")
		}
	}
	c.recon.ClearLocal()
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read bridge: %w", err)
	}
	c.logger.Info("bridge closed")
	return nil
}

func (c *Companion) beatLoop(ctx context.Context) error {
	beat := c.clock.Ticker(c.opts.Heartbeat)
	defer beat.Stop()
	fwd := c.clock.Ticker(c.opts.ForwardEvery)
	defer fwd.Stop()

	if err := c.Beat(ctx); err != nil {
		c.logger.WithError(err).Warn("initial heartbeat failed")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-beat.C:
			if err := c.Beat(ctx); err != nil {
				c.logger.WithError(err).Warn("heartbeat failed")
			}
		case <-fwd.C:
			if err := c.Forward(ctx); err != nil {
				var apiErr *APIError
				if errors.As(err, &apiErr) && apiErr.Status < 500 {
					c.logger.WithError(err).Debug("telemetry refused")
					continue
				}
				c.logger.WithError(err).Warn("telemetry forward failed")
			}
		}
	}
}

// followLoop keeps one stream open for the current lobby and reopens it when
// the lobby changes or the stream drops.
func (c *Companion) followLoop(ctx context.Context) error {
	for {
		id := lobbyID(c.Current())
		if id == uuid.Nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.restart:
				continue
			}
		}

		sctx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- c.client.Follow(sctx, id, c.ObserveServer) }()

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return ctx.Err()
		case <-c.restart:
			cancel()
			<-done
		case err := <-done:
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				c.logger.WithError(err).WithField("lobby_id", id).Warn("lobby stream dropped")
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.restart:
			case <-c.clock.After(retryDelay):
			}
		}
	}
}

func (c *Companion) displayLoop(ctx context.Context, show func(telemetry.View)) error {
	t := c.clock.Ticker(c.opts.Refresh)
	defer t.Stop()
	var last []byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			v := c.View()
			// Age always moves; compare what is actually shown.
			key, _ := json.Marshal(struct {
				T models.Telemetry
				S telemetry.Source
			}{v.Telemetry, v.Source})
			if bytes.Equal(key, last) {
				continue
			}
			last = key
			show(v)
		}
	}
}

func lobbyID(cur *lobby.Current) uuid.UUID {
	if cur == nil {
		return uuid.Nil
	}
	return cur.Lobby.ID
}
