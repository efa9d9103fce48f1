// internal/overlay/client.go
package overlay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/lobby"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/presence"
	"github.com/jason-s-yu/lobbyhub/internal/telemetry"
)

// APIError is a non-2xx answer from the lobby server.
type APIError struct {
	Status int
	Reason string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Reason)
}

// Client talks to the lobby server on behalf of one signed-in user.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient builds a client. hc may be nil; streams need a client without a
// total timeout.
func NewClient(baseURL, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), token: token, http: hc}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Reason: body.Error}
}

// Heartbeat renews the user's presence.
func (c *Client) Heartbeat(ctx context.Context, in presence.HeartbeatInput) (*presence.HeartbeatResult, error) {
	var res presence.HeartbeatResult
	if err := c.do(ctx, http.MethodPost, "/presence/heartbeat", in, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Shutdown tells the server the overlay is going away.
func (c *Client) Shutdown(ctx context.Context) (*presence.CleanupResult, error) {
	var res presence.CleanupResult
	if err := c.do(ctx, http.MethodPost, "/presence/shutdown", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Current returns the lobby the user hosts or sits in, or nil.
func (c *Client) Current(ctx context.Context) (*lobby.Current, error) {
	var raw struct {
		Lobby  *models.Lobby `json:"lobby"`
		IsHost bool          `json:"isHost"`
	}
	if err := c.do(ctx, http.MethodGet, "/lobbies/current", nil, &raw); err != nil {
		return nil, err
	}
	if raw.Lobby == nil {
		return nil, nil
	}
	return &lobby.Current{Lobby: *raw.Lobby, IsHost: raw.IsHost}, nil
}

// PostTelemetry sends a host reading for lobbyID.
func (c *Client) PostTelemetry(ctx context.Context, lobbyID uuid.UUID, t models.Telemetry) (*telemetry.Payload, error) {
	var p telemetry.Payload
	if err := c.do(ctx, http.MethodPost, "/lobbies/"+lobbyID.String()+"/telemetry", t, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Follow streams the lobby's events to fn until ctx ends, the server closes the
// stream or fn returns an error.
func (c *Client) Follow(ctx context.Context, lobbyID uuid.UUID, fn func(Event) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/lobbies/"+lobbyID.String()+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("open lobby stream: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}

	sc := NewScanner(resp.Body)
	for sc.Next() {
		if err := fn(sc.Event()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read lobby stream: %w", err)
	}
	return ctx.Err()
}
