package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openhire/interview-gateway/internal/bridge"
)

// Config holds the connection settings for the remote conversational
// engine's WebSocket endpoint.
type Config struct {
	// URL is the engine's base WebSocket URL, e.g. ws://engine:9100/v1/converse.
	URL string
	// APIKey, when set, is sent as a bearer token on the handshake.
	APIKey string

	HandshakeTimeout time.Duration
}

// Client dials the conversational engine. One Client is shared by all
// sessions; per-session dialers carry the session identity.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewClient(cfg Config) *Client {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
			ReadBufferSize:   16384,
			WriteBufferSize:  16384,
		},
	}
}

// ForSession returns a dialer bound to one interview session. The engine
// keys its conversational state on the session_id query parameter, so a
// reconnect resumes the same conversation.
func (c *Client) ForSession(sessionID string, modality string) bridge.Dialer {
	return &sessionDialer{client: c, sessionID: sessionID, modality: modality}
}

type sessionDialer struct {
	client    *Client
	sessionID string
	modality  string
}

func (d *sessionDialer) Dial(ctx context.Context) (bridge.Transport, error) {
	u, err := url.Parse(d.client.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("engine url: %w", err)
	}
	q := u.Query()
	q.Set("session_id", d.sessionID)
	q.Set("interview_type", d.modality)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if d.client.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+d.client.cfg.APIKey)
	}

	conn, resp, err := d.client.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("engine handshake: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("engine handshake: %w", err)
	}
	return bridge.NewWSTransport(conn), nil
}
