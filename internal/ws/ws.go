// Package ws opens the live event channel over WebSocket.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/matheus3301/dmsync/internal/wire"
)

const (
	readLimit   = 1 << 20
	dialTimeout = 15 * time.Second
)

// Channel is one open live connection carrying text frames.
type Channel interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Close() error
}

// Dialer opens channels authenticated with a bearer token.
type Dialer interface {
	Dial(ctx context.Context, token string) (Channel, error)
}

// WebSocketDialer dials URL with an Authorization header.
type WebSocketDialer struct {
	URL        string
	HTTPClient *http.Client
}

// NewDialer returns a dialer for the given ws:// or wss:// URL.
func NewDialer(url string) *WebSocketDialer {
	return &WebSocketDialer{URL: url}
}

// Dial opens the channel. A 401 or 403 handshake response is reported as
// wire.ErrUnauthenticated; every other failure as wire.ErrTransportUnavailable.
func (d *WebSocketDialer) Dial(ctx context.Context, token string) (Channel, error) {
	if token == "" {
		return nil, wire.ErrNoCredential
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	c, resp, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body
		HTTPClient: d.HTTPClient,
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("dial %s: %w", d.URL, wire.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("dial %s: %w: %v", d.URL, wire.ErrTransportUnavailable, err)
	}
	c.SetReadLimit(readLimit)
	return &conn{c: c}, nil
}

type conn struct {
	c *websocket.Conn
}

func (c *conn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.c.Read(ctx)
		if err != nil {
			return nil, classify(err)
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (c *conn) Write(ctx context.Context, frame []byte) error {
	if err := c.c.Write(ctx, websocket.MessageText, frame); err != nil {
		return classify(err)
	}
	return nil
}

func (c *conn) Close() error {
	return c.c.Close(websocket.StatusNormalClosure, "bye")
}

// classify maps a read or write failure to a wire error kind. The service
// closes with policy violation when the token is revoked mid-session.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
		return fmt.Errorf("%w: %v", wire.ErrUnauthenticated, err)
	}
	return fmt.Errorf("%w: %v", wire.ErrTransportUnavailable, err)
}
