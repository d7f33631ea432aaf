package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/dmsync/internal/wire"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialSendsBearerAndEchoes(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		typ, data, err := c.Read(r.Context())
		if err != nil {
			return
		}
		_ = c.Write(r.Context(), websocket.MessageBinary, []byte("skipped"))
		_ = c.Write(r.Context(), typ, data)
		_, _, _ = c.Read(r.Context())
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := NewDialer(wsURL(srv)).Dial(ctx, "tok")
	require.NoError(t, err)
	defer ch.Close()

	assert.Equal(t, "Bearer tok", <-gotAuth)
	require.NoError(t, ch.Write(ctx, []byte(`{"event":"typing","data":{"to":"bob"}}`)))
	got, err := ch.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"event":"typing","data":{"to":"bob"}}`, string(got))
}

func TestDialRejectedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewDialer(wsURL(srv)).Dial(context.Background(), "bad")
	assert.ErrorIs(t, err, wire.ErrUnauthenticated)
}

func TestDialUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	_, err := NewDialer(url).Dial(context.Background(), "tok")
	assert.ErrorIs(t, err, wire.ErrTransportUnavailable)
}

func TestDialWithoutToken(t *testing.T) {
	_, err := NewDialer("ws://127.0.0.1:1").Dial(context.Background(), "")
	assert.ErrorIs(t, err, wire.ErrNoCredential)
}

func TestReadAfterServerClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c.Close(websocket.StatusPolicyViolation, "token revoked")
	}))
	defer srv.Close()

	ch, err := NewDialer(wsURL(srv)).Dial(context.Background(), "tok")
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.Read(context.Background())
	assert.ErrorIs(t, err, wire.ErrUnauthenticated)
}
