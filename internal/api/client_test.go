package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/dmsync/internal/store"
	"github.com/matheus3301/dmsync/internal/wire"
)

func TestFetchConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations", r.URL.Path)
		assert.Equal(t, "me", r.URL.Query().Get("userId"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"conversations":[
			{"_id":"c1","participantName":"Bob","participantAvatar":"/b.png",
			 "lastMessage":{"from":"bob","to":"me","text":"hi","createdAt":"2026-01-02T15:04:05Z","read":false}},
			{"_id":"c2","participantName":"Carol",
			 "lastMessage":{"from":"me","to":"carol","text":"","createdAt":"2026-01-01T00:00:00Z","read":false}},
			{"participantName":"nobody"}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/api", "me", nil)
	c.SetToken("tok")
	got, err := c.FetchConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, store.Conversation{
		ID: "c1", CounterpartID: "bob", CounterpartName: "Bob", CounterpartAvatar: "/b.png",
		LastMessage: "hi", LastMessageAt: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC), UnreadCount: 1,
	}, got[0])
	assert.Equal(t, "carol", got[1].CounterpartID)
	assert.Equal(t, "[media]", got[1].LastMessage)
	assert.Equal(t, 0, got[1].UnreadCount, "own last message is never unread")
}

func TestFetchMessagesSkipsInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations/me/bob", r.URL.Path)
		_, _ = w.Write([]byte(`{"conversation":[
			{"_id":"m1","from":"bob","to":"me","text":"hi","createdAt":"2026-01-02T15:04:05Z","read":true},
			{"_id":"m2","from":"me","to":"bob","text":"yo","createdAt":1767366300000},
			{"text":"no id"}
		]}`))
	}))
	defer srv.Close()

	got, err := New(srv.URL, "me", nil).FetchMessages(context.Background(), "c1", "bob")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].ConversationID)
	assert.Equal(t, store.StatusRead, got[0].Status)
	assert.Equal(t, "me", got[1].SenderID)
}

func TestMarkRead(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/conversations/me/bob/read", r.URL.Path)
		hits.Add(1)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL, "me", nil).MarkRead(context.Background(), "bob"))
	assert.Equal(t, int32(1), hits.Load())
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
	}{
		{"unauthorized", http.StatusUnauthorized, wire.ErrUnauthenticated},
		{"forbidden", http.StatusForbidden, wire.ErrUnauthenticated},
		{"not found", http.StatusNotFound, wire.ErrTransportUnavailable},
		{"server error", http.StatusBadGateway, wire.ErrTransportUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			_, err := New(srv.URL, "me", nil, WithRetry(0, 0)).FetchConversations(context.Background())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"conversations":[]}`))
	}))
	defer srv.Close()

	got, err := New(srv.URL, "me", nil, WithRetry(3, time.Millisecond)).FetchConversations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(3), hits.Load())
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, "me", nil, WithRetry(0, 0)).FetchMessages(context.Background(), "c1", "bob")
	assert.ErrorIs(t, err, wire.ErrTransportUnavailable)
}
