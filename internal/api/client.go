// Package api is the REST snapshot client: conversation summaries, message
// history, and the mark-read call.
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/matheus3301/dmsync/internal/store"
	"github.com/matheus3301/dmsync/internal/wire"
)

// Client calls the messaging service's REST API on behalf of one user.
type Client struct {
	http   *resty.Client
	userID string
	log    *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRetry sets the number of retries and the initial wait for failed reads.
func WithRetry(count int, wait time.Duration) Option {
	return func(c *Client) {
		c.http.SetRetryCount(count).SetRetryWaitTime(wait)
	}
}

// New creates a client for baseURL (e.g. http://localhost:4002/api) acting as userID.
func New(baseURL, userID string, log *zap.Logger, opts ...Option) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	hc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	c := &Client{http: hc, userID: userID, log: log}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetToken sets the bearer credential sent with every request.
func (c *Client) SetToken(token string) {
	c.http.SetAuthToken(token)
}

// FetchConversations returns the user's conversation summaries. The
// counterpart is derived from the last message when the service does not
// name it.
func (c *Client) FetchConversations(ctx context.Context) ([]store.Conversation, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("userId", c.userID).
		Get("/conversations")
	if err := check(resp, err, "fetch conversations"); err != nil {
		return nil, err
	}

	var out []store.Conversation
	gjson.GetBytes(resp.Body(), "conversations").ForEach(func(_, v gjson.Result) bool {
		conv, ok := c.summary(v)
		if !ok {
			c.log.Warn("skipping conversation without id", zap.String("raw", v.Raw))
			return true
		}
		out = append(out, conv)
		return true
	})
	return out, nil
}

func (c *Client) summary(v gjson.Result) (store.Conversation, bool) {
	conv := store.Conversation{
		ID:                v.Get("_id").String(),
		CounterpartID:     v.Get("participantId").String(),
		CounterpartName:   v.Get("participantName").String(),
		CounterpartAvatar: v.Get("participantAvatar").String(),
	}
	if conv.ID == "" {
		conv.ID = v.Get("id").String()
	}
	if conv.ID == "" {
		return conv, false
	}

	last := v.Get("lastMessage")
	if !last.IsObject() {
		return conv, true
	}
	from := last.Get("from").String()
	if conv.CounterpartID == "" {
		if from == c.userID {
			conv.CounterpartID = last.Get("to").String()
		} else {
			conv.CounterpartID = from
		}
	}
	preview := store.Message{Text: last.Get("text").String()}
	conv.LastMessage = preview.Preview()
	if ts, ok := wire.ParseTime(last.Get("createdAt")); ok {
		conv.LastMessageAt = ts
	}
	if !last.Get("read").Bool() && from != c.userID {
		conv.UnreadCount = 1
	}
	return conv, true
}

// FetchMessages returns the message history with counterpartID, stored
// under conversationID. Entries that fail validation are skipped.
func (c *Client) FetchMessages(ctx context.Context, conversationID, counterpartID string) ([]store.Message, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/conversations/%s/%s", url.PathEscape(c.userID), url.PathEscape(counterpartID)))
	if err := check(resp, err, "fetch messages"); err != nil {
		return nil, err
	}

	var out []store.Message
	gjson.GetBytes(resp.Body(), "conversation").ForEach(func(_, v gjson.Result) bool {
		m, err := wire.DecodeMessage([]byte(v.Raw), conversationID)
		if err != nil {
			c.log.Warn("skipping snapshot message", zap.String("conversation", conversationID), zap.Error(err))
			return true
		}
		out = append(out, m)
		return true
	})
	return out, nil
}

// MarkRead tells the service the user has read the conversation with counterpartID.
func (c *Client) MarkRead(ctx context.Context, counterpartID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Put(fmt.Sprintf("/conversations/%s/%s/read", url.PathEscape(c.userID), url.PathEscape(counterpartID)))
	return check(resp, err, "mark read")
}

func check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, wire.ErrTransportUnavailable, err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, wire.ErrUnauthenticated)
	case code >= 400:
		return fmt.Errorf("%s: %w: status %d", op, wire.ErrTransportUnavailable, code)
	}
	return nil
}
