package rpc

import (
	"time"

	"github.com/matheus3301/dmsync/internal/store"
)

type StatusRequest struct{}

type StatusResponse struct {
	Session       string    `json:"session"`
	UserID        string    `json:"userId"`
	Status        string    `json:"status"`
	Since         time.Time `json:"since"`
	UptimeMs      int64     `json:"uptimeMs"`
	Conversations int       `json:"conversations"`
	Active        string    `json:"active,omitempty"`
	Online        []string  `json:"online"`
	DroppedEvents uint64    `json:"droppedEvents"`
}

type ConnectRequest struct{}

type ConnectResponse struct {
	Status string `json:"status"`
}

type DisconnectRequest struct{}

type DisconnectResponse struct {
	Status string `json:"status"`
}

type RefreshRequest struct{}

type RefreshResponse struct {
	Conversations int `json:"conversations"`
}

type ListConversationsRequest struct {
	Limit int `json:"limit,omitempty"`
}

type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}

type Conversation struct {
	ID              string    `json:"id"`
	Provisional     bool      `json:"provisional,omitempty"`
	CounterpartID   string    `json:"counterpartId"`
	CounterpartName string    `json:"counterpartName,omitempty"`
	LastMessage     string    `json:"lastMessage,omitempty"`
	LastMessageAt   time.Time `json:"lastMessageAt"`
	Unread          int       `json:"unread"`
	Online          bool      `json:"online"`
	Typing          bool      `json:"typing"`
}

type ListMessagesRequest struct {
	ConversationID string `json:"conversationId"`
	Limit          int    `json:"limit,omitempty"`
}

type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}

type Message struct {
	ID             string    `json:"id"`
	Provisional    bool      `json:"provisional,omitempty"`
	ConversationID string    `json:"conversationId"`
	From           string    `json:"from"`
	To             string    `json:"to,omitempty"`
	Text           string    `json:"text,omitempty"`
	Kind           string    `json:"kind"`
	URL            string    `json:"url,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Status         string    `json:"status"`
}

type OpenRequest struct {
	ConversationID string `json:"conversationId"`
}

type OpenResponse struct {
	Conversation Conversation `json:"conversation"`
}

type CloseRequest struct{}

type CloseResponse struct{}

// SendRequest addresses a user directly or through a known conversation.
type SendRequest struct {
	To             string `json:"to,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Text           string `json:"text"`
}

type SendResponse struct {
	Message Message `json:"message"`
}

// InputRequest reports a keystroke in the composer of the open conversation.
type InputRequest struct{}

type InputResponse struct {
	Typing bool `json:"typing"`
}

type WatchRequest struct {
	// Namespace filters events by kind prefix; empty watches everything.
	Namespace string `json:"namespace,omitempty"`
}

type Event struct {
	Kind         string    `json:"kind"`
	Conversation string    `json:"conversation,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	From         string    `json:"from,omitempty"`
	To           string    `json:"to,omitempty"`
	Detail       string    `json:"detail,omitempty"`
}

// ConversationFrom converts a store summary.
func ConversationFrom(c store.Conversation) Conversation {
	return Conversation{
		ID:              c.ID,
		Provisional:     c.Provisional,
		CounterpartID:   c.CounterpartID,
		CounterpartName: c.CounterpartName,
		LastMessage:     c.LastMessage,
		LastMessageAt:   c.LastMessageAt,
		Unread:          c.UnreadCount,
		Online:          c.Online,
		Typing:          c.Typing,
	}
}

// MessageFrom converts a store message.
func MessageFrom(m store.Message) Message {
	return Message{
		ID:             m.ID,
		Provisional:    m.Provisional,
		ConversationID: m.ConversationID,
		From:           m.SenderID,
		To:             m.RecipientID,
		Text:           m.Text,
		Kind:           string(m.Kind),
		URL:            m.URL,
		Timestamp:      m.Timestamp,
		Status:         m.Status.String(),
	}
}
