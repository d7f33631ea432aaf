package wire

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/matheus3301/dmsync/internal/store"
)

// Inbound event names.
const (
	EventOnlineUsers    = "online_users"
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
	EventTyping         = "typing"
	EventStopTyping     = "stop_typing"
	EventReceiveMessage = "receive_message"
	EventMessageSeen    = "message_seen"
)

// Inbound is one decoded service event. The concrete type is one of the
// variants below.
type Inbound interface {
	inbound()
}

// OnlineUsers replaces the whole online set.
type OnlineUsers struct{ UserIDs []string }

// UserOnline adds one user to the online set.
type UserOnline struct{ UserID string }

// UserOffline removes one user from the online set.
type UserOffline struct{ UserID string }

// TypingStarted reports that From is composing a message to the local user.
type TypingStarted struct{ From string }

// TypingStopped reports that From stopped composing.
type TypingStopped struct{ From string }

// MessageReceived carries a message persisted by the service.
type MessageReceived struct{ Message store.Message }

// MessageSeen reports that the recipient read a message.
type MessageSeen struct {
	ConversationID string
	MessageID      string
}

// Malformed is any frame that failed validation. Err wraps ErrMalformedEvent.
type Malformed struct {
	Name string
	Raw  []byte
	Err  error
}

func (OnlineUsers) inbound()     {}
func (UserOnline) inbound()      {}
func (UserOffline) inbound()     {}
func (TypingStarted) inbound()   {}
func (TypingStopped) inbound()   {}
func (MessageReceived) inbound() {}
func (MessageSeen) inbound()     {}
func (Malformed) inbound()       {}

// Decode validates one frame of the form {"event": name, "data": payload}
// and converts it to its variant. It never fails; invalid input yields
// Malformed.
func Decode(frame []byte) Inbound {
	if !gjson.ValidBytes(frame) {
		return malformed("", frame, "invalid json")
	}
	root := gjson.ParseBytes(frame)
	name := root.Get("event").String()
	data := root.Get("data")
	if name == "" {
		return malformed("", frame, "missing event name")
	}

	switch name {
	case EventOnlineUsers:
		if !data.IsArray() {
			return malformed(name, frame, "data is not an array")
		}
		ids := make([]string, 0, len(data.Array()))
		for _, v := range data.Array() {
			if id := v.String(); id != "" {
				ids = append(ids, id)
			}
		}
		return OnlineUsers{UserIDs: ids}

	case EventUserOnline, EventUserOffline:
		id := userID(data)
		if id == "" {
			return malformed(name, frame, "missing user id")
		}
		if name == EventUserOnline {
			return UserOnline{UserID: id}
		}
		return UserOffline{UserID: id}

	case EventTyping, EventStopTyping:
		from := data.Get("from").String()
		if from == "" {
			return malformed(name, frame, "missing from")
		}
		if name == EventTyping {
			return TypingStarted{From: from}
		}
		return TypingStopped{From: from}

	case EventReceiveMessage:
		m, err := decodeMessage(data, "")
		if err != nil {
			return malformed(name, frame, err.Error())
		}
		return MessageReceived{Message: m}

	case EventMessageSeen:
		conv := first(data, "conversationId", "chatId")
		msgID := data.Get("messageId").String()
		if conv == "" || msgID == "" {
			return malformed(name, frame, "missing conversation or message id")
		}
		return MessageSeen{ConversationID: conv, MessageID: msgID}

	default:
		return malformed(name, frame, "unknown event")
	}
}

// DecodeMessage converts one message object as found in receive_message
// payloads and REST snapshots. conversationID is used when the object does
// not name its conversation.
func DecodeMessage(raw []byte, conversationID string) (store.Message, error) {
	if !gjson.ValidBytes(raw) {
		return store.Message{}, fmt.Errorf("%w: invalid json", ErrMalformedEvent)
	}
	m, err := decodeMessage(gjson.ParseBytes(raw), conversationID)
	if err != nil {
		return store.Message{}, fmt.Errorf("%w: %s", ErrMalformedEvent, err)
	}
	return m, nil
}

func decodeMessage(data gjson.Result, conversationID string) (store.Message, error) {
	if !data.IsObject() {
		return store.Message{}, fmt.Errorf("data is not an object")
	}
	m := store.Message{
		ID:             first(data, "id", "_id"),
		ConversationID: first(data, "conversationId", "chatId"),
		SenderID:       first(data, "from", "senderId"),
		RecipientID:    data.Get("to").String(),
		Text:           data.Get("text").String(),
		Kind:           store.ParseKind(data.Get("type").String()),
		URL:            data.Get("url").String(),
	}
	if m.ConversationID == "" {
		m.ConversationID = conversationID
	}
	switch {
	case m.ID == "":
		return store.Message{}, fmt.Errorf("missing id")
	case m.ConversationID == "":
		return store.Message{}, fmt.Errorf("missing conversationId")
	case m.SenderID == "":
		return store.Message{}, fmt.Errorf("missing from")
	}

	ts, ok := ParseTime(firstResult(data, "timestamp", "createdAt"))
	if !ok {
		return store.Message{}, fmt.Errorf("missing or invalid timestamp")
	}
	m.Timestamp = ts

	if st, ok := store.ParseStatus(data.Get("status").String()); ok {
		m.Status = st
	} else if data.Get("read").Bool() {
		m.Status = store.StatusRead
	}
	return m, nil
}

// ParseTime accepts RFC 3339 strings and unix milliseconds, as a number or
// a numeric string.
func ParseTime(v gjson.Result) (time.Time, bool) {
	switch v.Type {
	case gjson.Number:
		return time.UnixMilli(v.Int()).UTC(), true
	case gjson.String:
		if t, err := time.Parse(time.RFC3339Nano, v.Str); err == nil {
			return t.UTC(), true
		}
		if ms, err := strconv.ParseInt(v.Str, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
	}
	return time.Time{}, false
}

// userID accepts a bare id string or an object with userId.
func userID(data gjson.Result) string {
	if data.Type == gjson.String {
		return data.Str
	}
	return data.Get("userId").String()
}

func first(data gjson.Result, paths ...string) string {
	return firstResult(data, paths...).String()
}

func firstResult(data gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := data.Get(p); r.Exists() && r.String() != "" {
			return r
		}
	}
	return gjson.Result{}
}

func malformed(name string, raw []byte, reason string) Malformed {
	return Malformed{
		Name: name,
		Raw:  raw,
		Err:  fmt.Errorf("%w: %s: %s", ErrMalformedEvent, name, reason),
	}
}
