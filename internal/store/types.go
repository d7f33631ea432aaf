package store

import "time"

// Status is a message delivery status. Values are ordered; a message only
// ever moves forward along sent -> delivered -> read.
type Status int

const (
	StatusUnknown Status = iota
	StatusSent
	StatusDelivered
	StatusRead
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "unknown"
	}
}

// ParseStatus maps a wire status name to a Status. Unknown names report false.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "sent":
		return StatusSent, true
	case "delivered":
		return StatusDelivered, true
	case "read", "seen":
		return StatusRead, true
	default:
		return StatusUnknown, false
	}
}

// Kind is the body kind of a message.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindFile  Kind = "file"
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// ParseKind maps a wire type name to a Kind, defaulting to text.
func ParseKind(s string) Kind {
	switch k := Kind(s); k {
	case KindImage, KindFile, KindAudio, KindVideo:
		return k
	default:
		return KindText
	}
}

// Message is one entry of a conversation log.
type Message struct {
	ID             string
	Provisional    bool // ID is client-assigned and awaits the server echo
	ConversationID string
	SenderID       string
	RecipientID    string
	Text           string
	Kind           Kind
	URL            string
	Timestamp      time.Time
	Status         Status
}

// Preview returns the conversation-list preview text for the message.
func (m *Message) Preview() string {
	if m.Text != "" {
		return m.Text
	}
	return "[media]"
}

// sameContent reports whether two messages carry the same body.
func (m *Message) sameContent(o *Message) bool {
	return m.Text == o.Text && m.Kind == o.Kind && m.URL == o.URL
}

// Conversation is the summary of a one-to-one thread.
type Conversation struct {
	ID                string
	Provisional       bool // ID is client-assigned; no server conversation known yet
	CounterpartID     string
	CounterpartName   string
	CounterpartAvatar string
	LastMessage       string
	LastMessageAt     time.Time
	UnreadCount       int

	// Derived from presence when read through State.Conversations.
	Online bool
	Typing bool
}
