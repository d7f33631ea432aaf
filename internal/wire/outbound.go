package wire

import (
	"encoding/json"
	"fmt"
)

// Outbound event names.
const (
	EventSendMessage = "send_message"
)

// Outbound is a command sent to the service.
type Outbound interface {
	// Event returns the frame's event name.
	Event() string
}

// SendMessage asks the service to persist and deliver a message.
type SendMessage struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// StartTyping tells To that the local user is composing.
type StartTyping struct {
	To string `json:"to"`
}

// StopTyping tells To that the local user stopped composing.
type StopTyping struct {
	To string `json:"to"`
}

// MarkSeen is a read receipt for one message.
type MarkSeen struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

func (SendMessage) Event() string { return EventSendMessage }
func (StartTyping) Event() string { return EventTyping }
func (StopTyping) Event() string  { return EventStopTyping }
func (MarkSeen) Event() string    { return EventMessageSeen }

type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encode serializes a command into a frame.
func Encode(o Outbound) ([]byte, error) {
	b, err := json.Marshal(frame{Event: o.Event(), Data: o})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", o.Event(), err)
	}
	return b, nil
}
