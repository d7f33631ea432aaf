package bus

import "time"

// Event kinds published by the client.
const (
	KindStatusChanged = "conn.status_changed"
	KindStoreChanged  = "store.changed"
	KindAuthLost      = "session.auth_lost"
)

// Event represents a state change published on the bus.
type Event struct {
	Kind string
	// Conversation is the affected conversation, empty for session-wide events.
	Conversation string
	Timestamp    time.Time
	Payload      any
}
