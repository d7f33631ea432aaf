package store

import "time"

// State is the caller-owned view of one signed-in session. It aggregates the
// three stores with the local user id and the active conversation. Like the
// stores it holds, it is not safe for concurrent use.
type State struct {
	Self   string
	Active string

	Presence      *Presence
	Conversations *Conversations
	Messages      *Messages
}

// NewState creates an empty state for the local user self.
func NewState(self string) *State {
	return &State{
		Self:          self,
		Presence:      NewPresence(),
		Conversations: NewConversations(self),
		Messages:      NewMessages(),
	}
}

// Clear empties every store and the active conversation. Self is kept.
func (s *State) Clear() {
	s.Active = ""
	s.Presence.Clear()
	s.Conversations.Clear()
	s.Messages.Clear()
}

// IsActive reports whether conversationID is the open conversation.
func (s *State) IsActive(conversationID string) bool {
	return conversationID != "" && s.Active == conversationID
}

// UpsertSummary merges a summary and moves the message log along when a
// provisional conversation id is replaced. The replaced id is returned.
func (s *State) UpsertSummary(c Conversation) (Conversation, string) {
	stored, replaced := s.Conversations.UpsertSummary(c)
	if replaced != "" {
		s.rekey(replaced, stored.ID)
	}
	return stored, replaced
}

// ResolveConversation returns the id under which a message for conversationID
// with counterpartID must be stored. A provisional conversation for the same
// counterpart is re-keyed to the server id. If the counterpart already has a
// server conversation under a different id, that one is used. The second
// result is the provisional id that was replaced, if any.
func (s *State) ResolveConversation(conversationID, counterpartID string) (string, string) {
	use, replaced := s.Conversations.Adopt(conversationID, counterpartID)
	if replaced != "" {
		s.rekey(replaced, use)
	}
	return use, replaced
}

// Counterpart returns the other participant of a message from the local
// user's point of view. An echo of a local message may arrive without a
// recipient; it is then attributed through its conversation, or through the
// provisional entry it confirms.
func (s *State) Counterpart(m *Message) string {
	if m.SenderID != s.Self {
		return m.SenderID
	}
	if m.RecipientID != "" {
		return m.RecipientID
	}
	if c, ok := s.Conversations.Get(m.ConversationID); ok {
		return c.CounterpartID
	}
	if id := s.Messages.ProvisionalOwner(m); id != "" {
		if c, ok := s.Conversations.Get(id); ok {
			return c.CounterpartID
		}
	}
	return ""
}

// ConversationsView lists conversations with presence flags filled in.
func (s *State) ConversationsView(now time.Time) []Conversation {
	list := s.Conversations.List()
	for i := range list {
		id := list[i].CounterpartID
		list[i].Online = s.Presence.IsOnline(id)
		list[i].Typing = s.Presence.IsTyping(id, now)
	}
	return list
}

func (s *State) rekey(oldID, newID string) {
	s.Messages.Rekey(oldID, newID)
	if s.Active == oldID {
		s.Active = newID
	}
}
