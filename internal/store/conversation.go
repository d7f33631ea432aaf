package store

import "sort"

// Conversations holds one summary per counterpart. It is not safe for
// concurrent use; callers serialize access.
type Conversations struct {
	self          string
	byID          map[string]*Conversation
	byCounterpart map[string]string
}

// NewConversations creates an empty conversation store for the local user self.
func NewConversations(self string) *Conversations {
	return &Conversations{
		self:          self,
		byID:          make(map[string]*Conversation),
		byCounterpart: make(map[string]string),
	}
}

// UpsertSummary inserts c or merges it into the existing conversation for the
// same counterpart. On merge the newer last message wins, non-empty profile
// fields replace old ones, and a server id replaces a provisional one. The
// unread count is only taken from c on insert. It returns the stored summary
// and, when a provisional id was replaced, that old id.
func (s *Conversations) UpsertSummary(c Conversation) (Conversation, string) {
	if c.ID == "" {
		return Conversation{}, ""
	}
	ex := s.lookup(c.CounterpartID, c.ID)
	if ex == nil {
		if c.UnreadCount < 0 {
			c.UnreadCount = 0
		}
		c.Online, c.Typing = false, false
		s.insert(&c)
		return c, ""
	}

	var replaced string
	if ex.Provisional && !c.Provisional && ex.ID != c.ID {
		replaced = ex.ID
		s.rekey(ex.ID, c.ID)
		ex = s.byID[c.ID]
	}
	if ex.CounterpartID == "" && c.CounterpartID != "" {
		ex.CounterpartID = c.CounterpartID
		s.byCounterpart[c.CounterpartID] = ex.ID
	}
	if c.CounterpartName != "" {
		ex.CounterpartName = c.CounterpartName
	}
	if c.CounterpartAvatar != "" {
		ex.CounterpartAvatar = c.CounterpartAvatar
	}
	if c.LastMessageAt.After(ex.LastMessageAt) {
		ex.LastMessage = c.LastMessage
		ex.LastMessageAt = c.LastMessageAt
	}
	return *ex, replaced
}

// Ensure returns the conversation with counterpartID, creating a provisional
// one under provisionalID when none exists.
func (s *Conversations) Ensure(counterpartID, provisionalID string) Conversation {
	if id, ok := s.byCounterpart[counterpartID]; ok {
		return *s.byID[id]
	}
	c := &Conversation{ID: provisionalID, Provisional: true, CounterpartID: counterpartID}
	s.insert(c)
	return *c
}

// Adopt binds the server conversation id to counterpartID. If the counterpart
// only has a provisional conversation it is re-keyed and the old id returned.
// If the counterpart already has a server conversation under another id, that
// id is returned as the one to use.
func (s *Conversations) Adopt(conversationID, counterpartID string) (use string, replaced string) {
	if _, ok := s.byID[conversationID]; ok {
		return conversationID, ""
	}
	if counterpartID != "" {
		if id, ok := s.byCounterpart[counterpartID]; ok {
			ex := s.byID[id]
			if !ex.Provisional {
				return id, ""
			}
			s.rekey(id, conversationID)
			return conversationID, id
		}
	}
	s.insert(&Conversation{ID: conversationID, CounterpartID: counterpartID})
	return conversationID, ""
}

// ApplyIncomingMessage updates the preview from m and counts it as unread
// unless the conversation is active or m was written by the local user.
func (s *Conversations) ApplyIncomingMessage(conversationID string, m *Message, isActive bool) bool {
	c, ok := s.byID[conversationID]
	if !ok {
		return false
	}
	if !m.Timestamp.Before(c.LastMessageAt) {
		c.LastMessage = m.Preview()
		c.LastMessageAt = m.Timestamp
	}
	if !isActive && m.SenderID != s.self {
		c.UnreadCount++
	}
	return true
}

// MarkOpened resets the unread count. Delivery statuses are untouched.
func (s *Conversations) MarkOpened(conversationID string) bool {
	c, ok := s.byID[conversationID]
	if !ok {
		return false
	}
	c.UnreadCount = 0
	return true
}

// Get returns a copy of one conversation.
func (s *Conversations) Get(conversationID string) (Conversation, bool) {
	c, ok := s.byID[conversationID]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// ByCounterpart returns the conversation with the given counterpart.
func (s *Conversations) ByCounterpart(counterpartID string) (Conversation, bool) {
	id, ok := s.byCounterpart[counterpartID]
	if !ok {
		return Conversation{}, false
	}
	return *s.byID[id], true
}

// List returns copies sorted by last message time descending, ties by id.
func (s *Conversations) List() []Conversation {
	out := make([]Conversation, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Restore inserts persisted summaries as-is, unread counts included.
func (s *Conversations) Restore(list []Conversation) {
	for i := range list {
		c := list[i]
		if c.ID == "" {
			continue
		}
		if _, ok := s.byID[c.ID]; ok {
			continue
		}
		if c.CounterpartID != "" {
			if _, ok := s.byCounterpart[c.CounterpartID]; ok {
				continue
			}
		}
		s.insert(&c)
	}
}

// Clear drops every conversation.
func (s *Conversations) Clear() {
	s.byID = make(map[string]*Conversation)
	s.byCounterpart = make(map[string]string)
}

func (s *Conversations) lookup(counterpartID, id string) *Conversation {
	if counterpartID != "" {
		if cid, ok := s.byCounterpart[counterpartID]; ok {
			return s.byID[cid]
		}
	}
	return s.byID[id]
}

func (s *Conversations) insert(c *Conversation) {
	s.byID[c.ID] = c
	if c.CounterpartID != "" {
		s.byCounterpart[c.CounterpartID] = c.ID
	}
}

// rekey renames a conversation. If newID is already taken the two are merged
// into the existing entry.
func (s *Conversations) rekey(oldID, newID string) {
	c := s.byID[oldID]
	delete(s.byID, oldID)
	if dst, ok := s.byID[newID]; ok {
		if c.LastMessageAt.After(dst.LastMessageAt) {
			dst.LastMessage = c.LastMessage
			dst.LastMessageAt = c.LastMessageAt
		}
		dst.UnreadCount += c.UnreadCount
		if dst.CounterpartID == "" {
			dst.CounterpartID = c.CounterpartID
		}
		if dst.CounterpartID != "" {
			s.byCounterpart[dst.CounterpartID] = newID
		}
		return
	}
	c.ID = newID
	c.Provisional = false
	s.insert(c)
}
