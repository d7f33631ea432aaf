package store

import (
	"sort"
	"time"
)

// AppendResult reports what Append did with a message.
type AppendResult int

const (
	// Ignored means the input was unusable (missing ids).
	Ignored AppendResult = iota
	// Inserted means a new entry was added to the log.
	Inserted
	// Reconciled means a provisional entry was replaced by its server copy.
	Reconciled
	// Duplicate means the id was already present; only the status may have advanced.
	Duplicate
)

func (r AppendResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Reconciled:
		return "reconciled"
	case Duplicate:
		return "duplicate"
	default:
		return "ignored"
	}
}

// Messages holds one ordered log per conversation. It is not safe for
// concurrent use; callers serialize access.
type Messages struct {
	logs   map[string][]Message
	loaded map[string]bool
}

// NewMessages creates an empty message store.
func NewMessages() *Messages {
	return &Messages{
		logs:   make(map[string][]Message),
		loaded: make(map[string]bool),
	}
}

// Append inserts m into the conversation log keeping timestamp order.
// A known id only advances status. A server copy of a local provisional
// message replaces that entry instead of adding a second one.
func (s *Messages) Append(conversationID string, m Message) AppendResult {
	if conversationID == "" || m.ID == "" {
		return Ignored
	}
	m.ConversationID = conversationID
	if m.Status == StatusUnknown {
		m.Status = StatusSent
	}

	log := s.logs[conversationID]
	if i := indexOf(log, m.ID); i >= 0 {
		if m.Status > log[i].Status {
			log[i].Status = m.Status
		}
		return Duplicate
	}

	if !m.Provisional {
		if i := provisionalMatch(log, &m); i >= 0 {
			if log[i].Status > m.Status {
				m.Status = log[i].Status
			}
			log[i] = m
			s.logs[conversationID] = settle(log, i)
			return Reconciled
		}
	}

	s.logs[conversationID] = insertOrdered(log, m)
	return Inserted
}

// SetStatus advances a message's delivery status. It returns false when the
// message is absent or status is not ahead of the current one.
func (s *Messages) SetStatus(conversationID, messageID string, status Status) bool {
	log := s.logs[conversationID]
	i := indexOf(log, messageID)
	if i < 0 || status <= log[i].Status {
		return false
	}
	log[i].Status = status
	return true
}

// SnapshotLoad replaces the conversation log with a server-provided list and
// marks the conversation loaded. Local knowledge the snapshot cannot carry
// survives: statuses never go backward, unresolved provisional entries stay
// unless the snapshot contains their server copy, and live entries newer than
// the snapshot's tail are kept.
func (s *Messages) SnapshotLoad(conversationID string, msgs []Message) {
	if conversationID == "" {
		return
	}
	s.logs[conversationID] = s.merge(conversationID, msgs)
	s.loaded[conversationID] = true
}

// Restore seeds a log from persisted state without marking it loaded.
func (s *Messages) Restore(conversationID string, msgs []Message) {
	if conversationID == "" {
		return
	}
	s.logs[conversationID] = s.merge(conversationID, msgs)
}

func (s *Messages) merge(conversationID string, msgs []Message) []Message {
	prev := s.logs[conversationID]
	prevByID := make(map[string]Message, len(prev))
	for _, p := range prev {
		prevByID[p.ID] = p
	}

	sorted := make([]Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	next := make([]Message, 0, len(sorted)+len(prev))
	seen := make(map[string]bool, len(sorted))
	for _, m := range sorted {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		m.ConversationID = conversationID
		if m.Status == StatusUnknown {
			m.Status = StatusSent
		}
		if p, ok := prevByID[m.ID]; ok && p.Status > m.Status {
			m.Status = p.Status
		}
		next = append(next, m)
	}

	var tail Message
	if len(next) > 0 {
		tail = next[len(next)-1]
	}
	claimed := make(map[string]bool)
	for _, p := range prev {
		if seen[p.ID] {
			continue
		}
		if p.Provisional {
			if id := serverCopy(next, &p, prevByID, claimed); id != "" {
				claimed[id] = true
				continue
			}
			next = insertOrdered(next, p)
			continue
		}
		if len(next) == 0 || p.Timestamp.After(tail.Timestamp) {
			next = insertOrdered(next, p)
		}
	}
	return next
}

// Get returns a copy of one message.
func (s *Messages) Get(conversationID, messageID string) (Message, bool) {
	log := s.logs[conversationID]
	if i := indexOf(log, messageID); i >= 0 {
		return log[i], true
	}
	return Message{}, false
}

// Log returns a copy of the conversation log in order.
func (s *Messages) Log(conversationID string) []Message {
	log := s.logs[conversationID]
	out := make([]Message, len(log))
	copy(out, log)
	return out
}

// Loaded reports whether a snapshot was applied to the conversation.
func (s *Messages) Loaded(conversationID string) bool {
	return s.loaded[conversationID]
}

// Rekey moves the log of oldID under newID, merging with any entries already
// held for newID. A provisional entry whose server copy already sits in the
// target log is folded into that copy.
func (s *Messages) Rekey(oldID, newID string) {
	if oldID == newID || oldID == "" || newID == "" {
		return
	}
	old := s.logs[oldID]
	delete(s.logs, oldID)
	if s.loaded[oldID] {
		s.loaded[newID] = true
	}
	delete(s.loaded, oldID)

	oldByID := make(map[string]Message, len(old))
	for _, m := range old {
		oldByID[m.ID] = m
	}
	claimed := make(map[string]bool)
	for _, m := range old {
		if m.Provisional {
			log := s.logs[newID]
			if id := serverCopy(log, &m, oldByID, claimed); id != "" {
				claimed[id] = true
				if i := indexOf(log, id); log[i].Status < m.Status {
					log[i].Status = m.Status
				}
				continue
			}
		}
		s.Append(newID, m)
	}
}

// ProvisionalOwner returns the conversation holding the oldest unresolved
// provisional entry that m confirms, or "" when there is none.
func (s *Messages) ProvisionalOwner(m *Message) string {
	if m.Provisional {
		return ""
	}
	owner := ""
	var at time.Time
	for _, id := range s.ConversationIDs() {
		log := s.logs[id]
		if i := provisionalMatch(log, m); i >= 0 && (owner == "" || log[i].Timestamp.Before(at)) {
			owner, at = id, log[i].Timestamp
		}
	}
	return owner
}

// ConversationIDs returns the ids of all conversations holding a log.
func (s *Messages) ConversationIDs() []string {
	ids := make([]string, 0, len(s.logs))
	for id := range s.logs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear drops every log.
func (s *Messages) Clear() {
	s.logs = make(map[string][]Message)
	s.loaded = make(map[string]bool)
}

func indexOf(log []Message, id string) int {
	for i := range log {
		if log[i].ID == id {
			return i
		}
	}
	return -1
}

// provisionalMatch finds the oldest unresolved provisional entry by the same
// sender with the same body.
func provisionalMatch(log []Message, m *Message) int {
	for i := range log {
		if log[i].Provisional && log[i].SenderID == m.SenderID && log[i].sameContent(m) {
			return i
		}
	}
	return -1
}

// serverCopy returns the id of an entry in next that is the server copy of
// provisional p, or "" when none is found. Entries in known belong to p's own
// log and are never taken as its copy.
func serverCopy(next []Message, p *Message, known map[string]Message, claimed map[string]bool) string {
	for i := range next {
		m := &next[i]
		if claimed[m.ID] || m.Provisional {
			continue
		}
		if _, ok := known[m.ID]; ok {
			continue
		}
		if m.SenderID == p.SenderID && m.sameContent(p) {
			return m.ID
		}
	}
	return ""
}

// insertOrdered places m after every entry whose timestamp is not later.
func insertOrdered(log []Message, m Message) []Message {
	pos := sort.Search(len(log), func(i int) bool {
		return log[i].Timestamp.After(m.Timestamp)
	})
	log = append(log, Message{})
	copy(log[pos+1:], log[pos:])
	log[pos] = m
	return log
}

// settle moves the entry at i to its ordered slot if replacing it broke order.
func settle(log []Message, i int) []Message {
	ts := log[i].Timestamp
	if (i == 0 || !log[i-1].Timestamp.After(ts)) && (i == len(log)-1 || !log[i+1].Timestamp.Before(ts)) {
		return log
	}
	m := log[i]
	log = append(log[:i], log[i+1:]...)
	return insertOrdered(log, m)
}
