package sync

import "github.com/matheus3301/dmsync/internal/store"

// Conversations returns the conversation list with presence flags, newest first.
func (e *Engine) Conversations() []store.Conversation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.ConversationsView(e.clock.Now())
}

// Conversation returns one conversation summary.
func (e *Engine) Conversation(id string) (store.Conversation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.state.Conversations.Get(id)
	if ok {
		c.Online = e.state.Presence.IsOnline(c.CounterpartID)
		c.Typing = e.state.Presence.IsTyping(c.CounterpartID, e.clock.Now())
	}
	return c, ok
}

// Messages returns a conversation's log in order.
func (e *Engine) Messages(conversationID string) []store.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Messages.Log(conversationID)
}

// Online returns the users currently online.
func (e *Engine) Online() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Presence.Online()
}

// Typing returns the users currently typing to the local user.
func (e *Engine) Typing() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Presence.Typing(e.clock.Now())
}

// Active returns the open conversation, or "".
func (e *Engine) Active() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Active
}

// Self returns the local user id.
func (e *Engine) Self() string {
	return e.state.Self
}
