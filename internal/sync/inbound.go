package sync

import (
	"errors"

	"go.uber.org/zap"

	"github.com/matheus3301/dmsync/internal/store"
	"github.com/matheus3301/dmsync/internal/wire"
)

// Deliver queues one inbound event. It blocks while the queue is full and
// returns immediately once the engine has stopped.
func (e *Engine) Deliver(ev wire.Inbound) {
	e.submit(func(tx *txn) error {
		e.handle(tx, ev)
		return nil
	})
}

// Connected is called when the live channel opens.
func (e *Engine) Connected() {
	e.logger.Info("live channel connected")
	if e.resync && e.fetch != nil {
		go e.resyncAll()
	}
}

// Disconnected is called when the live channel drops. Typing indicators are
// cleared because their stop events may never arrive.
func (e *Engine) Disconnected(err error) {
	e.logger.Info("live channel lost", zap.Error(err))
	e.submit(func(tx *txn) error {
		e.clearTyping()
		tx.session = true
		return nil
	})
}

// AuthLost is called when the credential is rejected. The session is
// cleared in full.
func (e *Engine) AuthLost(err error) {
	e.logger.Warn("authentication lost, clearing session", zap.Error(err))
	e.submit(func(tx *txn) error {
		e.reset(tx)
		tx.authLost = err
		return nil
	})
}

func (e *Engine) handle(tx *txn, ev wire.Inbound) {
	p := e.state.Presence
	switch ev := ev.(type) {
	case wire.OnlineUsers:
		p.ReplaceOnline(ev.UserIDs)
		tx.session = true

	case wire.UserOnline:
		p.SetOnline(ev.UserID)
		tx.session = true

	case wire.UserOffline:
		p.SetOffline(ev.UserID)
		e.stopTypingTimer(ev.UserID)
		tx.session = true

	case wire.TypingStarted:
		p.StartTyping(ev.From, e.clock.Now().Add(e.ttl))
		e.armTypingTimer(ev.From)
		tx.session = true

	case wire.TypingStopped:
		if p.StopTyping(ev.From) {
			tx.session = true
		}
		e.stopTypingTimer(ev.From)

	case wire.MessageReceived:
		e.receive(tx, ev.Message)

	case wire.MessageSeen:
		if e.state.Messages.SetStatus(ev.ConversationID, ev.MessageID, store.StatusRead) {
			tx.touch(ev.ConversationID)
		} else if _, ok := e.state.Messages.Get(ev.ConversationID, ev.MessageID); !ok {
			e.logger.Debug("receipt for unknown message",
				zap.String("conversation", ev.ConversationID),
				zap.String("message", ev.MessageID),
			)
		}

	case wire.Malformed:
		e.logger.Warn("dropping malformed event",
			zap.String("event", ev.Name),
			zap.ByteString("raw", truncate(ev.Raw, 256)),
			zap.Error(ev.Err),
		)

	default:
		e.logger.Warn("unhandled event", zap.Any("event", ev))
	}
}

// receive applies one persisted message. Messages from the counterpart are
// at least delivered once they reach us, and read if their conversation is
// open, in which case a receipt goes out.
func (e *Engine) receive(tx *txn, m store.Message) {
	s := e.state
	counterpart := s.Counterpart(&m)
	if m.SenderID == s.Self && m.RecipientID == "" {
		m.RecipientID = counterpart
	}
	convID, replaced := s.ResolveConversation(m.ConversationID, counterpart)
	tx.remove(replaced)
	if replaced != "" {
		e.logger.Debug("adopted server conversation id",
			zap.String("provisional", replaced),
			zap.String("conversation", convID),
		)
	}

	inbound := m.SenderID != s.Self
	active := s.IsActive(convID)
	if inbound {
		if s.Presence.StopTyping(m.SenderID) {
			tx.session = true
		}
		e.stopTypingTimer(m.SenderID)
		if m.Status < store.StatusDelivered {
			m.Status = store.StatusDelivered
		}
		if active {
			m.Status = store.StatusRead
		}
	}

	res := s.Messages.Append(convID, m)
	switch res {
	case store.Inserted, store.Reconciled:
		s.Conversations.ApplyIncomingMessage(convID, &m, active)
		if inbound && active && res == store.Inserted {
			tx.receipts = append(tx.receipts, receipt{convID, m.ID})
		}
	case store.Ignored:
		e.logger.Warn("ignoring message without ids", zap.String("conversation", convID))
		return
	}
	tx.touch(convID)
	e.logger.Debug("message applied",
		zap.String("conversation", convID),
		zap.String("message", m.ID),
		zap.Stringer("result", res),
	)
}

func (e *Engine) armTypingTimer(user string) {
	e.stopTypingTimer(user)
	e.typingTimers[user] = e.clock.AfterFunc(e.ttl, func() {
		e.submit(func(tx *txn) error {
			if expired := e.state.Presence.ExpireTyping(e.clock.Now()); len(expired) > 0 {
				for _, id := range expired {
					delete(e.typingTimers, id)
				}
				tx.session = true
			}
			return nil
		})
	})
}

func (e *Engine) stopTypingTimer(user string) {
	if t, ok := e.typingTimers[user]; ok {
		t.Stop()
		delete(e.typingTimers, user)
	}
}

func (e *Engine) clearTyping() {
	for id, t := range e.typingTimers {
		t.Stop()
		delete(e.typingTimers, id)
	}
	e.state.Presence.ClearTyping()
}

// reset empties the state and purges the archive.
func (e *Engine) reset(tx *txn) {
	e.clearTyping()
	e.state.Clear()
	tx.purge = true
	tx.session = true
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

func isAuthErr(err error) bool {
	return errors.Is(err, wire.ErrUnauthenticated)
}
