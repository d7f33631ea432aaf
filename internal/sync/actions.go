package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/dmsync/internal/store"
)

const provisionalPrefix = "tmp-"

// SendMessage inserts a provisional message and then emits send_message.
// The provisional entry is replaced when the service echoes the message back.
func (e *Engine) SendMessage(ctx context.Context, to, text string) (store.Message, error) {
	if to == "" || text == "" {
		return store.Message{}, ErrEmptyMessage
	}
	var sent store.Message
	err := e.do(ctx, func(tx *txn) error {
		s := e.state
		conv := s.Conversations.Ensure(to, provisionalPrefix+e.newID())
		m := store.Message{
			ID:             provisionalPrefix + e.newID(),
			Provisional:    true,
			ConversationID: conv.ID,
			SenderID:       s.Self,
			RecipientID:    to,
			Text:           text,
			Kind:           store.KindText,
			Timestamp:      e.clock.Now(),
			Status:         store.StatusSent,
		}
		s.Messages.Append(conv.ID, m)
		s.Conversations.ApplyIncomingMessage(conv.ID, &m, true)
		tx.touch(conv.ID)
		tx.sends = append(tx.sends, send{to: to, text: text})
		sent = m
		return nil
	})
	if err != nil {
		return store.Message{}, fmt.Errorf("send message: %w", err)
	}
	return sent, nil
}

// OpenConversation makes id the active conversation and resets its unread
// count. The first open loads the message snapshot. Unread inbound messages
// are marked read locally and receipted, and the service's mark-read call
// is made best-effort.
func (e *Engine) OpenConversation(ctx context.Context, id string) error {
	var (
		counterpart string
		provisional bool
		needLoad    bool
	)
	err := e.do(ctx, func(tx *txn) error {
		s := e.state
		c, ok := s.Conversations.Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
		}
		s.Active = id
		s.Conversations.MarkOpened(id)
		e.markInboundRead(tx, id)
		tx.touch(id)
		counterpart = c.CounterpartID
		provisional = c.Provisional
		needLoad = !c.Provisional && !s.Messages.Loaded(id)
		return nil
	})
	if err != nil {
		return err
	}
	if e.fetch == nil || provisional {
		return nil
	}

	if needLoad {
		if err := e.loadMessages(ctx, id, counterpart); err != nil {
			return err
		}
	}

	if counterpart != "" {
		if err := e.fetch.MarkRead(ctx, counterpart); err != nil {
			e.logger.Warn("mark read failed", zap.String("conversation", id), zap.Error(err))
			if isAuthErr(err) {
				e.AuthLost(err)
			}
		}
	}
	return nil
}

// loadMessages fetches one conversation's history and merges it.
func (e *Engine) loadMessages(ctx context.Context, id, counterpart string) error {
	msgs, err := e.fetch.FetchMessages(ctx, id, counterpart)
	if err != nil {
		if isAuthErr(err) {
			e.AuthLost(err)
		}
		return fmt.Errorf("load conversation %s: %w", id, err)
	}
	return e.do(ctx, func(tx *txn) error {
		s := e.state
		if _, ok := s.Conversations.Get(id); !ok {
			return nil
		}
		s.Messages.SnapshotLoad(id, msgs)
		log := s.Messages.Log(id)
		if n := len(log); n > 0 {
			last := log[n-1]
			s.UpsertSummary(store.Conversation{
				ID:            id,
				CounterpartID: counterpart,
				LastMessage:   last.Preview(),
				LastMessageAt: last.Timestamp,
			})
		}
		if s.IsActive(id) {
			e.markInboundRead(tx, id)
		}
		tx.touch(id)
		e.logger.Debug("loaded conversation", zap.String("conversation", id), zap.Int("messages", len(msgs)))
		return nil
	})
}

// markInboundRead marks every unread message from the counterpart as read
// and queues a receipt for each.
func (e *Engine) markInboundRead(tx *txn, id string) {
	s := e.state
	for _, m := range s.Messages.Log(id) {
		if m.SenderID == s.Self || m.Status >= store.StatusRead || m.Provisional {
			continue
		}
		if s.Messages.SetStatus(id, m.ID, store.StatusRead) {
			tx.receipts = append(tx.receipts, receipt{id, m.ID})
		}
	}
}

// CloseConversation clears the active conversation.
func (e *Engine) CloseConversation(ctx context.Context) error {
	return e.do(ctx, func(tx *txn) error {
		if e.state.Active != "" {
			tx.session = true
		}
		e.state.Active = ""
		return nil
	})
}

// LoadConversations fetches the summary snapshot and merges it.
func (e *Engine) LoadConversations(ctx context.Context) error {
	if e.fetch == nil {
		return nil
	}
	list, err := e.fetch.FetchConversations(ctx)
	if err != nil {
		if isAuthErr(err) {
			e.AuthLost(err)
		}
		return fmt.Errorf("load conversations: %w", err)
	}
	return e.do(ctx, func(tx *txn) error {
		for _, c := range list {
			stored, replaced := e.state.UpsertSummary(c)
			tx.remove(replaced)
			tx.touch(stored.ID)
		}
		tx.session = true
		return nil
	})
}

// Reset clears the session state and purges the archive, as on logout.
func (e *Engine) Reset(ctx context.Context) error {
	return e.do(ctx, func(tx *txn) error {
		e.reset(tx)
		return nil
	})
}

// resyncAll refreshes summaries and the open conversation after a reconnect,
// covering events missed while the channel was down.
func (e *Engine) resyncAll() {
	ctx := e.ctx
	if err := e.LoadConversations(ctx); err != nil {
		e.logger.Warn("resync conversations", zap.Error(err))
		return
	}
	var active, counterpart string
	e.mu.RLock()
	if c, ok := e.state.Conversations.Get(e.state.Active); ok && !c.Provisional {
		active, counterpart = c.ID, c.CounterpartID
	}
	e.mu.RUnlock()
	if active == "" {
		return
	}
	if err := e.loadMessages(ctx, active, counterpart); err != nil {
		e.logger.Warn("resync active conversation", zap.Error(err))
	}
}
