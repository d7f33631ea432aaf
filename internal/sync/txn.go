package sync

import (
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/store"
)

// txn collects the effects of one action. They are carried out after the
// write lock is released, in the order sends, receipts, archive, bus.
type txn struct {
	touched  []string
	seen     map[string]bool
	removed  []string
	session  bool
	purge    bool
	authLost error

	sends    []send
	receipts []receipt
}

type send struct{ to, text string }

type receipt struct{ conversationID, messageID string }

type save struct {
	conv store.Conversation
	log  []store.Message
}

func newTxn() *txn {
	return &txn{seen: make(map[string]bool)}
}

// touch marks a conversation as changed.
func (tx *txn) touch(id string) {
	if id == "" || tx.seen[id] {
		return
	}
	tx.seen[id] = true
	tx.touched = append(tx.touched, id)
}

// remove marks a conversation id that no longer exists.
func (tx *txn) remove(id string) {
	if id != "" {
		tx.removed = append(tx.removed, id)
	}
}

func (tx *txn) changed() bool {
	return len(tx.touched) > 0 || len(tx.removed) > 0 || tx.session || tx.purge
}

// collectSaves snapshots touched conversations for the archive. Called with
// the write lock held.
func (e *Engine) collectSaves(tx *txn) []save {
	if e.arch == nil || tx.purge {
		return nil
	}
	saves := make([]save, 0, len(tx.touched))
	for _, id := range tx.touched {
		c, ok := e.state.Conversations.Get(id)
		if !ok {
			tx.remove(id)
			continue
		}
		saves = append(saves, save{conv: c, log: e.state.Messages.Log(id)})
	}
	return saves
}

func (e *Engine) persist(tx *txn, saves []save) {
	if e.arch == nil {
		return
	}
	if tx.purge {
		if err := e.arch.Purge(); err != nil {
			e.logger.Error("purge archive", zap.Error(err))
		}
		return
	}
	for _, id := range tx.removed {
		if err := e.arch.DeleteConversation(id); err != nil {
			e.logger.Error("delete archived conversation", zap.String("conversation", id), zap.Error(err))
		}
	}
	for _, s := range saves {
		if err := e.arch.SaveConversation(s.conv, s.log); err != nil {
			e.logger.Error("archive conversation", zap.String("conversation", s.conv.ID), zap.Error(err))
		}
	}
}

func (e *Engine) publish(tx *txn) {
	if e.bus == nil {
		return
	}
	now := time.Now()
	if tx.authLost != nil {
		e.bus.Publish(bus.Event{Kind: bus.KindAuthLost, Timestamp: now, Payload: tx.authLost.Error()})
	}
	if !tx.changed() {
		return
	}
	for _, id := range tx.touched {
		e.bus.Publish(bus.Event{Kind: bus.KindStoreChanged, Conversation: id, Timestamp: now})
	}
	if tx.session || tx.purge || len(tx.touched) == 0 {
		e.bus.Publish(bus.Event{Kind: bus.KindStoreChanged, Timestamp: now})
	}
}
