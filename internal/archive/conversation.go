package archive

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/dmsync/internal/store"
)

// SaveConversation replaces the stored summary and log of one conversation
// in a single transaction.
func (db *DB) SaveConversation(c store.Conversation, log []store.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO conversations (id, provisional, counterpart_id, counterpart_name, counterpart_avatar,
			last_message, last_message_at, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provisional = excluded.provisional,
			counterpart_id = excluded.counterpart_id,
			counterpart_name = excluded.counterpart_name,
			counterpart_avatar = excluded.counterpart_avatar,
			last_message = excluded.last_message,
			last_message_at = excluded.last_message_at,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.ID, c.Provisional, c.CounterpartID, c.CounterpartName, c.CounterpartAvatar,
		c.LastMessage, toMillis(c.LastMessageAt), c.UnreadCount, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert conversation %s: %w", c.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, c.ID); err != nil {
		return fmt.Errorf("clear messages %s: %w", c.ID, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages (conversation_id, id, seq, provisional, sender_id, recipient_id,
			body, kind, url, timestamp, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, m := range log {
		if _, err := stmt.Exec(c.ID, m.ID, i, m.Provisional, m.SenderID, m.RecipientID,
			m.Text, string(m.Kind), m.URL, toMillis(m.Timestamp), int(m.Status)); err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteConversation removes a conversation and its log.
func (db *DB) DeleteConversation(id string) error {
	if _, err := db.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}

// Purge removes everything.
func (db *DB) Purge() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, table := range []string{"messages", "conversations"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// Load returns every stored conversation and the log of each, keyed by
// conversation id. Logs come back in their saved order.
func (db *DB) Load() ([]store.Conversation, map[string][]store.Message, error) {
	convs, err := db.ListConversations(0)
	if err != nil {
		return nil, nil, err
	}

	rows, err := db.Query(`
		SELECT conversation_id, id, provisional, sender_id, recipient_id, body, kind, url, timestamp, status
		FROM messages
		ORDER BY conversation_id, seq`)
	if err != nil {
		return nil, nil, fmt.Errorf("load messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	logs := make(map[string][]store.Message)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, nil, err
		}
		logs[m.ConversationID] = append(logs[m.ConversationID], m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("load messages: %w", err)
	}
	return convs, logs, nil
}

// ListConversations returns summaries newest first. limit <= 0 returns all.
func (db *DB) ListConversations(limit int) ([]store.Conversation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT id, provisional, counterpart_id, counterpart_name, counterpart_avatar,
			last_message, last_message_at, unread_count
		FROM conversations
		ORDER BY last_message_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var convs []store.Conversation
	for rows.Next() {
		var (
			c  store.Conversation
			at int64
		)
		if err := rows.Scan(&c.ID, &c.Provisional, &c.CounterpartID, &c.CounterpartName, &c.CounterpartAvatar,
			&c.LastMessage, &at, &c.UnreadCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.LastMessageAt = fromMillis(at)
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// ListMessages returns the last limit messages of a conversation in log
// order. limit <= 0 returns the whole log.
func (db *DB) ListMessages(conversationID string, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT conversation_id, id, provisional, sender_id, recipient_id, body, kind, url, timestamp, status
		FROM (
			SELECT * FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT ?
		)
		ORDER BY seq`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanMessage(rows *sql.Rows) (store.Message, error) {
	var (
		m      store.Message
		kind   string
		ts     int64
		status int
	)
	if err := rows.Scan(&m.ConversationID, &m.ID, &m.Provisional, &m.SenderID, &m.RecipientID,
		&m.Text, &kind, &m.URL, &ts, &status); err != nil {
		return m, fmt.Errorf("scan message: %w", err)
	}
	m.Kind = store.ParseKind(kind)
	m.Timestamp = fromMillis(ts)
	m.Status = store.Status(status)
	return m, nil
}

// Timestamps are stored as unix milliseconds; 0 means unset.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
