// Package history provides the PostgreSQL-backed message archive for the
// reference transport server. It serves the chat_history snapshots and the
// conversation list, and records read confirmations monotonically.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moviesquad/messenger/internal/chat"
	"github.com/moviesquad/messenger/internal/protocol"
)

// DefaultHistoryLimit caps the number of messages returned per snapshot.
const DefaultHistoryLimit = 200

// Store manages archived messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert archives a message.
func (s *Store) Insert(ctx context.Context, m protocol.Message, recipientID string) error {
	const query = `
		INSERT INTO messages (id, chat_identifier, sender_id, sender_username, recipient_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		m.ID,
		m.ChatIdentifier,
		m.Sender.ID,
		m.Sender.Username,
		recipientID,
		m.Content,
		time.UnixMilli(m.CreatedAt).UTC(),
	)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// History returns up to limit messages of a conversation in ascending
// created_at order (oldest first), matching the order the client renders.
func (s *Store) History(ctx context.Context, chatIdentifier string, limit int) ([]protocol.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	const query = `
		SELECT id, chat_identifier, sender_id, sender_username, content, created_at
		FROM (
			SELECT id, chat_identifier, sender_id, sender_username, content, created_at
			FROM messages
			WHERE chat_identifier = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, chatIdentifier, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var msgs []protocol.Message
	for rows.Next() {
		var (
			m         protocol.Message
			createdAt time.Time
		)
		if err := rows.Scan(&m.ID, &m.ChatIdentifier, &m.Sender.ID, &m.Sender.Username, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		m.CreatedAt = createdAt.UnixMilli()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return msgs, nil
}

// MarkRead records a read confirmation for a message. The update is
// monotonic server-side too: it applies only while read_at is null, so a
// duplicate or stale mark_read is a no-op. Returns whether the row changed
// and the message's chatIdentifier.
func (s *Store) MarkRead(ctx context.Context, messageID, readerID string, readAt time.Time) (bool, string, error) {
	const query = `
		UPDATE messages
		SET read_at = $2, read_by = $3
		WHERE id = $1 AND read_at IS NULL
		RETURNING chat_identifier`

	var chatIdentifier string
	err := s.db.QueryRowContext(ctx, query, messageID, readAt.UTC(), readerID).Scan(&chatIdentifier)
	if errors.Is(err, sql.ErrNoRows) {
		// Already read, or unknown message: either way nothing to confirm.
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("history: mark read: %w", err)
	}
	return true, chatIdentifier, nil
}

// ConversationsFor builds the conversation list for a user from the archive:
// every conversation the user participates in, with the most recent message
// as the preview. Unread counts are layered on by the caller from the
// session store.
func (s *Store) ConversationsFor(ctx context.Context, userID string) ([]protocol.Conversation, error) {
	const query = `
		SELECT DISTINCT ON (chat_identifier)
			chat_identifier, id, sender_id, sender_username, recipient_id, content, created_at
		FROM messages
		WHERE sender_id = $1 OR recipient_id = $1
		ORDER BY chat_identifier, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("history: conversations: %w", err)
	}
	defer rows.Close()

	var convos []protocol.Conversation
	for rows.Next() {
		var (
			c           protocol.Conversation
			last        protocol.Message
			recipientID string
			createdAt   time.Time
		)
		if err := rows.Scan(&c.ChatIdentifier, &last.ID, &last.Sender.ID, &last.Sender.Username, &recipientID, &last.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("history: scan conversation: %w", err)
		}
		last.ChatIdentifier = c.ChatIdentifier
		last.CreatedAt = createdAt.UnixMilli()
		c.LastMessage = &last

		// The peer relative to the requesting user.
		if last.Sender.ID == userID {
			c.OtherParticipant = protocol.User{ID: recipientID, Username: chat.PeerOf(c.ChatIdentifier, userID)}
		} else {
			c.OtherParticipant = last.Sender
		}
		convos = append(convos, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return convos, nil
}
