package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codewright/internal/logging"
	"codewright/internal/message"
)

// ErrNotFound is returned by DeleteSession when no session has the given ID.
var ErrNotFound = errors.New("session not found")

// Session holds the metadata for a saved conversation.
type Session struct {
	ID           string
	Title        string
	Provider     string
	Model        string
	Summary      string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SaveSession upserts the session row and replaces its stored conversation.
// CreatedAt is filled on first save; UpdatedAt and MessageCount are always
// refreshed from this call.
func (s *Store) SaveSession(sess *Session, msgs []message.Message) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveSession")
	defer timer.Stop()

	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// UTC keeps stored timestamps ordered the same way under both drivers.
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	sess.MessageCount = len(msgs)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO sessions (id, title, provider, model, summary, message_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			provider = excluded.provider,
			model = excluded.model,
			summary = excluded.summary,
			message_count = excluded.message_count,
			updated_at = excluded.updated_at`,
		sess.ID, sess.Title, sess.Provider, sess.Model, sess.Summary,
		sess.MessageCount, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to save session %s: %v", sess.ID, err)
		return fmt.Errorf("failed to save session: %w", err)
	}

	// Replace the conversation wholesale. History is append-mostly but
	// compaction rewrites it, so a diff-based update buys nothing.
	if _, err := tx.Exec("DELETE FROM messages WHERE session_id = ?", sess.ID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	stmt, err := tx.Prepare(
		"INSERT INTO messages (session_id, seq, role, payload, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	for i, msg := range msgs {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode message %d: %w", i, err)
		}
		if _, err := stmt.Exec(sess.ID, i, string(msg.Role), string(payload), now); err != nil {
			return fmt.Errorf("failed to insert message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}

	logging.StoreDebug("Saved session %s: messages=%d", sess.ID, len(msgs))
	return nil
}

// LoadSession returns the session metadata and its conversation in order.
// A missing session returns (nil, nil, nil).
func (s *Store) LoadSession(id string) (*Session, []message.Message, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadSession")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess := &Session{}
	err := s.db.QueryRow(
		`SELECT id, title, provider, model, summary, message_count, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Title, &sess.Provider, &sess.Model, &sess.Summary,
		&sess.MessageCount, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, nil
		}
		logging.Get(logging.CategoryStore).Error("Failed to load session %s: %v", id, err)
		return nil, nil, fmt.Errorf("failed to load session: %w", err)
	}

	rows, err := s.db.Query(
		"SELECT payload FROM messages WHERE session_id = ? ORDER BY seq", id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var msgs []message.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, nil, fmt.Errorf("failed to scan message: %w", err)
		}
		var msg message.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, nil, fmt.Errorf("failed to decode message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read messages: %w", err)
	}

	logging.StoreDebug("Loaded session %s: messages=%d", id, len(msgs))
	return sess, msgs, nil
}

// ListSessions returns all saved sessions, most recently updated first.
func (s *Store) ListSessions() ([]*Session, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListSessions")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, title, provider, model, summary, message_count, created_at, updated_at
		 FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to list sessions: %v", err)
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess := &Session{}
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.Provider, &sess.Model, &sess.Summary,
			&sess.MessageCount, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}

	logging.StoreDebug("Listed %d sessions", len(sessions))
	return sessions, nil
}

// DeleteSession removes a session and its messages. Returns ErrNotFound if
// no session has the given ID.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	res, err := tx.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	if deleted == 0 {
		return ErrNotFound
	}
	logging.Store("Deleted session %s", id)
	return nil
}
