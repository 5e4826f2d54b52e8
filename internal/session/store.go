package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skyport0/skyport/internal/log"
)

const queryTimeout = 10 * time.Second

// defaultHistoryLimit bounds how many messages a single load pulls back.
const defaultHistoryLimit = 1000

// Store manages session persistence. Safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a session store backed by pool.
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Create starts a new session for userID. Title may be empty; it is
// typically filled in later from the first exchange.
func (s *Store) Create(ctx context.Context, userID, title string) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sess := Session{UserID: userID, Title: title}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (user_id, title)
		VALUES ($1, NULLIF($2, ''))
		RETURNING id, created_at, updated_at`,
		userID, title,
	).Scan(&sess.ID, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Debug("created session", "session_id", sess.ID, "user_id", userID)
	return &sess, nil
}

// Get retrieves a session. Sessions are scoped to their owner; asking
// for another user's session returns ErrNotFound, not a permission error.
func (s *Store) Get(ctx context.Context, userID string, id uuid.UUID) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sess Session
	var title *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM sessions
		WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&sess.ID, &sess.UserID, &title, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	if title != nil {
		sess.Title = *title
	}
	return &sess, nil
}

// List returns the user's sessions, most recently active first.
func (s *Store) List(ctx context.Context, userID string, limit int32) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var title *string
		if err := rows.Scan(&sess.ID, &sess.UserID, &title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if title != nil {
			sess.Title = *title
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Rename sets the session title.
func (s *Store) Rename(ctx context.Context, userID string, id uuid.UUID, title string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET title = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2`,
		id, userID, title,
	)
	if err != nil {
		return fmt.Errorf("failed to rename session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a session and its messages (CASCADE).
func (s *Store) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM sessions WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted session", "session_id", id, "user_id", userID)
	return nil
}

// AppendMessages adds messages to a session in one transaction.
//
// The parent session row is locked for the duration, so sequence
// numbers are assigned without gaps even under concurrent appends.
func (s *Store) AppendMessages(ctx context.Context, userID string, id uuid.UUID, messages []*ai.Message) error {
	if len(messages) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback failed", "error", err)
		}
	}()

	var lockedID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM sessions
		WHERE id = $1 AND user_id = $2
		FOR UPDATE`,
		id, userID,
	).Scan(&lockedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock session %s: %w", id, err)
	}

	var maxSeq int32
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0)
		FROM session_messages
		WHERE session_id = $1`,
		id,
	).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("failed to read sequence for session %s: %w", id, err)
	}

	for i, msg := range messages {
		content, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("failed to marshal message %d content: %w", i, err)
		}

		seq := maxSeq + int32(i) + 1
		if _, err := tx.Exec(ctx, `
			INSERT INTO session_messages (session_id, sequence_number, role, content)
			VALUES ($1, $2, $3, $4)`,
			id, seq, string(msg.Role), content,
		); err != nil {
			return fmt.Errorf("failed to insert message %d: %w", i, err)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE sessions SET updated_at = now() WHERE id = $1`,
		id,
	); err != nil {
		return fmt.Errorf("failed to touch session %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("appended messages", "session_id", id, "count", len(messages))
	return nil
}

// History loads the session's messages in order as Genkit messages.
// limit <= 0 loads up to the default cap.
func (s *Store) History(ctx context.Context, userID string, id uuid.UUID, limit int32) ([]*ai.Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	// Ownership check doubles as an existence check.
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT role, content
		FROM session_messages
		WHERE session_id = $1
		ORDER BY sequence_number ASC
		LIMIT $2`,
		id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for session %s: %w", id, err)
	}
	defer rows.Close()

	var messages []*ai.Message
	for rows.Next() {
		var role string
		var raw []byte
		if err := rows.Scan(&role, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		var content []*ai.Part
		if err := json.Unmarshal(raw, &content); err != nil {
			// Skip rather than fail the whole conversation load.
			s.logger.Warn("skipping malformed message content", "session_id", id, "error", err)
			continue
		}
		messages = append(messages, &ai.Message{Role: ai.Role(role), Content: content})
	}
	return messages, rows.Err()
}

// Messages loads the session's messages in order with their metadata.
// Unlike History it keeps IDs and timestamps, which the web API needs
// to render a conversation. limit <= 0 loads up to the default cap.
func (s *Store) Messages(ctx context.Context, userID string, id uuid.UUID, limit int32) ([]Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	// Ownership check doubles as an existence check.
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, role, content, sequence_number, created_at
		FROM session_messages
		WHERE session_id = $1
		ORDER BY sequence_number ASC
		LIMIT $2`,
		id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for session %s: %w", id, err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var raw []byte
		if err := rows.Scan(&msg.ID, &msg.Role, &raw, &msg.SequenceNumber, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.SessionID = id

		if err := json.Unmarshal(raw, &msg.Content); err != nil {
			s.logger.Warn("skipping malformed message content", "session_id", id, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ClearMessages deletes every message in a session but keeps the
// session row. Used when the user resets a conversation.
func (s *Store) ClearMessages(ctx context.Context, userID string, id uuid.UUID) error {
	// Ownership check first; DELETE alone cannot distinguish an empty
	// session from a foreign one.
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := s.pool.Exec(ctx, `
		DELETE FROM session_messages WHERE session_id = $1`,
		id,
	); err != nil {
		return fmt.Errorf("failed to clear session %s: %w", id, err)
	}
	return nil
}
