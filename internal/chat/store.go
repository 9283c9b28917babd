package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moviemark/studio-chat/internal/apperr"
)

// Store is the durable message log. Implementations return errors wrapping
// apperr.ErrNotFound for unknown ids.
type Store interface {
	Create(ctx context.Context, m *Message) error
	Get(ctx context.Context, id string) (*Message, error)
	Exists(ctx context.Context, id string) (bool, error)
	UpdateBody(ctx context.Context, id, body string, at time.Time) (*Message, error)
	SetPinned(ctx context.Context, id string, pinned bool, at time.Time) (*Message, error)
	SetBlocked(ctx context.Context, id string, blocked bool, at time.Time) (*Message, error)
	Delete(ctx context.Context, id string) (*Message, error)
	ListRoom(ctx context.Context, roomID string, opts ListOptions) ([]*Message, error)
	RoomMessageIDs(ctx context.Context, roomID string) ([]string, error)
	DeleteRoom(ctx context.Context, roomID string) (int64, error)
	RoomSummaries(ctx context.Context) ([]RoomSummary, error)
	Count(ctx context.Context) (int64, error)
}

// PostgresStore keeps messages in the chat_messages table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a message store backed by the given database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const messageColumns = `id, seq, room_id, sender_id, sender_name, sender_role, body, kind,
	attachment_url, attachment_name, attachment_type, edited, blocked, pinned, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m                   Message
		url, name, mediaTyp sql.NullString
	)
	err := row.Scan(&m.ID, &m.Seq, &m.RoomID, &m.SenderID, &m.SenderName, &m.SenderRole,
		&m.Body, &m.Kind, &url, &name, &mediaTyp, &m.Edited, &m.Blocked, &m.Pinned,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if url.Valid {
		m.Attachment = &Attachment{URL: url.String, Name: name.String, MediaType: mediaTyp.String}
	}
	return &m, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts m and fills in its sequence number.
func (s *PostgresStore) Create(ctx context.Context, m *Message) error {
	var url, name, mediaType sql.NullString
	if m.Attachment != nil {
		url = nullString(m.Attachment.URL)
		name = nullString(m.Attachment.Name)
		mediaType = nullString(m.Attachment.MediaType)
	}

	const query = `
		INSERT INTO chat_messages (id, room_id, sender_id, sender_name, sender_role, body, kind,
			attachment_url, attachment_name, attachment_type, edited, blocked, pinned, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING seq`

	err := s.db.QueryRowContext(ctx, query,
		m.ID, m.RoomID, m.SenderID, m.SenderName, m.SenderRole, m.Body, m.Kind,
		url, name, mediaType, m.Edited, m.Blocked, m.Pinned, m.CreatedAt, m.UpdatedAt,
	).Scan(&m.Seq)
	if err != nil {
		return fmt.Errorf("chat: insert: %w", err)
	}
	return nil
}

// Get returns a single message.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.ErrNotFound, "message %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("chat: get: %w", err)
	}
	return m, nil
}

// Exists reports whether a message with id is stored.
func (s *PostgresStore) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM chat_messages WHERE id = $1)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("chat: exists: %w", err)
	}
	return ok, nil
}

func (s *PostgresStore) updateOne(ctx context.Context, op, query string, args ...interface{}) (*Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.ErrNotFound, "message %v", args[0])
	}
	if err != nil {
		return nil, fmt.Errorf("chat: %s: %w", op, err)
	}
	return m, nil
}

// UpdateBody replaces the body and marks the message edited.
func (s *PostgresStore) UpdateBody(ctx context.Context, id, body string, at time.Time) (*Message, error) {
	return s.updateOne(ctx, "update body",
		`UPDATE chat_messages SET body = $2, edited = TRUE, updated_at = $3 WHERE id = $1 RETURNING `+messageColumns,
		id, body, at)
}

// SetPinned sets the pinned flag.
func (s *PostgresStore) SetPinned(ctx context.Context, id string, pinned bool, at time.Time) (*Message, error) {
	return s.updateOne(ctx, "set pinned",
		`UPDATE chat_messages SET pinned = $2, updated_at = $3 WHERE id = $1 RETURNING `+messageColumns,
		id, pinned, at)
}

// SetBlocked sets the hidden-by-moderator flag.
func (s *PostgresStore) SetBlocked(ctx context.Context, id string, blocked bool, at time.Time) (*Message, error) {
	return s.updateOne(ctx, "set blocked",
		`UPDATE chat_messages SET blocked = $2, updated_at = $3 WHERE id = $1 RETURNING `+messageColumns,
		id, blocked, at)
}

// Delete removes a message and returns what was removed.
func (s *PostgresStore) Delete(ctx context.Context, id string) (*Message, error) {
	return s.updateOne(ctx, "delete",
		`DELETE FROM chat_messages WHERE id = $1 RETURNING `+messageColumns, id)
}

// ListRoom returns a room's messages in persisted order (oldest first). With
// a limit only the most recent messages are returned.
func (s *PostgresStore) ListRoom(ctx context.Context, roomID string, opts ListOptions) ([]*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM chat_messages WHERE room_id = $1`
	if !opts.IncludeBlocked {
		query += ` AND NOT blocked`
	}
	args := []interface{}{roomID}
	if opts.Limit > 0 {
		query = `SELECT * FROM (` + query + ` ORDER BY seq DESC LIMIT $2) recent ORDER BY seq ASC`
		args = append(args, opts.Limit)
	} else {
		query += ` ORDER BY seq ASC`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chat: list room: %w", err)
	}
	defer rows.Close()

	msgs := make([]*Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("chat: list room scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: list room: %w", err)
	}
	return msgs, nil
}

// RoomMessageIDs returns the ids of every message in a room, blocked included.
func (s *PostgresStore) RoomMessageIDs(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chat_messages WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, fmt.Errorf("chat: room ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chat: room ids scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteRoom removes every message of a room.
func (s *PostgresStore) DeleteRoom(ctx context.Context, roomID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE room_id = $1`, roomID)
	if err != nil {
		return 0, fmt.Errorf("chat: delete room: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RoomSummaries returns one summary per room that has messages, most
// recently active first.
func (s *PostgresStore) RoomSummaries(ctx context.Context) ([]RoomSummary, error) {
	const query = `
		SELECT room_id,
		       COUNT(*),
		       COUNT(DISTINCT sender_id),
		       (ARRAY_AGG(body ORDER BY seq DESC))[1],
		       MAX(created_at)
		FROM chat_messages
		GROUP BY room_id
		ORDER BY MAX(created_at) DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("chat: room summaries: %w", err)
	}
	defer rows.Close()

	var out []RoomSummary
	for rows.Next() {
		var rs RoomSummary
		if err := rows.Scan(&rs.RoomID, &rs.MessageCount, &rs.ParticipantCount, &rs.LastMessage, &rs.LastMessageAt); err != nil {
			return nil, fmt.Errorf("chat: room summaries scan: %w", err)
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// Count returns the total number of stored messages.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("chat: count: %w", err)
	}
	return n, nil
}
