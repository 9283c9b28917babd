package moderation

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Action is one entry of the moderation audit trail.
type Action struct {
	ID           string    `json:"id"`
	Action       string    `json:"action"`
	ActorID      string    `json:"actor_id"`
	RoomID       string    `json:"room_id,omitempty"`
	MessageID    string    `json:"message_id,omitempty"`
	ReportID     string    `json:"report_id,omitempty"`
	TargetUserID string    `json:"target_user_id,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Audit action names.
const (
	ActionReviewReport = "review_report"
	ActionEditMessage  = "edit_message"
	ActionDelete       = "delete_message"
	ActionHide         = "hide_message"
	ActionUnhide       = "unhide_message"
	ActionBlockUser    = "block_user"
	ActionUnblockUser  = "unblock_user"
	ActionClearRoom    = "clear_room"
	ActionExport       = "export_transcript"
)

// AuditLog stores the moderation trail, newest first on read.
type AuditLog interface {
	Record(ctx context.Context, a *Action) error
	List(ctx context.Context, limit int) ([]*Action, error)
}

// PostgresAudit keeps the trail in moderation_actions.
type PostgresAudit struct {
	db *sql.DB
}

// NewPostgresAudit creates an audit log on the given database handle.
func NewPostgresAudit(db *sql.DB) *PostgresAudit {
	return &PostgresAudit{db: db}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (p *PostgresAudit) Record(ctx context.Context, a *Action) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO moderation_actions
			(id, action, actor_id, room_id, message_id, report_id, target_user_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.Action, a.ActorID, nullable(a.RoomID), nullable(a.MessageID),
		nullable(a.ReportID), nullable(a.TargetUserID), a.Detail, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("moderation: record %s: %w", a.Action, err)
	}
	return nil
}

func (p *PostgresAudit) List(ctx context.Context, limit int) ([]*Action, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, action, actor_id, room_id, message_id, report_id, target_user_id, detail, created_at
		FROM moderation_actions
		ORDER BY created_at DESC, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("moderation: list actions: %w", err)
	}
	defer rows.Close()

	var out []*Action
	for rows.Next() {
		var (
			a                              Action
			room, message, rep, targetUser sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Action, &a.ActorID, &room, &message, &rep, &targetUser, &a.Detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("moderation: scan action: %w", err)
		}
		a.RoomID, a.MessageID, a.ReportID, a.TargetUserID = room.String, message.String, rep.String, targetUser.String
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("moderation: list actions: %w", err)
	}
	return out, nil
}

// MemoryAudit is an in-process AuditLog.
type MemoryAudit struct {
	mu      sync.Mutex
	actions []*Action
}

// NewMemoryAudit creates an empty MemoryAudit.
func NewMemoryAudit() *MemoryAudit {
	return &MemoryAudit{}
}

func (m *MemoryAudit) Record(_ context.Context, a *Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *a
	m.actions = append(m.actions, &c)
	return nil
}

func (m *MemoryAudit) List(_ context.Context, limit int) ([]*Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Action, 0, min(limit, len(m.actions)))
	for i := len(m.actions) - 1; i >= 0 && len(out) < limit; i-- {
		c := *m.actions[i]
		out = append(out, &c)
	}
	return out, nil
}
