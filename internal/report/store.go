package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/moviemark/studio-chat/internal/apperr"
)

// PostgresStore manages reports in the chat_reports table. Message existence
// is checked against chat_messages in the same statement.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a report store backed by the given database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const reportColumns = `id, message_id, reporter_id, reason, description, status,
	reviewed_by, reviewed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row rowScanner) (*Report, error) {
	var (
		r          Report
		reviewedBy sql.NullString
		reviewedAt sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.MessageID, &r.ReporterID, &r.Reason, &r.Description, &r.Status,
		&reviewedBy, &reviewedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.ReviewedBy = reviewedBy.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		r.ReviewedAt = &t
	}
	return &r, nil
}

// Create inserts a pending report. The insert only happens when the message
// exists and the (message, reporter) pair is new; which of the two failed is
// resolved afterwards.
func (s *PostgresStore) Create(ctx context.Context, r *Report) error {
	const query = `
		INSERT INTO chat_reports (id, message_id, reporter_id, reason, description, status, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, 'pending', $6, $6
		WHERE EXISTS (SELECT 1 FROM chat_messages WHERE id = $2)
		ON CONFLICT (message_id, reporter_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query, r.ID, r.MessageID, r.ReporterID, r.Reason, r.Description, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("report: insert rows: %w", err)
	}
	if n == 1 {
		r.Status = StatusPending
		r.UpdatedAt = r.CreatedAt
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_messages WHERE id = $1)`, r.MessageID).Scan(&exists); err != nil {
		return fmt.Errorf("report: message lookup: %w", err)
	}
	if !exists {
		return apperr.New(apperr.ErrNotFound, "message %s", r.MessageID)
	}
	return apperr.New(apperr.ErrConflict, "message %s already reported by %s", r.MessageID, r.ReporterID)
}

// Get returns a single report.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Report, error) {
	r, err := scanReport(s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM chat_reports WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.ErrNotFound, "report %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("report: get: %w", err)
	}
	return r, nil
}

// UpdateStatus moves a report to status to. The conditional UPDATE makes the
// check and the write a single atomic step.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, to Status, reviewer string, at time.Time) (*Report, error) {
	if err := checkTarget(to); err != nil {
		return nil, err
	}
	from := make([]string, 0, len(Sources(to)))
	for _, st := range Sources(to) {
		from = append(from, string(st))
	}

	const query = `
		UPDATE chat_reports
		SET status = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $4
		WHERE id = $1 AND status = ANY($5)
		RETURNING ` + reportColumns

	r, err := scanReport(s.db.QueryRowContext(ctx, query, id, string(to), reviewer, at, pq.Array(from)))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report: update status: %w", err)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, apperr.New(apperr.ErrInvalidTransition, "report %s cannot move from %s to %s", id, current.Status, to)
}

// List returns reports newest first. Reports whose message has been deleted
// are never returned.
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*Report, error) {
	var (
		where = []string{`EXISTS (SELECT 1 FROM chat_messages m WHERE m.id = r.message_id)`}
		args  []interface{}
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("r.status = $%d", len(args)))
	}
	if f.MessageID != "" {
		args = append(args, f.MessageID)
		where = append(where, fmt.Sprintf("r.message_id = $%d", len(args)))
	}
	query := `SELECT ` + prefixed("r.", reportColumns) + ` FROM chat_reports r WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY r.created_at DESC, r.id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("report: list: %w", err)
	}
	defer rows.Close()

	out := make([]*Report, 0)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("report: list scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByMessages returns the number of reports per message id.
func (s *PostgresStore) CountByMessages(ctx context.Context, messageIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(messageIDs))
	if len(messageIDs) == 0 {
		return counts, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, COUNT(*) FROM chat_reports WHERE message_id = ANY($1) GROUP BY message_id`,
		pq.Array(messageIDs))
	if err != nil {
		return nil, fmt.Errorf("report: count by messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("report: count scan: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// DeleteByMessages removes every report referencing the given messages.
func (s *PostgresStore) DeleteByMessages(ctx context.Context, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_reports WHERE message_id = ANY($1)`, pq.Array(messageIDs))
	if err != nil {
		return 0, fmt.Errorf("report: delete by messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteOrphans removes reports whose message no longer exists.
func (s *PostgresStore) DeleteOrphans(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM chat_reports r
		WHERE NOT EXISTS (SELECT 1 FROM chat_messages m WHERE m.id = r.message_id)`)
	if err != nil {
		return 0, fmt.Errorf("report: delete orphans: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Counts returns report totals, orphans excluded.
func (s *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE r.status = 'pending')
		FROM chat_reports r
		WHERE EXISTS (SELECT 1 FROM chat_messages m WHERE m.id = r.message_id)`).Scan(&c.Total, &c.Pending)
	if err != nil {
		return Counts{}, fmt.Errorf("report: counts: %w", err)
	}
	return c, nil
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
