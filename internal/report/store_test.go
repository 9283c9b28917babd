package report

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moviemark/studio-chat/internal/apperr"
	"github.com/moviemark/studio-chat/internal/db"
)

// newTestPostgres connects to TEST_DATABASE_URL, applies migrations and
// returns a store. Tests are skipped when no database is configured.
func newTestPostgres(t *testing.T) (*PostgresStore, *sql.DB) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("postgres not available: TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := db.Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	require.NoError(t, db.Migrate(dsn))
	t.Cleanup(func() { conn.Close() })
	return NewPostgresStore(conn), conn
}

func insertMessage(t *testing.T, conn *sql.DB) string {
	t.Helper()
	id := uuid.New().String()
	now := time.Now()
	_, err := conn.Exec(`
		INSERT INTO chat_messages (id, room_id, sender_id, sender_name, sender_role, body, kind, created_at, updated_at)
		VALUES ($1, 'test-room', 'u1', 'Ada', 'participant', 'hello', 'text', $2, $2)`, id, now)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Exec(`DELETE FROM chat_reports WHERE message_id = $1`, id)
		conn.Exec(`DELETE FROM chat_messages WHERE id = $1`, id)
	})
	return id
}

func TestPostgresStore_Lifecycle(t *testing.T) {
	s, conn := newTestPostgres(t)
	ctx := context.Background()
	msgID := insertMessage(t, conn)

	r := &Report{ID: uuid.New().String(), MessageID: msgID, ReporterID: "u2", Reason: "spam", CreatedAt: time.Now()}
	require.NoError(t, s.Create(ctx, r))

	dup := &Report{ID: uuid.New().String(), MessageID: msgID, ReporterID: "u2", Reason: "spam", CreatedAt: time.Now()}
	err := s.Create(ctx, dup)
	assert.True(t, errors.Is(err, apperr.ErrConflict), "got %v", err)

	missing := &Report{ID: uuid.New().String(), MessageID: uuid.New().String(), ReporterID: "u2", Reason: "spam", CreatedAt: time.Now()}
	err = s.Create(ctx, missing)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)

	counts, err := s.CountByMessages(ctx, []string{msgID})
	require.NoError(t, err)
	assert.Equal(t, 1, counts[msgID])

	updated, err := s.UpdateStatus(ctx, r.ID, StatusReviewed, "admin", time.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusReviewed, updated.Status)

	_, err = s.UpdateStatus(ctx, r.ID, StatusReviewed, "admin", time.Now())
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition), "got %v", err)

	list, err := s.List(ctx, Filter{MessageID: msgID})
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = conn.Exec(`DELETE FROM chat_messages WHERE id = $1`, msgID)
	require.NoError(t, err)

	list, err = s.List(ctx, Filter{MessageID: msgID})
	require.NoError(t, err)
	assert.Empty(t, list)

	n, err := s.DeleteByMessages(ctx, []string{msgID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
