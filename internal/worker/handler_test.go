package worker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moviemark/studio-chat/internal/attachment"
	"github.com/moviemark/studio-chat/internal/auth"
	"github.com/moviemark/studio-chat/internal/chat"
	"github.com/moviemark/studio-chat/internal/report"
	"github.com/moviemark/studio-chat/internal/tasks"
)

type failingCleaner struct{ err error }

func (f failingCleaner) DeleteByMessages(context.Context, []string) (int64, error) { return 0, f.err }
func (f failingCleaner) DeleteOrphans(context.Context) (int64, error)              { return 0, f.err }

func seedReports(t *testing.T) (*chat.MemoryStore, *report.MemoryStore, *chat.Message) {
	t.Helper()
	ctx := context.Background()
	msgs := chat.NewMemoryStore()
	reports := report.NewMemoryStore(msgs)
	svc := chat.NewService(msgs, nil, nil, nil)
	m, err := svc.Post(ctx, auth.Identity{UserID: "u1", Name: "One"}, chat.Draft{RoomID: "p1", Body: "hi"})
	require.NoError(t, err)
	require.NoError(t, reports.Create(ctx, &report.Report{ID: "r1", MessageID: m.ID, ReporterID: "u2", Reason: "spam"}))
	return msgs, reports, m
}

func TestReportSweepDeletesReports(t *testing.T) {
	msgs, reports, m := seedReports(t)
	_, err := msgs.Delete(context.Background(), m.ID)
	require.NoError(t, err)

	task, err := tasks.NewReportSweepTask([]string{m.ID})
	require.NoError(t, err)

	h := NewHandlers(reports, nil, nil)
	require.NoError(t, h.ProcessReportSweep(context.Background(), task))
	assert.Zero(t, reports.Len())
}

func TestReportSweepRetriesOnStoreError(t *testing.T) {
	task, err := tasks.NewReportSweepTask([]string{"m1"})
	require.NoError(t, err)

	h := NewHandlers(failingCleaner{err: errors.New("db down")}, nil, nil)
	err = h.ProcessReportSweep(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	h := NewHandlers(failingCleaner{}, attachment.NewMemoryStore(), nil)

	err := h.ProcessReportSweep(context.Background(), asynq.NewTask(tasks.TypeReportSweep, []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	err = h.ProcessBlobPurge(context.Background(), asynq.NewTask(tasks.TypeBlobPurge, []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestOrphanSweep(t *testing.T) {
	msgs, reports, m := seedReports(t)
	_, err := msgs.Delete(context.Background(), m.ID)
	require.NoError(t, err)

	h := NewHandlers(reports, nil, nil)
	require.NoError(t, h.ProcessOrphanSweep(context.Background(), tasks.NewOrphanSweepTask()))
	assert.Zero(t, reports.Len())

	err = NewHandlers(failingCleaner{err: errors.New("db down")}, nil, nil).
		ProcessOrphanSweep(context.Background(), tasks.NewOrphanSweepTask())
	assert.Error(t, err)
}

func TestBlobPurge(t *testing.T) {
	ctx := context.Background()
	blobs := attachment.NewMemoryStore()
	_, err := blobs.Put(ctx, "abc.png", strings.NewReader("data"), 1024)
	require.NoError(t, err)

	task, err := tasks.NewBlobPurgeTask("abc.png")
	require.NoError(t, err)

	h := NewHandlers(nil, blobs, nil)
	require.NoError(t, h.ProcessBlobPurge(ctx, task))
	assert.Zero(t, blobs.Len())

	// already gone
	require.NoError(t, h.ProcessBlobPurge(ctx, task))

	disk, err := attachment.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	bad, err := tasks.NewBlobPurgeTask("../etc/passwd")
	require.NoError(t, err)
	assert.ErrorIs(t, NewHandlers(nil, disk, nil).ProcessBlobPurge(ctx, bad), asynq.SkipRetry)
}

func TestRegisterSkipsMissingDependencies(t *testing.T) {
	mux := asynq.NewServeMux()
	NewHandlers(nil, attachment.NewMemoryStore(), nil).Register(mux)

	_, pattern := mux.Handler(asynq.NewTask(tasks.TypeBlobPurge, nil))
	assert.Equal(t, tasks.TypeBlobPurge, pattern)
	_, pattern = mux.Handler(asynq.NewTask(tasks.TypeReportSweep, nil))
	assert.Empty(t, pattern)
}
