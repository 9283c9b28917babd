package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/moviemark/studio-chat/internal/apperr"
	"github.com/moviemark/studio-chat/internal/logging"
	"github.com/moviemark/studio-chat/internal/tasks"
)

// ReportCleaner is the part of the report store the sweeps use.
type ReportCleaner interface {
	DeleteByMessages(ctx context.Context, messageIDs []string) (int64, error)
	DeleteOrphans(ctx context.Context) (int64, error)
}

// BlobDeleter removes stored uploads.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Handlers processes the background tasks. A nil dependency leaves the
// matching task types unregistered.
type Handlers struct {
	reports ReportCleaner
	blobs   BlobDeleter
	log     *logrus.Entry
}

// NewHandlers creates task handlers.
func NewHandlers(reports ReportCleaner, blobs BlobDeleter, log *logrus.Entry) *Handlers {
	return &Handlers{reports: reports, blobs: blobs, log: logging.OrDiscard(log)}
}

// Register installs the handlers on mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	if h.reports != nil {
		mux.HandleFunc(tasks.TypeReportSweep, h.ProcessReportSweep)
		mux.HandleFunc(tasks.TypeOrphanSweep, h.ProcessOrphanSweep)
	}
	if h.blobs != nil {
		mux.HandleFunc(tasks.TypeBlobPurge, h.ProcessBlobPurge)
	}
}

func (h *Handlers) taskLog(ctx context.Context, t *asynq.Task) *logrus.Entry {
	retry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	id, _ := asynq.GetTaskID(ctx)
	return h.log.WithFields(logrus.Fields{
		"task_id":   id,
		"task_type": t.Type(),
		"retry":     retry,
		"max_retry": maxRetry,
	})
}

// ProcessReportSweep deletes the reports of messages that are already gone.
func (h *Handlers) ProcessReportSweep(ctx context.Context, t *asynq.Task) error {
	logCtx := h.taskLog(ctx, t)

	var p tasks.ReportSweepPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logCtx.WithError(err).Error("failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if len(p.MessageIDs) == 0 {
		return nil
	}

	n, err := h.reports.DeleteByMessages(ctx, p.MessageIDs)
	if err != nil {
		logCtx.WithError(err).Warn("report sweep failed")
		return fmt.Errorf("report sweep: %w", err)
	}
	logCtx.WithFields(logrus.Fields{"messages": len(p.MessageIDs), "deleted": n}).Info("report sweep done")
	return nil
}

// ProcessOrphanSweep deletes every report whose message no longer exists.
func (h *Handlers) ProcessOrphanSweep(ctx context.Context, t *asynq.Task) error {
	logCtx := h.taskLog(ctx, t)

	n, err := h.reports.DeleteOrphans(ctx)
	if err != nil {
		logCtx.WithError(err).Warn("orphan sweep failed")
		return fmt.Errorf("orphan sweep: %w", err)
	}
	if n > 0 {
		logCtx.WithField("deleted", n).Info("orphaned reports removed")
	}
	return nil
}

// ProcessBlobPurge deletes a rejected upload. A blob that is already gone
// counts as purged.
func (h *Handlers) ProcessBlobPurge(ctx context.Context, t *asynq.Task) error {
	logCtx := h.taskLog(ctx, t)

	var p tasks.BlobPurgePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logCtx.WithError(err).Error("failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	err := h.blobs.Delete(ctx, p.Key)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrInvalid):
		logCtx.WithError(err).WithField("key", p.Key).Error("refusing to purge invalid key")
		return fmt.Errorf("blob purge %q: %v: %w", p.Key, err, asynq.SkipRetry)
	default:
		logCtx.WithError(err).WithField("key", p.Key).Warn("blob purge failed")
		return fmt.Errorf("blob purge %q: %w", p.Key, err)
	}
	logCtx.WithField("key", p.Key).Info("blob purged")
	return nil
}
