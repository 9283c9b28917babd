// Package tasks defines the background jobs run through asynq: retries for
// report cascades and blob purges that failed inline, and the periodic sweep
// of reports whose message no longer exists.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task types.
const (
	TypeReportSweep = "report:sweep"         // delete reports of the listed messages
	TypeOrphanSweep = "report:sweep_orphans" // periodic, delete reports without a message
	TypeBlobPurge   = "blob:purge"           // delete a rejected upload
)

// Queues.
const (
	QueueDefault = "default"
	QueueBlobs   = "blobs" // consumed by gateway processes, which own the upload directory
)

// ReportSweepPayload lists messages whose reports must go.
type ReportSweepPayload struct {
	MessageIDs []string `json:"message_ids"`
}

// BlobPurgePayload names a blob to delete.
type BlobPurgePayload struct {
	Key string `json:"key"`
}

// NewReportSweepTask builds a report sweep task.
func NewReportSweepTask(messageIDs []string) (*asynq.Task, error) {
	payload, err := json.Marshal(ReportSweepPayload{MessageIDs: messageIDs})
	if err != nil {
		return nil, fmt.Errorf("tasks: marshal report sweep: %w", err)
	}
	return asynq.NewTask(TypeReportSweep, payload, asynq.MaxRetry(10), asynq.Queue(QueueDefault)), nil
}

// NewOrphanSweepTask builds the periodic orphan sweep task.
func NewOrphanSweepTask() *asynq.Task {
	return asynq.NewTask(TypeOrphanSweep, nil, asynq.MaxRetry(1), asynq.Queue(QueueDefault))
}

// NewBlobPurgeTask builds a blob purge task.
func NewBlobPurgeTask(key string) (*asynq.Task, error) {
	payload, err := json.Marshal(BlobPurgePayload{Key: key})
	if err != nil {
		return nil, fmt.Errorf("tasks: marshal blob purge: %w", err)
	}
	return asynq.NewTask(TypeBlobPurge, payload, asynq.MaxRetry(10), asynq.Queue(QueueBlobs)), nil
}

// Enqueuer is the part of asynq.Client the scheduler helpers need.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client schedules retries. It satisfies chat.Sweeper and attachment.Purger.
type Client struct {
	enq Enqueuer
}

// NewClient wraps an asynq client.
func NewClient(enq Enqueuer) *Client {
	return &Client{enq: enq}
}

// ScheduleReportSweep enqueues deletion of the reports of messageIDs.
func (c *Client) ScheduleReportSweep(ctx context.Context, messageIDs []string) error {
	task, err := NewReportSweepTask(messageIDs)
	if err != nil {
		return err
	}
	if _, err := c.enq.EnqueueContext(ctx, task, asynq.ProcessIn(5*time.Second)); err != nil {
		return fmt.Errorf("tasks: enqueue report sweep: %w", err)
	}
	return nil
}

// ScheduleBlobPurge enqueues deletion of a blob.
func (c *Client) ScheduleBlobPurge(ctx context.Context, key string) error {
	task, err := NewBlobPurgeTask(key)
	if err != nil {
		return err
	}
	if _, err := c.enq.EnqueueContext(ctx, task, asynq.ProcessIn(5*time.Second)); err != nil {
		return fmt.Errorf("tasks: enqueue blob purge: %w", err)
	}
	return nil
}
