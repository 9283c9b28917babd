package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func TestScheduleReportSweep(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := NewClient(enq)

	require.NoError(t, c.ScheduleReportSweep(context.Background(), []string{"m1", "m2"}))
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TypeReportSweep, enq.tasks[0].Type())

	var p ReportSweepPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &p))
	assert.Equal(t, []string{"m1", "m2"}, p.MessageIDs)
}

func TestScheduleBlobPurge(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := NewClient(enq)

	require.NoError(t, c.ScheduleBlobPurge(context.Background(), "abc.png"))
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TypeBlobPurge, enq.tasks[0].Type())

	var p BlobPurgePayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &p))
	assert.Equal(t, "abc.png", p.Key)
}

func TestScheduleErrorsAreWrapped(t *testing.T) {
	boom := errors.New("redis: connection refused")
	c := NewClient(&fakeEnqueuer{err: boom})

	err := c.ScheduleReportSweep(context.Background(), []string{"m1"})
	assert.ErrorIs(t, err, boom)
	err = c.ScheduleBlobPurge(context.Background(), "k")
	assert.ErrorIs(t, err, boom)
}
