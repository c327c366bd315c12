package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type calls struct {
	run     []int64
	misfire []time.Duration
}

func newTestScheduler(c *calls, runErr error) *Scheduler {
	return &Scheduler{
		run: func(_ context.Context, jobID int64) error {
			c.run = append(c.run, jobID)
			return runErr
		},
		misfire: func(_ context.Context, _ int64, lateness time.Duration) error {
			c.misfire = append(c.misfire, lateness)
			return nil
		},
		grace: 30 * time.Second,
		log:   slog.Default(),
		now:   time.Now,
	}
}

func publishTask(t *testing.T, jobID int64, fireAt time.Time) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(PublishJobPayload{JobID: jobID, FireAt: fireAt})
	require.NoError(t, err)
	return asynq.NewTask(TaskTypePublishJob, payload)
}

func TestHandlePublishTaskRunsWithinGrace(t *testing.T) {
	c := &calls{}
	s := newTestScheduler(c, nil)

	err := s.HandlePublishTask(context.Background(), publishTask(t, 9, time.Now().Add(-10*time.Second)))
	require.NoError(t, err)

	assert.Equal(t, []int64{9}, c.run)
	assert.Empty(t, c.misfire)
}

func TestHandlePublishTaskMisfire(t *testing.T) {
	c := &calls{}
	s := newTestScheduler(c, nil)

	err := s.HandlePublishTask(context.Background(), publishTask(t, 9, time.Now().Add(-5*time.Minute)))
	require.NoError(t, err)

	assert.Empty(t, c.run)
	require.Len(t, c.misfire, 1)
	assert.GreaterOrEqual(t, c.misfire[0], 5*time.Minute)
}

func TestHandlePublishTaskSwallowsFailures(t *testing.T) {
	c := &calls{}
	s := newTestScheduler(c, errors.New("graph api down"))
	assert.NoError(t, s.HandlePublishTask(context.Background(), publishTask(t, 1, time.Now())))

	s.run = func(context.Context, int64) error { panic("boom") }
	assert.NoError(t, s.HandlePublishTask(context.Background(), publishTask(t, 2, time.Now())))

	assert.NoError(t, s.HandlePublishTask(context.Background(), asynq.NewTask(TaskTypePublishJob, []byte("{"))))
}

func TestTriggerFromTask(t *testing.T) {
	fireAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	payload, err := json.Marshal(PublishJobPayload{JobID: 42, FireAt: fireAt})
	require.NoError(t, err)

	tr, err := triggerFromTask(&asynq.TaskInfo{ID: "ig_post_42", Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, "ig_post_42", tr.ID)
	assert.Equal(t, int64(42), tr.JobID)
	assert.True(t, tr.FireAt.Equal(fireAt))

	_, err = triggerFromTask(&asynq.TaskInfo{ID: "bad", Payload: []byte("nope")})
	assert.Error(t, err)
}

func TestIsMissing(t *testing.T) {
	assert.True(t, isMissing(asynq.ErrTaskNotFound))
	assert.True(t, isMissing(asynq.ErrQueueNotFound))
	assert.False(t, isMissing(errors.New("connection refused")))
}
