package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/maheshrc27/gramflow/internal/models"
	"github.com/maheshrc27/gramflow/internal/scheduler"
)

func (s *Scheduler) Schedule(ctx context.Context, jobID int64, fireAt time.Time) (*models.ScheduledTrigger, error) {
	t := &models.ScheduledTrigger{
		ID:     models.TriggerID(jobID),
		JobID:  jobID,
		FireAt: fireAt.UTC().Truncate(time.Microsecond),
	}

	payload, err := json.Marshal(PublishJobPayload{JobID: jobID, FireAt: t.FireAt})
	if err != nil {
		return nil, err
	}

	if _, err := s.delete(t.ID); err != nil {
		return nil, fmt.Errorf("replace trigger %s: %w", t.ID, err)
	}

	task := asynq.NewTask(TaskTypePublishJob, payload)
	if _, err := s.client.EnqueueContext(ctx, task,
		asynq.TaskID(t.ID),
		asynq.Queue(QueueName),
		asynq.MaxRetry(0),
		asynq.ProcessAt(t.FireAt),
	); err != nil {
		return nil, fmt.Errorf("enqueue trigger %s: %w", t.ID, err)
	}

	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	s.log.Info("trigger scheduled", "trigger_id", t.ID, "job_id", jobID, "fire_at", t.FireAt)
	return t, nil
}

func (s *Scheduler) Cancel(_ context.Context, jobID int64) (bool, error) {
	id := models.TriggerID(jobID)
	removed, err := s.delete(id)
	if err != nil {
		return false, fmt.Errorf("delete trigger %s: %w", id, err)
	}
	if removed {
		s.log.Info("trigger cancelled", "trigger_id", id, "job_id", jobID)
	}
	return removed, nil
}

func (s *Scheduler) Lookup(_ context.Context, jobID int64) (*models.ScheduledTrigger, error) {
	info, err := s.inspector.GetTaskInfo(QueueName, models.TriggerID(jobID))
	if err != nil {
		if isMissing(err) {
			return nil, scheduler.ErrNoTrigger
		}
		return nil, err
	}
	if info.State == asynq.TaskStateCompleted || info.State == asynq.TaskStateArchived {
		return nil, scheduler.ErrNoTrigger
	}
	return triggerFromTask(info)
}

// Triggers lists triggers that have not fired yet.
func (s *Scheduler) Triggers(_ context.Context) ([]*models.ScheduledTrigger, error) {
	var out []*models.ScheduledTrigger
	for _, list := range []func(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error){
		s.inspector.ListScheduledTasks,
		s.inspector.ListPendingTasks,
	} {
		infos, err := list(QueueName, asynq.PageSize(1000))
		if err != nil {
			if errors.Is(err, asynq.ErrQueueNotFound) {
				continue
			}
			return nil, err
		}
		for _, info := range infos {
			t, err := triggerFromTask(info)
			if err != nil {
				s.log.Warn("skipping unreadable task", "task_id", info.ID, "error", err)
				continue
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Scheduler) delete(id string) (bool, error) {
	err := s.inspector.DeleteTask(QueueName, id)
	if err == nil {
		return true, nil
	}
	if isMissing(err) {
		return false, nil
	}
	return false, err
}

func isMissing(err error) bool {
	return errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound)
}

func triggerFromTask(info *asynq.TaskInfo) (*models.ScheduledTrigger, error) {
	var payload PublishJobPayload
	if err := json.Unmarshal(info.Payload, &payload); err != nil {
		return nil, err
	}
	return &models.ScheduledTrigger{
		ID:     info.ID,
		JobID:  payload.JobID,
		FireAt: payload.FireAt,
	}, nil
}
