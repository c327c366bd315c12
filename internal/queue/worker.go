package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/maheshrc27/gramflow/internal/metrics"
	"github.com/maheshrc27/gramflow/internal/scheduler"
)

func (s *Scheduler) Start(_ context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypePublishJob, s.HandlePublishTask)
	if err := s.server.Start(mux); err != nil {
		return err
	}
	s.log.Info("asynq scheduler started", "queue", QueueName)
	return nil
}

// Stop waits for in-flight tasks up to the configured shutdown timeout.
// Unfired tasks stay in Redis.
func (s *Scheduler) Stop(_ context.Context) error {
	s.server.Shutdown()
	if err := s.client.Close(); err != nil {
		return err
	}
	if err := s.inspector.Close(); err != nil {
		return err
	}
	s.log.Info("asynq scheduler stopped")
	return nil
}

// HandlePublishTask never returns an error: a fired trigger counts as
// consumed whatever the execution outcome, so asynq must not retry it.
func (s *Scheduler) HandlePublishTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishJobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		s.log.Error("dropping malformed publish task", "error", err)
		return nil
	}

	now := s.now()
	log := s.log.With("job_id", payload.JobID, "execution_id", uuid.NewString())

	if scheduler.IsMisfire(payload.FireAt, now, s.grace) {
		lateness := now.Sub(payload.FireAt)
		metrics.TriggersMisfired.Inc()
		log.Warn("trigger missed its grace window", "fire_at", payload.FireAt, "lateness", lateness)
		if s.misfire != nil {
			if err := s.guard(func() error { return s.misfire(ctx, payload.JobID, lateness) }); err != nil {
				log.Error("misfire handler failed", "error", err)
			}
		}
		return nil
	}

	metrics.TriggersFired.Inc()
	metrics.ExecutionsInFlight.Inc()
	defer metrics.ExecutionsInFlight.Dec()

	start := time.Now()
	log.Info("trigger fired", "fire_at", payload.FireAt, "lateness", now.Sub(payload.FireAt))
	if err := s.guard(func() error { return s.run(ctx, payload.JobID) }); err != nil {
		log.Error("trigger execution failed", "error", err)
	}
	metrics.ExecutionDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (s *Scheduler) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn()
}
