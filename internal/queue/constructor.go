package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/maheshrc27/gramflow/internal/scheduler"
)

const (
	TaskTypePublishJob = "publish:job"
	QueueName          = "publish"
)

type PublishJobPayload struct {
	JobID  int64     `json:"job_id"`
	FireAt time.Time `json:"fire_at"`
}

type taskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type taskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListPendingTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	Close() error
}

// Scheduler is the Redis-backed trigger engine. Each trigger is an asynq task
// whose task id is the trigger id, so re-scheduling replaces it.
type Scheduler struct {
	client    taskClient
	inspector taskInspector
	server    *asynq.Server

	run     scheduler.Handler
	misfire scheduler.MisfireHandler
	grace   time.Duration
	log     *slog.Logger
	now     func() time.Time
}

func NewScheduler(redis asynq.RedisConnOpt, run scheduler.Handler, misfire scheduler.MisfireHandler, cfg scheduler.Config, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = scheduler.DefaultMaxConcurrent
	}
	if cfg.MisfireGrace <= 0 {
		cfg.MisfireGrace = scheduler.DefaultMisfireGrace
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = scheduler.DefaultExecTimeout
	}

	server := asynq.NewServer(redis, asynq.Config{
		Concurrency:     cfg.MaxConcurrent,
		Queues:          map[string]int{QueueName: 1},
		ShutdownTimeout: cfg.ExecTimeout,
		LogLevel:        asynq.WarnLevel,
	})

	return &Scheduler{
		client:    asynq.NewClient(redis),
		inspector: asynq.NewInspector(redis),
		server:    server,
		run:       run,
		misfire:   misfire,
		grace:     cfg.MisfireGrace,
		log:       log.With("component", "asynq-scheduler"),
		now:       time.Now,
	}
}
