package scheduler

import (
	"context"
	"time"

	"github.com/maheshrc27/gramflow/internal/models"
)

// Handler executes a fired trigger. Returned errors and panics are logged and
// never stop the dispatcher.
type Handler func(ctx context.Context, jobID int64) error

// MisfireHandler is told about triggers that were due longer ago than the
// grace window. The trigger is consumed either way.
type MisfireHandler func(ctx context.Context, jobID int64, lateness time.Duration) error

// Store persists triggers across restarts.
type Store interface {
	Upsert(ctx context.Context, t *models.ScheduledTrigger) error
	Get(ctx context.Context, id string) (*models.ScheduledTrigger, error)
	List(ctx context.Context) ([]*models.ScheduledTrigger, error)
	Delete(ctx context.Context, id string) (bool, error)
	Consume(ctx context.Context, id string, fireAt time.Time) (bool, error)
}

type Config struct {
	// MaxConcurrent bounds executions running at the same time (default 3).
	MaxConcurrent int
	// MisfireGrace is how late a trigger may fire and still run (default 30s).
	MisfireGrace time.Duration
	// ExecTimeout bounds one execution (default 10m).
	ExecTimeout time.Duration
}

const (
	DefaultMaxConcurrent = 3
	DefaultMisfireGrace  = 30 * time.Second
	DefaultExecTimeout   = 10 * time.Minute

	maxSleepCap = 60 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.MisfireGrace <= 0 {
		c.MisfireGrace = DefaultMisfireGrace
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = DefaultExecTimeout
	}
	return c
}

// IsMisfire reports whether a trigger due at fireAt is too late to run at now.
func IsMisfire(fireAt, now time.Time, grace time.Duration) bool {
	return now.Sub(fireAt) > grace
}
