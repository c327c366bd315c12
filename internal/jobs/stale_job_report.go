package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/maheshrc27/gramflow/internal/metrics"
	"github.com/maheshrc27/gramflow/internal/models"
)

type StaleJobLister interface {
	ListStaleRunning(ctx context.Context, olderThan time.Time) ([]*models.PublishJob, error)
}

// StaleJobReport surfaces jobs left in running by a crash. They are never
// resumed automatically because the container may already be published.
type StaleJobReport struct {
	jobs  StaleJobLister
	after time.Duration
	log   *slog.Logger
	now   func() time.Time
}

func NewStaleJobReport(jobs StaleJobLister, after time.Duration, log *slog.Logger) *StaleJobReport {
	if log == nil {
		log = slog.Default()
	}
	return &StaleJobReport{
		jobs:  jobs,
		after: after,
		log:   log.With("job", "stale_report"),
		now:   time.Now,
	}
}

func (r *StaleJobReport) Report() {
	r.run(context.Background())
}

func (r *StaleJobReport) run(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	stale, err := r.jobs.ListStaleRunning(ctx, r.now().Add(-r.after))
	if err != nil {
		r.log.Error("listing stale running jobs", "error", err)
		return -1
	}

	metrics.StaleRunningJobs.Set(float64(len(stale)))
	for _, job := range stale {
		attrs := []any{"job_id", job.ID, "running_since", job.UpdatedAt}
		if job.ContainerID != nil {
			attrs = append(attrs, "container_id", *job.ContainerID)
		}
		r.log.Warn("job stuck in running, resolve manually via abandon", attrs...)
	}
	return len(stale)
}
