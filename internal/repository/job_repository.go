package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maheshrc27/gramflow/internal/models"
)

// JobFilter narrows List. Zero values match everything.
type JobFilter struct {
	Status    models.JobStatus
	AccountID int64
	Limit     int
}

type JobRepository interface {
	Create(ctx context.Context, job *models.PublishJob) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.PublishJob, error)
	List(ctx context.Context, filter JobFilter) ([]*models.PublishJob, error)
	ListStaleRunning(ctx context.Context, olderThan time.Time) ([]*models.PublishJob, error)
	UpdateStatus(ctx context.Context, id int64, from, to models.JobStatus, extra models.StatusUpdate) error
	SetContainerID(ctx context.Context, id int64, containerID string) error
	MarkMisfire(ctx context.Context, id int64, detail string) error
}

type jobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db}
}

const jobColumns = `id, account_id, source_prompt, media_kind, caption_text, hashtag_text, media_url,
	scheduled_at, status, container_id, external_post_id, failure_reason, error_detail, created_at, updated_at`

// Create inserts a job; new jobs always start pending.
func (r *jobRepository) Create(ctx context.Context, job *models.PublishJob) (int64, error) {
	query := `
		INSERT INTO publish_jobs (account_id, source_prompt, media_kind, caption_text, hashtag_text, media_url, scheduled_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	job.Status = models.JobStatusPending
	err := r.db.QueryRowContext(ctx, query,
		job.AccountID,
		job.SourcePrompt,
		job.MediaKind,
		job.CaptionText,
		job.HashtagText,
		job.MediaURL,
		job.ScheduledAt,
		job.Status,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return job.ID, nil
}

func (r *jobRepository) GetByID(ctx context.Context, id int64) (*models.PublishJob, error) {
	query := `SELECT ` + jobColumns + ` FROM publish_jobs WHERE id = $1`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		slog.Info(err.Error())
		return nil, err
	}
	return job, nil
}

func (r *jobRepository) List(ctx context.Context, filter JobFilter) ([]*models.PublishJob, error) {
	query := `SELECT ` + jobColumns + ` FROM publish_jobs`
	args := []any{}
	where := []string{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf(`status = $%d`, len(args)))
	}
	if filter.AccountID > 0 {
		args = append(args, filter.AccountID)
		where = append(where, fmt.Sprintf(`account_id = $%d`, len(args)))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	return r.query(ctx, query, args...)
}

func (r *jobRepository) ListStaleRunning(ctx context.Context, olderThan time.Time) ([]*models.PublishJob, error) {
	query := `SELECT ` + jobColumns + ` FROM publish_jobs WHERE status = $1 AND updated_at < $2 ORDER BY updated_at`
	return r.query(ctx, query, models.JobStatusRunning, olderThan)
}

// UpdateStatus is a compare-and-set on the current status. Losing the race
// returns ErrConflict; a missing row returns ErrNotFound.
func (r *jobRepository) UpdateStatus(ctx context.Context, id int64, from, to models.JobStatus, extra models.StatusUpdate) error {
	if err := models.CheckTransition(from, to); err != nil {
		return err
	}

	query := `
		UPDATE publish_jobs
		SET status = $3,
			external_post_id = COALESCE($4, external_post_id),
			failure_reason = $5,
			error_detail = $6,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	result, err := r.db.ExecContext(ctx, query, id, from, to, extra.ExternalPostID, extra.FailureReason, extra.ErrorDetail)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	return r.checkAffected(ctx, result, id)
}

func (r *jobRepository) SetContainerID(ctx context.Context, id int64, containerID string) error {
	query := `UPDATE publish_jobs SET container_id = $2, updated_at = NOW() WHERE id = $1 AND status = $3`
	result, err := r.db.ExecContext(ctx, query, id, containerID, models.JobStatusRunning)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return r.checkAffected(ctx, result, id)
}

// MarkMisfire records the misfire on a pending job without changing its status.
func (r *jobRepository) MarkMisfire(ctx context.Context, id int64, detail string) error {
	query := `UPDATE publish_jobs SET failure_reason = $2, error_detail = $3, updated_at = NOW() WHERE id = $1 AND status = $4`
	result, err := r.db.ExecContext(ctx, query, id, models.ReasonSchedulerMisfire, detail, models.JobStatusPending)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return r.checkAffected(ctx, result, id)
}

func (r *jobRepository) checkAffected(ctx context.Context, result sql.Result, id int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if affected == 1 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM publish_jobs WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return ErrConflict
}

func (r *jobRepository) query(ctx context.Context, query string, args ...any) ([]*models.PublishJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.PublishJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return jobs, nil
}

func scanJob(row rowScanner) (*models.PublishJob, error) {
	var (
		job            models.PublishJob
		accountID      sql.NullInt64
		scheduledAt    sql.NullTime
		containerID    sql.NullString
		externalPostID sql.NullString
	)
	err := row.Scan(
		&job.ID,
		&accountID,
		&job.SourcePrompt,
		&job.MediaKind,
		&job.CaptionText,
		&job.HashtagText,
		&job.MediaURL,
		&scheduledAt,
		&job.Status,
		&containerID,
		&externalPostID,
		&job.FailureReason,
		&job.ErrorDetail,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if accountID.Valid {
		id := accountID.Int64
		job.AccountID = &id
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		job.ScheduledAt = &t
	}
	if containerID.Valid {
		s := containerID.String
		job.ContainerID = &s
	}
	if externalPostID.Valid {
		s := externalPostID.String
		job.ExternalPostID = &s
	}
	return &job, nil
}
