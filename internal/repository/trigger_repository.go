package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/maheshrc27/gramflow/internal/models"
)

type TriggerRepository interface {
	Upsert(ctx context.Context, t *models.ScheduledTrigger) error
	Get(ctx context.Context, id string) (*models.ScheduledTrigger, error)
	List(ctx context.Context) ([]*models.ScheduledTrigger, error)
	Delete(ctx context.Context, id string) (bool, error)
	// Consume deletes the trigger only if it still fires at fireAt, so a
	// reschedule that happened during execution survives.
	Consume(ctx context.Context, id string, fireAt time.Time) (bool, error)
}

type triggerRepository struct {
	db *sql.DB
}

func NewTriggerRepository(db *sql.DB) TriggerRepository {
	return &triggerRepository{db: db}
}

func (r *triggerRepository) Upsert(ctx context.Context, t *models.ScheduledTrigger) error {
	query := `
		INSERT INTO scheduled_triggers (id, job_id, fire_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET fire_at = EXCLUDED.fire_at,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, t.ID, t.JobID, t.FireAt).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *triggerRepository) Get(ctx context.Context, id string) (*models.ScheduledTrigger, error) {
	query := `SELECT id, job_id, fire_at, created_at, updated_at FROM scheduled_triggers WHERE id = $1`

	var t models.ScheduledTrigger
	err := r.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.JobID, &t.FireAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		slog.Info(err.Error())
		return nil, err
	}
	return &t, nil
}

func (r *triggerRepository) List(ctx context.Context) ([]*models.ScheduledTrigger, error) {
	query := `SELECT id, job_id, fire_at, created_at, updated_at FROM scheduled_triggers ORDER BY fire_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var triggers []*models.ScheduledTrigger
	for rows.Next() {
		var t models.ScheduledTrigger
		if err := rows.Scan(&t.ID, &t.JobID, &t.FireAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		triggers = append(triggers, &t)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return triggers, nil
}

func (r *triggerRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_triggers WHERE id = $1`, id)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected > 0, nil
}

func (r *triggerRepository) Consume(ctx context.Context, id string, fireAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_triggers WHERE id = $1 AND fire_at = $2`, id, fireAt)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected > 0, nil
}
