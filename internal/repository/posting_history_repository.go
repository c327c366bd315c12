package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/maheshrc27/gramflow/internal/models"
)

type PostingHistoryRepository interface {
	Create(ctx context.Context, ph *models.PostingHistory) (int64, error)
	ListByJobID(ctx context.Context, jobID int64) ([]*models.PostingHistory, error)
}

type postingHistoryRepository struct {
	db *sql.DB
}

func NewPostingHistoryRepository(db *sql.DB) PostingHistoryRepository {
	return &postingHistoryRepository{db: db}
}

func (r *postingHistoryRepository) Create(ctx context.Context, ph *models.PostingHistory) (int64, error) {
	query := `
		INSERT INTO posting_history (job_id, account_id, outcome, reason, error_message, external_post_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, ph.JobID, ph.AccountID, ph.Outcome, ph.Reason, ph.ErrorMessage, ph.ExternalPostID).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postingHistoryRepository) ListByJobID(ctx context.Context, jobID int64) ([]*models.PostingHistory, error) {
	query := `SELECT id, job_id, account_id, outcome, reason, error_message, external_post_id, created_at
		FROM posting_history WHERE job_id = $1 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var phs []*models.PostingHistory
	for rows.Next() {
		var (
			ph             models.PostingHistory
			accountID      sql.NullInt64
			externalPostID sql.NullString
		)
		err := rows.Scan(&ph.ID, &ph.JobID, &accountID, &ph.Outcome, &ph.Reason, &ph.ErrorMessage, &externalPostID, &ph.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		if accountID.Valid {
			id := accountID.Int64
			ph.AccountID = &id
		}
		if externalPostID.Valid {
			s := externalPostID.String
			ph.ExternalPostID = &s
		}
		phs = append(phs, &ph)
	}
	return phs, rows.Err()
}
