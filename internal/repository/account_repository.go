package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/maheshrc27/gramflow/internal/models"
)

type AccountRepository interface {
	Upsert(ctx context.Context, acc *models.Account) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Account, error)
	ListExpiringBefore(ctx context.Context, before time.Time) ([]*models.Account, error)
	SetToken(ctx context.Context, id int64, oldAccessToken, newAccessToken string, expiresAt *time.Time) error
}

type accountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `id, external_account_id, access_token, token_expires_at, created_at, updated_at`

// Upsert creates the account or replaces the credential of an existing one.
func (r *accountRepository) Upsert(ctx context.Context, acc *models.Account) (int64, error) {
	query := `
		INSERT INTO accounts (external_account_id, access_token, token_expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_account_id) DO UPDATE
		SET access_token = EXCLUDED.access_token,
			token_expires_at = EXCLUDED.token_expires_at,
			updated_at = NOW()
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, acc.ExternalAccountID, acc.AccessToken, acc.TokenExpiresAt).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return id, nil
}

func (r *accountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *accountRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE external_account_id = $1`
	return r.getOne(ctx, query, externalID)
}

func (r *accountRepository) getOne(ctx context.Context, query string, arg any) (*models.Account, error) {
	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		slog.Info(err.Error())
		return nil, err
	}
	return acc, nil
}

func (r *accountRepository) ListExpiringBefore(ctx context.Context, before time.Time) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts
		WHERE token_expires_at IS NOT NULL AND token_expires_at < $1
		ORDER BY token_expires_at`

	rows, err := r.db.QueryContext(ctx, query, before)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		accounts = append(accounts, acc)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return accounts, nil
}

// SetToken swaps the credential only if it still matches oldAccessToken, so a
// refresh racing a re-auth does not overwrite the newer token.
func (r *accountRepository) SetToken(ctx context.Context, id int64, oldAccessToken, newAccessToken string, expiresAt *time.Time) error {
	query := `
		UPDATE accounts
		SET access_token = $3,
			token_expires_at = $4,
			updated_at = NOW()
		WHERE id = $1 AND access_token = $2
	`
	result, err := r.db.ExecContext(ctx, query, id, oldAccessToken, newAccessToken, expiresAt)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if affected != 1 {
		return ErrConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var acc models.Account
	var expiresAt sql.NullTime
	err := row.Scan(&acc.ID, &acc.ExternalAccountID, &acc.AccessToken, &expiresAt, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		acc.TokenExpiresAt = &t
	}
	return &acc, nil
}
