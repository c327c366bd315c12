package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	config "github.com/maheshrc27/gramflow/configs"
	"github.com/maheshrc27/gramflow/internal/models"
	"github.com/maheshrc27/gramflow/internal/repository"
	"github.com/maheshrc27/gramflow/pkg/utils"
)

// Credential is a decrypted access token ready to be attached to Graph calls.
type Credential struct {
	Token             string
	ExpiresAt         *time.Time
	ExternalAccountID string
}

type CredentialService interface {
	GetCredential(ctx context.Context, accountID int64) (*Credential, error)
	SaveFromOAuth(ctx context.Context, externalAccountID, accessToken string, expiresAt time.Time) (int64, error)
	RefreshExpiring(ctx context.Context) (int, error)
}

type credentialService struct {
	cfg      config.Config
	accounts repository.AccountRepository
	ig       InstagramService
	now      func() time.Time
}

func NewCredentialService(cfg config.Config, accounts repository.AccountRepository, ig InstagramService) CredentialService {
	return &credentialService{
		cfg:      cfg,
		accounts: accounts,
		ig:       ig,
		now:      time.Now,
	}
}

// GetCredential returns repository.ErrNotFound for unknown accounts and
// ErrCredentialExpired when the stored token is past its expiry or unreadable.
func (s *credentialService) GetCredential(ctx context.Context, accountID int64) (*Credential, error) {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	if acc.TokenExpiresAt != nil && !s.now().Before(*acc.TokenExpiresAt) {
		return nil, fmt.Errorf("%w: account %d expired at %s", ErrCredentialExpired, acc.ID, acc.TokenExpiresAt.Format(time.RFC3339))
	}

	token, err := utils.Decrypt(acc.AccessToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return nil, fmt.Errorf("%w: account %d token unreadable: %v", ErrCredentialExpired, acc.ID, err)
	}

	return &Credential{
		Token:             token,
		ExpiresAt:         acc.TokenExpiresAt,
		ExternalAccountID: acc.ExternalAccountID,
	}, nil
}

// SaveFromOAuth creates the account or replaces its credential after re-auth.
func (s *credentialService) SaveFromOAuth(ctx context.Context, externalAccountID, accessToken string, expiresAt time.Time) (int64, error) {
	encrypted, err := utils.Encrypt([]byte(accessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return 0, err
	}

	return s.accounts.Upsert(ctx, &models.Account{
		ExternalAccountID: externalAccountID,
		AccessToken:       encrypted,
		TokenExpiresAt:    &expiresAt,
	})
}

// RefreshExpiring extends tokens that expire within the refresh window. A
// token replaced concurrently by re-auth is left alone.
func (s *credentialService) RefreshExpiring(ctx context.Context) (int, error) {
	now := s.now()
	accounts, err := s.accounts.ListExpiringBefore(ctx, now.Add(s.cfg.TokenRefreshWindow))
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, acc := range accounts {
		log := slog.With("account_id", acc.ID, "external_account_id", acc.ExternalAccountID)

		if acc.TokenExpiresAt != nil && !now.Before(*acc.TokenExpiresAt) {
			log.Warn("token already expired, account needs to re-authenticate")
			continue
		}

		if err := s.refresh(ctx, acc); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				log.Info("token changed during refresh, skipping")
				continue
			}
			log.Error("token refresh failed", "error", err)
			continue
		}
		refreshed++
		log.Info("token refreshed")
	}
	return refreshed, nil
}

func (s *credentialService) refresh(ctx context.Context, acc *models.Account) error {
	current, err := utils.Decrypt(acc.AccessToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	token, err := s.ig.ExchangeLongLivedToken(ctx, current)
	if err != nil {
		return err
	}

	encrypted, err := utils.Encrypt([]byte(token.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	return s.accounts.SetToken(ctx, acc.ID, acc.AccessToken, encrypted, &token.ExpiresAt)
}
