package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/maheshrc27/gramflow/internal/service"
)

const tokenRefreshTimeout = 5 * time.Minute

type TokenRefreshJob struct {
	creds service.CredentialService
	log   *slog.Logger
}

func NewTokenRefreshJob(creds service.CredentialService, log *slog.Logger) *TokenRefreshJob {
	if log == nil {
		log = slog.Default()
	}
	return &TokenRefreshJob{
		creds: creds,
		log:   log.With("job", "token_refresh"),
	}
}

// RefreshTokens is registered with cron; failures are logged and the next
// tick tries again.
func (j *TokenRefreshJob) RefreshTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), tokenRefreshTimeout)
	defer cancel()

	n, err := j.creds.RefreshExpiring(ctx)
	if err != nil {
		j.log.Error("token refresh failed", "refreshed", n, "error", err)
		return
	}
	if n > 0 {
		j.log.Info("refreshed instagram tokens", "refreshed", n)
	}
}
