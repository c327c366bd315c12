package service

import (
	"errors"
	"fmt"

	"github.com/maheshrc27/gramflow/internal/repository"
	"github.com/maheshrc27/gramflow/internal/transfer"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrCredentialExpired = errors.New("credential expired")
	ErrPlatformRejected  = errors.New("platform rejected request")
	ErrMediaNotReady     = errors.New("media not ready")
	ErrUnsupportedMedia  = errors.New("unsupported media type")
	ErrForbidden         = errors.New("forbidden")
	ErrNotScheduled      = errors.New("job stored but not scheduled")

	ErrAccountNotFound = fmt.Errorf("account: %w", repository.ErrNotFound)
	ErrJobNotFound     = fmt.Errorf("job: %w", repository.ErrNotFound)
)

// Graph API error code for invalid or expired OAuth access tokens.
const graphCodeInvalidToken = 190

// PlatformError is a non-success response from the Graph API. The raw
// payload is kept for diagnostics.
type PlatformError struct {
	Op         string
	StatusCode int
	Payload    string
	Detail     *transfer.InstagramErrorResponse
}

func (e *PlatformError) Error() string {
	if e.Detail != nil && e.Detail.Error.Message != "" {
		return fmt.Sprintf("%s: status %d: %s (code %d, fbtrace %s)",
			e.Op, e.StatusCode, e.Detail.Error.Message, e.Detail.Error.Code, e.Detail.Error.FbtraceID)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Payload)
}

func (e *PlatformError) Is(target error) bool {
	switch target {
	case ErrCredentialExpired:
		return e.Detail != nil && e.Detail.Error.Code == graphCodeInvalidToken
	case ErrPlatformRejected:
		return true
	}
	return false
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
