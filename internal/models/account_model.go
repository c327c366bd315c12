package models

import (
	"time"
)

// Account is an Instagram professional account connected through OAuth.
type Account struct {
	ID                int64      `db:"id" json:"id"`
	ExternalAccountID string     `db:"external_account_id" json:"external_account_id"`
	AccessToken       string     `db:"access_token" json:"-"`
	TokenExpiresAt    *time.Time `db:"token_expires_at" json:"token_expires_at"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}
