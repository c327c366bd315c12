package models

import "time"

const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
	OutcomeMisfired  = "misfired"
)

type PostingHistory struct {
	ID             int64     `db:"id" json:"id"`
	JobID          int64     `db:"job_id" json:"job_id"`
	AccountID      *int64    `db:"account_id" json:"account_id"`
	Outcome        string    `db:"outcome" json:"outcome"`
	Reason         string    `db:"reason" json:"reason,omitempty"`
	ErrorMessage   string    `db:"error_message" json:"error_message,omitempty"`
	ExternalPostID *string   `db:"external_post_id" json:"external_post_id,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
