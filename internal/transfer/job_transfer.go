package transfer

import (
	"time"

	"github.com/maheshrc27/gramflow/internal/models"
)

// SubmitJobRequest is the body of POST /api/jobs. Jobs publish to the
// session's account; AccountID or InstagramUserID may name it explicitly but
// never another account.
type SubmitJobRequest struct {
	AccountID       int64      `json:"account_id" validate:"gte=0"`
	InstagramUserID string     `json:"instagram_user_id" validate:"max=64"`
	Prompt          string     `json:"prompt" validate:"max=4000"`
	MediaType       string     `json:"media_type" validate:"required,oneof=image video"`
	Caption         string     `json:"caption" validate:"max=2200"`
	Hashtags        string     `json:"hashtags" validate:"max=2200"`
	MediaURL        string     `json:"media_url" validate:"required,max=2048"`
	ScheduledAt     *time.Time `json:"scheduled_at"`
}

type SubmitJobResponse struct {
	JobID   int64     `json:"job_id"`
	Status  string    `json:"status"`
	FireAt  time.Time `json:"fire_at"`
	Trigger string    `json:"trigger_id"`
}

type JobSnapshot struct {
	Job     *models.PublishJob       `json:"job"`
	Trigger *models.ScheduledTrigger `json:"trigger,omitempty"`
	History []*models.PostingHistory `json:"history"`
	Stale   bool                     `json:"stale"`
}

type JobListItem struct {
	*models.PublishJob
	Stale bool `json:"stale"`
}

type MediaUploadResponse struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
	Size      int64  `json:"size"`
}
