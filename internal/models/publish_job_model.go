package models

import (
	"errors"
	"fmt"
	"time"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// Failure reason codes recorded on a job.
const (
	ReasonCredentialExpired = "CredentialExpired"
	ReasonPlatformRejected  = "PlatformRejected"
	ReasonMediaNotReady     = "MediaNotReady"
	ReasonSchedulerMisfire  = "SchedulerMisfire"
	ReasonInternal          = "Internal"
	ReasonAbandoned         = "Abandoned"
)

var ErrInvalidTransition = errors.New("invalid job status transition")

type PublishJob struct {
	ID             int64      `db:"id" json:"id"`
	AccountID      *int64     `db:"account_id" json:"account_id"`
	SourcePrompt   string     `db:"source_prompt" json:"source_prompt"`
	MediaKind      MediaKind  `db:"media_kind" json:"media_kind"`
	CaptionText    string     `db:"caption_text" json:"caption_text"`
	HashtagText    string     `db:"hashtag_text" json:"hashtag_text"`
	MediaURL       string     `db:"media_url" json:"media_url"`
	ScheduledAt    *time.Time `db:"scheduled_at" json:"scheduled_at"`
	Status         JobStatus  `db:"status" json:"status"`
	ContainerID    *string    `db:"container_id" json:"container_id,omitempty"`
	ExternalPostID *string    `db:"external_post_id" json:"external_post_id"`
	FailureReason  string     `db:"failure_reason" json:"failure_reason,omitempty"`
	ErrorDetail    string     `db:"error_detail" json:"error_detail,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// StatusUpdate carries the columns written alongside a status transition.
type StatusUpdate struct {
	ExternalPostID *string
	FailureReason  string
	ErrorDetail    string
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (k MediaKind) Valid() bool {
	return k == MediaKindImage || k == MediaKindVideo
}

// CheckTransition allows only pending->running and running->{completed,failed}.
func CheckTransition(from, to JobStatus) error {
	switch {
	case from == JobStatusPending && to == JobStatusRunning:
		return nil
	case from == JobStatusRunning && to.Terminal():
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
