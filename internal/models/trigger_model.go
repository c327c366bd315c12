package models

import (
	"fmt"
	"time"
)

type ScheduledTrigger struct {
	ID        string    `db:"id" json:"id"`
	JobID     int64     `db:"job_id" json:"job_id"`
	FireAt    time.Time `db:"fire_at" json:"fire_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TriggerID is the stable trigger identifier for a job; rescheduling reuses it.
func TriggerID(jobID int64) string {
	return fmt.Sprintf("ig_post_%d", jobID)
}
