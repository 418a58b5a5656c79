package domain

import "time"

// Enrichment job states. Rows are claimed by the poller, never held in
// process memory, so pending work survives restarts.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusDone       = "done"
	JobStatusFailed     = "failed"
)

const JobMaxAttempts = 3

// EnrichmentJob is one unit of pending AI work, keyed uniquely by message so
// re-enqueueing an already queued message is a no-op.
type EnrichmentJob struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	MessageID string    `json:"message_id" gorm:"uniqueIndex;not null"`
	UserID    string    `json:"user_id" gorm:"index;not null"`
	Status    string    `json:"status" gorm:"index;not null"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (EnrichmentJob) TableName() string {
	return "enrichment_jobs"
}
