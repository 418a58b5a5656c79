package domain

import "time"

// CalendarEvent is an event the model extracted from a message body.
type CalendarEvent struct {
	Title    string `json:"title"`
	Date     string `json:"date"`
	Time     string `json:"time,omitempty"`
	Location string `json:"location,omitempty"`
}

// Enrichment holds the AI-derived metadata for one message (one row per
// message). Created once by the enrichment worker; the embedding vector is
// filled in later by the indexer.
type Enrichment struct {
	MessageID            string         `json:"message_id" gorm:"primaryKey"`
	UserID               string         `json:"user_id" gorm:"index;not null"`
	Summary              string         `json:"summary" gorm:"type:text"`
	UrgencyScore         int            `json:"urgency_score"`
	UrgencyReason        string         `json:"urgency_reason"`
	ActionRequired       string         `json:"action_required,omitempty"`
	QuickReplies         []string       `json:"quick_replies" gorm:"serializer:json"`
	CalendarEvent        *CalendarEvent `json:"calendar_event,omitempty" gorm:"serializer:json"`
	ShouldAcceptCalendar bool           `json:"should_accept_calendar"`
	Deadline             string         `json:"deadline,omitempty"`
	Embedding            []float32      `json:"-" gorm:"serializer:json"`
	Processed            bool           `json:"processed"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

func (Enrichment) TableName() string {
	return "enrichments"
}
