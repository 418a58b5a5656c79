package domain

import "time"

const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// TriageActionReplyNeeded marks a message the user apparently forgot to answer.
const TriageActionReplyNeeded = "reply_needed"

// Message is the canonical stored projection of a provider message.
// (external_id, provider) is unique so ingestion stays idempotent.
// Rows are immutable after insert except for triage/read/subscription flags.
type Message struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	ExternalID      string    `json:"external_id" gorm:"uniqueIndex:idx_external_provider;not null"`
	Provider        string    `json:"provider" gorm:"uniqueIndex:idx_external_provider;not null"`
	ThreadID        string    `json:"thread_id,omitempty" gorm:"index"`
	UserID          string    `json:"user_id" gorm:"index;not null"`
	AccountID       string    `json:"account_id" gorm:"index"`
	FromContactID   string    `json:"from_contact_id"`
	FromEmail       string    `json:"from_email"`
	FromDisplayName string    `json:"from_display_name"`
	ToContactIDs    []string  `json:"to_contact_ids" gorm:"serializer:json"`
	Subject         string    `json:"subject"`
	BodyPreview     string    `json:"body_preview"`
	ReceivedAt      time.Time `json:"received_at" gorm:"index"`
	IsRead          bool      `json:"is_read"`
	Direction       string    `json:"direction"`
	IsTriaged       bool      `json:"is_triaged"`
	TriageAction    string    `json:"triage_action,omitempty"`
	IsSubscription  bool      `json:"is_subscription"`
	ListUnsubscribe string    `json:"list_unsubscribe,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// MessageBody keeps the large payload out of the index-scanned messages table.
type MessageBody struct {
	MessageID   string       `json:"message_id" gorm:"primaryKey"`
	Full        string       `json:"full" gorm:"type:text"`
	HTML        string       `json:"html,omitempty" gorm:"type:text"`
	Attachments []Attachment `json:"attachments,omitempty" gorm:"serializer:json"`
}

func (MessageBody) TableName() string {
	return "message_bodies"
}

// Attachment metadata captured during the multipart walk.
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// ParsedMessage is the single canonical projection every fetched provider
// message is resolved into before any downstream code touches it.
type ParsedMessage struct {
	ExternalID           string
	ThreadID             string
	FromName             string
	FromEmail            string
	To                   []string
	Subject              string
	BodyText             string
	BodyHTML             string
	ReceivedAt           time.Time
	IsRead               bool
	Direction            string
	ListUnsubscribe      string
	ListUnsubscribePost  bool
	Attachments          []Attachment
}

// Body returns the richest available body variant, preferring HTML.
func (p *ParsedMessage) Body() string {
	if p.BodyHTML != "" {
		return p.BodyHTML
	}
	return p.BodyText
}
