package domain

import "time"

// Unsubscribe methods, ordered by preference. http_post is the RFC 8058
// one-click form and safe to trigger without confirmation; http_get is not,
// because prefetching crawlers can fire GET links.
const (
	UnsubscribeHTTPPost = "http_post"
	UnsubscribeHTTPGet  = "http_get"
	UnsubscribeMailto   = "mailto"
	UnsubscribeNone     = "none"
)

// Subscription lifecycle states.
const (
	SubStatusSubscribed     = "subscribed"
	SubStatusPending        = "pending"
	SubStatusProcessing     = "processing"
	SubStatusUnsubscribed   = "unsubscribed"
	SubStatusFailed         = "failed"
	SubStatusManualRequired = "manual_required"
)

// Subscription aggregates bulk-mail stats per (user_id, sender_email).
type Subscription struct {
	ID                string    `json:"id" gorm:"primaryKey"`
	UserID            string    `json:"user_id" gorm:"uniqueIndex:idx_user_sender;not null"`
	SenderEmail       string    `json:"sender_email" gorm:"uniqueIndex:idx_user_sender;not null"`
	SenderDomain      string    `json:"sender_domain" gorm:"index"`
	UnsubscribeMethod string    `json:"unsubscribe_method"`
	UnsubscribeTarget string    `json:"unsubscribe_target,omitempty"`
	EmailCount        int       `json:"email_count"`
	FirstEmailAt      time.Time `json:"first_email_at"`
	LastEmailAt       time.Time `json:"last_email_at"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}
