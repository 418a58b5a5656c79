package domain

import "time"

// Contact is a sender/recipient identity, unique per (user_id, email).
// EmailCount only ever increases.
type Contact struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	UserID      string    `json:"user_id" gorm:"uniqueIndex:idx_user_contact_email;not null"`
	Email       string    `json:"email" gorm:"uniqueIndex:idx_user_contact_email;not null"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	EmailCount  int       `json:"email_count"`
	LastEmailAt time.Time `json:"last_email_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}
