package domain

import "time"

// MailAccount is a connected provider mailbox. One user may own several.
// Accounts are never deleted here; revoked accounts are disabled by
// clearing both tokens.
type MailAccount struct {
	ID             string     `json:"id" gorm:"primaryKey"`
	UserID         string     `json:"user_id" gorm:"index;not null"`
	ProviderEmail  string     `json:"provider_email" gorm:"not null"`
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt time.Time  `json:"token_expires_at"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	// External IDs that failed to fetch or store on the last pass. The
	// watermark advances past them, so they are carried here and picked
	// up again on the next sync.
	PendingRetryIDs []string  `json:"pending_retry_ids,omitempty" gorm:"serializer:json"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (MailAccount) TableName() string {
	return "mail_accounts"
}

// Disabled reports whether the account can still reach the provider.
func (a *MailAccount) Disabled() bool {
	return a.AccessToken == "" && a.RefreshToken == ""
}
