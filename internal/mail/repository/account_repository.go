package repository

import (
	"time"

	maildomain "mailsense-backend/internal/mail/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MailAccountRepository defines the interface for mail account operations
type MailAccountRepository interface {
	// GetByID retrieves an account by its ID
	GetByID(accountID string) (*maildomain.MailAccount, error)
	// GetByUserID retrieves all accounts owned by a user
	GetByUserID(userID string) ([]maildomain.MailAccount, error)
	// Create persists a newly connected account
	Create(account *maildomain.MailAccount) error
	// UpdateTokens overwrites the stored token pair after a refresh
	UpdateTokens(accountID, accessToken, refreshToken string, expiresAt time.Time) error
	// UpdateSyncState advances the sync watermark and records the
	// external IDs to retry on the next pass
	UpdateSyncState(accountID string, syncedAt time.Time, retryIDs []string) error
	// ClearTokens disables an account whose grant was revoked
	ClearTokens(accountID string) error
}

type mailAccountRepository struct {
	db *gorm.DB
}

func NewMailAccountRepository(db *gorm.DB) MailAccountRepository {
	return &mailAccountRepository{
		db: db,
	}
}

func (r *mailAccountRepository) GetByID(accountID string) (*maildomain.MailAccount, error) {
	var account maildomain.MailAccount
	err := r.db.Where("id = ?", accountID).First(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *mailAccountRepository) GetByUserID(userID string) ([]maildomain.MailAccount, error) {
	var accounts []maildomain.MailAccount
	err := r.db.Where("user_id = ?", userID).Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *mailAccountRepository) Create(account *maildomain.MailAccount) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	return r.db.Create(account).Error
}

func (r *mailAccountRepository) UpdateTokens(accountID, accessToken, refreshToken string, expiresAt time.Time) error {
	return r.db.Model(&maildomain.MailAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"access_token":     accessToken,
			"refresh_token":    refreshToken,
			"token_expires_at": expiresAt,
		}).Error
}

func (r *mailAccountRepository) UpdateSyncState(accountID string, syncedAt time.Time, retryIDs []string) error {
	return r.db.Model(&maildomain.MailAccount{}).
		Where("id = ?", accountID).
		Select("last_sync_at", "pending_retry_ids").
		Updates(&maildomain.MailAccount{
			LastSyncAt:      &syncedAt,
			PendingRetryIDs: retryIDs,
		}).Error
}

func (r *mailAccountRepository) ClearTokens(accountID string) error {
	return r.db.Model(&maildomain.MailAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"access_token":  "",
			"refresh_token": "",
		}).Error
}
