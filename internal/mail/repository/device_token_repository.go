package repository

import (
	maildomain "mailsense-backend/internal/mail/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeviceTokenRepository defines the interface for push token registry operations
type DeviceTokenRepository interface {
	// Register stores a device token for a user; re-registering is a no-op
	Register(userID, token string) error
	// GetByUserID lists all tokens registered for a user
	GetByUserID(userID string) ([]string, error)
	// DeleteTokens removes tokens the push provider rejected
	DeleteTokens(tokens []string) error
}

type deviceTokenRepository struct {
	db *gorm.DB
}

func NewDeviceTokenRepository(db *gorm.DB) DeviceTokenRepository {
	return &deviceTokenRepository{
		db: db,
	}
}

func (r *deviceTokenRepository) Register(userID, token string) error {
	record := maildomain.DeviceToken{
		ID:     uuid.New().String(),
		UserID: userID,
		Token:  token,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoNothing: true,
	}).Create(&record).Error
}

func (r *deviceTokenRepository) GetByUserID(userID string) ([]string, error) {
	var tokens []string
	err := r.db.Model(&maildomain.DeviceToken{}).
		Where("user_id = ?", userID).
		Pluck("token", &tokens).Error
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

func (r *deviceTokenRepository) DeleteTokens(tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	return r.db.Where("token IN ?", tokens).Delete(&maildomain.DeviceToken{}).Error
}
