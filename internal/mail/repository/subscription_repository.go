package repository

import (
	maildomain "mailsense-backend/internal/mail/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubscriptionRepository defines the interface for subscription aggregate operations
type SubscriptionRepository interface {
	// GetBySender retrieves the aggregate for a (user, sender) pair
	GetBySender(userID, senderEmail string) (*maildomain.Subscription, error)
	// GetByUserID lists a user's subscriptions ordered by volume
	GetByUserID(userID string) ([]maildomain.Subscription, error)
	// Create persists a new subscription aggregate
	Create(subscription *maildomain.Subscription) error
	// Save updates an existing subscription aggregate
	Save(subscription *maildomain.Subscription) error
	// UpdateStatus moves a subscription through its unsubscribe lifecycle
	UpdateStatus(subscriptionID, status string) error
}

type subscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{
		db: db,
	}
}

func (r *subscriptionRepository) GetBySender(userID, senderEmail string) (*maildomain.Subscription, error) {
	var subscription maildomain.Subscription
	err := r.db.Where("user_id = ? AND sender_email = ?", userID, senderEmail).First(&subscription).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *subscriptionRepository) GetByUserID(userID string) ([]maildomain.Subscription, error) {
	var subscriptions []maildomain.Subscription
	err := r.db.Where("user_id = ?", userID).
		Order("email_count DESC").
		Find(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *subscriptionRepository) Create(subscription *maildomain.Subscription) error {
	if subscription.ID == "" {
		subscription.ID = uuid.New().String()
	}
	return r.db.Create(subscription).Error
}

func (r *subscriptionRepository) Save(subscription *maildomain.Subscription) error {
	return r.db.Save(subscription).Error
}

func (r *subscriptionRepository) UpdateStatus(subscriptionID, status string) error {
	return r.db.Model(&maildomain.Subscription{}).
		Where("id = ?", subscriptionID).
		Update("status", status).Error
}
