package repository

import (
	maildomain "mailsense-backend/internal/mail/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ContactRepository defines the interface for contact operations
type ContactRepository interface {
	// GetByEmail retrieves a contact by its (user, email) identity
	GetByEmail(userID, email string) (*maildomain.Contact, error)
	// GetByUserID lists a user's contacts ordered by recent activity
	GetByUserID(userID string) ([]maildomain.Contact, error)
	// Create persists a new contact
	Create(contact *maildomain.Contact) error
	// Save updates an existing contact
	Save(contact *maildomain.Contact) error
}

type contactRepository struct {
	db *gorm.DB
}

func NewContactRepository(db *gorm.DB) ContactRepository {
	return &contactRepository{
		db: db,
	}
}

func (r *contactRepository) GetByEmail(userID, email string) (*maildomain.Contact, error) {
	var contact maildomain.Contact
	err := r.db.Where("user_id = ? AND email = ?", userID, email).First(&contact).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &contact, nil
}

func (r *contactRepository) GetByUserID(userID string) ([]maildomain.Contact, error) {
	var contacts []maildomain.Contact
	err := r.db.Where("user_id = ?", userID).
		Order("last_email_at DESC").
		Find(&contacts).Error
	if err != nil {
		return nil, err
	}
	return contacts, nil
}

func (r *contactRepository) Create(contact *maildomain.Contact) error {
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}
	return r.db.Create(contact).Error
}

func (r *contactRepository) Save(contact *maildomain.Contact) error {
	return r.db.Save(contact).Error
}
