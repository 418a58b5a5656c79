package repository

import (
	"time"

	maildomain "mailsense-backend/internal/mail/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository defines the interface for stored message operations
type MessageRepository interface {
	// CreateIfAbsent inserts a message and its body unless the same
	// (external_id, provider) pair already exists. Returns the stored
	// message ID and whether a new row was inserted.
	CreateIfAbsent(message *maildomain.Message, body *maildomain.MessageBody) (string, bool, error)
	// FilterNew returns the subset of externalIDs not yet stored for the provider
	FilterNew(provider string, externalIDs []string) ([]string, error)
	// GetByID retrieves a message by its internal ID
	GetByID(messageID string) (*maildomain.Message, error)
	// GetByIDs retrieves messages by internal IDs, preserving input order
	GetByIDs(messageIDs []string) ([]maildomain.Message, error)
	// GetBody retrieves the stored body payload for a message
	GetBody(messageID string) (*maildomain.MessageBody, error)
	// GetUntriagedIncoming lists incoming untriaged messages received since the cutoff
	GetUntriagedIncoming(userID string, since time.Time) ([]maildomain.Message, error)
	// GetThreadMessages lists all stored messages sharing a thread
	GetThreadMessages(userID, threadID string) ([]maildomain.Message, error)
	// MarkTriaged flags a message with the action taken on it
	MarkTriaged(messageID, action string) error
}

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{
		db: db,
	}
}

func (r *messageRepository) CreateIfAbsent(message *maildomain.Message, body *maildomain.MessageBody) (string, bool, error) {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}

	var inserted bool
	err := r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}, {Name: "provider"}},
			DoNothing: true,
		}).Create(message)
		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected == 0 {
			// A concurrent or earlier sync already stored this message.
			var existing maildomain.Message
			if err := tx.Where("external_id = ? AND provider = ?", message.ExternalID, message.Provider).
				First(&existing).Error; err != nil {
				return err
			}
			message.ID = existing.ID
			return nil
		}

		inserted = true
		if body != nil {
			body.MessageID = message.ID
			if err := tx.Create(body).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return message.ID, inserted, nil
}

func (r *messageRepository) FilterNew(provider string, externalIDs []string) ([]string, error) {
	if len(externalIDs) == 0 {
		return []string{}, nil
	}

	var existing []string
	err := r.db.Model(&maildomain.Message{}).
		Where("provider = ? AND external_id IN ?", provider, externalIDs).
		Pluck("external_id", &existing).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}

	missing := make([]string, 0, len(externalIDs))
	for _, id := range externalIDs {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (r *messageRepository) GetByID(messageID string) (*maildomain.Message, error) {
	var message maildomain.Message
	err := r.db.Where("id = ?", messageID).First(&message).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &message, nil
}

func (r *messageRepository) GetByIDs(messageIDs []string) ([]maildomain.Message, error) {
	if len(messageIDs) == 0 {
		return []maildomain.Message{}, nil
	}

	var messages []maildomain.Message
	err := r.db.Where("id IN ?", messageIDs).Find(&messages).Error
	if err != nil {
		return nil, err
	}

	// Re-order to match the requested IDs (search results are ranked).
	byID := make(map[string]maildomain.Message, len(messages))
	for _, m := range messages {
		byID[m.ID] = m
	}
	ordered := make([]maildomain.Message, 0, len(messages))
	for _, id := range messageIDs {
		if m, ok := byID[id]; ok {
			ordered = append(ordered, m)
		}
	}
	return ordered, nil
}

func (r *messageRepository) GetBody(messageID string) (*maildomain.MessageBody, error) {
	var body maildomain.MessageBody
	err := r.db.Where("message_id = ?", messageID).First(&body).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &body, nil
}

func (r *messageRepository) GetUntriagedIncoming(userID string, since time.Time) ([]maildomain.Message, error) {
	var messages []maildomain.Message
	err := r.db.Where("user_id = ? AND direction = ? AND is_triaged = ? AND received_at >= ?",
		userID, maildomain.DirectionIncoming, false, since).
		Order("received_at DESC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) GetThreadMessages(userID, threadID string) ([]maildomain.Message, error) {
	var messages []maildomain.Message
	err := r.db.Where("user_id = ? AND thread_id = ?", userID, threadID).
		Order("received_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) MarkTriaged(messageID, action string) error {
	return r.db.Model(&maildomain.Message{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{
			"is_triaged":    true,
			"triage_action": action,
		}).Error
}
