package repository

import (
	maildomain "mailsense-backend/internal/mail/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnrichmentRepository defines the interface for enrichment result operations
type EnrichmentRepository interface {
	// GetByMessageID retrieves the enrichment row for a message
	GetByMessageID(messageID string) (*maildomain.Enrichment, error)
	// GetByMessageIDs retrieves enrichments for multiple messages, keyed by message ID
	GetByMessageIDs(messageIDs []string) (map[string]maildomain.Enrichment, error)
	// Save upserts the enrichment row for a message
	Save(enrichment *maildomain.Enrichment) error
	// UpdateEmbedding stores the computed vector for a message
	UpdateEmbedding(messageID string, embedding []float32) error
	// GetMissingEmbeddings lists processed enrichments that still lack a vector
	GetMissingEmbeddings(limit int) ([]maildomain.Enrichment, error)
}

type enrichmentRepository struct {
	db *gorm.DB
}

func NewEnrichmentRepository(db *gorm.DB) EnrichmentRepository {
	return &enrichmentRepository{
		db: db,
	}
}

func (r *enrichmentRepository) GetByMessageID(messageID string) (*maildomain.Enrichment, error) {
	var enrichment maildomain.Enrichment
	err := r.db.Where("message_id = ?", messageID).First(&enrichment).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &enrichment, nil
}

func (r *enrichmentRepository) GetByMessageIDs(messageIDs []string) (map[string]maildomain.Enrichment, error) {
	if len(messageIDs) == 0 {
		return map[string]maildomain.Enrichment{}, nil
	}

	var enrichments []maildomain.Enrichment
	err := r.db.Where("message_id IN ?", messageIDs).Find(&enrichments).Error
	if err != nil {
		return nil, err
	}

	result := make(map[string]maildomain.Enrichment, len(enrichments))
	for _, e := range enrichments {
		result[e.MessageID] = e
	}
	return result, nil
}

func (r *enrichmentRepository) Save(enrichment *maildomain.Enrichment) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		UpdateAll: true,
	}).Create(enrichment).Error
}

func (r *enrichmentRepository) UpdateEmbedding(messageID string, embedding []float32) error {
	return r.db.Model(&maildomain.Enrichment{}).
		Where("message_id = ?", messageID).
		Update("embedding", embedding).Error
}

func (r *enrichmentRepository) GetMissingEmbeddings(limit int) ([]maildomain.Enrichment, error) {
	var enrichments []maildomain.Enrichment
	err := r.db.Where("processed = ? AND summary <> '' AND (embedding IS NULL OR embedding = 'null')", true).
		Order("created_at ASC").
		Limit(limit).
		Find(&enrichments).Error
	if err != nil {
		return nil, err
	}
	return enrichments, nil
}
