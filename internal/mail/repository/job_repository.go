package repository

import (
	maildomain "mailsense-backend/internal/mail/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnrichmentJobRepository defines the interface for the durable work queue
type EnrichmentJobRepository interface {
	// Enqueue adds a pending job for a message. Enqueueing a message that
	// already has a job is a no-op.
	Enqueue(messageID, userID string) error
	// ClaimPending atomically moves up to n pending jobs to processing
	// and returns them. Concurrent pollers never claim the same job.
	ClaimPending(n int) ([]maildomain.EnrichmentJob, error)
	// MarkDone completes a job
	MarkDone(jobID string) error
	// MarkFailed records a failure. Jobs below the attempt ceiling go back
	// to pending; the rest are parked as failed.
	MarkFailed(jobID, errMsg string) error
	// Requeue moves a failed job back to pending and resets its attempts
	Requeue(jobID string) error
	// CountByStatus reports queue depth per status
	CountByStatus() (map[string]int64, error)
}

type enrichmentJobRepository struct {
	db *gorm.DB
}

func NewEnrichmentJobRepository(db *gorm.DB) EnrichmentJobRepository {
	return &enrichmentJobRepository{
		db: db,
	}
}

func (r *enrichmentJobRepository) Enqueue(messageID, userID string) error {
	job := maildomain.EnrichmentJob{
		ID:        uuid.New().String(),
		MessageID: messageID,
		UserID:    userID,
		Status:    maildomain.JobStatusPending,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoNothing: true,
	}).Create(&job).Error
}

func (r *enrichmentJobRepository) ClaimPending(n int) ([]maildomain.EnrichmentJob, error) {
	var claimed []maildomain.EnrichmentJob
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", maildomain.JobStatusPending).
			Order("created_at ASC").
			Limit(n).
			Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]string, 0, len(claimed))
		for _, job := range claimed {
			ids = append(ids, job.ID)
		}
		if err := tx.Model(&maildomain.EnrichmentJob{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":   maildomain.JobStatusProcessing,
				"attempts": gorm.Expr("attempts + 1"),
			}).Error; err != nil {
			return err
		}

		for i := range claimed {
			claimed[i].Status = maildomain.JobStatusProcessing
			claimed[i].Attempts++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *enrichmentJobRepository) MarkDone(jobID string) error {
	return r.db.Model(&maildomain.EnrichmentJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":     maildomain.JobStatusDone,
			"last_error": "",
		}).Error
}

func (r *enrichmentJobRepository) MarkFailed(jobID, errMsg string) error {
	var job maildomain.EnrichmentJob
	err := r.db.Where("id = ?", jobID).First(&job).Error
	if err != nil {
		return err
	}

	status := maildomain.JobStatusPending
	if job.Attempts >= maildomain.JobMaxAttempts {
		status = maildomain.JobStatusFailed
	}
	return r.db.Model(&maildomain.EnrichmentJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":     status,
			"last_error": errMsg,
		}).Error
}

func (r *enrichmentJobRepository) Requeue(jobID string) error {
	return r.db.Model(&maildomain.EnrichmentJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":     maildomain.JobStatusPending,
			"attempts":   0,
			"last_error": "",
		}).Error
}

func (r *enrichmentJobRepository) CountByStatus() (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := r.db.Model(&maildomain.EnrichmentJob{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make(map[string]int64, len(rows))
	for _, r := range rows {
		result[r.Status] = r.Count
	}
	return result, nil
}
