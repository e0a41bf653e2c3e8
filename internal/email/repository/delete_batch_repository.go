package repository

import (
	"errors"
	"time"

	emaildomain "inboxjanitor/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// deleteBatchRepository implements DeleteBatchRepository interface
type deleteBatchRepository struct {
	db *gorm.DB
}

// NewDeleteBatchRepository creates a new instance of deleteBatchRepository
func NewDeleteBatchRepository(db *gorm.DB) DeleteBatchRepository {
	return &deleteBatchRepository{
		db: db,
	}
}

func (r *deleteBatchRepository) CreateBatch(batch *emaildomain.DeleteBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.Status == "" {
		batch.Status = emaildomain.DeleteBatchPending
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	return r.db.Omit("Items").Create(batch).Error
}

func (r *deleteBatchRepository) AddItem(item *emaildomain.DeleteBatchItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	return r.db.Create(item).Error
}

func (r *deleteBatchRepository) Finalize(batch *emaildomain.DeleteBatch) error {
	return r.db.Model(&emaildomain.DeleteBatch{}).Where("id = ?", batch.ID).Updates(map[string]interface{}{
		"status":       batch.Status,
		"requested":    batch.Requested,
		"deleted":      batch.Deleted,
		"skipped":      batch.Skipped,
		"errors":       batch.Errors,
		"completed_at": batch.CompletedAt,
	}).Error
}

func (r *deleteBatchRepository) FindByID(accountID, batchID string) (*emaildomain.DeleteBatch, error) {
	var batch emaildomain.DeleteBatch
	err := r.db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC").Order("id ASC")
	}).Where("id = ? AND mailbox_account_id = ?", batchID, accountID).First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &batch, nil
}
