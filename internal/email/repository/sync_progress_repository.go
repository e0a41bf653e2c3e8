package repository

import (
	"errors"
	"time"

	emaildomain "inboxjanitor/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// syncProgressRepository implements SyncProgressRepository interface
type syncProgressRepository struct {
	db *gorm.DB
}

// NewSyncProgressRepository creates a new instance of syncProgressRepository
func NewSyncProgressRepository(db *gorm.DB) SyncProgressRepository {
	return &syncProgressRepository{
		db: db,
	}
}

func (r *syncProgressRepository) AcquireLease(accountID, holder string, now time.Time, ttl time.Duration) (bool, error) {
	lease := &emaildomain.SyncLease{
		MailboxAccountID: accountID,
		Holder:           holder,
		ExpiresAt:        now.UTC().Add(ttl),
	}

	// Only an expired lease is taken over; a live one leaves the row untouched
	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "mailbox_account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"holder", "expires_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("sync_leases.expires_at < ?", now.UTC()),
		}},
	}).Create(lease)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *syncProgressRepository) ReleaseLease(accountID, holder string) error {
	return r.db.Where("mailbox_account_id = ? AND holder = ?", accountID, holder).
		Delete(&emaildomain.SyncLease{}).Error
}

func (r *syncProgressRepository) FindResumable(accountID string) (*emaildomain.SyncProgress, error) {
	statuses := []emaildomain.SyncStatus{emaildomain.SyncStatusInProgress, emaildomain.SyncStatusTimeout}
	return r.first(r.db.Where("mailbox_account_id = ? AND status IN ?", accountID, statuses))
}

func (r *syncProgressRepository) FindLatest(accountID string) (*emaildomain.SyncProgress, error) {
	return r.first(r.db.Where("mailbox_account_id = ?", accountID))
}

func (r *syncProgressRepository) FindStalled(before time.Time, limit int) ([]*emaildomain.SyncProgress, error) {
	var runs []*emaildomain.SyncProgress
	query := r.db.
		Where("updated_at < ?", before.UTC()).
		Where("status = ? OR (status = ? AND error_kind IN ?)",
			emaildomain.SyncStatusTimeout,
			emaildomain.SyncStatusInProgress,
			[]emaildomain.ErrorKind{"", emaildomain.ErrorKindQuotaExceeded}).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *syncProgressRepository) first(query *gorm.DB) (*emaildomain.SyncProgress, error) {
	var progress emaildomain.SyncProgress
	err := query.Order("started_at DESC").First(&progress).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &progress, nil
}

func (r *syncProgressRepository) Create(progress *emaildomain.SyncProgress) error {
	if progress.ID == "" {
		progress.ID = uuid.New().String()
	}
	if progress.PendingIDs == nil {
		progress.PendingIDs = emaildomain.StringArray{}
	}
	if progress.UpdatedAt.IsZero() {
		progress.UpdatedAt = progress.StartedAt
	}
	return r.db.Create(progress).Error
}

func (r *syncProgressRepository) Save(progress *emaildomain.SyncProgress) error {
	if progress.PendingIDs == nil {
		progress.PendingIDs = emaildomain.StringArray{}
	}
	return r.db.Save(progress).Error
}
