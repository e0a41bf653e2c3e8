package repository

import (
	"errors"
	"fmt"
	"time"

	emaildomain "inboxjanitor/internal/email/domain"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var senderKey = []clause.Column{{Name: "mailbox_account_id"}, {Name: "sender_email"}}

// senderStatisticRepository implements SenderStatisticRepository interface
type senderStatisticRepository struct {
	db *gorm.DB
}

// NewSenderStatisticRepository creates a new instance of senderStatisticRepository
func NewSenderStatisticRepository(db *gorm.DB) SenderStatisticRepository {
	return &senderStatisticRepository{
		db: db,
	}
}

// incrementSeen bumps total_seen and advances last_email_at. Runs inside the message upsert transaction.
func incrementSeen(tx *gorm.DB, accountID, sender string, at time.Time) error {
	now := time.Now().UTC()
	stat := &emaildomain.SenderStatistic{
		ID:               uuid.New().String(),
		MailboxAccountID: accountID,
		SenderEmail:      sender,
		TotalSeen:        1,
		LastEmailAt:      &at,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: senderKey,
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_seen": gorm.Expr("sender_statistics.total_seen + 1"),
			"last_email_at": gorm.Expr(
				"CASE WHEN sender_statistics.last_email_at IS NULL OR sender_statistics.last_email_at < ? THEN ? ELSE sender_statistics.last_email_at END",
				at, at),
			"updated_at": now,
		}),
	}).Create(stat).Error
}

func (r *senderStatisticRepository) IncrementCounter(accountID, sender string, counter emaildomain.SenderCounter) error {
	now := time.Now().UTC()
	stat := &emaildomain.SenderStatistic{
		ID:               uuid.New().String(),
		MailboxAccountID: accountID,
		SenderEmail:      sender,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	switch counter {
	case emaildomain.CounterDeletedByApp:
		stat.DeletedByAppCount = 1
	case emaildomain.CounterManuallyDeleted:
		stat.ManuallyDeletedCount = 1
	case emaildomain.CounterManuallyKept:
		stat.ManuallyKeptCount = 1
	default:
		return fmt.Errorf("unknown sender counter %q", counter)
	}

	col := string(counter)
	return r.db.Clauses(clause.OnConflict{
		Columns: senderKey,
		DoUpdates: clause.Assignments(map[string]interface{}{
			col:          gorm.Expr("sender_statistics." + col + " + 1"),
			"updated_at": now,
		}),
	}).Create(stat).Error
}

func (r *senderStatisticRepository) FindByAccountAndSender(accountID, sender string) (*emaildomain.SenderStatistic, error) {
	var stat emaildomain.SenderStatistic
	err := r.db.Where("mailbox_account_id = ? AND sender_email = ?", accountID, sender).First(&stat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &stat, nil
}

func (r *senderStatisticRepository) FindByAccountAndSenders(accountID string, senders []string) ([]*emaildomain.SenderStatistic, error) {
	stats := make([]*emaildomain.SenderStatistic, 0, len(senders))
	for _, chunk := range lo.Chunk(lo.Uniq(senders), maxInParams) {
		var found []*emaildomain.SenderStatistic
		if err := r.db.Where("mailbox_account_id = ? AND sender_email IN ?", accountID, chunk).Find(&found).Error; err != nil {
			return nil, err
		}
		stats = append(stats, found...)
	}
	return stats, nil
}

func (r *senderStatisticRepository) ListByAccount(accountID string, limit int) ([]*emaildomain.SenderStatistic, error) {
	query := r.db.Where("mailbox_account_id = ?", accountID).Order("total_seen DESC").Order("sender_email ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var stats []*emaildomain.SenderStatistic
	if err := query.Find(&stats).Error; err != nil {
		return nil, err
	}
	return stats, nil
}
