package repository

import (
	"errors"
	"time"

	emaildomain "inboxjanitor/internal/email/domain"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxInParams keeps IN (...) lists under driver parameter limits
const maxInParams = 500

// messageRepository implements MessageRepository interface
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new instance of messageRepository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{
		db: db,
	}
}

func (r *messageRepository) UpsertFromSync(msg *emaildomain.Message) (bool, error) {
	created := false

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing emaildomain.Message
		err := tx.Select("id").
			Where("mailbox_account_id = ? AND remote_id = ?", msg.MailboxAccountID, msg.RemoteID).
			First(&existing).Error
		if err == nil {
			msg.ID = existing.ID
			return tx.Model(&emaildomain.Message{}).Where("id = ?", existing.ID).Updates(msg.SyncColumns()).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}
		if msg.AICategory == "" {
			msg.AICategory = emaildomain.CategoryUnknown
		}
		if msg.Labels == nil {
			msg.Labels = emaildomain.StringArray{}
		}

		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "mailbox_account_id"}, {Name: "remote_id"}},
			DoNothing: true,
		}).Create(msg)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Inserted concurrently by someone else; refresh instead
			return tx.Model(&emaildomain.Message{}).
				Where("mailbox_account_id = ? AND remote_id = ?", msg.MailboxAccountID, msg.RemoteID).
				Updates(msg.SyncColumns()).Error
		}

		created = true
		if msg.SenderEmail == "" {
			return nil
		}
		return incrementSeen(tx, msg.MailboxAccountID, msg.SenderEmail, msg.ReceivedAt)
	})

	return created, err
}

func (r *messageRepository) FindByID(id string) (*emaildomain.Message, error) {
	var msg emaildomain.Message
	err := r.db.Where("id = ?", id).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) FindByIDs(accountID string, ids []string) ([]*emaildomain.Message, error) {
	messages := make([]*emaildomain.Message, 0, len(ids))
	for _, chunk := range lo.Chunk(lo.Uniq(ids), maxInParams) {
		var found []*emaildomain.Message
		if err := r.db.Where("mailbox_account_id = ? AND id IN ?", accountID, chunk).Find(&found).Error; err != nil {
			return nil, err
		}
		messages = append(messages, found...)
	}
	return messages, nil
}

func (r *messageRepository) FindForClassification(accountID string, receivedBefore time.Time, autoInclude []string, limit int) ([]*emaildomain.Message, error) {
	query := r.db.Where("mailbox_account_id = ? AND deleted_by_app = ? AND manually_deleted = ? AND manually_kept = ?",
		accountID, false, false, false)

	if len(autoInclude) > 0 {
		query = query.Where("(received_at < ? OR sender_email IN ?)", receivedBefore, autoInclude)
	} else {
		query = query.Where("received_at < ?", receivedBefore)
	}

	var messages []*emaildomain.Message
	err := query.Order("received_at ASC").Order("id ASC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) FindDeleteCandidates(accountID string, limit int) ([]*emaildomain.Message, error) {
	query := r.db.Where("mailbox_account_id = ? AND is_delete_candidate = ? AND deleted_by_app = ? AND manually_kept = ?",
		accountID, true, false, false).
		Order("ai_delete_score DESC").
		Order("received_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var messages []*emaildomain.Message
	if err := query.Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) Update(id string, update emaildomain.MessageUpdate) error {
	if update.Empty() {
		return nil
	}
	return r.db.Model(&emaildomain.Message{}).Where("id = ?", id).Updates(update.Columns()).Error
}

func (r *messageRepository) CountByAccount(accountID string) (int64, error) {
	var count int64
	err := r.db.Model(&emaildomain.Message{}).Where("mailbox_account_id = ?", accountID).Count(&count).Error
	return count, err
}
