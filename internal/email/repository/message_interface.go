package repository

import (
	"time"

	emaildomain "inboxjanitor/internal/email/domain"
)

// MessageRepository defines the interface for mirrored message operations
type MessageRepository interface {
	// UpsertFromSync inserts a newly observed message (bumping the sender's total) or
	// refreshes the sync columns of an existing one. created reports an insert.
	UpsertFromSync(msg *emaildomain.Message) (created bool, err error)
	FindByID(id string) (*emaildomain.Message, error)
	FindByIDs(accountID string, ids []string) ([]*emaildomain.Message, error)
	// FindForClassification returns live messages received before the cutoff or sent by an
	// auto-included sender, oldest first
	FindForClassification(accountID string, receivedBefore time.Time, autoInclude []string, limit int) ([]*emaildomain.Message, error)
	// FindDeleteCandidates returns flagged messages ordered by score, highest first. limit <= 0 means all.
	FindDeleteCandidates(accountID string, limit int) ([]*emaildomain.Message, error)
	Update(id string, update emaildomain.MessageUpdate) error
	CountByAccount(accountID string) (int64, error)
}
