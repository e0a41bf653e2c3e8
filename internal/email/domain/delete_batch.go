package domain

import "time"

type DeleteBatchStatus string

const (
	DeleteBatchPending   DeleteBatchStatus = "pending"
	DeleteBatchCompleted DeleteBatchStatus = "completed"
	DeleteBatchFailed    DeleteBatchStatus = "failed"
)

type DeleteDecision string

const (
	DecisionDeleted DeleteDecision = "deleted"
	DecisionSkipped DeleteDecision = "skipped"
	DecisionError   DeleteDecision = "error"
)

// DeleteBatch is the audit record of one confirmed deletion
type DeleteBatch struct {
	ID               string            `json:"id" gorm:"primaryKey"`
	MailboxAccountID string            `json:"mailbox_account_id" gorm:"not null"`
	Status           DeleteBatchStatus `json:"status"`
	Requested        int               `json:"requested"`
	Deleted          int               `json:"deleted"`
	Skipped          int               `json:"skipped"`
	Errors           int               `json:"errors"`
	CreatedAt        time.Time         `json:"created_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	Items            []DeleteBatchItem `json:"items,omitempty" gorm:"foreignKey:BatchID"`
}

func (DeleteBatch) TableName() string {
	return "delete_batches"
}

type DeleteBatchItem struct {
	ID        string         `json:"id" gorm:"primaryKey"`
	BatchID   string         `json:"batch_id" gorm:"not null"`
	MessageID string         `json:"message_id"`
	RemoteID  string         `json:"remote_id"`
	Decision  DeleteDecision `json:"decision"`
	Reason    string         `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (DeleteBatchItem) TableName() string {
	return "delete_batch_items"
}
