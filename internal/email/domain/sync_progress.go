package domain

import "time"

type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusInProgress SyncStatus = "in_progress"
	SyncStatusCompleted  SyncStatus = "completed"
	SyncStatusFailed     SyncStatus = "failed"
	SyncStatusTimeout    SyncStatus = "timeout"
)

// HasMore reports whether another sync invocation would make progress.
// Completed and failed runs are terminal.
func (s SyncStatus) HasMore() bool {
	switch s {
	case SyncStatusPending, SyncStatusInProgress, SyncStatusTimeout:
		return true
	}
	return false
}

// SyncProgress is the resumable checkpoint of one sync run.
// PendingIDs holds the ids of the last listed page that are not processed yet;
// PageToken is the continuation token of the page after it.
type SyncProgress struct {
	ID               string      `json:"id" gorm:"primaryKey"`
	MailboxAccountID string      `json:"mailbox_account_id" gorm:"not null"`
	Status           SyncStatus  `json:"status"`
	TotalMessages    int         `json:"total_messages"`
	Processed        int         `json:"processed"`
	Created          int         `json:"created" gorm:"column:created"`
	Updated          int         `json:"updated" gorm:"column:updated"`
	Errors           int         `json:"errors"`
	PageToken        string      `json:"-"`
	PendingIDs       StringArray `json:"-" gorm:"column:pending_ids;type:text"`
	PagesListed      int         `json:"pages_listed"`
	ErrorKind        ErrorKind   `json:"error_kind,omitempty"`
	ErrorMessage     string      `json:"error_message,omitempty"`
	StartedAt        time.Time   `json:"started_at"`
	UpdatedAt        time.Time   `json:"updated_at" gorm:"autoUpdateTime:false"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
}

func (SyncProgress) TableName() string {
	return "sync_progress"
}

// Exhausted reports that the listing is finished and nothing is pending
func (p *SyncProgress) Exhausted() bool {
	return p.PagesListed > 0 && p.PageToken == "" && len(p.PendingIDs) == 0
}

// SyncLease grants one holder exclusive sync rights on an account until ExpiresAt
type SyncLease struct {
	MailboxAccountID string    `gorm:"primaryKey"`
	Holder           string    `gorm:"not null"`
	ExpiresAt        time.Time `gorm:"not null"`
}

func (SyncLease) TableName() string {
	return "sync_leases"
}
