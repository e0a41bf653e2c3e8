package repository

import (
	"time"

	emaildomain "inboxjanitor/internal/email/domain"
)

// SyncProgressRepository defines the interface for sync checkpoints and the per-account lease
type SyncProgressRepository interface {
	// AcquireLease takes the account's sync lease if it is free or expired. It reports
	// false when another holder owns a live lease.
	AcquireLease(accountID, holder string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseLease(accountID, holder string) error
	// FindResumable returns the latest in_progress or timeout run, or nil
	FindResumable(accountID string) (*emaildomain.SyncProgress, error)
	FindLatest(accountID string) (*emaildomain.SyncProgress, error)
	// FindStalled returns runs that can continue without user action and have not
	// been checkpointed since before
	FindStalled(before time.Time, limit int) ([]*emaildomain.SyncProgress, error)
	Create(progress *emaildomain.SyncProgress) error
	Save(progress *emaildomain.SyncProgress) error
}
