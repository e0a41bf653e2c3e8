package repository

import emaildomain "inboxjanitor/internal/email/domain"

// DeleteBatchRepository defines the interface for deletion audit records
type DeleteBatchRepository interface {
	CreateBatch(batch *emaildomain.DeleteBatch) error
	AddItem(item *emaildomain.DeleteBatchItem) error
	// Finalize persists the batch counters, status and completion time
	Finalize(batch *emaildomain.DeleteBatch) error
	FindByID(accountID, batchID string) (*emaildomain.DeleteBatch, error)
}
