package usecase

import (
	"context"

	emaildomain "inboxjanitor/internal/email/domain"
)

// SyncUsecase mirrors remote mailbox metadata in resumable, time-boxed invocations
type SyncUsecase interface {
	// RunSync advances the account's sync run by at most one budget. A RunError may be
	// returned together with a result describing the saved state.
	RunSync(ctx context.Context, userID, accountID string, opts RunOptions) (*SyncStepResult, error)
	GetStatus(userID, accountID string) (*emaildomain.SyncProgress, error)
}

// ClassificationUsecase scores mirrored messages for deletion
type ClassificationUsecase interface {
	RunClassification(ctx context.Context, userID, accountID string) (*ClassificationResult, error)
}

// LearningUsecase records user decisions per sender and derives score penalties from them
type LearningUsecase interface {
	RecordDeletion(userID, messageID, sender string) error
	RecordManualDeletion(userID, messageID, sender string) error
	RecordKeep(userID, messageID, sender string) error
	GetPenalty(accountID, sender string) (float64, error)
	GetBatchPenalties(accountID string, senders []string) (map[string]float64, error)
	GetBatchInsights(accountID string, senders []string) (map[string]SenderInsight, error)
	ListSenders(userID, accountID string, limit int) ([]*SenderSummary, error)
}

// DeletionUsecase executes confirmed deletions and manual decisions
type DeletionUsecase interface {
	ListCandidates(userID, accountID string, limit int) ([]*emaildomain.Message, error)
	// ConfirmDelete trashes the selected messages and keeps every other current candidate.
	// onProgress, when set, is called after every item and once more with Done=true.
	ConfirmDelete(ctx context.Context, userID, accountID string, ids []string, onProgress func(ProgressEvent)) (*DeleteSummary, error)
	GetBatch(userID, accountID, batchID string) (*emaildomain.DeleteBatch, error)
	ManualDelete(ctx context.Context, userID, accountID string, ids []string) (*ManualResult, error)
	KeepMessages(userID, accountID string, ids []string) (*ManualResult, error)
}
