package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	authdomain "inboxjanitor/internal/auth/domain"
	authrepo "inboxjanitor/internal/auth/repository"
	emaildomain "inboxjanitor/internal/email/domain"
	"inboxjanitor/internal/email/repository"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// ProgressEvent is emitted after every processed item of a confirmed deletion.
// Counters never decrease; the last event of a batch has Done set.
type ProgressEvent struct {
	BatchID   string                     `json:"batch_id"`
	MessageID string                     `json:"message_id,omitempty"`
	Decision  emaildomain.DeleteDecision `json:"decision,omitempty"`
	Deleted   int                        `json:"deleted"`
	Skipped   int                        `json:"skipped"`
	Errors    int                        `json:"errors"`
	Remaining int                        `json:"remaining"`
	Total     int                        `json:"total"`
	Done      bool                       `json:"done"`
	Status    string                     `json:"status,omitempty"`
}

// DeleteSummary is the outcome of ConfirmDelete
type DeleteSummary struct {
	BatchID   string                        `json:"batch_id"`
	Status    emaildomain.DeleteBatchStatus `json:"status"`
	Requested int                           `json:"requested"`
	Deleted   int                           `json:"deleted"`
	Skipped   int                           `json:"skipped"`
	Errors    int                           `json:"errors"`
}

// ManualFailure explains why one message of a manual action was not applied
type ManualFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// ManualResult is the outcome of a manual delete or keep
type ManualResult struct {
	Updated  int             `json:"updated"`
	Skipped  int             `json:"skipped"`
	Failures []ManualFailure `json:"failures"`
}

type deletionUsecase struct {
	accounts authrepo.MailboxAccountRepository
	messages repository.MessageRepository
	batches  repository.DeleteBatchRepository
	learning LearningUsecase
	clients  MailboxClientFactory
	logger   *logrus.Logger
	now      func() time.Time
}

// NewDeletionUsecase creates a new instance of deletionUsecase
func NewDeletionUsecase(
	accounts authrepo.MailboxAccountRepository,
	messages repository.MessageRepository,
	batches repository.DeleteBatchRepository,
	learning LearningUsecase,
	clients MailboxClientFactory,
	logger *logrus.Logger,
) DeletionUsecase {
	return &deletionUsecase{
		accounts: accounts,
		messages: messages,
		batches:  batches,
		learning: learning,
		clients:  clients,
		logger:   logger,
		now:      time.Now,
	}
}

func (u *deletionUsecase) ListCandidates(userID, accountID string, limit int) ([]*emaildomain.Message, error) {
	account, err := ownedAccount(u.accounts, userID, accountID)
	if err != nil {
		return nil, err
	}
	msgs, err := u.messages.FindDeleteCandidates(account.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list delete candidates: %w", err)
	}
	return msgs, nil
}

func (u *deletionUsecase) GetBatch(userID, accountID, batchID string) (*emaildomain.DeleteBatch, error) {
	account, err := ownedAccount(u.accounts, userID, accountID)
	if err != nil {
		return nil, err
	}
	batch, err := u.batches.FindByID(account.ID, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load delete batch: %w", err)
	}
	if batch == nil {
		return nil, emaildomain.ErrBatchNotFound
	}
	return batch, nil
}

// batchRun accumulates the counters of one ConfirmDelete call
type batchRun struct {
	batch      *emaildomain.DeleteBatch
	total      int
	onProgress func(ProgressEvent)
}

func (b *batchRun) done() int {
	return b.batch.Deleted + b.batch.Skipped + b.batch.Errors
}

func (b *batchRun) emit(messageID string, decision emaildomain.DeleteDecision) {
	if b.onProgress == nil {
		return
	}
	b.onProgress(ProgressEvent{
		BatchID:   b.batch.ID,
		MessageID: messageID,
		Decision:  decision,
		Deleted:   b.batch.Deleted,
		Skipped:   b.batch.Skipped,
		Errors:    b.batch.Errors,
		Remaining: b.total - b.done(),
		Total:     b.total,
	})
}

func (b *batchRun) finish() {
	if b.onProgress == nil {
		return
	}
	b.onProgress(ProgressEvent{
		BatchID:   b.batch.ID,
		Deleted:   b.batch.Deleted,
		Skipped:   b.batch.Skipped,
		Errors:    b.batch.Errors,
		Remaining: b.total - b.done(),
		Total:     b.total,
		Done:      true,
		Status:    string(b.batch.Status),
	})
}

func (u *deletionUsecase) ConfirmDelete(ctx context.Context, userID, accountID string, ids []string, onProgress func(ProgressEvent)) (*DeleteSummary, error) {
	account, err := ownedAccount(u.accounts, userID, accountID)
	if err != nil {
		return nil, err
	}

	selected := lo.Uniq(lo.Compact(ids))
	selectedSet := lo.SliceToMap(selected, func(id string) (string, struct{}) { return id, struct{}{} })

	candidates, err := u.messages.FindDeleteCandidates(account.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load delete candidates: %w", err)
	}
	unselected := lo.Reject(candidates, func(m *emaildomain.Message, _ int) bool {
		_, ok := selectedSet[m.ID]
		return ok
	})

	found, err := u.messages.FindByIDs(account.ID, selected)
	if err != nil {
		return nil, fmt.Errorf("failed to load selected messages: %w", err)
	}
	byID := lo.KeyBy(found, func(m *emaildomain.Message) string { return m.ID })

	batch := &emaildomain.DeleteBatch{
		MailboxAccountID: account.ID,
		Status:           emaildomain.DeleteBatchPending,
		Requested:        len(selected),
		CreatedAt:        u.now().UTC(),
	}
	if err := u.batches.CreateBatch(batch); err != nil {
		return nil, fmt.Errorf("failed to create delete batch: %w", err)
	}
	run := &batchRun{batch: batch, total: len(selected) + len(unselected), onProgress: onProgress}

	log := u.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"batch_id":   batch.ID,
	})
	log.WithFields(logrus.Fields{
		"selected":   len(selected),
		"unselected": len(unselected),
	}).Info("[Delete] Starting batch")

	var client emaildomain.MailboxClient
	var clientErr error
	if len(found) > 0 {
		client, clientErr = u.clients.ClientFor(ctx, account)
		if closer, ok := client.(io.Closer); ok && clientErr == nil {
			defer func() { _ = closer.Close() }()
		}
	}

	for _, id := range selected {
		if err := u.deleteOne(ctx, run, client, clientErr, userID, id, byID[id]); err != nil {
			return u.abort(run, log, err)
		}
	}

	for _, msg := range unselected {
		if err := u.keepCandidate(run, userID, msg); err != nil {
			return u.abort(run, log, err)
		}
	}

	if batch.Errors > 0 && batch.Deleted == 0 {
		batch.Status = emaildomain.DeleteBatchFailed
	} else {
		batch.Status = emaildomain.DeleteBatchCompleted
	}
	if err := u.finalize(run); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"status":  batch.Status,
		"deleted": batch.Deleted,
		"skipped": batch.Skipped,
		"errors":  batch.Errors,
	}).Info("[Delete] Batch finished")
	return summaryOf(batch), nil
}

func (u *deletionUsecase) deleteOne(
	ctx context.Context,
	run *batchRun,
	client emaildomain.MailboxClient,
	clientErr error,
	userID, id string,
	msg *emaildomain.Message,
) error {
	item := &emaildomain.DeleteBatchItem{BatchID: run.batch.ID, MessageID: id}

	switch {
	case msg == nil:
		item.Decision = emaildomain.DecisionError
		item.Reason = emaildomain.ErrMessageNotFound.Error()
	case msg.DeletedByApp || msg.ManuallyDeleted:
		item.RemoteID = msg.RemoteID
		item.Decision = emaildomain.DecisionSkipped
		item.Reason = "already deleted"
	case clientErr != nil:
		item.RemoteID = msg.RemoteID
		item.Decision = emaildomain.DecisionError
		item.Reason = clientErr.Error()
	default:
		item.RemoteID = msg.RemoteID
		if err := client.Trash(ctx, msg.RemoteID); err != nil {
			u.logger.WithError(err).WithField("message_id", id).Warn("[Delete] Trash failed")
			item.Decision = emaildomain.DecisionError
			item.Reason = err.Error()
			break
		}
		yes, no := true, false
		if err := u.messages.Update(msg.ID, emaildomain.MessageUpdate{
			DeletedByApp:      &yes,
			ManuallyDeleted:   &yes,
			IsDeleteCandidate: &no,
		}); err != nil {
			return fmt.Errorf("failed to mark message deleted: %w", err)
		}
		if err := u.learning.RecordDeletion(userID, msg.ID, msg.SenderEmail); err != nil {
			return fmt.Errorf("failed to record deletion: %w", err)
		}
		item.Decision = emaildomain.DecisionDeleted
	}

	return u.addItem(run, item)
}

func (u *deletionUsecase) keepCandidate(run *batchRun, userID string, msg *emaildomain.Message) error {
	yes, no := true, false
	if err := u.messages.Update(msg.ID, emaildomain.MessageUpdate{
		ManuallyKept:      &yes,
		IsDeleteCandidate: &no,
	}); err != nil {
		return fmt.Errorf("failed to mark message kept: %w", err)
	}
	if err := u.learning.RecordKeep(userID, msg.ID, msg.SenderEmail); err != nil {
		return fmt.Errorf("failed to record keep: %w", err)
	}
	return u.addItem(run, &emaildomain.DeleteBatchItem{
		BatchID:   run.batch.ID,
		MessageID: msg.ID,
		RemoteID:  msg.RemoteID,
		Decision:  emaildomain.DecisionSkipped,
		Reason:    "kept: not selected for deletion",
	})
}

func (u *deletionUsecase) addItem(run *batchRun, item *emaildomain.DeleteBatchItem) error {
	item.CreatedAt = u.now().UTC()
	if err := u.batches.AddItem(item); err != nil {
		return fmt.Errorf("failed to record batch item: %w", err)
	}
	switch item.Decision {
	case emaildomain.DecisionDeleted:
		run.batch.Deleted++
	case emaildomain.DecisionSkipped:
		run.batch.Skipped++
	default:
		run.batch.Errors++
	}
	run.emit(item.MessageID, item.Decision)
	return nil
}

func (u *deletionUsecase) finalize(run *batchRun) error {
	now := u.now().UTC()
	run.batch.CompletedAt = &now
	if err := u.batches.Finalize(run.batch); err != nil {
		return fmt.Errorf("failed to finalize delete batch: %w", err)
	}
	run.finish()
	return nil
}

// abort finalizes the batch as failed after a storage error
func (u *deletionUsecase) abort(run *batchRun, log *logrus.Entry, cause error) (*DeleteSummary, error) {
	log.WithError(cause).Error("[Delete] Batch aborted")
	run.batch.Status = emaildomain.DeleteBatchFailed
	if err := u.finalize(run); err != nil {
		return nil, errors.Join(cause, err)
	}
	return summaryOf(run.batch), cause
}

func summaryOf(batch *emaildomain.DeleteBatch) *DeleteSummary {
	return &DeleteSummary{
		BatchID:   batch.ID,
		Status:    batch.Status,
		Requested: batch.Requested,
		Deleted:   batch.Deleted,
		Skipped:   batch.Skipped,
		Errors:    batch.Errors,
	}
}

// ManualDelete trashes messages the user picked outside of a suggestion batch. Only the
// manually_deleted flag is set and no audit batch is written.
func (u *deletionUsecase) ManualDelete(ctx context.Context, userID, accountID string, ids []string) (*ManualResult, error) {
	account, msgs, result, err := u.loadForManual(userID, accountID, ids)
	if err != nil {
		return nil, err
	}

	pending := lo.Filter(msgs, func(m *emaildomain.Message, _ int) bool {
		if m.DeletedByApp || m.ManuallyDeleted {
			result.Skipped++
			return false
		}
		return true
	})
	if len(pending) == 0 {
		return result, nil
	}

	client, err := u.clients.ClientFor(ctx, account)
	if err != nil {
		return nil, err
	}
	if closer, ok := client.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	yes, no := true, false
	for _, msg := range pending {
		if err := client.Trash(ctx, msg.RemoteID); err != nil {
			result.Failures = append(result.Failures, ManualFailure{ID: msg.ID, Reason: err.Error()})
			continue
		}
		if err := u.messages.Update(msg.ID, emaildomain.MessageUpdate{
			ManuallyDeleted:   &yes,
			IsDeleteCandidate: &no,
		}); err != nil {
			return nil, fmt.Errorf("failed to mark message deleted: %w", err)
		}
		if err := u.learning.RecordManualDeletion(userID, msg.ID, msg.SenderEmail); err != nil {
			return nil, fmt.Errorf("failed to record manual deletion: %w", err)
		}
		result.Updated++
	}

	u.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"deleted":    result.Updated,
		"failed":     len(result.Failures),
	}).Info("[Delete] Manual delete finished")
	return result, nil
}

func (u *deletionUsecase) KeepMessages(userID, accountID string, ids []string) (*ManualResult, error) {
	_, msgs, result, err := u.loadForManual(userID, accountID, ids)
	if err != nil {
		return nil, err
	}

	yes, no := true, false
	for _, msg := range msgs {
		if msg.ManuallyKept {
			result.Skipped++
			continue
		}
		if err := u.messages.Update(msg.ID, emaildomain.MessageUpdate{
			ManuallyKept:      &yes,
			IsDeleteCandidate: &no,
		}); err != nil {
			return nil, fmt.Errorf("failed to mark message kept: %w", err)
		}
		if err := u.learning.RecordKeep(userID, msg.ID, msg.SenderEmail); err != nil {
			return nil, fmt.Errorf("failed to record keep: %w", err)
		}
		result.Updated++
	}
	return result, nil
}

// loadForManual resolves the ids on the account. Unknown ids become failures.
func (u *deletionUsecase) loadForManual(userID, accountID string, ids []string) (*authdomain.MailboxAccount, []*emaildomain.Message, *ManualResult, error) {
	account, err := ownedAccount(u.accounts, userID, accountID)
	if err != nil {
		return nil, nil, nil, err
	}
	unique := lo.Uniq(lo.Compact(ids))
	found, err := u.messages.FindByIDs(account.ID, unique)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load messages: %w", err)
	}
	byID := lo.KeyBy(found, func(m *emaildomain.Message) string { return m.ID })

	result := &ManualResult{Failures: []ManualFailure{}}
	msgs := make([]*emaildomain.Message, 0, len(unique))
	for _, id := range unique {
		msg, ok := byID[id]
		if !ok {
			result.Failures = append(result.Failures, ManualFailure{ID: id, Reason: emaildomain.ErrMessageNotFound.Error()})
			continue
		}
		msgs = append(msgs, msg)
	}
	return account, msgs, result, nil
}
