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
	"inboxjanitor/pkg/config"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// leaseGrace keeps the lease alive past the budget while the final checkpoint is written
const leaseGrace = 60 * time.Second

// RunOptions tunes a single sync invocation
type RunOptions struct {
	// Budget overrides the configured wall-clock budget when positive
	Budget time.Duration
}

// SyncStepResult describes the state a sync invocation left behind
type SyncStepResult struct {
	Progress *emaildomain.SyncProgress `json:"progress"`
	// HasMore tells the caller to invoke again
	HasMore bool `json:"has_more"`
	// StepProcessed counts the ids consumed by this invocation only
	StepProcessed int `json:"step_processed"`
}

type syncUsecase struct {
	accounts authrepo.MailboxAccountRepository
	messages repository.MessageRepository
	progress repository.SyncProgressRepository
	clients  MailboxClientFactory
	cfg      config.SyncConfig
	logger   *logrus.Logger
	now      func() time.Time
}

// NewSyncUsecase creates a new instance of syncUsecase
func NewSyncUsecase(
	accounts authrepo.MailboxAccountRepository,
	messages repository.MessageRepository,
	progress repository.SyncProgressRepository,
	clients MailboxClientFactory,
	cfg config.SyncConfig,
	logger *logrus.Logger,
) SyncUsecase {
	return &syncUsecase{
		accounts: accounts,
		messages: messages,
		progress: progress,
		clients:  clients,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (u *syncUsecase) GetStatus(userID, accountID string) (*emaildomain.SyncProgress, error) {
	account, err := ownedAccount(u.accounts, userID, accountID)
	if err != nil {
		return nil, err
	}
	latest, err := u.progress.FindLatest(account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync progress: %w", err)
	}
	if latest == nil {
		return &emaildomain.SyncProgress{MailboxAccountID: account.ID, Status: emaildomain.SyncStatusPending}, nil
	}
	return latest, nil
}

func (u *syncUsecase) RunSync(ctx context.Context, userID, accountID string, opts RunOptions) (*SyncStepResult, error) {
	account, err := ownedAccount(u.accounts, userID, accountID)
	if err != nil {
		return nil, err
	}

	budget := opts.Budget
	if budget <= 0 {
		budget = u.cfg.Budget
	}
	start := u.now().UTC()

	holder := uuid.New().String()
	acquired, err := u.progress.AcquireLease(account.ID, holder, start, budget+leaseGrace)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lease: %w", err)
	}
	if !acquired {
		return nil, emaildomain.ErrSyncInProgress
	}
	defer func() {
		if err := u.progress.ReleaseLease(account.ID, holder); err != nil {
			u.logger.WithError(err).WithField("account_id", account.ID).Warn("[Sync] Failed to release lease")
		}
	}()

	progress, err := u.resumeOrCreate(account.ID, start)
	if err != nil {
		return nil, err
	}

	log := u.logger.WithFields(logrus.Fields{
		"account_id":  account.ID,
		"progress_id": progress.ID,
	})
	log.WithFields(logrus.Fields{
		"processed": progress.Processed,
		"budget":    budget.String(),
	}).Info("[Sync] Starting invocation")

	run := &syncRun{
		usecase:  u,
		account:  account,
		progress: progress,
		deadline: start.Add(budget - u.cfg.SafetyMargin),
		log:      log,
	}

	client, err := u.clients.ClientFor(ctx, account)
	if err != nil {
		return run.halt(err)
	}
	if closer, ok := client.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				log.WithError(err).Debug("[Sync] Failed to close mailbox client")
			}
		}()
	}
	run.client = client

	return run.execute(ctx)
}

func (u *syncUsecase) resumeOrCreate(accountID string, now time.Time) (*emaildomain.SyncProgress, error) {
	progress, err := u.progress.FindResumable(accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync progress: %w", err)
	}
	if progress != nil {
		progress.Status = emaildomain.SyncStatusInProgress
		progress.ErrorKind = ""
		progress.ErrorMessage = ""
		progress.UpdatedAt = now
		if err := u.progress.Save(progress); err != nil {
			return nil, fmt.Errorf("failed to resume sync progress: %w", err)
		}
		return progress, nil
	}

	progress = &emaildomain.SyncProgress{
		MailboxAccountID: accountID,
		Status:           emaildomain.SyncStatusInProgress,
		StartedAt:        now,
		UpdatedAt:        now,
	}
	if err := u.progress.Create(progress); err != nil {
		return nil, fmt.Errorf("failed to create sync progress: %w", err)
	}
	return progress, nil
}

// syncRun is the state of one invocation
type syncRun struct {
	usecase  *syncUsecase
	account  *authdomain.MailboxAccount
	progress *emaildomain.SyncProgress
	client   emaildomain.MailboxClient
	deadline time.Time
	log      *logrus.Entry

	started bool
	step    int
}

// expired reports that the budget is spent. The first item of an invocation is always
// attempted so every invocation makes progress.
func (r *syncRun) expired() bool {
	return r.started && !r.usecase.now().Before(r.deadline)
}

func (r *syncRun) execute(ctx context.Context) (*SyncStepResult, error) {
	cfg := r.usecase.cfg
	p := r.progress

	for {
		if err := ctx.Err(); err != nil {
			return r.halt(err)
		}

		if len(p.PendingIDs) == 0 {
			if p.PagesListed > 0 && p.PageToken == "" {
				return r.complete()
			}
			if r.expired() {
				return r.pause()
			}

			page, err := r.client.ListMessageIDs(ctx, emaildomain.ListQuery{NewerThanDays: cfg.LookbackDays}, cfg.PageSize, p.PageToken)
			if err != nil {
				return r.halt(err)
			}
			p.PendingIDs = emaildomain.StringArray(page.IDs)
			p.PageToken = page.NextPageToken
			p.PagesListed++
			p.TotalMessages = max(p.TotalMessages, page.ResultSizeEstimate, p.Processed+len(page.IDs))
			r.log.WithFields(logrus.Fields{
				"page":     p.PagesListed,
				"ids":      len(page.IDs),
				"has_next": page.NextPageToken != "",
			}).Debug("[Sync] Listed page")

			if len(page.IDs) == 0 && page.NextPageToken == "" {
				return r.complete()
			}
			if err := r.checkpoint(); err != nil {
				return r.halt(err)
			}
			continue
		}

		chunk := min(max(cfg.ChunkSize, 1), len(p.PendingIDs))
		for i := 0; i < chunk; i++ {
			if r.expired() {
				return r.pause()
			}
			if err := ctx.Err(); err != nil {
				return r.halt(err)
			}

			remoteID := p.PendingIDs[0]
			r.started = true

			msg, err := r.fetch(ctx, remoteID)
			if err != nil {
				switch emaildomain.KindOf(err) {
				case emaildomain.ErrorKindNotFound, emaildomain.ErrorKindGeneric:
					if errors.Is(err, context.Canceled) {
						return r.halt(err)
					}
					r.log.WithError(err).WithField("remote_id", remoteID).Warn("[Sync] Skipping message")
					p.Errors++
					r.consume()
					continue
				default:
					return r.halt(err)
				}
			}

			created, err := r.usecase.messages.UpsertFromSync(msg)
			if err != nil {
				return r.halt(&storageError{op: "upsert message", err: err})
			}
			if created {
				p.Created++
			} else {
				p.Updated++
			}
			r.consume()
		}

		if err := r.checkpoint(); err != nil {
			return r.halt(err)
		}
	}
}

func (r *syncRun) fetch(ctx context.Context, remoteID string) (*emaildomain.Message, error) {
	meta, err := r.client.GetMessageMetadata(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	hasReply, err := r.client.GetThreadReplyStatus(ctx, meta.ThreadID, r.account.EmailAddress)
	if err != nil {
		return nil, err
	}

	address, name := emaildomain.ParseSender(meta.From)
	if meta.ID == "" {
		meta.ID = remoteID
	}
	return &emaildomain.Message{
		MailboxAccountID: r.account.ID,
		RemoteID:         meta.ID,
		ThreadID:         meta.ThreadID,
		SenderEmail:      address,
		SenderName:       name,
		Subject:          meta.Subject,
		Snippet:          meta.Snippet,
		ReceivedAt:       time.UnixMilli(meta.InternalDateMs).UTC(),
		Labels:           emaildomain.StringArray(meta.Labels),
		HasReply:         hasReply,
		LastSyncedAt:     r.usecase.now().UTC(),
	}, nil
}

func (r *syncRun) consume() {
	r.progress.PendingIDs = r.progress.PendingIDs[1:]
	r.progress.Processed++
	r.step++
}

func (r *syncRun) checkpoint() error {
	r.progress.UpdatedAt = r.usecase.now().UTC()
	if err := r.usecase.progress.Save(r.progress); err != nil {
		return &storageError{op: "checkpoint", err: err}
	}
	return nil
}

func (r *syncRun) result() *SyncStepResult {
	return &SyncStepResult{
		Progress:      r.progress,
		HasMore:       r.progress.Status.HasMore(),
		StepProcessed: r.step,
	}
}

func (r *syncRun) pause() (*SyncStepResult, error) {
	if err := r.checkpoint(); err != nil {
		return r.halt(err)
	}
	r.log.WithFields(logrus.Fields{
		"processed": r.progress.Processed,
		"pending":   len(r.progress.PendingIDs),
		"step":      r.step,
	}).Info("[Sync] Budget spent, checkpoint saved")
	return r.result(), nil
}

func (r *syncRun) complete() (*SyncStepResult, error) {
	now := r.usecase.now().UTC()
	r.progress.Status = emaildomain.SyncStatusCompleted
	r.progress.CompletedAt = &now
	r.progress.PendingIDs = emaildomain.StringArray{}
	if r.progress.TotalMessages < r.progress.Processed {
		r.progress.TotalMessages = r.progress.Processed
	}
	if err := r.checkpoint(); err != nil {
		return r.halt(err)
	}
	r.log.WithFields(logrus.Fields{
		"processed": r.progress.Processed,
		"created":   r.progress.Created,
		"updated":   r.progress.Updated,
		"errors":    r.progress.Errors,
	}).Info("[Sync] Completed")
	return r.result(), nil
}

// halt stops the invocation on a run-level failure. Auth, feature and quota failures
// keep the run in_progress, timeouts park it as timeout, everything else fails it.
func (r *syncRun) halt(cause error) (*SyncStepResult, error) {
	p := r.progress
	kind := emaildomain.KindOf(cause)
	if errors.Is(cause, context.Canceled) {
		kind = emaildomain.ErrorKindTimeout
	}
	var storeErr *storageError
	if errors.As(cause, &storeErr) {
		kind = emaildomain.ErrorKindGeneric
	}

	runErr := &emaildomain.RunError{Kind: kind, Err: cause}
	switch kind {
	case emaildomain.ErrorKindAuthExpired, emaildomain.ErrorKindFeatureDisabled, emaildomain.ErrorKindQuotaExceeded:
		p.Status = emaildomain.SyncStatusInProgress
		runErr.Resumable = kind == emaildomain.ErrorKindQuotaExceeded
		runErr.Message = emaildomain.Remediation(kind)
	case emaildomain.ErrorKindTimeout:
		p.Status = emaildomain.SyncStatusTimeout
		runErr.Resumable = true
		runErr.Message = emaildomain.Remediation(kind)
	default:
		now := r.usecase.now().UTC()
		p.Status = emaildomain.SyncStatusFailed
		p.CompletedAt = &now
		runErr.Kind = emaildomain.ErrorKindGeneric
		runErr.Message = "sync failed"
	}
	p.ErrorKind = runErr.Kind
	p.ErrorMessage = cause.Error()

	r.log.WithError(cause).WithFields(logrus.Fields{
		"kind":      runErr.Kind,
		"status":    p.Status,
		"resumable": runErr.Resumable,
	}).Warn("[Sync] Invocation halted")

	p.UpdatedAt = r.usecase.now().UTC()
	if err := r.usecase.progress.Save(p); err != nil {
		r.log.WithError(err).Error("[Sync] Failed to save progress after halt")
	}
	return r.result(), runErr
}

// storageError marks failures of the local store, which are never retried in-run
type storageError struct {
	op  string
	err error
}

func (e *storageError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *storageError) Unwrap() error {
	return e.err
}
