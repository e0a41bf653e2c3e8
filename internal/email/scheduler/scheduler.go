package scheduler

import (
	"sync"
	"time"

	authrepo "inboxjanitor/internal/auth/repository"
	"inboxjanitor/internal/email/repository"
	"inboxjanitor/internal/email/usecase"

	"github.com/sirupsen/logrus"
)

const defaultBatchSize = 50

// JobQueue accepts background janitor runs
type JobQueue interface {
	QueueJob(job usecase.JanitorJob) bool
}

// ResumeScheduler re-queues sync runs that were parked on a timeout or quota error, or
// abandoned by a process that died mid-run
type ResumeScheduler struct {
	progress   repository.SyncProgressRepository
	accounts   authrepo.MailboxAccountRepository
	jobs       JobQueue
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	logger     *logrus.Logger
	now        func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewResumeScheduler creates a new scheduler. Runs untouched for staleAfter are resumed
// every interval.
func NewResumeScheduler(
	progress repository.SyncProgressRepository,
	accounts authrepo.MailboxAccountRepository,
	jobs JobQueue,
	interval, staleAfter time.Duration,
	logger *logrus.Logger,
) *ResumeScheduler {
	return &ResumeScheduler{
		progress:   progress,
		accounts:   accounts,
		jobs:       jobs,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  defaultBatchSize,
		logger:     logger,
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the scheduler loop. A non-positive interval disables it.
func (s *ResumeScheduler) Start() {
	if s.interval <= 0 {
		s.logger.Info("[ResumeScheduler] Interval not set, scheduler disabled")
		return
	}

	s.logger.Infof("[ResumeScheduler] Starting resume scheduler (interval: %s)", s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.resumeStalled()
			case <-s.stopChan:
				s.logger.Info("[ResumeScheduler] Scheduler stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the scheduler
func (s *ResumeScheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// resumeStalled queues one janitor job per stalled run and returns how many were accepted
func (s *ResumeScheduler) resumeStalled() int {
	runs, err := s.progress.FindStalled(s.now().Add(-s.staleAfter), s.batchSize)
	if err != nil {
		s.logger.WithError(err).Error("[ResumeScheduler] Error finding stalled sync runs")
		return 0
	}
	if len(runs) == 0 {
		return 0
	}

	s.logger.Infof("[ResumeScheduler] Found %d stalled sync runs", len(runs))

	queued := 0
	for _, run := range runs {
		account, err := s.accounts.FindByID(run.MailboxAccountID)
		if err != nil {
			s.logger.WithError(err).WithField("account_id", run.MailboxAccountID).Error("[ResumeScheduler] Error loading account")
			continue
		}
		if account == nil {
			continue
		}

		if s.jobs.QueueJob(usecase.JanitorJob{UserID: account.UserID, AccountID: account.ID, Reason: "resume"}) {
			queued++
		}
	}
	return queued
}
