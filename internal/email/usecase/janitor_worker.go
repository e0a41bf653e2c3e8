package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	emaildomain "inboxjanitor/internal/email/domain"

	"github.com/sirupsen/logrus"
)

// maxSyncInvocations bounds one job's sync loop
const maxSyncInvocations = 50

// JanitorJob asks a worker to sync an account to completion and classify it
type JanitorJob struct {
	UserID    string
	AccountID string
	Reason    string
}

// CandidateNotifier tells a user new delete suggestions are ready
type CandidateNotifier interface {
	NotifyCandidates(ctx context.Context, userID, accountID string, candidates int) error
}

// JanitorWorkerService runs sync and classification in the background
type JanitorWorkerService struct {
	syncUsecase     SyncUsecase
	classifyUsecase ClassificationUsecase
	notifier        CandidateNotifier
	logger          *logrus.Logger
	jobTimeout      time.Duration

	jobQueue    chan JanitorJob
	workerWg    sync.WaitGroup
	workerCount int
	started     bool
	mu          sync.Mutex

	queuedMu sync.Mutex
	queued   map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewJanitorWorkerService creates a new janitor worker service
func NewJanitorWorkerService(
	syncUsecase SyncUsecase,
	classifyUsecase ClassificationUsecase,
	notifier CandidateNotifier,
	workerCount int,
	logger *logrus.Logger,
) *JanitorWorkerService {
	if workerCount <= 0 {
		workerCount = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JanitorWorkerService{
		syncUsecase:     syncUsecase,
		classifyUsecase: classifyUsecase,
		notifier:        notifier,
		logger:          logger,
		jobTimeout:      30 * time.Minute,
		jobQueue:        make(chan JanitorJob, 100),
		workerCount:     workerCount,
		queued:          make(map[string]struct{}),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start starts the janitor workers
func (s *JanitorWorkerService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}

	for i := 0; i < s.workerCount; i++ {
		s.workerWg.Add(1)
		go s.worker(i)
	}
	s.started = true
	s.logger.Infof("[JanitorWorker] Started %d workers", s.workerCount)
}

// Stop stops accepting jobs, cancels running ones and waits for the workers
func (s *JanitorWorkerService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queuedMu.Lock()
	if s.ctx.Err() != nil {
		s.queuedMu.Unlock()
		return
	}
	s.cancel()
	close(s.jobQueue)
	s.queuedMu.Unlock()

	s.workerWg.Wait()
	s.logger.Info("[JanitorWorker] All workers stopped")
}

func (s *JanitorWorkerService) worker(id int) {
	defer s.workerWg.Done()

	for job := range s.jobQueue {
		s.dequeued(job.AccountID)
		s.processJob(job)
	}

	s.logger.Debugf("[JanitorWorker] Worker %d stopped", id)
}

// QueueJob adds a job to the queue (non-blocking). A job for an account that is
// already waiting is dropped and reported as queued.
func (s *JanitorWorkerService) QueueJob(job JanitorJob) bool {
	s.queuedMu.Lock()
	defer s.queuedMu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	if _, waiting := s.queued[job.AccountID]; waiting {
		return true
	}

	select {
	case s.jobQueue <- job:
		s.queued[job.AccountID] = struct{}{}
		return true
	default:
		s.logger.WithField("account_id", job.AccountID).Warn("[JanitorWorker] Queue full, dropping job")
		return false
	}
}

func (s *JanitorWorkerService) dequeued(accountID string) {
	s.queuedMu.Lock()
	delete(s.queued, accountID)
	s.queuedMu.Unlock()
}

func (s *JanitorWorkerService) processJob(job JanitorJob) {
	ctx, cancel := context.WithTimeout(s.ctx, s.jobTimeout)
	defer cancel()

	log := s.logger.WithFields(logrus.Fields{
		"account_id": job.AccountID,
		"reason":     job.Reason,
	})

	if err := s.syncToCompletion(ctx, job); err != nil {
		if errors.Is(err, emaildomain.ErrSyncInProgress) {
			log.Info("[JanitorWorker] Sync already running elsewhere, skipping job")
			return
		}
		log.WithError(err).Warn("[JanitorWorker] Sync did not finish")
		return
	}

	result, err := s.classifyUsecase.RunClassification(ctx, job.UserID, job.AccountID)
	if err != nil {
		log.WithError(err).Warn("[JanitorWorker] Classification failed")
		return
	}
	log.WithFields(logrus.Fields{
		"evaluated":  result.Evaluated,
		"candidates": result.Candidates,
	}).Info("[JanitorWorker] Job finished")

	if result.Candidates > 0 && s.notifier != nil {
		if err := s.notifier.NotifyCandidates(ctx, job.UserID, job.AccountID, result.Candidates); err != nil {
			log.WithError(err).Warn("[JanitorWorker] Failed to notify user")
		}
	}
}

func (s *JanitorWorkerService) syncToCompletion(ctx context.Context, job JanitorJob) error {
	for i := 0; i < maxSyncInvocations; i++ {
		step, err := s.syncUsecase.RunSync(ctx, job.UserID, job.AccountID, RunOptions{})
		if err != nil {
			return err
		}
		if !step.HasMore {
			return nil
		}
	}
	return errors.New("sync did not complete within the invocation limit")
}
