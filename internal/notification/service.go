package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	authdomain "inboxjanitor/internal/auth/domain"
	authrepo "inboxjanitor/internal/auth/repository"
	"inboxjanitor/internal/email/usecase"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// GmailNotification is the payload Gmail publishes on mailbox changes
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// JobQueue accepts janitor jobs
type JobQueue interface {
	QueueJob(job usecase.JanitorJob) bool
}

// Service turns Gmail push notifications into janitor jobs
type Service struct {
	pubsubClient *pubsub.Client
	accounts     authrepo.MailboxAccountRepository
	jobs         JobQueue
	logger       *logrus.Logger
	topicName    string
	subName      string

	// Deduplication: last historyId handled per account
	mu            sync.Mutex
	lastHistoryID map[string]uint64
}

func NewService(ctx context.Context, projectID, topicName, credentialsFile string, accounts authrepo.MailboxAccountRepository, jobs JobQueue, logger *logrus.Logger) (*Service, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	s := newService(accounts, jobs, logger)
	s.pubsubClient = client
	s.topicName = topicName
	s.subName = topicName + "-sub" // Convention: topic-sub
	return s, nil
}

func newService(accounts authrepo.MailboxAccountRepository, jobs JobQueue, logger *logrus.Logger) *Service {
	return &Service{
		accounts:      accounts,
		jobs:          jobs,
		logger:        logger,
		lastHistoryID: make(map[string]uint64),
	}
}

// Start blocks receiving notifications until ctx is done
func (s *Service) Start(ctx context.Context) {
	s.logger.Infof("[PubSub] Starting notification service with topic: %s, subscription: %s", s.topicName, s.subName)

	sub, err := s.ensureSubscription(ctx)
	if err != nil {
		s.logger.WithError(err).Error("[PubSub] Subscription unavailable")
		return
	}

	s.logger.Infof("[PubSub] Listening for messages on subscription: %s", s.subName)
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.HandleData(msg.Data)
		msg.Ack()
	})
	if err != nil {
		s.logger.WithError(err).Error("[PubSub] Error receiving messages")
	}
}

func (s *Service) Close() error {
	if s.pubsubClient == nil {
		return nil
	}
	return s.pubsubClient.Close()
}

func (s *Service) ensureSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check subscription: %w", err)
	}
	if exists {
		return sub, nil
	}

	topic := s.pubsubClient.Topic(s.topicName)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check topic: %w", err)
	}
	if !topicExists {
		return nil, fmt.Errorf("topic %s does not exist", s.topicName)
	}

	sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	s.logger.Infof("[PubSub] Created subscription: %s", s.subName)
	return sub, nil
}

// HandleData queues a janitor job for every Gmail account matching the notification.
// It returns the number of jobs queued.
func (s *Service) HandleData(data []byte) int {
	var notification GmailNotification
	if err := json.Unmarshal(data, &notification); err != nil {
		s.logger.WithError(err).Warn("[PubSub] Failed to unmarshal notification")
		return 0
	}
	if notification.EmailAddress == "" {
		return 0
	}

	log := s.logger.WithFields(logrus.Fields{
		"email":      notification.EmailAddress,
		"history_id": notification.HistoryID,
	})

	accounts, err := s.accounts.FindByEmailAddress(notification.EmailAddress, authdomain.ProviderGmail)
	if err != nil {
		log.WithError(err).Error("[PubSub] Failed to look up accounts")
		return 0
	}
	if len(accounts) == 0 {
		log.Debug("[PubSub] No account for notification")
		return 0
	}

	queued := 0
	for _, account := range accounts {
		if !s.markSeen(account.ID, notification.HistoryID) {
			log.WithField("account_id", account.ID).Debug("[PubSub] Skipping duplicate notification")
			continue
		}
		if s.jobs.QueueJob(usecase.JanitorJob{UserID: account.UserID, AccountID: account.ID, Reason: "gmail_push"}) {
			queued++
		}
	}
	return queued
}

// markSeen records historyID for the account, reporting false when it is not newer
func (s *Service) markSeen(accountID string, historyID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastHistoryID[accountID]; ok && historyID <= last {
		return false
	}
	s.lastHistoryID[accountID] = historyID
	return true
}
