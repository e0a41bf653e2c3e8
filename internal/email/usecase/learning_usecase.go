package usecase

import (
	"fmt"
	"math"

	authrepo "inboxjanitor/internal/auth/repository"
	emaildomain "inboxjanitor/internal/email/domain"
	"inboxjanitor/internal/email/repository"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

const (
	strongKeepRatio = 0.8
	mildKeepRatio   = 0.5

	strongKeepPenalty = 0.5
	mildKeepPenalty   = 0.75
	noPenalty         = 1.0
)

// SenderInsight is what classification needs to know about a sender
type SenderInsight struct {
	Penalty    float64 `json:"penalty"`
	KeepRatio  float64 `json:"keep_ratio"`
	HasActions bool    `json:"has_actions"`
	TotalSeen  int     `json:"total_seen"`
}

// Hint is the human-readable summary sent to the model
func (i SenderInsight) Hint() string {
	if !i.HasActions {
		return "no previous user actions"
	}
	return fmt.Sprintf("user keeps %d%% of emails from this sender", int(math.Round(i.KeepRatio*100)))
}

// SenderSummary is a sender statistic row with its derived penalty
type SenderSummary struct {
	*emaildomain.SenderStatistic
	Penalty   float64 `json:"penalty"`
	KeepRatio float64 `json:"keep_ratio"`
}

// ComputePenalty maps a sender's decision history to a score multiplier. Senders the
// user mostly keeps get their delete scores damped; no history means no change.
func ComputePenalty(kept, deletedByApp, manuallyDeleted int) float64 {
	total := kept + deletedByApp + manuallyDeleted
	if total <= 0 {
		return noPenalty
	}
	keepRatio := float64(kept) / float64(total)
	switch {
	case keepRatio >= strongKeepRatio:
		return strongKeepPenalty
	case keepRatio >= mildKeepRatio:
		return mildKeepPenalty
	default:
		return noPenalty
	}
}

func insightOf(stat *emaildomain.SenderStatistic) SenderInsight {
	if stat == nil {
		return SenderInsight{Penalty: noPenalty}
	}
	insight := SenderInsight{
		Penalty:   ComputePenalty(stat.ManuallyKeptCount, stat.DeletedByAppCount, stat.ManuallyDeletedCount),
		TotalSeen: stat.TotalSeen,
	}
	if actions := stat.Actions(); actions > 0 {
		insight.HasActions = true
		insight.KeepRatio = float64(stat.ManuallyKeptCount) / float64(actions)
	}
	return insight
}

type learningUsecase struct {
	accounts authrepo.MailboxAccountRepository
	messages repository.MessageRepository
	senders  repository.SenderStatisticRepository
	logger   *logrus.Logger
}

// NewLearningUsecase creates a new instance of learningUsecase
func NewLearningUsecase(
	accounts authrepo.MailboxAccountRepository,
	messages repository.MessageRepository,
	senders repository.SenderStatisticRepository,
	logger *logrus.Logger,
) LearningUsecase {
	return &learningUsecase{
		accounts: accounts,
		messages: messages,
		senders:  senders,
		logger:   logger,
	}
}

func (u *learningUsecase) RecordDeletion(userID, messageID, sender string) error {
	return u.record(userID, messageID, sender, emaildomain.CounterDeletedByApp)
}

func (u *learningUsecase) RecordManualDeletion(userID, messageID, sender string) error {
	return u.record(userID, messageID, sender, emaildomain.CounterManuallyDeleted)
}

func (u *learningUsecase) RecordKeep(userID, messageID, sender string) error {
	return u.record(userID, messageID, sender, emaildomain.CounterManuallyKept)
}

func (u *learningUsecase) record(userID, messageID, sender string, counter emaildomain.SenderCounter) error {
	msg, err := u.messages.FindByID(messageID)
	if err != nil {
		return fmt.Errorf("failed to load message: %w", err)
	}
	if msg == nil {
		return emaildomain.ErrMessageNotFound
	}
	if _, err := ownedAccount(u.accounts, userID, msg.MailboxAccountID); err != nil {
		return err
	}

	addr := emaildomain.NormalizeAddress(sender)
	if addr == "" {
		addr = msg.SenderEmail
	}
	if addr == "" {
		return nil
	}

	if err := u.senders.IncrementCounter(msg.MailboxAccountID, addr, counter); err != nil {
		return fmt.Errorf("failed to record %s for sender: %w", counter, err)
	}
	u.logger.WithFields(logrus.Fields{
		"account_id": msg.MailboxAccountID,
		"sender":     addr,
		"counter":    counter,
	}).Debug("[Learning] Recorded decision")
	return nil
}

func (u *learningUsecase) GetPenalty(accountID, sender string) (float64, error) {
	stat, err := u.senders.FindByAccountAndSender(accountID, emaildomain.NormalizeAddress(sender))
	if err != nil {
		return noPenalty, fmt.Errorf("failed to load sender statistics: %w", err)
	}
	return insightOf(stat).Penalty, nil
}

func (u *learningUsecase) GetBatchPenalties(accountID string, senders []string) (map[string]float64, error) {
	insights, err := u.GetBatchInsights(accountID, senders)
	if err != nil {
		return nil, err
	}
	return lo.MapValues(insights, func(i SenderInsight, _ string) float64 { return i.Penalty }), nil
}

// GetBatchInsights returns one entry per requested sender, keyed by normalized address
func (u *learningUsecase) GetBatchInsights(accountID string, senders []string) (map[string]SenderInsight, error) {
	keys := lo.Uniq(lo.FilterMap(senders, func(s string, _ int) (string, bool) {
		addr := emaildomain.NormalizeAddress(s)
		return addr, addr != ""
	}))

	stats, err := u.senders.FindByAccountAndSenders(accountID, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to load sender statistics: %w", err)
	}
	byAddr := lo.KeyBy(stats, func(s *emaildomain.SenderStatistic) string { return s.SenderEmail })

	insights := make(map[string]SenderInsight, len(keys))
	for _, key := range keys {
		insights[key] = insightOf(byAddr[key])
	}
	return insights, nil
}

func (u *learningUsecase) ListSenders(userID, accountID string, limit int) ([]*SenderSummary, error) {
	account, err := ownedAccount(u.accounts, userID, accountID)
	if err != nil {
		return nil, err
	}
	stats, err := u.senders.ListByAccount(account.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list senders: %w", err)
	}
	return lo.Map(stats, func(s *emaildomain.SenderStatistic, _ int) *SenderSummary {
		insight := insightOf(s)
		return &SenderSummary{SenderStatistic: s, Penalty: insight.Penalty, KeepRatio: insight.KeepRatio}
	}), nil
}
