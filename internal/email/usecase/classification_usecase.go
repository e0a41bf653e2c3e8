package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	authrepo "inboxjanitor/internal/auth/repository"
	emaildomain "inboxjanitor/internal/email/domain"
	"inboxjanitor/internal/email/repository"
	"inboxjanitor/pkg/ai"
	"inboxjanitor/pkg/config"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const defaultFailureReason = "Classification failed"

const classificationInstructions = `You help a user clean up their mailbox. For every message in the request decide how safe it is to delete.
Return one result per message with:
- id: the message id exactly as given
- category: one of unknown, personal, work, receipt, promo, notification, spamLike
- score: a number between 0 and 1, the likelihood the user wants the message deleted
- reason: one short sentence
Messages with replies, personal or work conversations and receipts the user may need later should get low scores.
Promotions, newsletters, stale notifications and spam-like messages can get high scores.
Take the sender history hint into account: senders whose emails the user usually keeps are rarely safe to delete.`

// ClassificationResult summarizes one classification run
type ClassificationResult struct {
	Evaluated  int `json:"evaluated"`
	Candidates int `json:"candidates"`
	// Failed counts messages that received the default result
	Failed int `json:"failed"`
}

type promptItem struct {
	ID              string   `json:"id"`
	Sender          string   `json:"sender"`
	Subject         string   `json:"subject"`
	Snippet         string   `json:"snippet"`
	Labels          []string `json:"labels"`
	HasReply        bool     `json:"has_reply"`
	SenderFrequency int      `json:"sender_frequency"`
	Hint            string   `json:"hint"`
}

type chunkOutcome struct {
	results  map[string]ai.ClassifiedMessage
	insights map[string]SenderInsight
	err      error
}

type classificationUsecase struct {
	accounts   authrepo.MailboxAccountRepository
	messages   repository.MessageRepository
	learning   LearningUsecase
	classifier ai.Classifier
	cfg        config.ClassificationConfig
	logger     *logrus.Logger
	now        func() time.Time
}

// NewClassificationUsecase creates a new instance of classificationUsecase
func NewClassificationUsecase(
	accounts authrepo.MailboxAccountRepository,
	messages repository.MessageRepository,
	learning LearningUsecase,
	classifier ai.Classifier,
	cfg config.ClassificationConfig,
	logger *logrus.Logger,
) ClassificationUsecase {
	return &classificationUsecase{
		accounts:   accounts,
		messages:   messages,
		learning:   learning,
		classifier: classifier,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

func (u *classificationUsecase) RunClassification(ctx context.Context, userID, accountID string) (*ClassificationResult, error) {
	account, err := ownedAccount(u.accounts, userID, accountID)
	if err != nil {
		return nil, err
	}

	cutoff := u.now().UTC().AddDate(0, 0, -u.cfg.MinAgeDays)
	autoInclude := lo.Uniq(lo.FilterMap(account.AutoIncludeSenders, func(s string, _ int) (string, bool) {
		addr := emaildomain.NormalizeAddress(s)
		return addr, addr != ""
	}))

	msgs, err := u.messages.FindForClassification(account.ID, cutoff, autoInclude, u.cfg.BatchCeiling)
	if err != nil {
		return nil, fmt.Errorf("failed to select messages for classification: %w", err)
	}
	if len(msgs) == 0 {
		return &ClassificationResult{}, nil
	}

	chunks := lo.Chunk(msgs, max(u.cfg.ChunkSize, 1))
	outcomes := make([]chunkOutcome, len(chunks))

	// Chunks fail independently; the group never short-circuits
	var g errgroup.Group
	for i, chunk := range chunks {
		g.Go(func() error {
			outcomes[i] = u.classifyChunk(ctx, account.ID, chunk)
			return nil
		})
	}
	_ = g.Wait()

	failures := lo.Filter(outcomes, func(o chunkOutcome, _ int) bool { return o.err != nil })
	if len(failures) == len(outcomes) {
		return nil, fmt.Errorf("%w: %w", emaildomain.ErrClassificationUnavailable, failures[0].err)
	}

	result := &ClassificationResult{}
	for i, chunk := range chunks {
		outcome := outcomes[i]
		for _, msg := range chunk {
			verdict, ok := outcome.results[msg.ID]
			if !ok {
				verdict = ai.ClassifiedMessage{ID: msg.ID, Category: string(emaildomain.CategoryUnknown), Reason: defaultFailureReason}
				result.Failed++
			}
			penalty := noPenalty
			if insight, ok := outcome.insights[msg.SenderEmail]; ok {
				penalty = insight.Penalty
			}

			update, candidate := u.scoreUpdate(verdict, penalty)
			if err := u.messages.Update(msg.ID, update); err != nil {
				return nil, fmt.Errorf("failed to store classification for message %s: %w", msg.ID, err)
			}
			result.Evaluated++
			if candidate {
				result.Candidates++
			}
		}
	}

	u.logger.WithFields(logrus.Fields{
		"account_id":    account.ID,
		"evaluated":     result.Evaluated,
		"candidates":    result.Candidates,
		"failed":        result.Failed,
		"failed_chunks": len(failures),
	}).Info("[Classify] Run finished")
	return result, nil
}

// scoreUpdate applies the sender penalty to a verdict and builds the row update
func (u *classificationUsecase) scoreUpdate(verdict ai.ClassifiedMessage, penalty float64) (emaildomain.MessageUpdate, bool) {
	category := emaildomain.NormalizeCategory(verdict.Category)
	score := AdjustScore(verdict.Score, penalty)
	reason := strings.TrimSpace(verdict.Reason)
	if penalty < noPenalty {
		note := fmt.Sprintf("(score adjusted x%.2f based on your past decisions for this sender)", penalty)
		reason = strings.TrimSpace(reason + " " + note)
	}
	candidate := score >= u.cfg.Threshold

	return emaildomain.MessageUpdate{
		AICategory:        &category,
		AIDeleteScore:     &score,
		AIDeleteReason:    &reason,
		IsDeleteCandidate: &candidate,
	}, candidate
}

// AdjustScore clamps the raw score, applies the penalty and clamps again
func AdjustScore(raw, penalty float64) float64 {
	return clampScore(clampScore(raw) * penalty)
}

func clampScore(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func (u *classificationUsecase) classifyChunk(ctx context.Context, accountID string, chunk []*emaildomain.Message) chunkOutcome {
	if u.cfg.ChunkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.ChunkTimeout)
		defer cancel()
	}

	senders := lo.Map(chunk, func(m *emaildomain.Message, _ int) string { return m.SenderEmail })
	insights, err := u.learning.GetBatchInsights(accountID, senders)
	if err != nil {
		return chunkOutcome{err: err}
	}

	prompt, err := u.buildPrompt(chunk, insights)
	if err != nil {
		return chunkOutcome{insights: insights, err: err}
	}

	verdicts, err := u.classifier.Classify(ctx, ai.ClassificationRequest{
		SystemInstructions: classificationInstructions,
		Prompt:             prompt,
		Schema:             ai.ClassificationSchema(),
	})
	if err != nil {
		u.logger.WithError(err).WithFields(logrus.Fields{
			"account_id": accountID,
			"messages":   len(chunk),
		}).Warn("[Classify] Chunk failed, using default results")
		return chunkOutcome{insights: insights, err: err}
	}
	if len(verdicts) == 0 {
		return chunkOutcome{insights: insights, err: errors.New("provider returned no results")}
	}

	known := lo.SliceToMap(chunk, func(m *emaildomain.Message) (string, struct{}) { return m.ID, struct{}{} })
	results := make(map[string]ai.ClassifiedMessage, len(verdicts))
	for _, v := range verdicts {
		id := strings.TrimSpace(v.ID)
		if _, ok := known[id]; !ok {
			continue
		}
		results[id] = v
	}
	return chunkOutcome{results: results, insights: insights}
}

func (u *classificationUsecase) buildPrompt(chunk []*emaildomain.Message, insights map[string]SenderInsight) (string, error) {
	items := make([]promptItem, 0, len(chunk))
	for _, m := range chunk {
		insight := insights[m.SenderEmail]
		if insight.Penalty == 0 {
			insight.Penalty = noPenalty
		}
		labels := []string(m.Labels)
		if labels == nil {
			labels = []string{}
		}
		items = append(items, promptItem{
			ID:              m.ID,
			Sender:          m.SenderEmail,
			Subject:         m.Subject,
			Snippet:         truncateRunes(m.Snippet, u.cfg.SnippetLimit),
			Labels:          labels,
			HasReply:        m.HasReply,
			SenderFrequency: insight.TotalSeen,
			Hint:            insight.Hint(),
		})
	}

	payload, err := json.Marshal(map[string]any{"messages": items})
	if err != nil {
		return "", fmt.Errorf("failed to encode prompt: %w", err)
	}
	return "Classify the following messages:\n" + string(payload), nil
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
