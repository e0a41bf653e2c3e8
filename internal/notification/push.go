package notification

import (
	"context"
	"fmt"

	authdomain "inboxjanitor/internal/auth/domain"
	authrepo "inboxjanitor/internal/auth/repository"
	"inboxjanitor/internal/email/usecase"
	"inboxjanitor/pkg/fcm"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Sender delivers a push notification to device tokens and returns the invalid ones
type Sender interface {
	SendToDevices(ctx context.Context, tokens []string, notification fcm.NotificationData) ([]string, error)
}

// PushNotifier tells users about new delete suggestions through FCM
type PushNotifier struct {
	fcmRepo authrepo.FCMTokenRepository
	sender  Sender
	logger  *logrus.Logger
}

var _ usecase.CandidateNotifier = (*PushNotifier)(nil)

func NewPushNotifier(fcmRepo authrepo.FCMTokenRepository, sender Sender, logger *logrus.Logger) *PushNotifier {
	return &PushNotifier{fcmRepo: fcmRepo, sender: sender, logger: logger}
}

func (n *PushNotifier) NotifyCandidates(ctx context.Context, userID, accountID string, candidates int) error {
	tokens, err := n.fcmRepo.GetTokensByUserID(userID)
	if err != nil {
		return fmt.Errorf("failed to load FCM tokens: %w", err)
	}
	if len(tokens) == 0 {
		n.logger.WithField("user_id", userID).Debug("[FCM] No tokens, skipping push notification")
		return nil
	}

	title := "1 email is ready to clean up"
	if candidates != 1 {
		title = fmt.Sprintf("%d emails are ready to clean up", candidates)
	}
	invalid, err := n.sender.SendToDevices(ctx, lo.Map(tokens, func(t authdomain.FCMToken, _ int) string { return t.Token }), fcm.NotificationData{
		Title: title,
		Body:  "Review the suggested deletions before they pile up.",
		Data: map[string]string{
			"type":       "delete_candidates",
			"account_id": accountID,
			"candidates": fmt.Sprintf("%d", candidates),
		},
		ClickAction: fmt.Sprintf("/accounts/%s/delete-candidates", accountID),
	})
	if err != nil {
		return err
	}

	for _, token := range invalid {
		if err := n.fcmRepo.DeleteToken(token); err != nil {
			n.logger.WithError(err).Warn("[FCM] Failed to prune invalid token")
		}
	}
	if len(invalid) > 0 {
		n.logger.WithField("user_id", userID).Infof("[FCM] Pruned %d invalid tokens", len(invalid))
	}
	return nil
}
