package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	authdomain "inboxjanitor/internal/auth/domain"
	authdto "inboxjanitor/internal/auth/dto"
	"inboxjanitor/internal/auth/repository"
	emaildomain "inboxjanitor/internal/email/domain"
	"inboxjanitor/pkg/crypto"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Watcher registers provider push notifications for a freshly connected account
type Watcher interface {
	Watch(ctx context.Context, account *authdomain.MailboxAccount, topic string) error
}

var ErrMissingCredentials = errors.New("mailbox credentials are required")

// accountUsecase implements AccountUsecase interface
type accountUsecase struct {
	accounts repository.MailboxAccountRepository
	box      *crypto.Box
	watcher  Watcher
	topic    string
	logger   *logrus.Logger
}

// NewAccountUsecase creates a new instance of accountUsecase. A nil watcher or an
// empty topic disables push registration.
func NewAccountUsecase(accounts repository.MailboxAccountRepository, box *crypto.Box, watcher Watcher, topic string, logger *logrus.Logger) AccountUsecase {
	return &accountUsecase{
		accounts: accounts,
		box:      box,
		watcher:  watcher,
		topic:    topic,
		logger:   logger,
	}
}

func (u *accountUsecase) ConnectAccount(ctx context.Context, userID string, req *authdto.ConnectAccountRequest) (*authdomain.MailboxAccount, error) {
	now := time.Now().UTC()
	account := &authdomain.MailboxAccount{
		UserID:             userID,
		Provider:           req.Provider,
		EmailAddress:       strings.ToLower(strings.TrimSpace(req.EmailAddress)),
		AutoIncludeSenders: emaildomain.StringArray{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	var err error
	switch req.Provider {
	case authdomain.ProviderGmail:
		if req.AccessToken == "" && req.RefreshToken == "" {
			return nil, ErrMissingCredentials
		}
		if account.AccessTokenEnc, err = u.box.Encrypt(req.AccessToken); err != nil {
			return nil, fmt.Errorf("failed to encrypt token: %w", err)
		}
		if account.RefreshTokenEnc, err = u.box.Encrypt(req.RefreshToken); err != nil {
			return nil, fmt.Errorf("failed to encrypt token: %w", err)
		}
	case authdomain.ProviderIMAP:
		if req.IMAPHost == "" || req.IMAPPassword == "" {
			return nil, ErrMissingCredentials
		}
		account.IMAPHost = req.IMAPHost
		account.IMAPPort = req.IMAPPort
		if account.IMAPPort == 0 {
			account.IMAPPort = 993
		}
		account.IMAPUsername = req.IMAPUsername
		if account.IMAPUsername == "" {
			account.IMAPUsername = account.EmailAddress
		}
		if account.IMAPPasswordEnc, err = u.box.Encrypt(req.IMAPPassword); err != nil {
			return nil, fmt.Errorf("failed to encrypt password: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported mailbox provider: %s", req.Provider)
	}

	if err := u.accounts.Create(account); err != nil {
		return nil, fmt.Errorf("failed to store mailbox account: %w", err)
	}

	if u.watcher != nil && u.topic != "" {
		if err := u.watcher.Watch(ctx, account, u.topic); err != nil {
			u.logger.WithError(err).WithField("account_id", account.ID).Warn("[Account] Failed to register push notifications")
		}
	}
	return account, nil
}

func (u *accountUsecase) ListAccounts(userID string) ([]*authdomain.MailboxAccount, error) {
	return u.accounts.FindByUserID(userID)
}

func (u *accountUsecase) DeleteAccount(userID, accountID string) error {
	if _, err := u.owned(userID, accountID); err != nil {
		return err
	}
	return u.accounts.Delete(userID, accountID)
}

func (u *accountUsecase) GetAutoInclude(userID, accountID string) ([]string, error) {
	account, err := u.owned(userID, accountID)
	if err != nil {
		return nil, err
	}
	return []string(account.AutoIncludeSenders), nil
}

func (u *accountUsecase) SetAutoInclude(userID, accountID string, senders []string) ([]string, error) {
	if _, err := u.owned(userID, accountID); err != nil {
		return nil, err
	}
	cleaned := lo.Uniq(lo.FilterMap(senders, func(s string, _ int) (string, bool) {
		addr := emaildomain.NormalizeAddress(s)
		return addr, addr != ""
	}))
	if err := u.accounts.UpdateAutoIncludeSenders(accountID, cleaned); err != nil {
		return nil, fmt.Errorf("failed to update auto-include senders: %w", err)
	}
	return cleaned, nil
}

func (u *accountUsecase) owned(userID, accountID string) (*authdomain.MailboxAccount, error) {
	account, err := u.accounts.FindByIDForUser(userID, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, emaildomain.ErrAccountNotFound
	}
	return account, nil
}
