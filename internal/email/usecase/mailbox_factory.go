package usecase

import (
	"context"
	"fmt"

	authdomain "inboxjanitor/internal/auth/domain"
	authrepo "inboxjanitor/internal/auth/repository"
	emaildomain "inboxjanitor/internal/email/domain"
	"inboxjanitor/pkg/crypto"
	"inboxjanitor/pkg/gmail"
	"inboxjanitor/pkg/imap"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// MailboxClientFactory builds a provider client for an account. Clients that
// implement io.Closer are closed by the caller.
type MailboxClientFactory interface {
	ClientFor(ctx context.Context, account *authdomain.MailboxAccount) (emaildomain.MailboxClient, error)
}

// MailboxClients builds Gmail and IMAP clients from stored, encrypted credentials
type MailboxClients struct {
	gmailService *gmail.Service
	box          *crypto.Box
	accounts     authrepo.MailboxAccountRepository
	trashMailbox string
	logger       *logrus.Logger
}

var _ MailboxClientFactory = (*MailboxClients)(nil)

func NewMailboxClients(
	gmailService *gmail.Service,
	box *crypto.Box,
	accounts authrepo.MailboxAccountRepository,
	trashMailbox string,
	logger *logrus.Logger,
) *MailboxClients {
	return &MailboxClients{
		gmailService: gmailService,
		box:          box,
		accounts:     accounts,
		trashMailbox: trashMailbox,
		logger:       logger,
	}
}

func (f *MailboxClients) ClientFor(ctx context.Context, account *authdomain.MailboxAccount) (emaildomain.MailboxClient, error) {
	switch account.Provider {
	case authdomain.ProviderGmail:
		return f.gmailClient(ctx, account)
	case authdomain.ProviderIMAP:
		password, err := f.box.Decrypt(account.IMAPPasswordEnc)
		if err != nil {
			return nil, emaildomain.NewMailboxError(emaildomain.ErrorKindAuthExpired, "decrypt credentials", err)
		}
		return imap.New(imap.Config{
			Host:         account.IMAPHost,
			Port:         account.IMAPPort,
			Username:     account.IMAPUsername,
			Password:     password,
			TrashMailbox: f.trashMailbox,
		}, f.logger), nil
	default:
		return nil, fmt.Errorf("unsupported mailbox provider: %s", account.Provider)
	}
}

// Watch registers Gmail push notifications for the account. IMAP accounts are ignored.
func (f *MailboxClients) Watch(ctx context.Context, account *authdomain.MailboxAccount, topic string) error {
	if account.Provider != authdomain.ProviderGmail || topic == "" {
		return nil
	}
	client, err := f.gmailClient(ctx, account)
	if err != nil {
		return err
	}
	return client.Watch(ctx, topic)
}

func (f *MailboxClients) gmailClient(ctx context.Context, account *authdomain.MailboxAccount) (*gmail.Client, error) {
	accessToken, err := f.box.Decrypt(account.AccessTokenEnc)
	if err != nil {
		return nil, emaildomain.NewMailboxError(emaildomain.ErrorKindAuthExpired, "decrypt credentials", err)
	}
	refreshToken, err := f.box.Decrypt(account.RefreshTokenEnc)
	if err != nil {
		return nil, emaildomain.NewMailboxError(emaildomain.ErrorKindAuthExpired, "decrypt credentials", err)
	}
	if accessToken == "" && refreshToken == "" {
		return nil, emaildomain.NewMailboxError(emaildomain.ErrorKindAuthExpired, "load credentials", fmt.Errorf("account has no stored tokens"))
	}

	accountID := account.ID
	return f.gmailService.Client(ctx, accessToken, refreshToken, func(token *oauth2.Token) error {
		accessEnc, err := f.box.Encrypt(token.AccessToken)
		if err != nil {
			return err
		}
		refresh := token.RefreshToken
		if refresh == "" {
			refresh = refreshToken
		}
		refreshEnc, err := f.box.Encrypt(refresh)
		if err != nil {
			return err
		}
		f.logger.WithField("account_id", accountID).Debug("[Mailbox] Persisting refreshed token")
		return f.accounts.UpdateTokens(accountID, accessEnc, refreshEnc)
	})
}
