package usecase

import (
	"fmt"

	authdomain "inboxjanitor/internal/auth/domain"
	authrepo "inboxjanitor/internal/auth/repository"
	emaildomain "inboxjanitor/internal/email/domain"
)

// ownedAccount loads the account and checks it belongs to the user. An empty
// userID skips the ownership check (trusted callers such as the CLI and workers).
func ownedAccount(accounts authrepo.MailboxAccountRepository, userID, accountID string) (*authdomain.MailboxAccount, error) {
	var (
		account *authdomain.MailboxAccount
		err     error
	)
	if userID == "" {
		account, err = accounts.FindByID(accountID)
	} else {
		account, err = accounts.FindByIDForUser(userID, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load mailbox account: %w", err)
	}
	if account == nil {
		return nil, emaildomain.ErrAccountNotFound
	}
	return account, nil
}
