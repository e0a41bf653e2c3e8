package usecase

import (
	"context"
	"time"

	authdomain "inboxjanitor/internal/auth/domain"
	authdto "inboxjanitor/internal/auth/dto"
)

// AuthUsecase validates bearer tokens issued by the identity provider and manages users
type AuthUsecase interface {
	// ValidateToken verifies the token and provisions the user on first sight
	ValidateToken(tokenString string) (*authdomain.User, error)
	IssueToken(userID, email, name string, ttl time.Duration) (string, error)
	DeleteUser(userID string) error
	RegisterFCMToken(userID string, req *authdto.RegisterFCMTokenRequest) error
	UnregisterFCMToken(userID, token string) error
}

// AccountUsecase manages the mailbox accounts of a user
type AccountUsecase interface {
	ConnectAccount(ctx context.Context, userID string, req *authdto.ConnectAccountRequest) (*authdomain.MailboxAccount, error)
	ListAccounts(userID string) ([]*authdomain.MailboxAccount, error)
	DeleteAccount(userID, accountID string) error
	GetAutoInclude(userID, accountID string) ([]string, error)
	SetAutoInclude(userID, accountID string, senders []string) ([]string, error)
}
