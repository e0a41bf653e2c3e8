package repository

import authdomain "inboxjanitor/internal/auth/domain"

// UserRepository defines the interface for user operations
type UserRepository interface {
	FindByID(id string) (*authdomain.User, error)
	FindByEmail(email string) (*authdomain.User, error)
	// EnsureUser creates the user on first sight and returns the stored row
	EnsureUser(id, email, name string) (*authdomain.User, error)
	// Delete removes the user and, through cascades, every dependent row
	Delete(id string) error
}

// MailboxAccountRepository defines the interface for connected mailbox accounts
type MailboxAccountRepository interface {
	Create(account *authdomain.MailboxAccount) error
	FindByID(id string) (*authdomain.MailboxAccount, error)
	FindByIDForUser(userID, id string) (*authdomain.MailboxAccount, error)
	FindByUserID(userID string) ([]*authdomain.MailboxAccount, error)
	FindByEmailAddress(email string, provider authdomain.Provider) ([]*authdomain.MailboxAccount, error)
	UpdateTokens(id, accessTokenEnc, refreshTokenEnc string) error
	UpdateAutoIncludeSenders(id string, senders []string) error
	Delete(userID, id string) error
}

// FCMTokenRepository defines the interface for FCM token operations
type FCMTokenRepository interface {
	SaveToken(userID, token, deviceInfo string) error
	GetTokensByUserID(userID string) ([]authdomain.FCMToken, error)
	DeleteToken(token string) error
	DeleteUserToken(userID, token string) error
	DeleteTokensByUserID(userID string) error
}
