package domain

import (
	"time"

	emaildomain "inboxjanitor/internal/email/domain"
)

type Provider string

const (
	ProviderGmail Provider = "gmail"
	ProviderIMAP  Provider = "imap"
)

// MailboxAccount is one connected mailbox owned by a user. Credentials are stored encrypted.
type MailboxAccount struct {
	ID                 string                  `json:"id" gorm:"primaryKey"`
	UserID             string                  `json:"user_id" gorm:"not null"`
	Provider           Provider                `json:"provider" gorm:"not null"`
	EmailAddress       string                  `json:"email_address" gorm:"not null"`
	AccessTokenEnc     string                  `json:"-" gorm:"column:access_token_enc"`
	RefreshTokenEnc    string                  `json:"-" gorm:"column:refresh_token_enc"`
	IMAPHost           string                  `json:"imap_host,omitempty" gorm:"column:imap_host"`
	IMAPPort           int                     `json:"imap_port,omitempty" gorm:"column:imap_port"`
	IMAPUsername       string                  `json:"imap_username,omitempty" gorm:"column:imap_username"`
	IMAPPasswordEnc    string                  `json:"-" gorm:"column:imap_password_enc"`
	AutoIncludeSenders emaildomain.StringArray `json:"auto_include_senders" gorm:"column:auto_include_senders;type:text"`
	CreatedAt          time.Time               `json:"created_at"`
	UpdatedAt          time.Time               `json:"updated_at"`
}

func (MailboxAccount) TableName() string {
	return "mailbox_accounts"
}
