package dto

import authdomain "inboxjanitor/internal/auth/domain"

type RegisterFCMTokenRequest struct {
	Token      string `json:"token" binding:"required"`
	DeviceInfo string `json:"device_info"`
}

// ConnectAccountRequest carries credentials obtained by an external OAuth or IMAP setup flow
type ConnectAccountRequest struct {
	Provider     authdomain.Provider `json:"provider" binding:"required,oneof=gmail imap"`
	EmailAddress string              `json:"email_address" binding:"required,email"`
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token"`
	IMAPHost     string              `json:"imap_host"`
	IMAPPort     int                 `json:"imap_port"`
	IMAPUsername string              `json:"imap_username"`
	IMAPPassword string              `json:"imap_password"`
}

type AutoIncludeRequest struct {
	Senders []string `json:"senders"`
}

type AutoIncludeResponse struct {
	Senders []string `json:"senders"`
}

type MeResponse struct {
	User     *authdomain.User             `json:"user"`
	Accounts []*authdomain.MailboxAccount `json:"accounts"`
}
