package domain

import (
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// SenderStatistic holds per (account, sender) decision counters
type SenderStatistic struct {
	ID                   string     `json:"id" gorm:"primaryKey"`
	MailboxAccountID     string     `json:"mailbox_account_id" gorm:"not null"`
	SenderEmail          string     `json:"sender_email" gorm:"not null"`
	TotalSeen            int        `json:"total_seen"`
	DeletedByAppCount    int        `json:"deleted_by_app_count"`
	ManuallyDeletedCount int        `json:"manually_deleted_count"`
	ManuallyKeptCount    int        `json:"manually_kept_count"`
	LastEmailAt          *time.Time `json:"last_email_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func (SenderStatistic) TableName() string {
	return "sender_statistics"
}

// Actions is the number of explicit user decisions recorded for the sender
func (s *SenderStatistic) Actions() int {
	return s.ManuallyKeptCount + s.DeletedByAppCount + s.ManuallyDeletedCount
}

// SenderCounter names a decision counter column
type SenderCounter string

const (
	CounterDeletedByApp    SenderCounter = "deleted_by_app_count"
	CounterManuallyDeleted SenderCounter = "manually_deleted_count"
	CounterManuallyKept    SenderCounter = "manually_kept_count"
)

// ParseSender splits a From header into a lowercased address and a display name.
// Encoded words are decoded. Unparseable headers fall back to a best-effort split.
func ParseSender(from string) (address, name string) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", ""
	}

	var h mail.Header
	h.Set("From", from)
	if addrs, err := h.AddressList("From"); err == nil && len(addrs) > 0 {
		return strings.ToLower(addrs[0].Address), strings.TrimSpace(addrs[0].Name)
	}

	// "Name <addr>" with a malformed address part
	if lt := strings.LastIndex(from, "<"); lt >= 0 {
		gt := strings.LastIndex(from, ">")
		if gt > lt {
			address = strings.TrimSpace(from[lt+1 : gt])
		} else {
			address = strings.TrimSpace(from[lt+1:])
		}
		name = strings.Trim(strings.TrimSpace(from[:lt]), `"`)
		return strings.ToLower(address), name
	}
	return strings.ToLower(from), ""
}

// NormalizeAddress trims and lowercases a sender address
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
