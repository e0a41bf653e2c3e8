package repository

import emaildomain "inboxjanitor/internal/email/domain"

// SenderStatisticRepository defines the interface for per-sender counters
type SenderStatisticRepository interface {
	// IncrementCounter adds one to a decision counter, creating the row if absent
	IncrementCounter(accountID, sender string, counter emaildomain.SenderCounter) error
	FindByAccountAndSender(accountID, sender string) (*emaildomain.SenderStatistic, error)
	FindByAccountAndSenders(accountID string, senders []string) ([]*emaildomain.SenderStatistic, error)
	ListByAccount(accountID string, limit int) ([]*emaildomain.SenderStatistic, error)
}
