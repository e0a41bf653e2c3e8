package domain

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenUpdateFunc is a callback function that handles token updates
type TokenUpdateFunc func(token *oauth2.Token) error

// ListQuery narrows a message id listing
type ListQuery struct {
	NewerThanDays int
}

type MessagePage struct {
	IDs                []string
	NextPageToken      string
	ResultSizeEstimate int
}

// MessageMetadata is the lightweight per-message view fetched during sync
type MessageMetadata struct {
	ID             string
	ThreadID       string
	From           string
	Subject        string
	Snippet        string
	InternalDateMs int64
	Labels         []string
}

// MailboxClient is implemented by provider adapters (Gmail, IMAP)
type MailboxClient interface {
	ListMessageIDs(ctx context.Context, query ListQuery, pageSize int, pageToken string) (*MessagePage, error)
	GetMessageMetadata(ctx context.Context, id string) (*MessageMetadata, error)
	GetThreadReplyStatus(ctx context.Context, threadID, ownerAddress string) (bool, error)
	Trash(ctx context.Context, id string) error
}
