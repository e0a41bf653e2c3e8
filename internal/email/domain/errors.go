package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies provider and run failures
type ErrorKind string

const (
	ErrorKindAuthExpired     ErrorKind = "auth_expired"
	ErrorKindFeatureDisabled ErrorKind = "feature_disabled"
	ErrorKindQuotaExceeded   ErrorKind = "quota_exceeded"
	ErrorKindNotFound        ErrorKind = "not_found"
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindGeneric         ErrorKind = "generic"
)

var (
	ErrAccountNotFound           = errors.New("mailbox account not found")
	ErrSyncInProgress            = errors.New("a sync is already running for this mailbox account")
	ErrClassificationUnavailable = errors.New("classification provider unavailable")
	ErrBatchNotFound             = errors.New("delete batch not found")
	ErrMessageNotFound           = errors.New("message not found")
)

// MailboxError is returned by mailbox client adapters
type MailboxError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *MailboxError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *MailboxError) Unwrap() error {
	return e.Err
}

func NewMailboxError(kind ErrorKind, op string, err error) error {
	return &MailboxError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the error kind, defaulting to generic
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var mbErr *MailboxError
	if errors.As(err, &mbErr) {
		return mbErr.Kind
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	return ErrorKindGeneric
}

// RunError is a run-level failure surfaced to the caller of a sync run
type RunError struct {
	Kind      ErrorKind
	Resumable bool
	Message   string
	Err       error
}

func (e *RunError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Remediation returns operator-facing text for an error kind
func Remediation(kind ErrorKind) string {
	switch kind {
	case ErrorKindAuthExpired:
		return "Mailbox access has expired or was revoked. Reconnect the account to continue."
	case ErrorKindFeatureDisabled:
		return "The mailbox API is disabled or forbidden for this account. Enable API access and reconnect."
	case ErrorKindQuotaExceeded:
		return "The mailbox provider rate limit was reached. Progress is saved and will continue on the next run."
	case ErrorKindTimeout:
		return "The mailbox provider timed out. Progress is saved and will continue on the next run."
	case ErrorKindNotFound:
		return "The requested item no longer exists at the provider."
	default:
		return "An unexpected error occurred."
	}
}
