package gmail

import (
	"context"
	"errors"
	"net"
	"net/http"

	emaildomain "inboxjanitor/internal/email/domain"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

var quotaReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
	"dailyLimitExceeded":    true,
}

// classifyError maps Gmail API failures onto mailbox error kinds
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return emaildomain.NewMailboxError(emaildomain.ErrorKindAuthExpired, op, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return emaildomain.NewMailboxError(emaildomain.ErrorKindAuthExpired, op, err)
		case apiErr.Code == http.StatusTooManyRequests:
			return emaildomain.NewMailboxError(emaildomain.ErrorKindQuotaExceeded, op, err)
		case apiErr.Code == http.StatusForbidden:
			for _, item := range apiErr.Errors {
				if quotaReasons[item.Reason] {
					return emaildomain.NewMailboxError(emaildomain.ErrorKindQuotaExceeded, op, err)
				}
			}
			return emaildomain.NewMailboxError(emaildomain.ErrorKindFeatureDisabled, op, err)
		case apiErr.Code == http.StatusNotFound:
			return emaildomain.NewMailboxError(emaildomain.ErrorKindNotFound, op, err)
		case apiErr.Code == http.StatusGatewayTimeout || apiErr.Code == http.StatusRequestTimeout:
			return emaildomain.NewMailboxError(emaildomain.ErrorKindTimeout, op, err)
		}
		return emaildomain.NewMailboxError(emaildomain.ErrorKindGeneric, op, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return emaildomain.NewMailboxError(emaildomain.ErrorKindTimeout, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return emaildomain.NewMailboxError(emaildomain.ErrorKindTimeout, op, err)
	}
	return emaildomain.NewMailboxError(emaildomain.ErrorKindGeneric, op, err)
}
