package delivery

import (
	"errors"
	"net/http"

	emaildomain "inboxjanitor/internal/email/domain"

	"github.com/gin-gonic/gin"
)

func statusForKind(kind emaildomain.ErrorKind) int {
	switch kind {
	case emaildomain.ErrorKindAuthExpired:
		return http.StatusUnauthorized
	case emaildomain.ErrorKindFeatureDisabled:
		return http.StatusForbidden
	case emaildomain.ErrorKindQuotaExceeded:
		return http.StatusTooManyRequests
	case emaildomain.ErrorKindTimeout:
		return http.StatusServiceUnavailable
	case emaildomain.ErrorKindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse maps a usecase error to a status code and body
func errorResponse(err error) (int, gin.H) {
	switch {
	case errors.Is(err, emaildomain.ErrAccountNotFound),
		errors.Is(err, emaildomain.ErrBatchNotFound),
		errors.Is(err, emaildomain.ErrMessageNotFound):
		return http.StatusNotFound, gin.H{"error": err.Error()}
	case errors.Is(err, emaildomain.ErrSyncInProgress):
		return http.StatusConflict, gin.H{"error": err.Error(), "resumable": true}
	case errors.Is(err, emaildomain.ErrClassificationUnavailable):
		return http.StatusServiceUnavailable, gin.H{
			"error":       err.Error(),
			"kind":        "classification_unavailable",
			"resumable":   true,
			"remediation": "No AI provider could classify the messages. Nothing was changed; try again later.",
		}
	}

	var runErr *emaildomain.RunError
	if errors.As(err, &runErr) {
		return statusForKind(runErr.Kind), gin.H{
			"error":       err.Error(),
			"kind":        runErr.Kind,
			"resumable":   runErr.Resumable,
			"remediation": runErr.Message,
		}
	}

	var mbErr *emaildomain.MailboxError
	if errors.As(err, &mbErr) {
		kind := mbErr.Kind
		return statusForKind(kind), gin.H{
			"error":       err.Error(),
			"kind":        kind,
			"resumable":   kind == emaildomain.ErrorKindQuotaExceeded || kind == emaildomain.ErrorKindTimeout,
			"remediation": emaildomain.Remediation(kind),
		}
	}

	return http.StatusInternalServerError, gin.H{"error": err.Error()}
}

func writeError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	c.JSON(status, body)
}
