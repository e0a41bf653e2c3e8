package delivery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	authdelivery "inboxjanitor/internal/auth/delivery"
	emaildomain "inboxjanitor/internal/email/domain"
	emaildto "inboxjanitor/internal/email/dto"
	"inboxjanitor/internal/email/usecase"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

const (
	defaultCandidateLimit = 100
	defaultSenderLimit    = 50
)

// JobQueue accepts background janitor runs
type JobQueue interface {
	QueueJob(job usecase.JanitorJob) bool
}

type EmailHandler struct {
	syncUsecase     usecase.SyncUsecase
	classifyUsecase usecase.ClassificationUsecase
	deletionUsecase usecase.DeletionUsecase
	learningUsecase usecase.LearningUsecase
	jobs            JobQueue
}

// NewEmailHandler wires the mailbox account routes. jobs may be nil, which disables background sync requests.
func NewEmailHandler(syncUc usecase.SyncUsecase, classifyUc usecase.ClassificationUsecase, deletionUc usecase.DeletionUsecase, learningUc usecase.LearningUsecase, jobs JobQueue) *EmailHandler {
	return &EmailHandler{
		syncUsecase:     syncUc,
		classifyUsecase: classifyUc,
		deletionUsecase: deletionUc,
		learningUsecase: learningUc,
		jobs:            jobs,
	}
}

func currentUserID(c *gin.Context) (string, bool) {
	user, ok := authdelivery.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found in context"})
		return "", false
	}
	return user.ID, true
}

func parseLimit(c *gin.Context, fallback int) int {
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

// RunSync advances the account's sync by one invocation. With ?background=true the
// full sync and classification run in the janitor worker instead.
func (h *EmailHandler) RunSync(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	accountID := c.Param("accountId")

	var req emaildto.RunSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if c.Query("background") == "true" {
		h.queueBackground(c, userID, accountID)
		return
	}

	opts := usecase.RunOptions{Budget: time.Duration(req.BudgetSeconds) * time.Second}
	result, err := h.syncUsecase.RunSync(c.Request.Context(), userID, accountID, opts)
	if err != nil {
		status, body := errorResponse(err)
		if result != nil {
			body["progress"] = result.Progress
			body["has_more"] = result.HasMore
			body["step_processed"] = result.StepProcessed
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *EmailHandler) queueBackground(c *gin.Context, userID, accountID string) {
	if h.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "background worker is not running"})
		return
	}
	// Resolves ownership before anything is queued
	if _, err := h.syncUsecase.GetStatus(userID, accountID); err != nil {
		writeError(c, err)
		return
	}
	queued := h.jobs.QueueJob(usecase.JanitorJob{UserID: userID, AccountID: accountID, Reason: "api"})
	c.JSON(http.StatusAccepted, gin.H{"queued": queued})
}

func (h *EmailHandler) GetSyncStatus(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	progress, err := h.syncUsecase.GetStatus(userID, c.Param("accountId"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"progress": progress, "has_more": progress.Status.HasMore()})
}

func (h *EmailHandler) SuggestDeletes(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	result, err := h.classifyUsecase.RunClassification(c.Request.Context(), userID, c.Param("accountId"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, emaildto.SuggestDeletesResponse{
		Evaluated:  result.Evaluated,
		Candidates: result.Candidates,
		Failed:     result.Failed,
	})
}

func (h *EmailHandler) ListCandidates(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	limit := parseLimit(c, defaultCandidateLimit)

	candidates, err := h.deletionUsecase.ListCandidates(userID, c.Param("accountId"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if candidates == nil {
		candidates = []*emaildomain.Message{}
	}

	c.JSON(http.StatusOK, emaildto.CandidatesResponse{
		Candidates: candidates,
		Total:      len(candidates),
		Limit:      limit,
	})
}

func wantsStream(c *gin.Context) bool {
	return c.Query("stream") == "true" || strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}

// ConfirmDelete trashes the selected candidates. Streaming clients receive a "progress"
// event per item and a final "done" (or "error") event.
func (h *EmailHandler) ConfirmDelete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	accountID := c.Param("accountId")

	var req emaildto.ConfirmDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !wantsStream(c) {
		summary, err := h.deletionUsecase.ConfirmDelete(c.Request.Context(), userID, accountID, req.IDs, nil)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
		return
	}

	// A client disconnect must not stop the batch half way
	ctx := context.WithoutCancel(c.Request.Context())

	streaming := false
	begin := func() {
		if streaming {
			return
		}
		streaming = true
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
	}
	send := func(event string, data any) {
		begin()
		c.SSEvent(event, data)
		c.Writer.Flush()
	}

	summary, err := h.deletionUsecase.ConfirmDelete(ctx, userID, accountID, req.IDs, func(ev usecase.ProgressEvent) {
		send("progress", ev)
	})
	if err != nil {
		if !streaming {
			writeError(c, err)
			return
		}
		_, body := errorResponse(err)
		send("error", body)
		return
	}

	send("done", summary)
}

func (h *EmailHandler) GetDeleteBatch(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	batch, err := h.deletionUsecase.GetBatch(userID, c.Param("accountId"), c.Param("batchId"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

func (h *EmailHandler) ManualDelete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req emaildto.MessageIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.deletionUsecase.ManualDelete(c.Request.Context(), userID, c.Param("accountId"), req.IDs)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *EmailHandler) KeepMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req emaildto.MessageIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.deletionUsecase.KeepMessages(userID, c.Param("accountId"), req.IDs)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *EmailHandler) ListSenders(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	summaries, err := h.learningUsecase.ListSenders(userID, c.Param("accountId"), parseLimit(c, defaultSenderLimit))
	if err != nil {
		writeError(c, err)
		return
	}

	senders := lo.Map(summaries, func(s *usecase.SenderSummary, _ int) emaildto.SenderResponse {
		return emaildto.SenderResponse{
			SenderEmail:          s.SenderEmail,
			TotalSeen:            s.TotalSeen,
			DeletedByAppCount:    s.DeletedByAppCount,
			ManuallyDeletedCount: s.ManuallyDeletedCount,
			ManuallyKeptCount:    s.ManuallyKeptCount,
			Penalty:              s.Penalty,
			KeepRatio:            s.KeepRatio,
		}
	})

	c.JSON(http.StatusOK, emaildto.SendersResponse{Senders: senders})
}
