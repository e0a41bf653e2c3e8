package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	authdomain "inboxjanitor/internal/auth/domain"
	emaildomain "inboxjanitor/internal/email/domain"
	"inboxjanitor/internal/email/usecase"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSync struct {
	result    *usecase.SyncStepResult
	err       error
	status    *emaildomain.SyncProgress
	statusErr error
	gotOpts   usecase.RunOptions
	gotUser   string
}

func (s *stubSync) RunSync(ctx context.Context, userID, accountID string, opts usecase.RunOptions) (*usecase.SyncStepResult, error) {
	s.gotUser = userID
	s.gotOpts = opts
	return s.result, s.err
}

func (s *stubSync) GetStatus(userID, accountID string) (*emaildomain.SyncProgress, error) {
	return s.status, s.statusErr
}

type stubClassify struct {
	result *usecase.ClassificationResult
	err    error
}

func (s *stubClassify) RunClassification(ctx context.Context, userID, accountID string) (*usecase.ClassificationResult, error) {
	return s.result, s.err
}

type stubDeletion struct {
	candidates []*emaildomain.Message
	gotLimit   int
	events     []usecase.ProgressEvent
	summary    *usecase.DeleteSummary
	err        error
	gotIDs     []string
	batch      *emaildomain.DeleteBatch
	batchErr   error
	manual     *usecase.ManualResult
}

func (s *stubDeletion) ListCandidates(userID, accountID string, limit int) ([]*emaildomain.Message, error) {
	s.gotLimit = limit
	return s.candidates, s.err
}

func (s *stubDeletion) ConfirmDelete(ctx context.Context, userID, accountID string, ids []string, onProgress func(usecase.ProgressEvent)) (*usecase.DeleteSummary, error) {
	s.gotIDs = ids
	for _, ev := range s.events {
		if onProgress != nil {
			onProgress(ev)
		}
	}
	return s.summary, s.err
}

func (s *stubDeletion) GetBatch(userID, accountID, batchID string) (*emaildomain.DeleteBatch, error) {
	return s.batch, s.batchErr
}

func (s *stubDeletion) ManualDelete(ctx context.Context, userID, accountID string, ids []string) (*usecase.ManualResult, error) {
	s.gotIDs = ids
	return s.manual, s.err
}

func (s *stubDeletion) KeepMessages(userID, accountID string, ids []string) (*usecase.ManualResult, error) {
	s.gotIDs = ids
	return s.manual, s.err
}

type stubLearning struct {
	usecase.LearningUsecase
	summaries []*usecase.SenderSummary
}

func (s *stubLearning) ListSenders(userID, accountID string, limit int) ([]*usecase.SenderSummary, error) {
	return s.summaries, nil
}

type stubQueue struct {
	jobs []usecase.JanitorJob
}

func (q *stubQueue) QueueJob(job usecase.JanitorJob) bool {
	q.jobs = append(q.jobs, job)
	return true
}

type harness struct {
	sync     *stubSync
	classify *stubClassify
	deletion *stubDeletion
	learning *stubLearning
	queue    *stubQueue
	router   *gin.Engine
}

func newHarness(withUser bool) *harness {
	h := &harness{
		sync:     &stubSync{},
		classify: &stubClassify{},
		deletion: &stubDeletion{},
		learning: &stubLearning{},
		queue:    &stubQueue{},
	}
	handler := NewEmailHandler(h.sync, h.classify, h.deletion, h.learning, h.queue)

	r := gin.New()
	if withUser {
		r.Use(func(c *gin.Context) {
			c.Set("user", &authdomain.User{ID: "user-1", Email: "owner@example.com"})
			c.Next()
		})
	}
	accounts := r.Group("/accounts/:accountId")
	accounts.POST("/sync", handler.RunSync)
	accounts.GET("/sync", handler.GetSyncStatus)
	accounts.POST("/suggest-deletes", handler.SuggestDeletes)
	accounts.GET("/delete-candidates", handler.ListCandidates)
	accounts.POST("/confirm-delete", handler.ConfirmDelete)
	accounts.GET("/delete-batches/:batchId", handler.GetDeleteBatch)
	accounts.POST("/messages/delete", handler.ManualDelete)
	accounts.POST("/messages/keep", handler.KeepMessages)
	accounts.GET("/senders", handler.ListSenders)
	h.router = r
	return h
}

func (h *harness) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestRunSyncPassesBudget(t *testing.T) {
	h := newHarness(true)
	h.sync.result = &usecase.SyncStepResult{
		Progress: &emaildomain.SyncProgress{ID: "run-1", Status: emaildomain.SyncStatusInProgress, Processed: 10},
		HasMore:  true,
	}

	w := h.do(http.MethodPost, "/accounts/acc-1/sync", `{"budget_seconds": 30}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30*time.Second, h.sync.gotOpts.Budget)
	assert.Equal(t, "user-1", h.sync.gotUser)
	body := decode(t, w)
	assert.Equal(t, true, body["has_more"])
}

func TestRunSyncAcceptsEmptyBody(t *testing.T) {
	h := newHarness(true)
	h.sync.result = &usecase.SyncStepResult{Progress: &emaildomain.SyncProgress{Status: emaildomain.SyncStatusCompleted}}

	w := h.do(http.MethodPost, "/accounts/acc-1/sync", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, h.sync.gotOpts.Budget)
}

func TestRunSyncRejectsInvalidBudget(t *testing.T) {
	h := newHarness(true)

	w := h.do(http.MethodPost, "/accounts/acc-1/sync", `{"budget_seconds": -5}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunSyncErrorMapping(t *testing.T) {
	runErr := func(kind emaildomain.ErrorKind, resumable bool) error {
		return &emaildomain.RunError{Kind: kind, Resumable: resumable, Message: emaildomain.Remediation(kind), Err: errors.New("provider said no")}
	}

	tests := []struct {
		name      string
		err       error
		status    int
		kind      string
		resumable bool
	}{
		{"auth expired", runErr(emaildomain.ErrorKindAuthExpired, false), http.StatusUnauthorized, "auth_expired", false},
		{"feature disabled", runErr(emaildomain.ErrorKindFeatureDisabled, false), http.StatusForbidden, "feature_disabled", false},
		{"quota", runErr(emaildomain.ErrorKindQuotaExceeded, true), http.StatusTooManyRequests, "quota_exceeded", true},
		{"timeout", runErr(emaildomain.ErrorKindTimeout, true), http.StatusServiceUnavailable, "timeout", true},
		{"generic", runErr(emaildomain.ErrorKindGeneric, false), http.StatusInternalServerError, "generic", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(true)
			h.sync.result = &usecase.SyncStepResult{Progress: &emaildomain.SyncProgress{ID: "run-1", Processed: 7}}
			h.sync.err = tt.err

			w := h.do(http.MethodPost, "/accounts/acc-1/sync", "")

			require.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.kind, body["kind"])
			assert.Equal(t, tt.resumable, body["resumable"])
			assert.NotEmpty(t, body["remediation"])
			require.Contains(t, body, "progress")
			progress := body["progress"].(map[string]any)
			assert.EqualValues(t, 7, progress["processed"])
		})
	}
}

func TestRunSyncSentinelErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"lease conflict", emaildomain.ErrSyncInProgress, http.StatusConflict},
		{"unknown account", emaildomain.ErrAccountNotFound, http.StatusNotFound},
		{"wrapped unknown account", fmt.Errorf("load: %w", emaildomain.ErrAccountNotFound), http.StatusNotFound},
		{"plain", errors.New("database is gone"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(true)
			h.sync.err = tt.err

			w := h.do(http.MethodPost, "/accounts/acc-1/sync", "")

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, decode(t, w)["error"], tt.err.Error())
		})
	}
}

func TestRunSyncBackgroundQueuesJob(t *testing.T) {
	h := newHarness(true)
	h.sync.status = &emaildomain.SyncProgress{Status: emaildomain.SyncStatusPending}

	w := h.do(http.MethodPost, "/accounts/acc-1/sync?background=true", "")

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, h.queue.jobs, 1)
	assert.Equal(t, usecase.JanitorJob{UserID: "user-1", AccountID: "acc-1", Reason: "api"}, h.queue.jobs[0])
}

func TestRunSyncBackgroundChecksOwnership(t *testing.T) {
	h := newHarness(true)
	h.sync.statusErr = emaildomain.ErrAccountNotFound

	w := h.do(http.MethodPost, "/accounts/acc-1/sync?background=true", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, h.queue.jobs)
}

func TestGetSyncStatus(t *testing.T) {
	tests := []struct {
		status  emaildomain.SyncStatus
		hasMore bool
	}{
		{emaildomain.SyncStatusPending, true},
		{emaildomain.SyncStatusInProgress, true},
		{emaildomain.SyncStatusTimeout, true},
		{emaildomain.SyncStatusCompleted, false},
		{emaildomain.SyncStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			h := newHarness(true)
			h.sync.status = &emaildomain.SyncProgress{ID: "run-1", Status: tt.status, Processed: 40, TotalMessages: 120}

			w := h.do(http.MethodGet, "/accounts/acc-1/sync", "")

			require.Equal(t, http.StatusOK, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.hasMore, body["has_more"])
			assert.Equal(t, string(tt.status), body["progress"].(map[string]any)["status"])
		})
	}
}

func TestSuggestDeletes(t *testing.T) {
	h := newHarness(true)
	h.classify.result = &usecase.ClassificationResult{Evaluated: 120, Candidates: 30, Failed: 50}

	w := h.do(http.MethodPost, "/accounts/acc-1/suggest-deletes", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 120, body["evaluated"])
	assert.EqualValues(t, 30, body["candidates"])
	assert.EqualValues(t, 50, body["failed"])
}

func TestSuggestDeletesUnavailable(t *testing.T) {
	h := newHarness(true)
	h.classify.err = fmt.Errorf("%w: all providers failed", emaildomain.ErrClassificationUnavailable)

	w := h.do(http.MethodPost, "/accounts/acc-1/suggest-deletes", "")

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, "classification_unavailable", body["kind"])
	assert.Equal(t, true, body["resumable"])
}

func TestListCandidates(t *testing.T) {
	h := newHarness(true)

	w := h.do(http.MethodGet, "/accounts/acc-1/delete-candidates", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultCandidateLimit, h.deletion.gotLimit)
	assert.JSONEq(t, `{"candidates": [], "total": 0, "limit": 100}`, w.Body.String())

	h.deletion.candidates = []*emaildomain.Message{{ID: "m1"}, {ID: "m2"}}
	w = h.do(http.MethodGet, "/accounts/acc-1/delete-candidates?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, h.deletion.gotLimit)
	assert.EqualValues(t, 2, decode(t, w)["total"])

	h.do(http.MethodGet, "/accounts/acc-1/delete-candidates?limit=abc", "")
	assert.Equal(t, defaultCandidateLimit, h.deletion.gotLimit)
}

func TestConfirmDeleteJSON(t *testing.T) {
	h := newHarness(true)
	h.deletion.summary = &usecase.DeleteSummary{BatchID: "batch-1", Status: emaildomain.DeleteBatchCompleted, Requested: 2, Deleted: 2}

	w := h.do(http.MethodPost, "/accounts/acc-1/confirm-delete", `{"ids": ["m1", "m2"]}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"m1", "m2"}, h.deletion.gotIDs)
	body := decode(t, w)
	assert.Equal(t, "batch-1", body["batch_id"])
	assert.EqualValues(t, 2, body["deleted"])
}

func TestConfirmDeleteEmptySelection(t *testing.T) {
	h := newHarness(true)
	h.deletion.summary = &usecase.DeleteSummary{BatchID: "batch-1", Status: emaildomain.DeleteBatchCompleted}

	w := h.do(http.MethodPost, "/accounts/acc-1/confirm-delete", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, h.deletion.gotIDs)
}

func TestConfirmDeleteStreamsProgress(t *testing.T) {
	h := newHarness(true)
	h.deletion.events = []usecase.ProgressEvent{
		{BatchID: "batch-1", MessageID: "m1", Decision: emaildomain.DecisionDeleted, Deleted: 1, Remaining: 1, Total: 2},
		{BatchID: "batch-1", MessageID: "m2", Decision: emaildomain.DecisionSkipped, Deleted: 1, Skipped: 1, Total: 2},
		{BatchID: "batch-1", Deleted: 1, Skipped: 1, Total: 2, Done: true, Status: string(emaildomain.DeleteBatchCompleted)},
	}
	h.deletion.summary = &usecase.DeleteSummary{BatchID: "batch-1", Status: emaildomain.DeleteBatchCompleted, Requested: 2, Deleted: 1, Skipped: 1}

	for _, tc := range []struct {
		name    string
		path    string
		headers []string
	}{
		{"query flag", "/accounts/acc-1/confirm-delete?stream=true", nil},
		{"accept header", "/accounts/acc-1/confirm-delete", []string{"Accept", "text/event-stream"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w := h.do(http.MethodPost, tc.path, `{"ids": ["m1", "m2"]}`, tc.headers...)

			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

			out := w.Body.String()
			assert.Equal(t, 3, strings.Count(out, "event:progress"))
			assert.Equal(t, 1, strings.Count(out, "event:done"))
			assert.Less(t, strings.LastIndex(out, "event:progress"), strings.Index(out, "event:done"))
			assert.Contains(t, out, `"message_id":"m1"`)
		})
	}
}

func TestConfirmDeleteStreamEarlyErrorIsJSON(t *testing.T) {
	h := newHarness(true)
	h.deletion.err = emaildomain.ErrAccountNotFound

	w := h.do(http.MethodPost, "/accounts/acc-1/confirm-delete?stream=true", `{"ids": ["m1"]}`)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestConfirmDeleteStreamLateErrorIsEvent(t *testing.T) {
	h := newHarness(true)
	h.deletion.events = []usecase.ProgressEvent{{BatchID: "batch-1", MessageID: "m1", Decision: emaildomain.DecisionDeleted, Deleted: 1, Total: 2}}
	h.deletion.err = errors.New("failed to record item")

	w := h.do(http.MethodPost, "/accounts/acc-1/confirm-delete?stream=true", `{"ids": ["m1", "m2"]}`)

	require.Equal(t, http.StatusOK, w.Code)
	out := w.Body.String()
	assert.Contains(t, out, "event:progress")
	assert.Contains(t, out, "event:error")
	assert.NotContains(t, out, "event:done")
}

func TestGetDeleteBatch(t *testing.T) {
	h := newHarness(true)
	h.deletion.batchErr = emaildomain.ErrBatchNotFound

	w := h.do(http.MethodGet, "/accounts/acc-1/delete-batches/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	h.deletion.batchErr = nil
	h.deletion.batch = &emaildomain.DeleteBatch{ID: "batch-1", Status: emaildomain.DeleteBatchCompleted, Deleted: 3}
	w = h.do(http.MethodGet, "/accounts/acc-1/delete-batches/batch-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "batch-1", decode(t, w)["id"])
}

func TestManualActionsRequireIDs(t *testing.T) {
	h := newHarness(true)

	for _, path := range []string{"/accounts/acc-1/messages/delete", "/accounts/acc-1/messages/keep"} {
		assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, path, "").Code, path)
		assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, path, `{"ids": []}`).Code, path)
	}
}

func TestManualDeleteAndKeep(t *testing.T) {
	h := newHarness(true)
	h.deletion.manual = &usecase.ManualResult{Updated: 1, Skipped: 1, Failures: []usecase.ManualFailure{{ID: "m2", Reason: "already deleted"}}}

	w := h.do(http.MethodPost, "/accounts/acc-1/messages/delete", `{"ids": ["m1", "m2"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"m1", "m2"}, h.deletion.gotIDs)
	assert.EqualValues(t, 1, decode(t, w)["updated"])

	w = h.do(http.MethodPost, "/accounts/acc-1/messages/keep", `{"ids": ["m3"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"m3"}, h.deletion.gotIDs)
}

func TestListSenders(t *testing.T) {
	h := newHarness(true)
	h.learning.summaries = []*usecase.SenderSummary{{
		SenderStatistic: &emaildomain.SenderStatistic{SenderEmail: "news@shop.example", TotalSeen: 12, ManuallyKeptCount: 4, DeletedByAppCount: 1},
		Penalty:         0.5,
		KeepRatio:       0.8,
	}}

	w := h.do(http.MethodGet, "/accounts/acc-1/senders", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Senders []map[string]any `json:"senders"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Senders, 1)
	assert.Equal(t, "news@shop.example", body.Senders[0]["sender_email"])
	assert.InDelta(t, 0.5, body.Senders[0]["penalty"], 1e-9)
	assert.EqualValues(t, 4, body.Senders[0]["manually_kept_count"])
}

func TestMissingUserIsUnauthorized(t *testing.T) {
	h := newHarness(false)

	w := h.do(http.MethodGet, "/accounts/acc-1/delete-candidates", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
