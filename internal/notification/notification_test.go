package notification

import (
	"context"
	"io"
	"sync"
	"testing"

	authrepo "inboxjanitor/internal/auth/repository"
	"inboxjanitor/internal/email/usecase"
	"inboxjanitor/internal/testutil"
	"inboxjanitor/pkg/fcm"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []usecase.JanitorJob
}

func (q *recordingQueue) QueueJob(job usecase.JanitorJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return true
}

func TestHandleDataQueuesJobAndSkipsDuplicates(t *testing.T) {
	db := testutil.NewDB(t)
	user, account := testutil.SeedAccount(t, db)
	queue := &recordingQueue{}
	s := newService(authrepo.NewMailboxAccountRepository(db), queue, quietLogger())

	payload := []byte(`{"emailAddress":"` + account.EmailAddress + `","historyId":100}`)
	assert.Equal(t, 1, s.HandleData(payload))
	assert.Equal(t, 0, s.HandleData(payload))
	assert.Equal(t, 0, s.HandleData([]byte(`{"emailAddress":"`+account.EmailAddress+`","historyId":99}`)))
	assert.Equal(t, 1, s.HandleData([]byte(`{"emailAddress":"`+account.EmailAddress+`","historyId":101}`)))

	require.Len(t, queue.jobs, 2)
	assert.Equal(t, usecase.JanitorJob{UserID: user.ID, AccountID: account.ID, Reason: "gmail_push"}, queue.jobs[0])
}

func TestHandleDataIgnoresUnknownAndMalformed(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedAccount(t, db)
	queue := &recordingQueue{}
	s := newService(authrepo.NewMailboxAccountRepository(db), queue, quietLogger())

	assert.Equal(t, 0, s.HandleData([]byte(`not json`)))
	assert.Equal(t, 0, s.HandleData([]byte(`{"historyId":5}`)))
	assert.Equal(t, 0, s.HandleData([]byte(`{"emailAddress":"nobody@example.com","historyId":5}`)))
	assert.Empty(t, queue.jobs)
}

type fakeSender struct {
	tokens  []string
	sent    fcm.NotificationData
	invalid []string
}

func (f *fakeSender) SendToDevices(ctx context.Context, tokens []string, n fcm.NotificationData) ([]string, error) {
	f.tokens = tokens
	f.sent = n
	return f.invalid, nil
}

func TestPushNotifierSendsAndPrunes(t *testing.T) {
	db := testutil.NewDB(t)
	user, account := testutil.SeedAccount(t, db)
	tokens := authrepo.NewFCMTokenRepository(db)
	require.NoError(t, tokens.SaveToken(user.ID, "good-token", "web"))
	require.NoError(t, tokens.SaveToken(user.ID, "stale-token", "web"))

	sender := &fakeSender{invalid: []string{"stale-token"}}
	n := NewPushNotifier(tokens, sender, quietLogger())
	require.NoError(t, n.NotifyCandidates(context.Background(), user.ID, account.ID, 3))

	assert.ElementsMatch(t, []string{"good-token", "stale-token"}, sender.tokens)
	assert.Equal(t, "3 emails are ready to clean up", sender.sent.Title)
	assert.Equal(t, account.ID, sender.sent.Data["account_id"])

	left, err := tokens.GetTokensByUserID(user.ID)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "good-token", left[0].Token)
}

func TestPushNotifierWithoutTokens(t *testing.T) {
	db := testutil.NewDB(t)
	user, account := testutil.SeedAccount(t, db)
	sender := &fakeSender{}
	n := NewPushNotifier(authrepo.NewFCMTokenRepository(db), sender, quietLogger())

	require.NoError(t, n.NotifyCandidates(context.Background(), user.ID, account.ID, 1))
	assert.Nil(t, sender.tokens)
}

