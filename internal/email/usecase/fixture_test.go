package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	authdomain "inboxjanitor/internal/auth/domain"
	authrepo "inboxjanitor/internal/auth/repository"
	emaildomain "inboxjanitor/internal/email/domain"
	"inboxjanitor/internal/email/repository"
	"inboxjanitor/internal/testutil"
	"inboxjanitor/pkg/ai"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fixture struct {
	db       *gorm.DB
	user     *authdomain.User
	account  *authdomain.MailboxAccount
	accounts authrepo.MailboxAccountRepository
	messages repository.MessageRepository
	senders  repository.SenderStatisticRepository
	progress repository.SyncProgressRepository
	batches  repository.DeleteBatchRepository
	learning LearningUsecase
	logger   *logrus.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	user, account := testutil.SeedAccount(t, db)
	f := &fixture{
		db:       db,
		user:     user,
		account:  account,
		accounts: authrepo.NewMailboxAccountRepository(db),
		messages: repository.NewMessageRepository(db),
		senders:  repository.NewSenderStatisticRepository(db),
		progress: repository.NewSyncProgressRepository(db),
		batches:  repository.NewDeleteBatchRepository(db),
		logger:   quietLogger(),
	}
	f.learning = NewLearningUsecase(f.accounts, f.messages, f.senders, f.logger)
	return f
}

type messageOption func(*emaildomain.Message)

func asCandidate(score float64) messageOption {
	return func(m *emaildomain.Message) {
		m.AIDeleteScore = &score
		m.IsDeleteCandidate = true
	}
}

func (f *fixture) seedMessage(t *testing.T, remoteID, sender string, receivedAt time.Time, opts ...messageOption) *emaildomain.Message {
	t.Helper()

	now := time.Now().UTC()
	msg := &emaildomain.Message{
		ID:               uuid.New().String(),
		MailboxAccountID: f.account.ID,
		RemoteID:         remoteID,
		ThreadID:         remoteID,
		SenderEmail:      sender,
		Subject:          "subject " + remoteID,
		Snippet:          "snippet " + remoteID,
		ReceivedAt:       receivedAt.UTC(),
		Labels:           emaildomain.StringArray{"INBOX"},
		AICategory:       emaildomain.CategoryUnknown,
		LastSyncedAt:     now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, opt := range opts {
		opt(msg)
	}
	require.NoError(t, f.db.Create(msg).Error)
	return msg
}

func (f *fixture) reload(t *testing.T, id string) *emaildomain.Message {
	t.Helper()
	msg, err := f.messages.FindByID(id)
	require.NoError(t, err)
	require.NotNil(t, msg)
	return msg
}

func (f *fixture) stat(t *testing.T, sender string) *emaildomain.SenderStatistic {
	t.Helper()
	stat, err := f.senders.FindByAccountAndSender(f.account.ID, sender)
	require.NoError(t, err)
	require.NotNil(t, stat)
	return stat
}

// fakeClock is advanced explicitly by tests and fakes
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeMailbox serves a fixed list of messages with offset page tokens
type fakeMailbox struct {
	mu sync.Mutex

	ids     []string
	meta    map[string]*emaildomain.MessageMetadata
	replies map[string]bool

	listErr  error
	metaErr  map[string]error
	trashErr map[string]error

	fetches map[string]int
	trashed []string

	// onFetch runs on every metadata fetch
	onFetch func()
}

func newFakeMailbox(n int, sender func(i int) string) *fakeMailbox {
	mb := &fakeMailbox{
		meta:     make(map[string]*emaildomain.MessageMetadata),
		replies:  make(map[string]bool),
		metaErr:  make(map[string]error),
		trashErr: make(map[string]error),
		fetches:  make(map[string]int),
	}
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("m%03d", i)
		mb.ids = append(mb.ids, id)
		mb.meta[id] = &emaildomain.MessageMetadata{
			ID:             id,
			ThreadID:       "t" + id,
			From:           fmt.Sprintf("Sender %d <%s>", i, sender(i)),
			Subject:        "Subject " + id,
			Snippet:        "Snippet " + id,
			InternalDateMs: base.Add(time.Duration(i) * time.Hour).UnixMilli(),
			Labels:         []string{"INBOX"},
		}
	}
	return mb
}

func (m *fakeMailbox) ListMessageIDs(ctx context.Context, query emaildomain.ListQuery, pageSize int, pageToken string) (*emaildomain.MessagePage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}
	offset := 0
	if pageToken != "" {
		offset, _ = strconv.Atoi(pageToken)
	}
	end := min(offset+pageSize, len(m.ids))
	page := &emaildomain.MessagePage{
		IDs:                append([]string(nil), m.ids[offset:end]...),
		ResultSizeEstimate: len(m.ids),
	}
	if end < len(m.ids) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (m *fakeMailbox) GetMessageMetadata(ctx context.Context, id string) (*emaildomain.MessageMetadata, error) {
	m.mu.Lock()
	m.fetches[id]++
	onFetch := m.onFetch
	err := m.metaErr[id]
	meta, ok := m.meta[id]
	m.mu.Unlock()

	if onFetch != nil {
		onFetch()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, emaildomain.NewMailboxError(emaildomain.ErrorKindNotFound, "get message", fmt.Errorf("no message %s", id))
	}
	copied := *meta
	return &copied, nil
}

func (m *fakeMailbox) GetThreadReplyStatus(ctx context.Context, threadID, ownerAddress string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replies[threadID], nil
}

func (m *fakeMailbox) Trash(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trashErr[id]; err != nil {
		return err
	}
	m.trashed = append(m.trashed, id)
	return nil
}

func (m *fakeMailbox) setMetaErr(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.metaErr, id)
		return
	}
	m.metaErr[id] = err
}

func (m *fakeMailbox) fetchCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches[id]
}

type fakeFactory struct {
	client emaildomain.MailboxClient
	err    error
}

func (f *fakeFactory) ClientFor(ctx context.Context, account *authdomain.MailboxAccount) (emaildomain.MailboxClient, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

// fakeClassifier decodes the prompt and answers through respond
type fakeClassifier struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	respond func(items []promptItem) ([]ai.ClassifiedMessage, error)
}

func (c *fakeClassifier) Classify(ctx context.Context, req ai.ClassificationRequest) ([]ai.ClassifiedMessage, error) {
	c.mu.Lock()
	c.calls++
	c.prompts = append(c.prompts, req.Prompt)
	c.mu.Unlock()

	_, payload, found := strings.Cut(req.Prompt, "\n")
	if !found {
		return nil, fmt.Errorf("unexpected prompt %q", req.Prompt)
	}
	var decoded struct {
		Messages []promptItem `json:"messages"`
	}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, err
	}
	return c.respond(decoded.Messages)
}

func scoreAll(category string, score float64) func(items []promptItem) ([]ai.ClassifiedMessage, error) {
	return func(items []promptItem) ([]ai.ClassifiedMessage, error) {
		out := make([]ai.ClassifiedMessage, 0, len(items))
		for _, it := range items {
			out = append(out, ai.ClassifiedMessage{ID: it.ID, Category: category, Score: score, Reason: "looks like bulk mail"})
		}
		return out, nil
	}
}
