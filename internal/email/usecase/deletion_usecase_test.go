package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	emaildomain "inboxjanitor/internal/email/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDeletion(f *fixture, mb *fakeMailbox) DeletionUsecase {
	return NewDeletionUsecase(f.accounts, f.messages, f.batches, f.learning, &fakeFactory{client: mb}, f.logger)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *eventRecorder) record(ev ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func TestConfirmDeleteSymmetry(t *testing.T) {
	f := newFixture(t)
	mb := newFakeMailbox(0, fiveSenders)

	c1 := f.seedMessage(t, "c1", "deals@shop.com", daysAgo(30), asCandidate(0.95))
	c2 := f.seedMessage(t, "c2", "deals@shop.com", daysAgo(30), asCandidate(0.85))
	c3 := f.seedMessage(t, "c3", "friend@example.com", daysAgo(30), asCandidate(0.75))
	plain := f.seedMessage(t, "n1", "friend@example.com", daysAgo(30))
	mb.trashErr["c2"] = errors.New("provider said no")

	rec := &eventRecorder{}
	summary, err := newDeletion(f, mb).ConfirmDelete(context.Background(), f.user.ID, f.account.ID,
		[]string{c1.ID, c2.ID, c1.ID, "missing-id"}, rec.record)
	require.NoError(t, err)

	assert.Equal(t, emaildomain.DeleteBatchCompleted, summary.Status)
	assert.Equal(t, 3, summary.Requested)
	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, summary.Errors)
	assert.Equal(t, []string{"c1"}, mb.trashed)

	deleted := f.reload(t, c1.ID)
	assert.True(t, deleted.DeletedByApp)
	assert.True(t, deleted.ManuallyDeleted)
	assert.False(t, deleted.IsDeleteCandidate)

	failed := f.reload(t, c2.ID)
	assert.False(t, failed.DeletedByApp)
	assert.True(t, failed.IsDeleteCandidate)

	kept := f.reload(t, c3.ID)
	assert.True(t, kept.ManuallyKept)
	assert.False(t, kept.IsDeleteCandidate)

	untouched := f.reload(t, plain.ID)
	assert.False(t, untouched.ManuallyKept)

	assert.Equal(t, 1, f.stat(t, "deals@shop.com").DeletedByAppCount)
	assert.Equal(t, 1, f.stat(t, "friend@example.com").ManuallyKeptCount)

	batch, err := newDeletion(f, mb).GetBatch(f.user.ID, f.account.ID, summary.BatchID)
	require.NoError(t, err)
	require.Len(t, batch.Items, 4)
	decisions := map[string]emaildomain.DeleteDecision{}
	for _, item := range batch.Items {
		decisions[item.MessageID] = item.Decision
	}
	assert.Equal(t, map[string]emaildomain.DeleteDecision{
		c1.ID:        emaildomain.DecisionDeleted,
		c2.ID:        emaildomain.DecisionError,
		"missing-id": emaildomain.DecisionError,
		c3.ID:        emaildomain.DecisionSkipped,
	}, decisions)
	assert.NotNil(t, batch.CompletedAt)
	assert.Equal(t, emaildomain.DeleteBatchCompleted, batch.Status)
}

func TestConfirmDeleteProgressIsMonotonic(t *testing.T) {
	f := newFixture(t)
	mb := newFakeMailbox(0, fiveSenders)
	var ids []string
	for _, remote := range []string{"a", "b", "c"} {
		ids = append(ids, f.seedMessage(t, remote, "x@example.com", daysAgo(30), asCandidate(0.9)).ID)
	}
	f.seedMessage(t, "d", "y@example.com", daysAgo(30), asCandidate(0.8))
	mb.trashErr["b"] = errors.New("nope")

	rec := &eventRecorder{}
	_, err := newDeletion(f, mb).ConfirmDelete(context.Background(), f.user.ID, f.account.ID, ids, rec.record)
	require.NoError(t, err)

	require.Len(t, rec.events, 5)
	prev := ProgressEvent{Remaining: 4}
	for i, ev := range rec.events {
		assert.GreaterOrEqual(t, ev.Deleted, prev.Deleted, "event %d", i)
		assert.GreaterOrEqual(t, ev.Skipped, prev.Skipped, "event %d", i)
		assert.GreaterOrEqual(t, ev.Errors, prev.Errors, "event %d", i)
		assert.LessOrEqual(t, ev.Remaining, prev.Remaining, "event %d", i)
		assert.Equal(t, 4, ev.Total)
		assert.Equal(t, ev.Total, ev.Deleted+ev.Skipped+ev.Errors+ev.Remaining, "event %d", i)
		prev = ev
	}
	last := rec.events[len(rec.events)-1]
	assert.True(t, last.Done)
	assert.Equal(t, "completed", last.Status)
	assert.Zero(t, last.Remaining)
	for _, ev := range rec.events[:len(rec.events)-1] {
		assert.False(t, ev.Done)
	}
}

func TestConfirmDeleteFailsWhenNothingDeleted(t *testing.T) {
	f := newFixture(t)
	mb := newFakeMailbox(0, fiveSenders)
	msg := f.seedMessage(t, "a", "x@example.com", daysAgo(30), asCandidate(0.9))
	mb.trashErr["a"] = emaildomain.NewMailboxError(emaildomain.ErrorKindAuthExpired, "trash", errors.New("revoked"))

	summary, err := newDeletion(f, mb).ConfirmDelete(context.Background(), f.user.ID, f.account.ID, []string{msg.ID}, nil)
	require.NoError(t, err)
	assert.Equal(t, emaildomain.DeleteBatchFailed, summary.Status)
	assert.Equal(t, 1, summary.Errors)
}

func TestConfirmDeleteSkipsAlreadyDeleted(t *testing.T) {
	f := newFixture(t)
	mb := newFakeMailbox(0, fiveSenders)
	msg := f.seedMessage(t, "a", "x@example.com", daysAgo(30), func(m *emaildomain.Message) { m.DeletedByApp = true })

	summary, err := newDeletion(f, mb).ConfirmDelete(context.Background(), f.user.ID, f.account.ID, []string{msg.ID}, nil)
	require.NoError(t, err)
	assert.Equal(t, emaildomain.DeleteBatchCompleted, summary.Status)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, mb.trashed)
}

func TestConfirmDeleteWithEmptySelectionKeepsAllCandidates(t *testing.T) {
	f := newFixture(t)
	mb := newFakeMailbox(0, fiveSenders)
	a := f.seedMessage(t, "a", "x@example.com", daysAgo(30), asCandidate(0.9))
	b := f.seedMessage(t, "b", "x@example.com", daysAgo(30), asCandidate(0.8))

	summary, err := newDeletion(f, mb).ConfirmDelete(context.Background(), f.user.ID, f.account.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Requested)
	assert.Equal(t, 2, summary.Skipped)
	assert.True(t, f.reload(t, a.ID).ManuallyKept)
	assert.True(t, f.reload(t, b.ID).ManuallyKept)
	assert.Equal(t, 2, f.stat(t, "x@example.com").ManuallyKeptCount)

	candidates, err := newDeletion(f, mb).ListCandidates(f.user.ID, f.account.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestGetBatchNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := newDeletion(f, newFakeMailbox(0, fiveSenders)).GetBatch(f.user.ID, f.account.ID, "nope")
	assert.ErrorIs(t, err, emaildomain.ErrBatchNotFound)
}

func TestManualDelete(t *testing.T) {
	f := newFixture(t)
	mb := newFakeMailbox(0, fiveSenders)
	msg := f.seedMessage(t, "a", "x@example.com", daysAgo(2), asCandidate(0.9))
	uc := newDeletion(f, mb)

	res, err := uc.ManualDelete(context.Background(), f.user.ID, f.account.ID, []string{msg.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "missing", res.Failures[0].ID)
	assert.Equal(t, []string{"a"}, mb.trashed)

	got := f.reload(t, msg.ID)
	assert.True(t, got.ManuallyDeleted)
	assert.False(t, got.DeletedByApp)
	assert.False(t, got.IsDeleteCandidate)
	assert.Equal(t, 1, f.stat(t, "x@example.com").ManuallyDeletedCount)

	res, err = uc.ManualDelete(context.Background(), f.user.ID, f.account.ID, []string{msg.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, mb.trashed, 1)
}

func TestKeepMessages(t *testing.T) {
	f := newFixture(t)
	msg := f.seedMessage(t, "a", "x@example.com", daysAgo(30), asCandidate(0.9))
	uc := newDeletion(f, newFakeMailbox(0, fiveSenders))

	res, err := uc.KeepMessages(f.user.ID, f.account.ID, []string{msg.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	got := f.reload(t, msg.ID)
	assert.True(t, got.ManuallyKept)
	assert.False(t, got.IsDeleteCandidate)

	res, err = uc.KeepMessages(f.user.ID, f.account.ID, []string{msg.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, f.stat(t, "x@example.com").ManuallyKeptCount)
}

func TestDeletionRejectsForeignAccount(t *testing.T) {
	f := newFixture(t)
	uc := newDeletion(f, newFakeMailbox(0, fiveSenders))

	_, err := uc.ConfirmDelete(context.Background(), "intruder", f.account.ID, nil, nil)
	assert.ErrorIs(t, err, emaildomain.ErrAccountNotFound)
	_, err = uc.KeepMessages("intruder", f.account.ID, []string{"x"})
	assert.ErrorIs(t, err, emaildomain.ErrAccountNotFound)
}
