package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiva/internal/model"
	"aiva/internal/repository"
)

func TestMessageRepositoryRejectsDuplicateProviderID(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryMessageRepository()

	first := model.NewMessage("ws_1", "conn_1", "gmail_1", "thread_1")
	require.NoError(t, repo.Create(ctx, first))

	dup := model.NewMessage("ws_1", "conn_1", "gmail_1", "thread_1")
	err := repo.Create(ctx, dup)
	assert.True(t, errors.Is(err, repository.ErrConflict))

	// Same provider id on another connection is a different message.
	other := model.NewMessage("ws_1", "conn_2", "gmail_1", "thread_1")
	assert.NoError(t, repo.Create(ctx, other))
	assert.Equal(t, 2, repo.Count())

	found, err := repo.FindByProviderID(ctx, "conn_1", "gmail_1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = repo.FindByID(ctx, "missing")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestMessageRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryMessageRepository()

	msg := model.NewMessage("ws_1", "conn_1", "gmail_1", "thread_1")
	msg.Labels = []string{"INBOX"}
	require.NoError(t, repo.Create(ctx, msg))

	found, err := repo.FindByID(ctx, msg.ID)
	require.NoError(t, err)
	found.Labels[0] = "CHANGED"
	found.Subject = "changed"

	again, err := repo.FindByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "INBOX", again.Labels[0])
	assert.Empty(t, again.Subject)
}

func TestQueueRepositoryConditionalTransitions(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryQueueRepository()
	now := time.Now()

	item := model.NewAutoSendQueueItem("ws_1", "msg_1", "draft_1", "conn_1", now.Add(-time.Minute), 0.9)
	require.NoError(t, repo.Create(ctx, item))

	due, err := repo.FindDue(ctx, now, model.MaxSendAttempts, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	ok, err := repo.Claim(ctx, item.ID, 0, now)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second claim observing the same pending state loses.
	ok, err = repo.Claim(ctx, item.ID, 0, now)
	require.NoError(t, err)
	assert.False(t, ok)

	status, ok, err := repo.RecordAttemptFailure(ctx, item.ID, 0, model.MaxSendAttempts, "timeout")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.QueueStatusPending, status)

	stored, err := repo.FindByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, "timeout", stored.LastError)
	assert.Nil(t, stored.ProcessingStartedAt)

	// Stale attempt count no longer matches.
	ok, err = repo.Claim(ctx, item.ID, 0, now)
	require.NoError(t, err)
	assert.False(t, ok)

	for attempts := 1; attempts < model.MaxSendAttempts; attempts++ {
		ok, err = repo.Claim(ctx, item.ID, attempts, now)
		require.NoError(t, err)
		require.True(t, ok)
		status, ok, err = repo.RecordAttemptFailure(ctx, item.ID, attempts, model.MaxSendAttempts, "timeout")
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, model.QueueStatusFailed, status)

	due, err = repo.FindDue(ctx, now, model.MaxSendAttempts, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestQueueRepositoryFindDueOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryQueueRepository()
	now := time.Now()

	late := model.NewAutoSendQueueItem("ws_1", "msg_1", "d1", "c1", now.Add(-time.Minute), 0.9)
	early := model.NewAutoSendQueueItem("ws_1", "msg_2", "d2", "c1", now.Add(-time.Hour), 0.9)
	future := model.NewAutoSendQueueItem("ws_1", "msg_3", "d3", "c1", now.Add(time.Hour), 0.9)
	for _, item := range []*model.AutoSendQueueItem{late, early, future} {
		require.NoError(t, repo.Create(ctx, item))
	}

	due, err := repo.FindDue(ctx, now, model.MaxSendAttempts, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, early.ID, due[0].ID)
	assert.Equal(t, late.ID, due[1].ID)

	due, err = repo.FindDue(ctx, now, model.MaxSendAttempts, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestQueueRepositoryConcurrentClaimHasOneWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryQueueRepository()
	item := model.NewAutoSendQueueItem("ws_1", "msg_1", "draft_1", "conn_1", time.Now(), 0.9)
	require.NoError(t, repo.Create(ctx, item))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Claim(ctx, item.ID, 0, time.Now())
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestDraftRepositoryMarkSentOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryDraftRepository()
	draft := model.NewDraft("ws_1", "msg_1", "Hello", model.ToneProfessional, 0.9, true)
	require.NoError(t, repo.Create(ctx, draft))

	ok, err := repo.MarkSent(ctx, draft.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkSent(ctx, draft.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	// Sent drafts stay active when newer drafts arrive.
	require.NoError(t, repo.DeactivateForMessage(ctx, "msg_1"))
	stored, err := repo.FindByID(ctx, draft.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
}

func TestAuditRepositoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryAuditRepository()

	require.NoError(t, repo.Append(ctx, model.NewAuditLogEntry("ws_1", "msg_1", "", model.AuditActionClassified, 0.9, nil)))
	require.NoError(t, repo.Append(ctx, model.NewAuditLogEntry("ws_1", "msg_1", "d1", model.AuditActionDraftGenerated, 0.9, nil)))
	require.NoError(t, repo.Append(ctx, model.NewAuditLogEntry("ws_1", "msg_2", "", model.AuditActionClassified, 0.8, nil)))
	require.NoError(t, repo.Append(ctx, model.NewAuditLogEntry("ws_2", "msg_3", "", model.AuditActionClassified, 0.8, nil)))

	entries, err := repo.FindByWorkspace(ctx, "ws_1", "msg_1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.AuditActionDraftGenerated, entries[0].Action)

	entries, err = repo.FindByWorkspace(ctx, "ws_1", "", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "msg_2", entries[0].MessageID)
}
