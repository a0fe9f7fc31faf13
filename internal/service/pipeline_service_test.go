package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiva/internal/logger"
	"aiva/internal/model"
)

func newPipeline(repos *memoryRepos, channel *fakeChannel, ai AIClient) PipelineService {
	ingest := newIngest(repos, channel, nil)
	classify := newClassifier(repos, ai)
	drafts := newDrafter(repos, ai, NewPlanEntitlements(repos.Workspaces))
	conns := NewConnectionService(repos.Workspaces, repos.Connections, logger.NewNop())
	return NewPipelineService(ingest, classify, drafts, conns, repos.Workspaces, repos.Messages, logger.NewNop())
}

func longRaw(id string) *model.RawMessage {
	raw := rawMessage(id, "Bob <bob@client.com>", "Question about my subscription renewal")
	raw.TextBody = "Hello, could you tell me when my subscription renews and how I can change the billing email?"
	return raw
}

func TestRunIngestSyncEndToEnd(t *testing.T) {
	repos := newMemoryRepos()
	ws := seedWorkspace(t, repos, model.PlanBusiness, openPolicy())
	conn := seedConnection(t, repos, ws.ID)
	channel := newFakeChannel()
	channel.add(longRaw("m1"))
	channel.add(longRaw("m2"))

	result, err := newPipeline(repos, channel, &fakeAI{}).RunIngestSync(context.Background(), conn.ID, ws.ID, SyncOptions{Process: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Sync.NewCount)
	assert.Equal(t, 2, result.Classified)
	assert.Equal(t, 2, result.Drafted)
	assert.Equal(t, 2, result.Queued)
	assert.Empty(t, result.Errors)

	// The queued replies go out on the next worker run.
	batch, err := newWorker(repos, channel).ProcessBatch(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Sent)
	assert.Equal(t, 2, channel.sentCount())
}

func TestRunIngestSyncWithoutProcessOnlyIngests(t *testing.T) {
	repos := newMemoryRepos()
	ws := seedWorkspace(t, repos, model.PlanBusiness, openPolicy())
	conn := seedConnection(t, repos, ws.ID)
	channel := newFakeChannel()
	channel.add(longRaw("m1"))
	ai := &fakeAI{}

	result, err := newPipeline(repos, channel, ai).RunIngestSync(context.Background(), conn.ID, ws.ID, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sync.NewCount)
	assert.Equal(t, 0, result.Classified)
	assert.Equal(t, 0, ai.classified)
}

func TestRunIngestSyncSkipsDraftingWhenDisabled(t *testing.T) {
	repos := newMemoryRepos()
	policy := openPolicy()
	policy.AutoSendEnabled = false
	ws := seedWorkspace(t, repos, model.PlanBusiness, policy)
	conn := seedConnection(t, repos, ws.ID)
	channel := newFakeChannel()
	channel.add(longRaw("m1"))
	ai := &fakeAI{}

	result, err := newPipeline(repos, channel, ai).RunIngestSync(context.Background(), conn.ID, ws.ID, SyncOptions{Process: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Classified)
	assert.Equal(t, 0, result.Drafted)
	assert.Equal(t, 0, ai.drafted)
}

func TestRunIngestSyncCountsClassificationFailures(t *testing.T) {
	repos := newMemoryRepos()
	ws := seedWorkspace(t, repos, model.PlanBusiness, openPolicy())
	conn := seedConnection(t, repos, ws.ID)
	channel := newFakeChannel()
	channel.add(longRaw("m1"))
	ai := &fakeAI{classify: func(string) (*model.Classification, error) { return nil, errors.New("timeout") }}

	result, err := newPipeline(repos, channel, ai).RunIngestSync(context.Background(), conn.ID, ws.ID, SyncOptions{Process: true})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Classified)
	assert.Len(t, result.Errors, 1)
}

func TestSyncAllCoversEveryActiveConnection(t *testing.T) {
	repos := newMemoryRepos()
	ws := seedWorkspace(t, repos, model.PlanBusiness, openPolicy())
	first := seedConnection(t, repos, ws.ID)
	second := model.NewChannelConnection(ws.ID, model.ProviderGmail, "sales@acme.com", "a", "r", time.Now())
	require.NoError(t, repos.Connections.Create(context.Background(), second))
	inactive := model.NewChannelConnection(ws.ID, model.ProviderGmail, "old@acme.com", "a", "r", time.Now())
	inactive.Status = model.ConnectionStatusDisconnected
	require.NoError(t, repos.Connections.Create(context.Background(), inactive))

	channel := newFakeChannel()
	channel.add(longRaw("m1"))

	results := newPipeline(repos, channel, &fakeAI{}).SyncAll(context.Background(), SyncOptions{})
	require.Len(t, results, 2)

	seen := map[string]int{}
	for _, r := range results {
		require.NotNil(t, r)
		assert.Empty(t, r.Error)
		seen[r.ConnectionID] = r.Sync.NewCount
	}
	// The same provider id under different connections is not a duplicate.
	assert.Equal(t, map[string]int{first.ID: 1, second.ID: 1}, seen)
	assert.Equal(t, 2, repos.Messages.Count())
}

func TestReviewServiceHoldsAndReleases(t *testing.T) {
	repos := newMemoryRepos()
	ws := seedWorkspace(t, repos, model.PlanBusiness, openPolicy())
	conn := seedConnection(t, repos, ws.ID)
	msg := seedMessage(t, repos, conn, "p-1", 0.9)
	draft, _ := seedQueued(t, repos, msg, 0.9)
	svc := NewReviewService(repos.Drafts, repos.Messages, NewAuditService(repos.Audit, logger.NewNop()), logger.NewNop())

	require.NoError(t, svc.HoldDraft(context.Background(), ws.ID, draft.ID, "check tone"))
	stored, err := repos.Drafts.FindByID(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.True(t, stored.HoldForReview)
	assert.Equal(t, "check tone", stored.HoldReason)

	require.NoError(t, svc.ReleaseDraft(context.Background(), ws.ID, draft.ID))
	stored, err = repos.Drafts.FindByID(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.False(t, stored.HoldForReview)

	require.NoError(t, svc.FlagMessage(context.Background(), ws.ID, msg.ID, "legal"))
	storedMsg, err := repos.Messages.FindByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.True(t, storedMsg.RequiresHumanReview)
	require.NoError(t, svc.ClearMessage(context.Background(), ws.ID, msg.ID))

	err = svc.HoldDraft(context.Background(), "other-ws", draft.ID, "x")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Equal(t, []string{
		model.AuditActionHeld, model.AuditActionReleased,
		model.AuditActionHeld, model.AuditActionReleased,
	}, repos.Audit.Actions())
}
