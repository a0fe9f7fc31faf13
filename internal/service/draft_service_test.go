package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiva/internal/logger"
	"aiva/internal/model"
)

func newDrafter(repos *memoryRepos, ai AIClient, entitlements EntitlementChecker) *draftService {
	audit := NewAuditService(repos.Audit, logger.NewNop())
	svc := NewDraftService(repos.bundle(), ai, entitlements, audit, logger.NewNop()).(*draftService)
	svc.now = func() time.Time { return fixedClock }
	return svc
}

func TestGenerateDraftQueuesConfidentReply(t *testing.T) {
	repos := newMemoryRepos()
	ws := seedWorkspace(t, repos, model.PlanBusiness, openPolicy())
	conn := seedConnection(t, repos, ws.ID)
	msg := seedMessage(t, repos, conn, "p-1", 0.90)

	svc := newDrafter(repos, &fakeAI{}, NewPlanEntitlements(repos.Workspaces))
	result, err := svc.GenerateDraft(context.Background(), msg.ID, ws.ID, DraftOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0.90, result.ConfidenceScore)
	assert.True(t, result.Queued)
	require.NotNil(t, result.ScheduledSendAt)
	assert.True(t, result.ScheduledSendAt.Equal(fixedClock))

	stored, err := repos.Messages.FindByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasDraft)

	items, err := repos.Queue.FindByMessageID(context.Background(), msg.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, result.DraftID, items[0].DraftID)
	assert.Equal(t, model.QueueStatusPending, items[0].Status)
	assert.Equal(t, []string{model.AuditActionDraftGenerated, model.AuditActionQueued}, repos.Audit.Actions())
}

func TestGenerateDraftDeniedWithoutEntitlement(t *testing.T) {
	repos := newMemoryRepos()
	ws := seedWorkspace(t, repos, model.PlanFree, openPolicy())
	conn := seedConnection(t, repos, ws.ID)
	msg := seedMessage(t, repos, conn, "p-1", 0.90)
	ai := &fakeAI{}

	_, err := newDrafter(repos, ai, NewPlanEntitlements(repos.Workspaces)).GenerateDraft(context.Background(), msg.ID, ws.ID, DraftOptions{})
	assert.True(t, errors.Is(err, ErrFeatureDenied))
	assert.Equal(t, 0, ai.drafted)
}

func TestGenerateDraftProPlanDoesNotQueue(t *testing.T) {
	repos := newMemoryRepos()
	ws := seedWorkspace(t, repos, model.PlanPro, openPolicy())
	conn := seedConnection(t, repos, ws.ID)
	msg := seedMessage(t, repos, conn, "p-1", 0.90)

	result, err := newDrafter(repos, &fakeAI{}, NewPlanEntitlements(repos.Workspaces)).GenerateDraft(context.Background(), msg.ID, ws.ID, DraftOptions{})
	require.NoError(t, err)
	assert.False(t, result.Queued)
	assert.Empty(t, repos.Queue.All())
}

func TestGenerateDraftEnqueueGates(t *testing.T) {
	tests := []struct {
		name       string
		policy     func(p *model.WorkspacePolicy)
		message    func(m *model.Message)
		draft      *model.GeneratedDraft
		wantQueued bool
	}{
		{name: "low draft confidence", draft: &model.GeneratedDraft{Body: "x", ConfidenceScore: ptr(0.5), IsAutoSendable: true}},
		{name: "not auto-sendable", draft: &model.GeneratedDraft{Body: "x", ConfidenceScore: ptr(0.99), IsAutoSendable: false}},
		{name: "disabled", policy: func(p *model.WorkspacePolicy) { p.AutoSendEnabled = false }},
		{name: "paused", policy: func(p *model.WorkspacePolicy) { p.AutoSendPaused = true }},
		{name: "message held", message: func(m *model.Message) { m.RequiresHumanReview = true }},
		{name: "ineligible category", message: func(m *model.Message) { m.Category = model.CategoryNewsletter }},
		{name: "classification caps draft confidence", message: func(m *model.Message) { m.ConfidenceScore = 0.6 }},
		{name: "custom category allowed", policy: func(p *model.WorkspacePolicy) {
			p.AutoReplyCategories = []string{model.CategoryNewsletter}
		}, message: func(m *model.Message) { m.Category = model.CategoryNewsletter }, wantQueued: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repos := newMemoryRepos()
			policy := openPolicy()
			if tt.policy != nil {
				tt.policy(&policy)
			}
			ws := seedWorkspace(t, repos, model.PlanBusiness, policy)
			conn := seedConnection(t, repos, ws.ID)
			msg := seedMessage(t, repos, conn, "p-1", 0.95)
			if tt.message != nil {
				tt.message(msg)
				require.NoError(t, repos.Messages.Update(context.Background(), msg))
			}
			ai := &fakeAI{}
			if tt.draft != nil {
				ai.draft = func(*model.DraftContext, string) (*model.GeneratedDraft, error) { return tt.draft, nil }
			}

			result, err := newDrafter(repos, ai, grantAll{}).GenerateDraft(context.Background(), msg.ID, ws.ID, DraftOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantQueued, result.Queued)
			assert.Equal(t, tt.wantQueued, len(repos.Queue.All()) == 1)
		})
	}
}

func TestGenerateDraftOutsideWindowSchedulesNextStart(t *testing.T) {
	repos := newMemoryRepos()
	policy := openPolicy()
	policy.WindowStart = "13:00"
	policy.WindowEnd = "18:00"
	policy.Timezone = "America/New_York"
	ws := seedWorkspace(t, repos, model.PlanBusiness, policy)
	conn := seedConnection(t, repos, ws.ID)
	msg := seedMessage(t, repos, conn, "p-1", 0.90)

	result, err := newDrafter(repos, &fakeAI{}, grantAll{}).GenerateDraft(context.Background(), msg.ID, ws.ID, DraftOptions{})
	require.NoError(t, err)
	require.True(t, result.Queued)

	// 10:00 UTC is 05:00 in New York, so the reply waits for 13:00 local.
	assert.True(t, result.ScheduledSendAt.Equal(time.Date(2025, 1, 15, 18, 0, 0, 0, time.UTC)))
}

func TestGenerateDraftUsesThreadContextAndDeactivatesOldDrafts(t *testing.T) {
	repos := newMemoryRepos()
	ws := seedWorkspace(t, repos, model.PlanBusiness, openPolicy())
	conn := seedConnection(t, repos, ws.ID)
	msg := seedMessage(t, repos, conn, "p-latest", 0.90)

	for i := 0; i < 7; i++ {
		earlier := model.NewMessage(ws.ID, conn.ID, fmt.Sprintf("p-%d", i), msg.ProviderThreadID)
		earlier.SenderEmail = "bob@client.com"
		earlier.Body = fmt.Sprintf("message %d %s", i, strings.Repeat("x", 2000))
		earlier.Timestamp = msg.Timestamp.Add(-time.Duration(10-i) * time.Minute)
		require.NoError(t, repos.Messages.Create(context.Background(), earlier))
	}

	ai := &fakeAI{}
	svc := newDrafter(repos, ai, grantAll{})
	first, err := svc.GenerateDraft(context.Background(), msg.ID, ws.ID, DraftOptions{Tone: model.ToneFriendly})
	require.NoError(t, err)

	require.Len(t, ai.lastCtx.Thread, threadContextMessages)
	assert.True(t, strings.HasPrefix(ai.lastCtx.Thread[0].Body, "message 2 "))
	assert.True(t, strings.HasPrefix(ai.lastCtx.Thread[4].Body, "message 6 "))
	assert.Len(t, []rune(ai.lastCtx.Thread[0].Body), threadEntryBudget)

	second, err := svc.GenerateDraft(context.Background(), msg.ID, ws.ID, DraftOptions{})
	require.NoError(t, err)

	old, err := repos.Drafts.FindByID(context.Background(), first.DraftID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.Equal(t, model.ToneFriendly, old.Tone)

	current, err := repos.Drafts.FindByID(context.Background(), second.DraftID)
	require.NoError(t, err)
	assert.True(t, current.IsActive)
	assert.Equal(t, model.ToneProfessional, current.Tone)
}

func TestGenerateDraftCapabilityFailure(t *testing.T) {
	repos := newMemoryRepos()
	ws := seedWorkspace(t, repos, model.PlanBusiness, openPolicy())
	conn := seedConnection(t, repos, ws.ID)
	msg := seedMessage(t, repos, conn, "p-1", 0.90)
	ai := &fakeAI{draft: func(*model.DraftContext, string) (*model.GeneratedDraft, error) {
		return nil, errors.New("model overloaded")
	}}

	_, err := newDrafter(repos, ai, grantAll{}).GenerateDraft(context.Background(), msg.ID, ws.ID, DraftOptions{})
	var capErr *CapabilityError
	require.True(t, errors.As(err, &capErr))
	assert.Empty(t, repos.Queue.All())
}
