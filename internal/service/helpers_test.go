package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"aiva/internal/logger"
	"aiva/internal/model"
	"aiva/internal/repository/memory"
)

type memoryRepos struct {
	Workspaces  *memory.InMemoryWorkspaceRepository
	Connections *memory.InMemoryConnectionRepository
	Messages    *memory.InMemoryMessageRepository
	Contacts    *memory.InMemoryContactRepository
	Drafts      *memory.InMemoryDraftRepository
	Queue       *memory.InMemoryQueueRepository
	Audit       *memory.InMemoryAuditRepository
}

func newMemoryRepos() *memoryRepos {
	return &memoryRepos{
		Workspaces:  memory.NewInMemoryWorkspaceRepository(),
		Connections: memory.NewInMemoryConnectionRepository(),
		Messages:    memory.NewInMemoryMessageRepository(),
		Contacts:    memory.NewInMemoryContactRepository(),
		Drafts:      memory.NewInMemoryDraftRepository(),
		Queue:       memory.NewInMemoryQueueRepository(),
		Audit:       memory.NewInMemoryAuditRepository(),
	}
}

func (m *memoryRepos) bundle() Repositories {
	return Repositories{
		Workspaces:  m.Workspaces,
		Connections: m.Connections,
		Messages:    m.Messages,
		Contacts:    m.Contacts,
		Drafts:      m.Drafts,
		Queue:       m.Queue,
		Audit:       m.Audit,
	}
}

// fixedClock is Wednesday 2025-01-15 10:00 UTC.
var fixedClock = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func openPolicy() model.WorkspacePolicy {
	return model.WorkspacePolicy{
		AutoSendEnabled:     true,
		ConfidenceThreshold: 0.85,
		WindowStart:         "09:00",
		WindowEnd:           "17:00",
		Timezone:            "UTC",
		DefaultTone:         model.ToneProfessional,
	}
}

func seedWorkspace(t *testing.T, repos *memoryRepos, plan string, policy model.WorkspacePolicy) *model.Workspace {
	t.Helper()
	ws := model.NewWorkspace("Acme", plan)
	ws.Policy = policy
	require.NoError(t, repos.Workspaces.Create(context.Background(), ws))
	return ws
}

func seedConnection(t *testing.T, repos *memoryRepos, workspaceID string) *model.ChannelConnection {
	t.Helper()
	conn := model.NewChannelConnection(workspaceID, model.ProviderGmail, "support@acme.com", "access", "refresh", fixedClock.Add(time.Hour))
	require.NoError(t, repos.Connections.Create(context.Background(), conn))
	return conn
}

func seedMessage(t *testing.T, repos *memoryRepos, conn *model.ChannelConnection, providerID string, confidence float64) *model.Message {
	t.Helper()
	msg := model.NewMessage(conn.WorkspaceID, conn.ID, providerID, "thread-"+providerID)
	msg.Subject = "Question about my subscription renewal"
	msg.Body = "Hello, could you tell me when my subscription renews and how I can change the billing email?"
	msg.SenderName = "Bob"
	msg.SenderEmail = "bob@client.com"
	msg.Timestamp = fixedClock.Add(-time.Hour)
	msg.Category = model.CategoryCustomerInquiry
	msg.ConfidenceScore = confidence
	classifiedAt := fixedClock.Add(-30 * time.Minute)
	msg.ClassifiedAt = &classifiedAt
	raw := model.RawMessage{
		ID:       providerID,
		ThreadID: msg.ProviderThreadID,
		Headers: map[string]string{
			"Message-ID": "<" + providerID + "@client.com>",
			"From":       "Bob <bob@client.com>",
		},
	}
	payload, err := json.Marshal(raw)
	require.NoError(t, err)
	msg.RawPayload = payload
	require.NoError(t, repos.Messages.Create(context.Background(), msg))
	return msg
}

// seedQueued stores an active draft and a pending queue item due now.
func seedQueued(t *testing.T, repos *memoryRepos, msg *model.Message, confidence float64) (*model.Draft, *model.AutoSendQueueItem) {
	t.Helper()
	draft := model.NewDraft(msg.WorkspaceID, msg.ID, "Hi Bob, your plan renews on the 1st.", model.ToneProfessional, confidence, true)
	require.NoError(t, repos.Drafts.Create(context.Background(), draft))
	item := model.NewAutoSendQueueItem(msg.WorkspaceID, msg.ID, draft.ID, msg.ChannelConnectionID, fixedClock.Add(-time.Minute), confidence)
	require.NoError(t, repos.Queue.Create(context.Background(), item))
	return draft, item
}

type grantAll struct{}

func (grantAll) HasFeature(ctx context.Context, workspaceID, feature string) (bool, error) {
	return true, nil
}

type fakeAI struct {
	mu         sync.Mutex
	classify   func(excerpt string) (*model.Classification, error)
	draft      func(draftCtx *model.DraftContext, tone string) (*model.GeneratedDraft, error)
	classified int
	drafted    int
	lastCtx    *model.DraftContext
}

func (f *fakeAI) Classify(ctx context.Context, excerpt string) (*model.Classification, error) {
	f.mu.Lock()
	f.classified++
	f.mu.Unlock()
	if f.classify != nil {
		return f.classify(excerpt)
	}
	c := 0.92
	return &model.Classification{
		Category:        model.CategoryCustomerInquiry,
		Priority:        model.PriorityLow,
		Sentiment:       model.SentimentNeutral,
		Actionability:   model.ActionabilityQuestion,
		ConfidenceScore: &c,
	}, nil
}

func (f *fakeAI) GenerateDraft(ctx context.Context, draftCtx *model.DraftContext, tone string) (*model.GeneratedDraft, error) {
	f.mu.Lock()
	f.drafted++
	f.lastCtx = draftCtx
	f.mu.Unlock()
	if f.draft != nil {
		return f.draft(draftCtx, tone)
	}
	c := 0.9
	return &model.GeneratedDraft{Body: "Thanks for reaching out.", ConfidenceScore: &c, IsAutoSendable: true}, nil
}

// fakeChannel serves a fixed mailbox and records every reply.
type fakeChannel struct {
	mu        sync.Mutex
	messages  map[string]*model.RawMessage
	order     []string
	sendErr   error
	tokenErr  error
	sendDelay time.Duration
	sent      []*model.SendReplyRequest
	sendCalls int
	labels    []string
	fetched   int
	onGet     func(messageID string)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{messages: map[string]*model.RawMessage{}}
}

func (f *fakeChannel) add(raw *model.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[raw.ID] = raw
	f.order = append(f.order, raw.ID)
}

func (f *fakeChannel) GetAccessToken(ctx context.Context, connectionID string) (string, error) {
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return "token-" + connectionID, nil
}

func (f *fakeChannel) ListMessages(ctx context.Context, token string, opts model.ListOptions) (*model.MessageList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := &model.MessageList{}
	for _, id := range f.order {
		ref := model.MessageRef{ID: id}
		if raw, ok := f.messages[id]; ok {
			ref.ThreadID = raw.ThreadID
		}
		list.Refs = append(list.Refs, ref)
	}
	if opts.MaxResults > 0 && int64(len(list.Refs)) > opts.MaxResults {
		list.Refs = list.Refs[:opts.MaxResults]
		list.NextPageToken = "next"
	}
	return list, nil
}

func (f *fakeChannel) GetMessage(ctx context.Context, token, messageID string) (*model.RawMessage, error) {
	if f.onGet != nil {
		f.onGet(messageID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched++
	raw, ok := f.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("message %s gone", messageID)
	}
	cp := *raw
	return &cp, nil
}

// SendReply counts every call as a delivery attempt the provider saw, and
// gives up when ctx ends before sendDelay.
func (f *fakeChannel) SendReply(ctx context.Context, token string, req *model.SendReplyRequest) (*model.SendReplyResult, error) {
	f.mu.Lock()
	f.sendCalls++
	f.mu.Unlock()
	if f.sendDelay > 0 {
		timer := time.NewTimer(f.sendDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return &model.SendReplyResult{Success: true, MessageID: fmt.Sprintf("sent-%d", len(f.sent))}, nil
}

func (f *fakeChannel) ApplyLabel(ctx context.Context, token, messageID, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels = append(f.labels, label)
	return nil
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeChannel) sendCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls
}

var errProviderDown = errors.New("provider unavailable")

func newWorker(repos *memoryRepos, channel *fakeChannel) *autoSendService {
	return newWorkerWith(repos.bundle(), channel, 10*time.Minute, 2*time.Minute, logger.NewNop())
}

// newWorkerWith runs on the fixed clock with no delay between write retries.
func newWorkerWith(bundle Repositories, channel *fakeChannel, staleAfter, sendTimeout time.Duration, log *logger.Logger) *autoSendService {
	audit := NewAuditService(bundle.Audit, logger.NewNop())
	svc := NewAutoSendService(bundle, ChannelRegistry{model.ProviderGmail: channel}, grantAll{}, audit, staleAfter, sendTimeout, log).(*autoSendService)
	svc.now = func() time.Time { return fixedClock }
	svc.retryDelay = 0
	return svc
}
