package service

import (
	"context"
	"time"

	"aiva/internal/model"
)

type ConnectionService interface {
	Connect(ctx context.Context, workspaceID, provider, accountEmail, accessToken, refreshToken string, tokenExpiry time.Time) (*model.ChannelConnection, error)
	Disconnect(ctx context.Context, workspaceID, connectionID string) error
	GetConnection(ctx context.Context, workspaceID, connectionID string) (*model.ChannelConnection, error)
	// FindConnection is unscoped; only cron-authenticated callers use it.
	FindConnection(ctx context.Context, connectionID string) (*model.ChannelConnection, error)
	ActiveConnections(ctx context.Context) ([]*model.ChannelConnection, error)
}

type IngestService interface {
	Sync(ctx context.Context, connectionID, workspaceID string, opts SyncOptions) (*SyncResult, error)
}

type ClassifyService interface {
	Classify(ctx context.Context, messageID, workspaceID string) (*ClassificationResult, error)
	ClassifyBatch(ctx context.Context, workspaceID string, messageIDs []string) (*BatchClassifyResult, error)
}

type DraftService interface {
	GenerateDraft(ctx context.Context, messageID, workspaceID string, opts DraftOptions) (*DraftResult, error)
}

type AutoSendService interface {
	ProcessBatch(ctx context.Context, limit int) (*BatchResult, error)
}

// ReviewService sets and clears the human-review interrupts checked by the
// auto-send worker.
type ReviewService interface {
	HoldDraft(ctx context.Context, workspaceID, draftID, reason string) error
	ReleaseDraft(ctx context.Context, workspaceID, draftID string) error
	FlagMessage(ctx context.Context, workspaceID, messageID, reason string) error
	ClearMessage(ctx context.Context, workspaceID, messageID string) error
}

// AuditService never fails the caller; Append failures are logged.
type AuditService interface {
	Append(ctx context.Context, workspaceID, messageID, draftID, action string, confidence float64, detail map[string]interface{})
	List(ctx context.Context, workspaceID, messageID string, limit int) ([]*model.AuditLogEntry, error)
}

type PipelineService interface {
	RunIngestSync(ctx context.Context, connectionID, workspaceID string, opts SyncOptions) (*PipelineResult, error)
	SyncAll(ctx context.Context, opts SyncOptions) []*PipelineResult
}

// ChannelClient is the provider capability used by ingestion and the
// auto-send worker. Implementations refresh credentials internally.
type ChannelClient interface {
	GetAccessToken(ctx context.Context, connectionID string) (string, error)
	ListMessages(ctx context.Context, token string, opts model.ListOptions) (*model.MessageList, error)
	GetMessage(ctx context.Context, token, messageID string) (*model.RawMessage, error)
	SendReply(ctx context.Context, token string, req *model.SendReplyRequest) (*model.SendReplyResult, error)
	ApplyLabel(ctx context.Context, token, messageID, label string) error
}

// ChannelRegistry resolves the client for a connection's provider.
type ChannelRegistry map[string]ChannelClient

func (r ChannelRegistry) For(provider string) (ChannelClient, error) {
	client, ok := r[provider]
	if !ok {
		return nil, &CapabilityError{Capability: "channel", Op: "resolve " + provider, Err: ErrUnsupportedProvider}
	}
	return client, nil
}

// AIClient interface for the classification and drafting capability
type AIClient interface {
	Classify(ctx context.Context, excerpt string) (*model.Classification, error)
	GenerateDraft(ctx context.Context, draftCtx *model.DraftContext, tone string) (*model.GeneratedDraft, error)
}

type EntitlementChecker interface {
	HasFeature(ctx context.Context, workspaceID, feature string) (bool, error)
}

// Deduper is an optional fast path in front of the message uniqueness check.
type Deduper interface {
	AcquireOnce(ctx context.Context, connectionID, providerMessageID string) bool
	Release(ctx context.Context, connectionID, providerMessageID string)
}
