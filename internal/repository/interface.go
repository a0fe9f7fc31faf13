package repository

import (
	"context"
	"errors"
	"time"

	"aiva/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a uniqueness invariant would be violated.
	ErrConflict = errors.New("already exists")
)

// WorkspaceRepository exposes workspaces and their auto-send policy.
type WorkspaceRepository interface {
	Create(ctx context.Context, workspace *model.Workspace) error
	FindByID(ctx context.Context, id string) (*model.Workspace, error)
	GetPolicy(ctx context.Context, workspaceID string) (*model.WorkspacePolicy, error)
}

// ConnectionRepository defines the interface for channel connection data operations
type ConnectionRepository interface {
	Create(ctx context.Context, conn *model.ChannelConnection) error
	FindByID(ctx context.Context, id string) (*model.ChannelConnection, error)
	FindByAccount(ctx context.Context, workspaceID, provider, accountEmail string) (*model.ChannelConnection, error)
	FindActive(ctx context.Context) ([]*model.ChannelConnection, error)
	Update(ctx context.Context, conn *model.ChannelConnection) error
	UpdateTokens(ctx context.Context, id, accessToken string, expiry time.Time) error
	UpdateSyncState(ctx context.Context, id, cursor string, syncedAt time.Time) error
	UpdateStatus(ctx context.Context, id, status string) error
}

// MessageRepository defines the interface for message data operations.
// Create returns ErrConflict when (connection, provider message id) exists.
type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) error
	FindByID(ctx context.Context, id string) (*model.Message, error)
	FindByProviderID(ctx context.Context, connectionID, providerMessageID string) (*model.Message, error)
	FindByThread(ctx context.Context, connectionID, providerThreadID string) ([]*model.Message, error)
	Update(ctx context.Context, msg *model.Message) error
}

type ContactRepository interface {
	FindByAddress(ctx context.Context, workspaceID, channel, address string) (*model.Contact, error)
	Create(ctx context.Context, contact *model.Contact) error
	Update(ctx context.Context, contact *model.Contact) error
}

type DraftRepository interface {
	Create(ctx context.Context, draft *model.Draft) error
	FindByID(ctx context.Context, id string) (*model.Draft, error)
	FindByMessageID(ctx context.Context, messageID string) ([]*model.Draft, error)
	// DeactivateForMessage marks every unsent draft of the message inactive.
	DeactivateForMessage(ctx context.Context, messageID string) error
	SetHold(ctx context.Context, id string, hold bool, reason string) error
	// MarkSent flips is_sent from false to true; it returns false when the
	// draft was already sent.
	MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error)
}

// QueueRepository persists auto-send intents. Every state-changing method is
// conditioned on the status (and attempt count) the caller last observed and
// reports whether its write won.
type QueueRepository interface {
	Create(ctx context.Context, item *model.AutoSendQueueItem) error
	FindByID(ctx context.Context, id string) (*model.AutoSendQueueItem, error)
	FindByMessageID(ctx context.Context, messageID string) ([]*model.AutoSendQueueItem, error)
	// FindDue returns pending items due at or before now with attempts below
	// maxAttempts, oldest scheduled first.
	FindDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*model.AutoSendQueueItem, error)
	FindStaleProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]*model.AutoSendQueueItem, error)
	Reschedule(ctx context.Context, id string, attempts int, at time.Time) (bool, error)
	Claim(ctx context.Context, id string, attempts int, startedAt time.Time) (bool, error)
	Cancel(ctx context.Context, id string, from model.QueueStatus, attempts int, reason string) (bool, error)
	Fail(ctx context.Context, id string, attempts int, reason string) (bool, error)
	// RecordAttemptFailure consumes one attempt of a processing item. The
	// item returns to pending while attempts stay below maxAttempts and is
	// marked failed otherwise.
	RecordAttemptFailure(ctx context.Context, id string, attempts, maxAttempts int, reason string) (model.QueueStatus, bool, error)
	MarkSent(ctx context.Context, id string, attempts int, providerMessageID string, sentAt time.Time) (bool, error)
}

// AuditRepository is append-only.
type AuditRepository interface {
	Append(ctx context.Context, entry *model.AuditLogEntry) error
	FindByWorkspace(ctx context.Context, workspaceID, messageID string, limit int) ([]*model.AuditLogEntry, error)
}
