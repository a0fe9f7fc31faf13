package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aiva/internal/logger"
	"aiva/internal/metrics"
	"aiva/internal/model"
	"aiva/internal/normalize"
	"aiva/internal/repository"
)

const (
	DefaultMaxSyncMessages = 50
	maxSyncMessagesCap     = 500
)

type SyncOptions struct {
	MaxMessages int    `json:"max_messages"`
	Query       string `json:"query"`
	// Process runs classification, drafting and enqueueing on new messages.
	Process bool `json:"process"`
}

type SyncResult struct {
	ConnectionID  string   `json:"connection_id"`
	SyncedCount   int      `json:"synced_count"`
	NewCount      int      `json:"new_count"`
	ErrorCount    int      `json:"error_count"`
	HasMore       bool     `json:"has_more"`
	NewMessageIDs []string `json:"new_message_ids"`
}

type ingestService struct {
	repos       Repositories
	channels    ChannelRegistry
	deduper     Deduper
	contacts    *contactResolver
	maxMessages int
	logger      *logger.Logger
	now         func() time.Time
}

// NewIngestService builds the message ingestor. deduper may be nil.
func NewIngestService(repos Repositories, channels ChannelRegistry, deduper Deduper, maxMessages int, logger *logger.Logger) IngestService {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxSyncMessages
	}
	return &ingestService{
		repos:       repos,
		channels:    channels,
		deduper:     deduper,
		contacts:    &contactResolver{contactRepo: repos.Contacts},
		maxMessages: maxMessages,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *ingestService) Sync(ctx context.Context, connectionID, workspaceID string, opts SyncOptions) (*SyncResult, error) {
	conn, err := s.repos.Connections.FindByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.WorkspaceID != workspaceID {
		return nil, fmt.Errorf("connection %s: %w", connectionID, ErrNotFound)
	}
	if !conn.IsActive() {
		return nil, fmt.Errorf("connection %s is %s: %w", connectionID, conn.Status, ErrConnectionInactive)
	}

	client, err := s.channels.For(conn.Provider)
	if err != nil {
		return nil, err
	}
	token, err := client.GetAccessToken(ctx, conn.ID)
	if err != nil {
		return nil, channelError("get access token", err)
	}

	max := opts.MaxMessages
	if max <= 0 {
		max = s.maxMessages
	}
	if max > maxSyncMessagesCap {
		max = maxSyncMessagesCap
	}

	list, err := client.ListMessages(ctx, token, model.ListOptions{
		MaxResults: int64(max),
		PageToken:  conn.SyncCursor,
		Query:      opts.Query,
	})
	if err != nil {
		return nil, channelError("list messages", err)
	}

	result := &SyncResult{
		ConnectionID:  conn.ID,
		HasMore:       list.NextPageToken != "",
		NewMessageIDs: []string{},
	}

	for i, ref := range list.Refs {
		if i >= max {
			break
		}
		if ctx.Err() != nil {
			s.logger.Warn("Sync interrupted for connection:", conn.ID, ctx.Err())
			result.HasMore = true
			break
		}

		result.SyncedCount++
		created, err := s.ingestOne(ctx, conn, client, token, ref)
		if err != nil {
			result.ErrorCount++
			metrics.RecordIngested("error")
			s.logger.Error("Failed to ingest message:", ref.ID, err)
			continue
		}
		if created == nil {
			metrics.RecordIngested("duplicate")
			continue
		}
		result.NewCount++
		result.NewMessageIDs = append(result.NewMessageIDs, created.ID)
		metrics.RecordIngested("new")
	}

	// The cursor moves even when some items failed; failed ones are picked up
	// again once the provider listing wraps around.
	if err := s.repos.Connections.UpdateSyncState(context.WithoutCancel(ctx), conn.ID, list.NextPageToken, s.now()); err != nil {
		s.logger.Error("Failed to update sync state:", conn.ID, err)
	}

	s.logger.Info("Synced connection:", conn.ID, "synced:", result.SyncedCount, "new:", result.NewCount, "errors:", result.ErrorCount)
	return result, nil
}

// ingestOne returns the created message, or nil when it already existed.
func (s *ingestService) ingestOne(ctx context.Context, conn *model.ChannelConnection, client ChannelClient, token string, ref model.MessageRef) (*model.Message, error) {
	acquired := s.deduper == nil || s.deduper.AcquireOnce(ctx, conn.ID, ref.ID)

	// The key must go even when the batch deadline cancelled ctx.
	release := func() {
		if s.deduper != nil {
			s.deduper.Release(context.WithoutCancel(ctx), conn.ID, ref.ID)
		}
	}

	// Checking before fetching avoids downloading payloads we already hold.
	// Only a stored row counts as a duplicate; a held key may outlive a
	// failed or crashed ingest.
	if _, err := s.repos.Messages.FindByProviderID(ctx, conn.ID, ref.ID); err == nil {
		return nil, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		release()
		return nil, fmt.Errorf("failed to check existing message: %w", err)
	}
	if !acquired {
		s.logger.Warn("Dedup key held for a message that is not stored, ingesting:", conn.ID, ref.ID)
	}

	raw, err := client.GetMessage(ctx, token, ref.ID)
	if err != nil {
		release()
		return nil, channelError("get message", err)
	}

	f := normalize.Message(raw)
	threadID := raw.ThreadID
	if threadID == "" {
		threadID = ref.ThreadID
	}

	msg := model.NewMessage(conn.WorkspaceID, conn.ID, ref.ID, threadID)
	msg.Subject = f.Subject
	msg.Body = f.Body
	msg.SenderName = f.SenderName
	msg.SenderEmail = f.SenderEmail
	msg.Recipients = f.Recipients
	msg.Timestamp = f.Timestamp
	msg.Labels = raw.LabelIDs
	if payload, err := json.Marshal(raw); err == nil {
		msg.RawPayload = payload
	}

	if err := s.repos.Messages.Create(ctx, msg); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// A concurrent sync inserted it first.
			return nil, nil
		}
		release()
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	contact, err := s.contacts.resolve(ctx, conn.WorkspaceID, conn.Provider, msg.SenderEmail, msg.SenderName, msg.Timestamp)
	if err != nil {
		s.logger.Warn("Failed to resolve sender contact:", msg.SenderEmail, err)
		return msg, nil
	}
	msg.ContactID = contact.ID
	if err := s.repos.Messages.Update(ctx, msg); err != nil {
		s.logger.Warn("Failed to link contact to message:", msg.ID, err)
	}
	return msg, nil
}
