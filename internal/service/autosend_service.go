package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"aiva/internal/logger"
	"aiva/internal/metrics"
	"aiva/internal/model"
	"aiva/internal/normalize"
	"aiva/internal/schedule"
)

const (
	DefaultAutoSendBatchLimit = 20
	maxAutoSendBatchLimit     = 100
	staleRecoveryLimit        = 100

	sentStateWriteAttempts = 3
	sentStateRetryDelay    = 100 * time.Millisecond
	sentNotRecordedReason  = "reply sent but delivery state not recorded"

	// AutoRepliedLabel is applied to the original message after a send.
	AutoRepliedLabel = "Aiva/Auto-Replied"
)

type BatchResult struct {
	Processed int         `json:"processed"`
	Sent      int         `json:"sent"`
	Failed    int         `json:"failed"`
	Skipped   int         `json:"skipped"`
	Recovered int         `json:"recovered"`
	Errors    []ItemError `json:"errors"`
}

type itemOutcome int

const (
	outcomeSkipped itemOutcome = iota
	outcomeSent
	outcomeFailed
)

type autoSendService struct {
	repos        Repositories
	channels     ChannelRegistry
	entitlements EntitlementChecker
	audit        AuditService
	staleAfter   time.Duration
	sendTimeout  time.Duration
	retryDelay   time.Duration
	logger       *logger.Logger
	now          func() time.Time
}

// NewAutoSendService builds the queue worker. Items stuck in processing for
// longer than staleAfter are recovered at the start of each batch.
//
// sendTimeout bounds the provider work on a claimed item and must stay below
// staleAfter, otherwise recovery could hand a still running send to another
// worker. Out of range values fall back to half of staleAfter.
func NewAutoSendService(repos Repositories, channels ChannelRegistry, entitlements EntitlementChecker, audit AuditService, staleAfter, sendTimeout time.Duration, logger *logger.Logger) AutoSendService {
	if staleAfter > 0 && (sendTimeout <= 0 || sendTimeout >= staleAfter) {
		logger.Warn("Send timeout must be below the stale processing threshold, using half of it:", sendTimeout, staleAfter)
		sendTimeout = staleAfter / 2
	}
	return &autoSendService{
		repos:        repos,
		channels:     channels,
		entitlements: entitlements,
		audit:        audit,
		staleAfter:   staleAfter,
		sendTimeout:  sendTimeout,
		retryDelay:   sentStateRetryDelay,
		logger:       logger,
		now:          time.Now,
	}
}

// ProcessBatch handles due items one at a time. Only failing to select the
// batch is returned as an error; per-item failures land in the result.
func (s *autoSendService) ProcessBatch(ctx context.Context, limit int) (*BatchResult, error) {
	if limit <= 0 {
		limit = DefaultAutoSendBatchLimit
	}
	if limit > maxAutoSendBatchLimit {
		limit = maxAutoSendBatchLimit
	}

	started := time.Now()
	defer func() {
		metrics.RecordAutoSendBatch(time.Since(started))
	}()

	result := &BatchResult{Errors: []ItemError{}}
	result.Recovered = s.recoverStale(ctx)

	items, err := s.repos.Queue.FindDue(ctx, s.now(), model.MaxSendAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select due queue items: %w", err)
	}

	for _, item := range items {
		if ctx.Err() != nil {
			// Untouched items stay pending for the next invocation.
			s.logger.Warn("Auto-send batch deadline reached, remaining items deferred:", ctx.Err())
			break
		}

		result.Processed++
		outcome, err := s.processItem(ctx, item)
		switch outcome {
		case outcomeSent:
			result.Sent++
		case outcomeFailed:
			result.Failed++
		default:
			result.Skipped++
		}
		if err != nil {
			result.Errors = append(result.Errors, ItemError{ID: item.ID, Error: err.Error()})
		}
	}

	s.logger.Info("Auto-send batch done:", "processed:", result.Processed, "sent:", result.Sent,
		"failed:", result.Failed, "skipped:", result.Skipped, "recovered:", result.Recovered)
	return result, nil
}

func (s *autoSendService) processItem(ctx context.Context, item *model.AutoSendQueueItem) (outcome itemOutcome, err error) {
	claimed := false
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered panic processing queue item:", item.ID, r)
			err = fmt.Errorf("panic: %v", r)
			outcome = outcomeFailed
			if claimed {
				s.attemptFailed(ctx, item, err.Error())
			}
		}
	}()

	policy, err := s.repos.Workspaces.GetPolicy(ctx, item.WorkspaceID)
	if errors.Is(err, ErrNotFound) {
		return s.cancel(ctx, item, "workspace not found"), nil
	}
	if err != nil {
		// Nothing was claimed, so the item is simply picked up again.
		return outcomeFailed, fmt.Errorf("failed to load policy: %w", err)
	}

	if !policy.AutoSendEnabled {
		return s.cancel(ctx, item, "auto-send disabled"), nil
	}
	if policy.AutoSendPaused {
		return s.cancel(ctx, item, "auto-send paused"), nil
	}
	allowed, err := s.entitlements.HasFeature(ctx, item.WorkspaceID, FeatureAutoSend)
	if err != nil {
		return outcomeFailed, fmt.Errorf("failed to check entitlement: %w", err)
	}
	if !allowed {
		return s.cancel(ctx, item, "auto-send not included in plan"), nil
	}

	local := s.now().In(policy.Location())
	if !schedule.IsWithinWindow(local, policy.WindowStart, policy.WindowEnd) {
		return s.reschedule(ctx, item, schedule.NextWindowStart(policy.WindowStart, local))
	}

	if item.ConfidenceScore < policy.Threshold() {
		return s.cancel(ctx, item, fmt.Sprintf("confidence %.2f below threshold %.2f", item.ConfidenceScore, policy.Threshold())), nil
	}

	won, err := s.repos.Queue.Claim(ctx, item.ID, item.Attempts, s.now())
	if err != nil {
		return outcomeFailed, fmt.Errorf("failed to claim: %w", err)
	}
	if !won {
		s.logger.Info("Queue item claimed elsewhere, skipping:", item.ID)
		return outcomeSkipped, nil
	}
	claimed = true
	item.Status = model.QueueStatusProcessing

	// From here on the item is ours; writes must land even if the batch
	// deadline expires. Reads and provider calls get their own deadline so a
	// hung send ends before the item could be treated as stale.
	ctx = context.WithoutCancel(ctx)
	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	return s.send(ctx, callCtx, item)
}

func (s *autoSendService) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.sendTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.sendTimeout)
}

// send delivers a claimed item. State transitions are written on ctx, every
// read and provider call runs on callCtx.
func (s *autoSendService) send(ctx, callCtx context.Context, item *model.AutoSendQueueItem) (itemOutcome, error) {
	draft, err := s.repos.Drafts.FindByID(callCtx, item.DraftID)
	if errors.Is(err, ErrNotFound) {
		return s.fail(ctx, item, "draft not found")
	}
	if err != nil {
		return s.attemptFailed(ctx, item, "failed to load draft: "+err.Error())
	}
	switch {
	case draft.HoldForReview:
		reason := "held for human review"
		if draft.HoldReason != "" {
			reason += ": " + draft.HoldReason
		}
		return s.cancel(ctx, item, reason), nil
	case draft.IsSent:
		return s.cancel(ctx, item, "draft already sent"), nil
	case !draft.IsActive:
		return s.cancel(ctx, item, "draft superseded by a newer draft"), nil
	}

	msg, err := s.repos.Messages.FindByID(callCtx, item.MessageID)
	if errors.Is(err, ErrNotFound) {
		return s.fail(ctx, item, "message not found")
	}
	if err != nil {
		return s.attemptFailed(ctx, item, "failed to load message: "+err.Error())
	}
	if msg.RequiresHumanReview {
		reason := "message requires human review"
		if msg.ReviewReason != "" {
			reason += ": " + msg.ReviewReason
		}
		return s.cancel(ctx, item, reason), nil
	}

	conn, err := s.repos.Connections.FindByID(callCtx, item.ChannelConnectionID)
	if errors.Is(err, ErrNotFound) {
		return s.fail(ctx, item, "connection not found")
	}
	if err != nil {
		return s.attemptFailed(ctx, item, "failed to load connection: "+err.Error())
	}
	if !conn.IsActive() {
		return s.fail(ctx, item, "connection is "+conn.Status)
	}
	client, err := s.channels.For(conn.Provider)
	if err != nil {
		return s.fail(ctx, item, err.Error())
	}

	token, err := client.GetAccessToken(callCtx, conn.ID)
	if err != nil {
		return s.attemptFailed(ctx, item, channelError("get access token", err).Error())
	}

	raw, err := ParseRawPayload(msg.RawPayload)
	if err != nil {
		s.logger.Warn("Failed to decode stored payload, replying without thread headers:", msg.ID, err)
	}
	req := BuildReply(conn, msg, raw, draft)

	res, err := client.SendReply(callCtx, token, req)
	if err != nil && callCtx.Err() != nil {
		// The provider may have accepted the reply; retrying could deliver
		// it twice.
		reason := "send timed out, delivery unknown"
		s.flagForReview(ctx, msg.ID, reason)
		return s.fail(ctx, item, reason+": "+err.Error())
	}
	if err == nil && (res == nil || !res.Success) {
		err = errors.New("provider rejected the reply")
		if res != nil && res.Error != "" {
			err = errors.New(res.Error)
		}
	}
	if err != nil {
		return s.attemptFailed(ctx, item, channelError("send reply", err).Error())
	}

	s.markSent(ctx, item, conn, client, token, msg, draft, res.MessageID)
	return outcomeSent, nil
}

func (s *autoSendService) markSent(ctx context.Context, item *model.AutoSendQueueItem, conn *model.ChannelConnection, client ChannelClient, token string, msg *model.Message, draft *model.Draft, providerMessageID string) {
	sentAt := s.now()
	recorded := true

	if won, err := s.retry(func() (bool, error) { return s.repos.Drafts.MarkSent(ctx, draft.ID, sentAt) }); err != nil {
		s.logger.Error("Failed to mark draft sent:", draft.ID, err)
		recorded = false
	} else if !won {
		s.logger.Error("Draft was already marked sent:", draft.ID)
	}
	if won, err := s.retry(func() (bool, error) {
		return s.repos.Queue.MarkSent(ctx, item.ID, item.Attempts, providerMessageID, sentAt)
	}); err != nil {
		s.logger.Error("Failed to mark queue item sent:", item.ID, err)
		recorded = false
	} else if !won {
		s.logger.Warn("Queue item changed state before it could be marked sent:", item.ID)
	}

	msg.IsHandled = true
	if !recorded {
		// Stale recovery leaves flagged messages alone, so the reply is not
		// sent again.
		msg.RequiresHumanReview = true
		msg.ReviewReason = sentNotRecordedReason
	}
	msg.UpdatedAt = sentAt
	if _, err := s.retry(func() (bool, error) { return true, s.repos.Messages.Update(ctx, msg) }); err != nil {
		s.logger.Warn("Failed to mark message handled:", msg.ID, err)
	}
	labelCtx, cancel := s.callContext(ctx)
	defer cancel()
	if err := client.ApplyLabel(labelCtx, token, msg.ProviderMessageID, AutoRepliedLabel); err != nil {
		s.logger.Warn("Failed to apply label:", AutoRepliedLabel, msg.ProviderMessageID, err)
	}

	s.audit.Append(ctx, item.WorkspaceID, item.MessageID, item.DraftID, model.AuditActionSent, item.ConfidenceScore, map[string]interface{}{
		"queue_item_id":       item.ID,
		"connection_id":       conn.ID,
		"provider_message_id": providerMessageID,
		"attempt":             item.Attempts + 1,
	})
	metrics.RecordAutoSendOutcome(model.AuditActionSent)
	s.logger.Info("Auto-sent draft:", draft.ID, "queue item:", item.ID)
}

func (s *autoSendService) cancel(ctx context.Context, item *model.AutoSendQueueItem, reason string) itemOutcome {
	won, err := s.repos.Queue.Cancel(ctx, item.ID, item.Status, item.Attempts, reason)
	if err != nil {
		s.logger.Error("Failed to cancel queue item:", item.ID, err)
		return outcomeFailed
	}
	if !won {
		return outcomeSkipped
	}
	s.audit.Append(ctx, item.WorkspaceID, item.MessageID, item.DraftID, model.AuditActionCancelled, item.ConfidenceScore, map[string]interface{}{
		"queue_item_id": item.ID,
		"reason":        reason,
	})
	metrics.RecordAutoSendOutcome(model.AuditActionCancelled)
	s.logger.Info("Cancelled queue item:", item.ID, reason)
	return outcomeSkipped
}

func (s *autoSendService) reschedule(ctx context.Context, item *model.AutoSendQueueItem, at time.Time) (itemOutcome, error) {
	won, err := s.repos.Queue.Reschedule(ctx, item.ID, item.Attempts, at)
	if err != nil {
		return outcomeFailed, fmt.Errorf("failed to reschedule: %w", err)
	}
	if !won {
		return outcomeSkipped, nil
	}
	s.audit.Append(ctx, item.WorkspaceID, item.MessageID, item.DraftID, model.AuditActionRescheduled, item.ConfidenceScore, map[string]interface{}{
		"queue_item_id":     item.ID,
		"scheduled_send_at": at.UTC().Format(time.RFC3339),
		"reason":            "outside send window",
	})
	metrics.RecordAutoSendOutcome(model.AuditActionRescheduled)
	s.logger.Info("Rescheduled queue item:", item.ID, "to:", at)
	return outcomeSkipped, nil
}

// retry runs a sent-state write up to sentStateWriteAttempts times.
func (s *autoSendService) retry(write func() (bool, error)) (bool, error) {
	var err error
	for attempt := 1; attempt <= sentStateWriteAttempts; attempt++ {
		var won bool
		if won, err = write(); err == nil {
			return won, nil
		}
		if attempt < sentStateWriteAttempts {
			time.Sleep(time.Duration(attempt) * s.retryDelay)
		}
	}
	return false, err
}

// fail closes a claimed item without consuming an attempt.
func (s *autoSendService) fail(ctx context.Context, item *model.AutoSendQueueItem, reason string) (itemOutcome, error) {
	won, err := s.repos.Queue.Fail(ctx, item.ID, item.Attempts, reason)
	if err != nil {
		s.logger.Error("Failed to mark queue item failed:", item.ID, err)
	}
	if won {
		s.audit.Append(ctx, item.WorkspaceID, item.MessageID, item.DraftID, model.AuditActionFailed, item.ConfidenceScore, map[string]interface{}{
			"queue_item_id": item.ID,
			"reason":        reason,
			"attempt":       item.Attempts,
			"final":         true,
		})
		metrics.RecordAutoSendOutcome(model.AuditActionFailed)
	}
	s.logger.Warn("Queue item failed permanently:", item.ID, reason)
	return outcomeFailed, errors.New(reason)
}

// attemptFailed consumes one attempt of a claimed item.
func (s *autoSendService) attemptFailed(ctx context.Context, item *model.AutoSendQueueItem, reason string) (itemOutcome, error) {
	s.consumeAttempt(ctx, item, reason)
	return outcomeFailed, errors.New(reason)
}

func (s *autoSendService) consumeAttempt(ctx context.Context, item *model.AutoSendQueueItem, reason string) bool {
	attempt := item.Attempts + 1
	status, won, err := s.repos.Queue.RecordAttemptFailure(ctx, item.ID, item.Attempts, model.MaxSendAttempts, reason)
	if err != nil {
		s.logger.Error("Failed to record attempt failure:", item.ID, err)
		return false
	}
	if !won {
		s.logger.Warn("Queue item changed state before failure could be recorded:", item.ID)
		return false
	}

	final := status == model.QueueStatusFailed
	s.audit.Append(ctx, item.WorkspaceID, item.MessageID, item.DraftID, model.AuditActionFailed, item.ConfidenceScore, map[string]interface{}{
		"queue_item_id": item.ID,
		"reason":        reason,
		"attempt":       attempt,
		"final":         final,
	})
	metrics.RecordAutoSendOutcome(model.AuditActionFailed)
	s.logger.Warn("Auto-send attempt failed:", item.ID, "attempt:", attempt, reason)

	if final {
		s.flagForReview(ctx, item.MessageID, fmt.Sprintf("auto-send failed after %d attempts", attempt))
	}
	return true
}

// flagForReview surfaces an exhausted item on the message itself.
func (s *autoSendService) flagForReview(ctx context.Context, messageID, reason string) {
	msg, err := s.repos.Messages.FindByID(ctx, messageID)
	if err != nil {
		s.logger.Warn("Failed to load message for review flag:", messageID, err)
		return
	}
	msg.RequiresHumanReview = true
	msg.ReviewReason = reason
	msg.UpdatedAt = s.now()
	if err := s.repos.Messages.Update(ctx, msg); err != nil {
		s.logger.Warn("Failed to flag message for review:", messageID, err)
	}
}

// recoverStale resets items left in processing by a crashed or timed out
// worker. Items whose draft already went out are closed as sent instead of
// being retried.
func (s *autoSendService) recoverStale(ctx context.Context) int {
	if s.staleAfter <= 0 {
		return 0
	}
	now := s.now()
	items, err := s.repos.Queue.FindStaleProcessing(ctx, now.Add(-s.staleAfter), staleRecoveryLimit)
	if err != nil {
		s.logger.Warn("Failed to look up stale queue items:", err)
		return 0
	}

	recovered := 0
	for _, item := range items {
		draft, err := s.repos.Drafts.FindByID(ctx, item.DraftID)
		if err == nil && draft.IsSent {
			sentAt := now
			if draft.SentAt != nil {
				sentAt = *draft.SentAt
			}
			if won, err := s.repos.Queue.MarkSent(ctx, item.ID, item.Attempts, "", sentAt); err == nil && won {
				recovered++
				s.logger.Info("Closed stale queue item whose draft was already sent:", item.ID)
			}
			continue
		}

		// A flagged message may already have been answered; a person decides.
		if msg, err := s.repos.Messages.FindByID(ctx, item.MessageID); err == nil && msg.RequiresHumanReview {
			if won, err := s.repos.Queue.Cancel(ctx, item.ID, model.QueueStatusProcessing, item.Attempts, "stale item left for human review"); err == nil && won {
				recovered++
				s.audit.Append(ctx, item.WorkspaceID, item.MessageID, item.DraftID, model.AuditActionCancelled, item.ConfidenceScore, map[string]interface{}{
					"queue_item_id": item.ID,
					"reason":        "stale item left for human review",
				})
				s.logger.Warn("Cancelled stale queue item of a message under review:", item.ID)
			}
			continue
		}

		if s.consumeAttempt(ctx, item, "processing timed out") {
			recovered++
		}
	}
	return recovered
}

// ParseRawPayload decodes a stored provider payload. An empty payload is
// not an error.
func ParseRawPayload(payload []byte) (model.RawMessage, error) {
	var raw model.RawMessage
	if len(payload) == 0 {
		return raw, nil
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return model.RawMessage{}, fmt.Errorf("failed to decode raw payload: %w", err)
	}
	return raw, nil
}

// BuildReply derives the threaded reply for a message from its raw provider
// payload. Without headers the reply goes to the stored sender.
func BuildReply(conn *model.ChannelConnection, msg *model.Message, raw model.RawMessage, draft *model.Draft) *model.SendReplyRequest {
	messageID := strings.TrimSpace(raw.Header("Message-ID"))
	references := strings.TrimSpace(raw.Header("References"))
	if messageID != "" {
		if references == "" {
			references = messageID
		} else if !strings.Contains(references, messageID) {
			references += " " + messageID
		}
	}

	to := normalize.ParseAddressList(raw.Header("Reply-To"))
	if len(to) == 0 && msg.SenderEmail != "" {
		to = []string{msg.SenderEmail}
	}

	return &model.SendReplyRequest{
		ConnectionID:      conn.ID,
		OriginalMessageID: msg.ProviderMessageID,
		ThreadID:          msg.ProviderThreadID,
		From:              conn.AccountEmail,
		To:                to,
		Subject:           replySubject(msg.Subject),
		Body:              draft.Body,
		InReplyTo:         messageID,
		References:        references,
	}
}

func replySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if len(subject) >= 3 && strings.EqualFold(subject[:3], "re:") {
		return subject
	}
	return "Re: " + subject
}
