package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"aiva/internal/logger"
	"aiva/internal/metrics"
	"aiva/internal/model"
	"aiva/internal/schedule"
)

const (
	threadContextMessages = 5
	threadEntryBudget     = 1000
)

type DraftOptions struct {
	Tone      string `json:"tone"`
	MaxLength int    `json:"max_length"`
}

type DraftResult struct {
	DraftID         string     `json:"draft_id"`
	Body            string     `json:"body"`
	ConfidenceScore float64    `json:"confidence_score"`
	IsAutoSendable  bool       `json:"is_auto_sendable"`
	Queued          bool       `json:"queued"`
	QueueItemID     string     `json:"queue_item_id,omitempty"`
	ScheduledSendAt *time.Time `json:"scheduled_send_at,omitempty"`
}

type draftService struct {
	repos        Repositories
	aiClient     AIClient
	entitlements EntitlementChecker
	audit        AuditService
	logger       *logger.Logger
	now          func() time.Time
}

func NewDraftService(repos Repositories, aiClient AIClient, entitlements EntitlementChecker, audit AuditService, logger *logger.Logger) DraftService {
	return &draftService{
		repos:        repos,
		aiClient:     aiClient,
		entitlements: entitlements,
		audit:        audit,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *draftService) GenerateDraft(ctx context.Context, messageID, workspaceID string, opts DraftOptions) (*DraftResult, error) {
	allowed, err := s.entitlements.HasFeature(ctx, workspaceID, FeatureAIDrafts)
	if err != nil {
		return nil, fmt.Errorf("failed to check entitlement: %w", err)
	}
	if !allowed {
		return nil, fmt.Errorf("%s: %w", FeatureAIDrafts, ErrFeatureDenied)
	}

	msg, err := s.repos.Messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.WorkspaceID != workspaceID {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}

	policy, err := s.repos.Workspaces.GetPolicy(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	tone := opts.Tone
	if tone == "" {
		tone = policy.DefaultTone
	}
	if tone == "" {
		tone = model.ToneProfessional
	}

	draftCtx := &model.DraftContext{
		Subject:     msg.Subject,
		SenderName:  msg.SenderName,
		SenderEmail: msg.SenderEmail,
		Body:        msg.Body,
		Thread:      s.threadContext(ctx, msg),
		MaxLength:   opts.MaxLength,
	}

	started := time.Now()
	generated, err := s.aiClient.GenerateDraft(ctx, draftCtx, tone)
	elapsed := time.Since(started)
	metrics.RecordAICall("draft", err, elapsed)
	if err != nil {
		s.logger.Error("Draft generation failed for message:", msg.ID, err)
		return nil, aiError("generate draft", err)
	}

	confidence := draftConfidence(generated.ConfidenceScore, msg)

	if err := s.repos.Drafts.DeactivateForMessage(ctx, msg.ID); err != nil {
		return nil, fmt.Errorf("failed to deactivate previous drafts: %w", err)
	}
	draft := model.NewDraft(workspaceID, msg.ID, generated.Body, tone, confidence, generated.IsAutoSendable)
	if err := s.repos.Drafts.Create(ctx, draft); err != nil {
		return nil, fmt.Errorf("failed to save draft: %w", err)
	}

	msg.HasDraft = true
	if err := s.repos.Messages.Update(ctx, msg); err != nil {
		s.logger.Warn("Failed to set has_draft on message:", msg.ID, err)
	}

	s.audit.Append(ctx, workspaceID, msg.ID, draft.ID, model.AuditActionDraftGenerated, confidence, map[string]interface{}{
		"tone":              tone,
		"is_auto_sendable":  generated.IsAutoSendable,
		"thread_messages":   len(draftCtx.Thread),
		"prompt_tokens":     generated.Usage.PromptTokens,
		"completion_tokens": generated.Usage.CompletionTokens,
		"total_tokens":      generated.Usage.TotalTokens,
		"processing_ms":     elapsed.Milliseconds(),
	})
	s.logger.Info("Generated draft:", draft.ID, "for message:", msg.ID, "confidence:", confidence)

	result := &DraftResult{
		DraftID:         draft.ID,
		Body:            draft.Body,
		ConfidenceScore: confidence,
		IsAutoSendable:  draft.IsAutoSendable,
	}

	item, reason, err := s.enqueue(ctx, msg, draft, policy)
	switch {
	case err != nil:
		// The draft stays available for a human to send.
		s.logger.Error("Failed to enqueue draft:", draft.ID, err)
	case item == nil:
		s.logger.Debug("Draft not queued:", draft.ID, reason)
	default:
		result.Queued = true
		result.QueueItemID = item.ID
		scheduled := item.ScheduledSendAt
		result.ScheduledSendAt = &scheduled
	}
	return result, nil
}

// threadContext returns up to five earlier messages of the same provider
// thread, oldest first.
func (s *draftService) threadContext(ctx context.Context, msg *model.Message) []model.ThreadEntry {
	if msg.ProviderThreadID == "" {
		return nil
	}
	thread, err := s.repos.Messages.FindByThread(ctx, msg.ChannelConnectionID, msg.ProviderThreadID)
	if err != nil {
		s.logger.Warn("Failed to load thread context:", msg.ProviderThreadID, err)
		return nil
	}

	earlier := make([]*model.Message, 0, len(thread))
	for _, m := range thread {
		if m.ID != msg.ID && !m.Timestamp.After(msg.Timestamp) {
			earlier = append(earlier, m)
		}
	}
	sort.SliceStable(earlier, func(i, j int) bool {
		return earlier[i].Timestamp.Before(earlier[j].Timestamp)
	})
	if len(earlier) > threadContextMessages {
		earlier = earlier[len(earlier)-threadContextMessages:]
	}

	entries := make([]model.ThreadEntry, 0, len(earlier))
	for _, m := range earlier {
		from := m.SenderEmail
		if m.SenderName != "" {
			from = m.SenderName + " <" + m.SenderEmail + ">"
		}
		entries = append(entries, model.ThreadEntry{
			From: from,
			Body: truncateRunes(strings.TrimSpace(m.Body), threadEntryBudget),
		})
	}
	return entries
}

// draftConfidence is the snapshot stored on the draft and the queue item. It
// never exceeds the classification confidence of the message it answers.
func draftConfidence(raw *float64, msg *model.Message) float64 {
	c := msg.ConfidenceScore
	if raw != nil && !math.IsNaN(*raw) {
		c = math.Max(0, math.Min(1, *raw))
		if msg.IsClassified() {
			c = math.Min(c, msg.ConfidenceScore)
		}
	}
	return math.Round(c*100) / 100
}

// enqueue schedules the draft for autonomous sending when every gate allows
// it. A nil item with a reason means the draft was deliberately not queued.
func (s *draftService) enqueue(ctx context.Context, msg *model.Message, draft *model.Draft, policy *model.WorkspacePolicy) (*model.AutoSendQueueItem, string, error) {
	switch {
	case !draft.IsAutoSendable:
		return nil, "draft not auto-sendable", nil
	case !policy.AutoSendEnabled:
		return nil, "auto-send disabled", nil
	case policy.AutoSendPaused:
		return nil, "auto-send paused", nil
	case draft.ConfidenceScore < policy.Threshold():
		return nil, fmt.Sprintf("confidence %.2f below threshold %.2f", draft.ConfidenceScore, policy.Threshold()), nil
	case msg.RequiresHumanReview:
		return nil, "message requires human review", nil
	case draft.HoldForReview:
		return nil, "draft held for review", nil
	case msg.IsClassified() && !policy.AllowsCategory(msg.Category):
		return nil, "category " + msg.Category + " not eligible", nil
	}

	allowed, err := s.entitlements.HasFeature(ctx, msg.WorkspaceID, FeatureAutoSend)
	if err != nil {
		return nil, "", fmt.Errorf("failed to check entitlement: %w", err)
	}
	if !allowed {
		return nil, "auto-send not in plan", nil
	}

	at := ScheduleSendAt(s.now(), policy)
	item := model.NewAutoSendQueueItem(msg.WorkspaceID, msg.ID, draft.ID, msg.ChannelConnectionID, at, draft.ConfidenceScore)
	if err := s.repos.Queue.Create(ctx, item); err != nil {
		return nil, "", fmt.Errorf("failed to create queue item: %w", err)
	}

	s.audit.Append(ctx, msg.WorkspaceID, msg.ID, draft.ID, model.AuditActionQueued, draft.ConfidenceScore, map[string]interface{}{
		"queue_item_id":     item.ID,
		"scheduled_send_at": at.UTC().Format(time.RFC3339),
	})
	s.logger.Info("Queued draft for auto-send:", draft.ID, "at:", at)
	return item, "", nil
}

// ScheduleSendAt applies the send delay and then pushes the result to the
// next window start when it falls outside the workspace window.
func ScheduleSendAt(now time.Time, policy *model.WorkspacePolicy) time.Time {
	at := now.Add(time.Duration(policy.SendDelayMinutes) * time.Minute)
	local := at.In(policy.Location())
	if schedule.IsWithinWindow(local, policy.WindowStart, policy.WindowEnd) {
		return at
	}
	return schedule.NextWindowStart(policy.WindowStart, local)
}
