package service

import (
	"context"
	"fmt"
	"time"

	"aiva/internal/logger"
	"aiva/internal/model"
	"aiva/internal/repository"
)

type reviewService struct {
	draftRepo   repository.DraftRepository
	messageRepo repository.MessageRepository
	audit       AuditService
	logger      *logger.Logger
}

func NewReviewService(draftRepo repository.DraftRepository, messageRepo repository.MessageRepository, audit AuditService, logger *logger.Logger) ReviewService {
	return &reviewService{
		draftRepo:   draftRepo,
		messageRepo: messageRepo,
		audit:       audit,
		logger:      logger,
	}
}

func (s *reviewService) HoldDraft(ctx context.Context, workspaceID, draftID, reason string) error {
	return s.setDraftHold(ctx, workspaceID, draftID, true, reason)
}

func (s *reviewService) ReleaseDraft(ctx context.Context, workspaceID, draftID string) error {
	return s.setDraftHold(ctx, workspaceID, draftID, false, "")
}

func (s *reviewService) setDraftHold(ctx context.Context, workspaceID, draftID string, hold bool, reason string) error {
	draft, err := s.draftRepo.FindByID(ctx, draftID)
	if err != nil {
		return err
	}
	if draft.WorkspaceID != workspaceID {
		return fmt.Errorf("draft %s: %w", draftID, ErrNotFound)
	}
	if err := s.draftRepo.SetHold(ctx, draftID, hold, reason); err != nil {
		return fmt.Errorf("failed to update draft hold: %w", err)
	}

	action := model.AuditActionReleased
	if hold {
		action = model.AuditActionHeld
	}
	s.audit.Append(ctx, workspaceID, draft.MessageID, draft.ID, action, draft.ConfidenceScore, map[string]interface{}{
		"target": "draft",
		"reason": reason,
	})
	s.logger.Info("Draft review hold changed:", draftID, "hold:", hold)
	return nil
}

func (s *reviewService) FlagMessage(ctx context.Context, workspaceID, messageID, reason string) error {
	return s.setMessageReview(ctx, workspaceID, messageID, true, reason)
}

func (s *reviewService) ClearMessage(ctx context.Context, workspaceID, messageID string) error {
	return s.setMessageReview(ctx, workspaceID, messageID, false, "")
}

func (s *reviewService) setMessageReview(ctx context.Context, workspaceID, messageID string, flag bool, reason string) error {
	msg, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.WorkspaceID != workspaceID {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}

	msg.RequiresHumanReview = flag
	msg.ReviewReason = reason
	msg.UpdatedAt = time.Now()
	if err := s.messageRepo.Update(ctx, msg); err != nil {
		return fmt.Errorf("failed to update message review flag: %w", err)
	}

	action := model.AuditActionReleased
	if flag {
		action = model.AuditActionHeld
	}
	s.audit.Append(ctx, workspaceID, msg.ID, "", action, msg.ConfidenceScore, map[string]interface{}{
		"target": "message",
		"reason": reason,
	})
	s.logger.Info("Message review flag changed:", messageID, "flag:", flag)
	return nil
}
