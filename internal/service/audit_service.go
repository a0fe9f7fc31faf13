package service

import (
	"context"

	"aiva/internal/logger"
	"aiva/internal/model"
	"aiva/internal/repository"
)

const defaultAuditLimit = 100

type auditService struct {
	auditRepo repository.AuditRepository
	logger    *logger.Logger
}

func NewAuditService(auditRepo repository.AuditRepository, logger *logger.Logger) AuditService {
	return &auditService{
		auditRepo: auditRepo,
		logger:    logger,
	}
}

func (s *auditService) Append(ctx context.Context, workspaceID, messageID, draftID, action string, confidence float64, detail map[string]interface{}) {
	entry := model.NewAuditLogEntry(workspaceID, messageID, draftID, action, confidence, detail)
	// Audit writes must not be lost to a cancelled request.
	if err := s.auditRepo.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("Failed to append audit entry:", action, messageID, err)
	}
}

func (s *auditService) List(ctx context.Context, workspaceID, messageID string, limit int) ([]*model.AuditLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultAuditLimit
	}
	return s.auditRepo.FindByWorkspace(ctx, workspaceID, messageID, limit)
}
