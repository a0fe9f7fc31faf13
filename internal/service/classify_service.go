package service

import (
	"context"
	"fmt"
	"time"

	"aiva/internal/logger"
	"aiva/internal/metrics"
	"aiva/internal/model"
	"aiva/internal/repository"
)

const maxClassifyBatch = 50

type ClassificationResult struct {
	MessageID       string   `json:"message_id"`
	Priority        string   `json:"priority"`
	Category        string   `json:"category"`
	Sentiment       string   `json:"sentiment"`
	Actionability   string   `json:"actionability"`
	ConfidenceScore float64  `json:"confidence_score"`
	Summary         string   `json:"summary"`
	KeyPoints       []string `json:"key_points"`
}

type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type BatchClassifyResult struct {
	Results []*ClassificationResult `json:"results"`
	Errors  []ItemError             `json:"errors"`
}

type classifyService struct {
	messageRepo repository.MessageRepository
	aiClient    AIClient
	audit       AuditService
	logger      *logger.Logger
	now         func() time.Time
}

func NewClassifyService(messageRepo repository.MessageRepository, aiClient AIClient, audit AuditService, logger *logger.Logger) ClassifyService {
	return &classifyService{
		messageRepo: messageRepo,
		aiClient:    aiClient,
		audit:       audit,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *classifyService) Classify(ctx context.Context, messageID, workspaceID string) (*ClassificationResult, error) {
	msg, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.WorkspaceID != workspaceID {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}

	started := time.Now()
	raw, err := s.aiClient.Classify(ctx, classificationExcerpt(msg.Subject, msg.Body))
	elapsed := time.Since(started)
	metrics.RecordAICall("classify", err, elapsed)
	if err != nil {
		s.logger.Error("Classification failed for message:", msg.ID, err)
		return nil, aiError("classify", err)
	}

	msg.Category = normalizeCategory(raw.Category)
	msg.Sentiment = normalizeSentiment(raw.Sentiment)
	msg.Actionability = normalizeActionability(raw.Actionability)
	msg.Priority = DerivePriority(msg.Category, msg.Sentiment, msg.Actionability)
	msg.ConfidenceScore = NormalizeConfidence(raw.ConfidenceScore, msg.Subject, msg.Body)
	msg.Summary = raw.Summary
	msg.KeyPoints = raw.KeyPoints
	now := s.now()
	msg.ClassifiedAt = &now

	if err := s.messageRepo.Update(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to save classification: %w", err)
	}

	s.audit.Append(ctx, msg.WorkspaceID, msg.ID, "", model.AuditActionClassified, msg.ConfidenceScore, map[string]interface{}{
		"category":          msg.Category,
		"priority":          msg.Priority,
		"model_priority":    raw.Priority,
		"prompt_tokens":     raw.Usage.PromptTokens,
		"completion_tokens": raw.Usage.CompletionTokens,
		"total_tokens":      raw.Usage.TotalTokens,
		"processing_ms":     elapsed.Milliseconds(),
	})
	s.logger.Info("Classified message:", msg.ID, msg.Category, msg.Priority, msg.ConfidenceScore)

	return &ClassificationResult{
		MessageID:       msg.ID,
		Priority:        msg.Priority,
		Category:        msg.Category,
		Sentiment:       msg.Sentiment,
		Actionability:   msg.Actionability,
		ConfidenceScore: msg.ConfidenceScore,
		Summary:         msg.Summary,
		KeyPoints:       msg.KeyPoints,
	}, nil
}

func (s *classifyService) ClassifyBatch(ctx context.Context, workspaceID string, messageIDs []string) (*BatchClassifyResult, error) {
	if len(messageIDs) == 0 {
		return nil, fmt.Errorf("no message ids: %w", ErrInvalidInput)
	}
	if len(messageIDs) > maxClassifyBatch {
		return nil, fmt.Errorf("at most %d message ids per batch: %w", maxClassifyBatch, ErrInvalidInput)
	}

	result := &BatchClassifyResult{
		Results: []*ClassificationResult{},
		Errors:  []ItemError{},
	}
	for _, id := range messageIDs {
		r, err := s.Classify(ctx, id, workspaceID)
		if err != nil {
			result.Errors = append(result.Errors, ItemError{ID: id, Error: err.Error()})
			continue
		}
		result.Results = append(result.Results, r)
	}
	return result, nil
}
