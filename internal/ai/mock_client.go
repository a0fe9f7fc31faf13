package ai

import (
	"context"
	"sync"

	"aiva/internal/model"
)

// MockAIClient is a mock implementation of AIClient for testing
type MockAIClient struct {
	ClassifyFunc      func(ctx context.Context, excerpt string) (*model.Classification, error)
	GenerateDraftFunc func(ctx context.Context, draftCtx *model.DraftContext, tone string) (*model.GeneratedDraft, error)

	mu            sync.Mutex
	ClassifyCalls int
	DraftCalls    int
	LastExcerpt   string
	LastContext   *model.DraftContext
}

func NewMockAIClient() *MockAIClient {
	return &MockAIClient{}
}

func (m *MockAIClient) Classify(ctx context.Context, excerpt string) (*model.Classification, error) {
	m.mu.Lock()
	m.ClassifyCalls++
	m.LastExcerpt = excerpt
	m.mu.Unlock()

	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, excerpt)
	}

	// Default mock behavior: a confident customer inquiry
	confidence := 0.9
	return &model.Classification{
		Category:        model.CategoryCustomerInquiry,
		Priority:        model.PriorityMedium,
		Sentiment:       model.SentimentNeutral,
		Actionability:   model.ActionabilityQuestion,
		ConfidenceScore: &confidence,
		Summary:         "Customer asks a question",
	}, nil
}

func (m *MockAIClient) GenerateDraft(ctx context.Context, draftCtx *model.DraftContext, tone string) (*model.GeneratedDraft, error) {
	m.mu.Lock()
	m.DraftCalls++
	m.LastContext = draftCtx
	m.mu.Unlock()

	if m.GenerateDraftFunc != nil {
		return m.GenerateDraftFunc(ctx, draftCtx, tone)
	}

	confidence := 0.9
	return &model.GeneratedDraft{
		Body:            "Thanks for reaching out, we will get back to you shortly.",
		ConfidenceScore: &confidence,
		IsAutoSendable:  true,
	}, nil
}
