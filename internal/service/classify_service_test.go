package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiva/internal/logger"
	"aiva/internal/model"
)

func ptr(v float64) *float64 { return &v }

func TestNormalizeConfidence(t *testing.T) {
	longSubject := "Question about the enterprise plan"
	longBody := strings.Repeat("We would like to understand the pricing. ", 3)

	tests := []struct {
		name    string
		raw     *float64
		subject string
		body    string
		want    float64
	}{
		{"missing defaults", nil, longSubject, longBody, 0.5},
		{"nan defaults", ptr(math.NaN()), longSubject, longBody, 0.5},
		{"clamped low", ptr(0.1), longSubject, longBody, 0.35},
		{"clamped high", ptr(1.7), longSubject, longBody, 1.0},
		{"rounded", ptr(0.876), longSubject, longBody, 0.88},
		{"short message capped", ptr(0.99), "Hi", "ok thanks", 0.60},
		{"short body long subject not capped", ptr(0.99), longSubject, "ok thanks", 0.99},
		{"test subject capped", ptr(0.95), "Test email please ignore", longBody, 0.55},
		{"test body capped", ptr(0.95), longSubject, "This is a test of the new mailbox setup, nothing to see here at all.", 0.55},
		{"short and test keeps lower cap", ptr(0.99), "test", "asdf", 0.55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeConfidence(tt.raw, tt.subject, tt.body))
		})
	}
}

func TestNormalizeConfidenceAlwaysInRange(t *testing.T) {
	for v := -2.0; v <= 3.0; v += 0.013 {
		got := NormalizeConfidence(ptr(v), "Hi", "short")
		assert.GreaterOrEqual(t, got, 0.35)
		assert.LessOrEqual(t, got, 0.60)
		assert.Equal(t, got, math.Round(got*100)/100)
	}
}

func TestDerivePriority(t *testing.T) {
	sentiments := []string{model.SentimentPositive, model.SentimentNeutral, model.SentimentNegative, model.SentimentUrgent}
	actions := []string{model.ActionabilityNone, model.ActionabilityFYI, model.ActionabilityRequest, model.ActionabilityQuestion, model.ActionabilityTask}

	for _, s := range sentiments {
		for _, a := range actions {
			assert.Equal(t, model.PriorityUrgent, DerivePriority(model.CategoryAuthorizationCode, s, a))
			assert.Equal(t, model.PriorityNoise, DerivePriority(model.CategoryMarketing, s, a))
		}
	}

	assert.Equal(t, model.PriorityUrgent, DerivePriority(model.CategoryCustomerInquiry, model.SentimentNeutral, model.ActionabilityQuestion))
	assert.Equal(t, model.PriorityUrgent, DerivePriority(model.CategoryCustomerComplaint, model.SentimentUrgent, model.ActionabilityNone))
	assert.Equal(t, model.PriorityHigh, DerivePriority(model.CategoryCustomerInquiry, model.SentimentNeutral, model.ActionabilityFYI))
	assert.Equal(t, model.PriorityHigh, DerivePriority(model.CategorySecurityAlert, model.SentimentNeutral, model.ActionabilityNone))
	assert.Equal(t, model.PriorityMedium, DerivePriority(model.CategoryInvoice, model.SentimentNeutral, model.ActionabilityTask))
	assert.Equal(t, model.PriorityLow, DerivePriority(model.CategorySocial, model.SentimentPositive, model.ActionabilityNone))
	assert.Equal(t, model.PriorityMedium, DerivePriority("unknown", model.SentimentNeutral, model.ActionabilityNone))
}

func newClassifier(repos *memoryRepos, ai AIClient) *classifyService {
	svc := NewClassifyService(repos.Messages, ai, NewAuditService(repos.Audit, logger.NewNop()), logger.NewNop()).(*classifyService)
	svc.now = func() time.Time { return fixedClock }
	return svc
}

func TestClassifyPersistsNormalizedFields(t *testing.T) {
	repos := newMemoryRepos()
	ws := seedWorkspace(t, repos, model.PlanBusiness, openPolicy())
	conn := seedConnection(t, repos, ws.ID)
	msg := seedMessage(t, repos, conn, "p-1", 0)

	ai := &fakeAI{classify: func(excerpt string) (*model.Classification, error) {
		assert.True(t, strings.HasPrefix(excerpt, "Subject: Question about my subscription renewal"))
		return &model.Classification{
			Category:        "Marketing",
			Priority:        model.PriorityUrgent,
			Sentiment:       "ecstatic",
			Actionability:   "",
			ConfidenceScore: ptr(0.934),
			Summary:         "Promo",
			Usage:           model.Usage{TotalTokens: 42},
		}, nil
	}}

	result, err := newClassifier(repos, ai).Classify(context.Background(), msg.ID, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryMarketing, result.Category)
	assert.Equal(t, model.PriorityNoise, result.Priority)
	assert.Equal(t, model.SentimentNeutral, result.Sentiment)
	assert.Equal(t, model.ActionabilityNone, result.Actionability)
	assert.Equal(t, 0.93, result.ConfidenceScore)

	stored, err := repos.Messages.FindByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PriorityNoise, stored.Priority)
	assert.Equal(t, 0.93, stored.ConfidenceScore)
	require.NotNil(t, stored.ClassifiedAt)
	assert.True(t, stored.ClassifiedAt.Equal(fixedClock))

	entries, err := repos.Audit.FindByWorkspace(context.Background(), ws.ID, msg.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditActionClassified, entries[0].Action)
	assert.Equal(t, 42, entries[0].Detail["total_tokens"])
}

func TestClassifyTruncatesExcerpt(t *testing.T) {
	repos := newMemoryRepos()
	ws := seedWorkspace(t, repos, model.PlanBusiness, openPolicy())
	conn := seedConnection(t, repos, ws.ID)
	msg := seedMessage(t, repos, conn, "p-1", 0)
	msg.Body = strings.Repeat("é", 10000)
	require.NoError(t, repos.Messages.Update(context.Background(), msg))

	var seen string
	ai := &fakeAI{classify: func(excerpt string) (*model.Classification, error) {
		seen = excerpt
		return &model.Classification{Category: model.CategoryOther}, nil
	}}
	_, err := newClassifier(repos, ai).Classify(context.Background(), msg.ID, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, classifyExcerptBudget, len([]rune(seen)))
}

func TestClassifyErrors(t *testing.T) {
	repos := newMemoryRepos()
	ws := seedWorkspace(t, repos, model.PlanBusiness, openPolicy())
	conn := seedConnection(t, repos, ws.ID)
	msg := seedMessage(t, repos, conn, "p-1", 0)

	_, err := newClassifier(repos, &fakeAI{}).Classify(context.Background(), msg.ID, "other-ws")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = newClassifier(repos, &fakeAI{}).Classify(context.Background(), "missing", ws.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	failing := &fakeAI{classify: func(string) (*model.Classification, error) { return nil, errors.New("quota") }}
	_, err = newClassifier(repos, failing).Classify(context.Background(), msg.ID, ws.ID)
	var capErr *CapabilityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, "ai", capErr.Capability)
}

func TestClassifyBatchCollectsPerItemErrors(t *testing.T) {
	repos := newMemoryRepos()
	ws := seedWorkspace(t, repos, model.PlanBusiness, openPolicy())
	conn := seedConnection(t, repos, ws.ID)
	a := seedMessage(t, repos, conn, "p-1", 0)
	b := seedMessage(t, repos, conn, "p-2", 0)

	svc := newClassifier(repos, &fakeAI{})
	result, err := svc.ClassifyBatch(context.Background(), ws.ID, []string{a.ID, "missing", b.ID})
	require.NoError(t, err)
	assert.Len(t, result.Results, 2)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "missing", result.Errors[0].ID)

	_, err = svc.ClassifyBatch(context.Background(), ws.ID, make([]string, maxClassifyBatch+1))
	assert.True(t, errors.Is(err, ErrInvalidInput))
	_, err = svc.ClassifyBatch(context.Background(), ws.ID, nil)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}
