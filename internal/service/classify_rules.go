package service

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"aiva/internal/model"
)

const (
	minConfidence     = 0.35
	maxConfidence     = 1.0
	missingConfidence = 0.5
	shortMessageCap   = 0.60
	testMessageCap    = 0.55

	shortBodyRunes    = 50
	shortSubjectRunes = 20

	classifyExcerptBudget = 3000
)

var testMessagePattern = regexp.MustCompile(`(?i)^\s*test\b|\btest(ing)? (e-?mail|message|mail)\b|\bthis is (just )?a test\b|\blorem ipsum\b|\basdf`)

// NormalizeConfidence maps a raw capability confidence onto the stored value.
// The result is always within [0.35, 1.0] and rounded to 2 decimals.
func NormalizeConfidence(raw *float64, subject, body string) float64 {
	c := missingConfidence
	if raw != nil && !math.IsNaN(*raw) {
		c = *raw
	}
	c = math.Max(minConfidence, math.Min(maxConfidence, c))

	if utf8.RuneCountInString(strings.TrimSpace(body)) < shortBodyRunes &&
		utf8.RuneCountInString(strings.TrimSpace(subject)) < shortSubjectRunes {
		c = math.Min(c, shortMessageCap)
	}
	if IsTestMessage(subject, body) {
		c = math.Min(c, testMessageCap)
	}
	return math.Round(c*100) / 100
}

func IsTestMessage(subject, body string) bool {
	return testMessagePattern.MatchString(subject) || testMessagePattern.MatchString(body)
}

// DerivePriority replaces the capability's priority with a fixed mapping.
func DerivePriority(category, sentiment, actionability string) string {
	switch category {
	case model.CategoryCustomerInquiry, model.CategoryCustomerComplaint:
		if sentiment == model.SentimentUrgent ||
			actionability == model.ActionabilityRequest ||
			actionability == model.ActionabilityQuestion {
			return model.PriorityUrgent
		}
		return model.PriorityHigh
	case model.CategoryAuthorizationCode, model.CategorySignInCode:
		return model.PriorityUrgent
	case model.CategorySecurityAlert, model.CategorySalesLead, model.CategoryClientSupport:
		return model.PriorityHigh
	case model.CategoryBill, model.CategoryInvoice, model.CategoryPaymentConfirmation, model.CategoryMeetingRequest:
		return model.PriorityMedium
	case model.CategoryInternal, model.CategoryNotification, model.CategoryPersonal, model.CategorySocial:
		return model.PriorityLow
	case model.CategoryMarketing, model.CategoryJunkEmail, model.CategoryNewsletter:
		return model.PriorityNoise
	}
	return model.PriorityMedium
}

var knownCategories = map[string]bool{
	model.CategoryCustomerInquiry:     true,
	model.CategoryCustomerComplaint:   true,
	model.CategoryAuthorizationCode:   true,
	model.CategorySignInCode:          true,
	model.CategorySecurityAlert:       true,
	model.CategorySalesLead:           true,
	model.CategoryClientSupport:       true,
	model.CategoryBill:                true,
	model.CategoryInvoice:             true,
	model.CategoryPaymentConfirmation: true,
	model.CategoryMeetingRequest:      true,
	model.CategoryInternal:            true,
	model.CategoryNotification:        true,
	model.CategoryMarketing:           true,
	model.CategoryJunkEmail:           true,
	model.CategoryNewsletter:          true,
	model.CategoryPersonal:            true,
	model.CategorySocial:              true,
	model.CategoryOther:               true,
}

func normalizeLabel(v string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(v)), " ", "_")
}

func normalizeCategory(v string) string {
	v = normalizeLabel(v)
	if knownCategories[v] {
		return v
	}
	return model.CategoryOther
}

func normalizeSentiment(v string) string {
	switch v = normalizeLabel(v); v {
	case model.SentimentPositive, model.SentimentNeutral, model.SentimentNegative, model.SentimentUrgent:
		return v
	}
	return model.SentimentNeutral
}

func normalizeActionability(v string) string {
	switch v = normalizeLabel(v); v {
	case model.ActionabilityNone, model.ActionabilityFYI, model.ActionabilityRequest,
		model.ActionabilityQuestion, model.ActionabilityTask:
		return v
	}
	return model.ActionabilityNone
}

// classificationExcerpt bounds what is sent to the classification capability.
func classificationExcerpt(subject, body string) string {
	excerpt := "Subject: " + subject + "\n\n" + body
	return truncateRunes(excerpt, classifyExcerptBudget)
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
