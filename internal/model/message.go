package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
	PriorityNoise  = "noise"
)

const (
	CategoryCustomerInquiry     = "customer_inquiry"
	CategoryCustomerComplaint   = "customer_complaint"
	CategoryAuthorizationCode   = "authorization_code"
	CategorySignInCode          = "sign_in_code"
	CategorySecurityAlert       = "security_alert"
	CategorySalesLead           = "sales_lead"
	CategoryClientSupport       = "client_support"
	CategoryBill                = "bill"
	CategoryInvoice             = "invoice"
	CategoryPaymentConfirmation = "payment_confirmation"
	CategoryMeetingRequest      = "meeting_request"
	CategoryInternal            = "internal"
	CategoryNotification        = "notification"
	CategoryMarketing           = "marketing"
	CategoryJunkEmail           = "junk_email"
	CategoryNewsletter          = "newsletter"
	CategoryPersonal            = "personal"
	CategorySocial              = "social"
	CategoryOther               = "other"
)

const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
	SentimentUrgent   = "urgent"
)

const (
	ActionabilityNone     = "none"
	ActionabilityFYI      = "fyi"
	ActionabilityRequest  = "request"
	ActionabilityQuestion = "question"
	ActionabilityTask     = "task"
)

// Message is the canonical normalized form of a provider message.
// (ChannelConnectionID, ProviderMessageID) is unique.
type Message struct {
	ID                  string          `json:"id"`
	WorkspaceID         string          `json:"workspace_id"`
	ChannelConnectionID string          `json:"channel_connection_id"`
	ProviderMessageID   string          `json:"provider_message_id"`
	ProviderThreadID    string          `json:"provider_thread_id"`
	Subject             string          `json:"subject"`
	Body                string          `json:"body"`
	SenderName          string          `json:"sender_name"`
	SenderEmail         string          `json:"sender_email"`
	Recipients          []string        `json:"recipients"`
	Timestamp           time.Time       `json:"timestamp"`
	Labels              []string        `json:"labels"`
	RawPayload          json.RawMessage `json:"raw_payload,omitempty"`
	ContactID           string          `json:"contact_id,omitempty"`

	Priority            string     `json:"priority"`
	Category            string     `json:"category"`
	Sentiment           string     `json:"sentiment"`
	Actionability       string     `json:"actionability"`
	ConfidenceScore     float64    `json:"confidence_score"`
	Summary             string     `json:"summary"`
	KeyPoints           []string   `json:"key_points"`
	ClassifiedAt        *time.Time `json:"classified_at,omitempty"`
	RequiresHumanReview bool       `json:"requires_human_review"`
	ReviewReason        string     `json:"review_reason,omitempty"`
	HasDraft            bool       `json:"has_draft"`
	IsHandled           bool       `json:"is_handled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewMessage(workspaceID, connectionID, providerMessageID, providerThreadID string) *Message {
	now := time.Now()
	return &Message{
		ID:                  uuid.New().String(),
		WorkspaceID:         workspaceID,
		ChannelConnectionID: connectionID,
		ProviderMessageID:   providerMessageID,
		ProviderThreadID:    providerThreadID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// IsClassified reports whether the classifier has run on the message.
func (m *Message) IsClassified() bool {
	return m.ClassifiedAt != nil
}
