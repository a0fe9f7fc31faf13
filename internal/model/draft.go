package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ToneProfessional = "professional"
	ToneFriendly     = "friendly"
	ToneConcise      = "concise"
)

type Draft struct {
	ID              string     `json:"id" db:"id"`
	WorkspaceID     string     `json:"workspace_id" db:"workspace_id"`
	MessageID       string     `json:"message_id" db:"message_id"`
	Body            string     `json:"body" db:"body"`
	Tone            string     `json:"tone" db:"tone"`
	GeneratedByAI   bool       `json:"generated_by_ai" db:"generated_by_ai"`
	ConfidenceScore float64    `json:"confidence_score" db:"confidence_score"`
	IsAutoSendable  bool       `json:"is_auto_sendable" db:"is_auto_sendable"`
	IsActive        bool       `json:"is_active" db:"is_active"`
	HoldForReview   bool       `json:"hold_for_review" db:"hold_for_review"`
	HoldReason      string     `json:"hold_reason,omitempty" db:"hold_reason"`
	IsSent          bool       `json:"is_sent" db:"is_sent"`
	SentAt          *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

func NewDraft(workspaceID, messageID, body, tone string, confidence float64, autoSendable bool) *Draft {
	now := time.Now()
	return &Draft{
		ID:              uuid.New().String(),
		WorkspaceID:     workspaceID,
		MessageID:       messageID,
		Body:            body,
		Tone:            tone,
		GeneratedByAI:   true,
		ConfidenceScore: confidence,
		IsAutoSendable:  autoSendable,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
