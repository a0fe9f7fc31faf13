package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	AuditActionClassified     = "classified"
	AuditActionDraftGenerated = "draft_generated"
	AuditActionQueued         = "queued"
	AuditActionSent           = "sent"
	AuditActionFailed         = "failed"
	AuditActionCancelled      = "cancelled"
	AuditActionRescheduled    = "rescheduled"
	AuditActionHeld           = "held"
	AuditActionReleased       = "released"
)

// AuditLogEntry is an immutable record of one automated decision.
type AuditLogEntry struct {
	ID          string                 `json:"id"`
	WorkspaceID string                 `json:"workspace_id"`
	MessageID   string                 `json:"message_id,omitempty"`
	DraftID     string                 `json:"draft_id,omitempty"`
	Action      string                 `json:"action"`
	Confidence  float64                `json:"confidence"`
	Detail      map[string]interface{} `json:"detail,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

func NewAuditLogEntry(workspaceID, messageID, draftID, action string, confidence float64, detail map[string]interface{}) *AuditLogEntry {
	return &AuditLogEntry{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		MessageID:   messageID,
		DraftID:     draftID,
		Action:      action,
		Confidence:  confidence,
		Detail:      detail,
		CreatedAt:   time.Now(),
	}
}
