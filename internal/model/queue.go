package model

import (
	"time"

	"github.com/google/uuid"
)

type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusCancelled  QueueStatus = "cancelled"
)

// MaxSendAttempts bounds how many times a queue item may be handed to the
// channel send capability.
const MaxSendAttempts = 3

// AutoSendQueueItem is a scheduled intent to send a draft without human
// intervention. Rows are never deleted; terminal rows stay for audit.
type AutoSendQueueItem struct {
	ID                  string      `json:"id" db:"id"`
	WorkspaceID         string      `json:"workspace_id" db:"workspace_id"`
	MessageID           string      `json:"message_id" db:"message_id"`
	DraftID             string      `json:"draft_id" db:"draft_id"`
	ChannelConnectionID string      `json:"channel_connection_id" db:"channel_connection_id"`
	Status              QueueStatus `json:"status" db:"status"`
	ScheduledSendAt     time.Time   `json:"scheduled_send_at" db:"scheduled_send_at"`
	Attempts            int         `json:"attempts" db:"attempts"`
	ConfidenceScore     float64     `json:"confidence_score" db:"confidence_score"`
	LastError           string      `json:"last_error,omitempty" db:"last_error"`
	CancelReason        string      `json:"cancel_reason,omitempty" db:"cancel_reason"`
	ProviderMessageID   string      `json:"provider_message_id,omitempty" db:"provider_message_id"`
	ProcessingStartedAt *time.Time  `json:"processing_started_at,omitempty" db:"processing_started_at"`
	SentAt              *time.Time  `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt           time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at" db:"updated_at"`
}

func NewAutoSendQueueItem(workspaceID, messageID, draftID, connectionID string, scheduledAt time.Time, confidence float64) *AutoSendQueueItem {
	now := time.Now()
	return &AutoSendQueueItem{
		ID:                  uuid.New().String(),
		WorkspaceID:         workspaceID,
		MessageID:           messageID,
		DraftID:             draftID,
		ChannelConnectionID: connectionID,
		Status:              QueueStatusPending,
		ScheduledSendAt:     scheduledAt,
		ConfidenceScore:     confidence,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// IsTerminal reports whether no further processing may happen on the item.
// A retryable failure goes back to pending in the same write, so a row that
// reads failed is always final.
func (q *AutoSendQueueItem) IsTerminal() bool {
	switch q.Status {
	case QueueStatusSent, QueueStatusCancelled, QueueStatusFailed:
		return true
	}
	return false
}
