package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Contact struct {
	ID           string    `json:"id" db:"id"`
	WorkspaceID  string    `json:"workspace_id" db:"workspace_id"`
	Channel      string    `json:"channel" db:"channel"`
	Address      string    `json:"address" db:"address"`
	DisplayName  string    `json:"display_name" db:"display_name"`
	MessageCount int       `json:"message_count" db:"message_count"`
	FirstSeenAt  time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt   time.Time `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

func NewContact(workspaceID, channel, address, displayName string, seenAt time.Time) *Contact {
	now := time.Now()
	return &Contact{
		ID:           uuid.New().String(),
		WorkspaceID:  workspaceID,
		Channel:      channel,
		Address:      NormalizeAddress(address),
		DisplayName:  displayName,
		MessageCount: 1,
		FirstSeenAt:  seenAt,
		LastSeenAt:   seenAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NormalizeAddress is the canonical form used for contact identity.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
