package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ProviderGmail = "gmail"

	ConnectionStatusActive       = "active"
	ConnectionStatusDisconnected = "disconnected"
	ConnectionStatusError        = "error"
)

// ChannelConnection is one authenticated mailbox owned by a workspace.
type ChannelConnection struct {
	ID           string     `json:"id" db:"id"`
	WorkspaceID  string     `json:"workspace_id" db:"workspace_id"`
	Provider     string     `json:"provider" db:"provider"`
	AccountEmail string     `json:"account_email" db:"account_email"`
	Status       string     `json:"status" db:"status"`
	AccessToken  string     `json:"-" db:"access_token"`
	RefreshToken string     `json:"-" db:"refresh_token"`
	TokenExpiry  time.Time  `json:"token_expiry" db:"token_expiry"`
	SyncCursor   string     `json:"sync_cursor" db:"sync_cursor"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty" db:"last_sync_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

func NewChannelConnection(workspaceID, provider, accountEmail, accessToken, refreshToken string, tokenExpiry time.Time) *ChannelConnection {
	now := time.Now()
	return &ChannelConnection{
		ID:           uuid.New().String(),
		WorkspaceID:  workspaceID,
		Provider:     provider,
		AccountEmail: accountEmail,
		Status:       ConnectionStatusActive,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenExpiry:  tokenExpiry,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (c *ChannelConnection) IsActive() bool {
	return c.Status == ConnectionStatusActive
}
