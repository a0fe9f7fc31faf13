package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiva/internal/logger"
	"aiva/internal/model"
)

func TestConnectCreatesThenReactivates(t *testing.T) {
	repos := newMemoryRepos()
	ws := seedWorkspace(t, repos, model.PlanBusiness, openPolicy())
	svc := NewConnectionService(repos.Workspaces, repos.Connections, logger.NewNop())
	ctx := context.Background()

	first, err := svc.Connect(ctx, ws.ID, model.ProviderGmail, "Support@Acme.com", "a1", "r1", fixedClock)
	require.NoError(t, err)
	assert.Equal(t, "support@acme.com", first.AccountEmail)
	assert.True(t, first.IsActive())

	require.NoError(t, svc.Disconnect(ctx, ws.ID, first.ID))
	active, err := svc.ActiveConnections(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// Re-consent without a refresh token keeps the stored one.
	again, err := svc.Connect(ctx, ws.ID, model.ProviderGmail, "support@acme.com", "a2", "", fixedClock.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	stored, err := svc.FindConnection(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive())
	assert.Equal(t, "a2", stored.AccessToken)
	assert.Equal(t, "r1", stored.RefreshToken)
}

func TestConnectionServiceScopesByWorkspace(t *testing.T) {
	repos := newMemoryRepos()
	ws := seedWorkspace(t, repos, model.PlanBusiness, openPolicy())
	conn := seedConnection(t, repos, ws.ID)
	svc := NewConnectionService(repos.Workspaces, repos.Connections, logger.NewNop())
	ctx := context.Background()

	_, err := svc.GetConnection(ctx, "other", conn.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(svc.Disconnect(ctx, "other", conn.ID), ErrNotFound))

	_, err = svc.Connect(ctx, "missing-ws", model.ProviderGmail, "x@acme.com", "a", "r", fixedClock)
	assert.True(t, errors.Is(err, ErrNotFound))
}
