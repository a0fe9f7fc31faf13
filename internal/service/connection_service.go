package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aiva/internal/logger"
	"aiva/internal/model"
	"aiva/internal/repository"
)

type connectionService struct {
	workspaceRepo  repository.WorkspaceRepository
	connectionRepo repository.ConnectionRepository
	logger         *logger.Logger
}

func NewConnectionService(workspaceRepo repository.WorkspaceRepository, connectionRepo repository.ConnectionRepository, logger *logger.Logger) ConnectionService {
	return &connectionService{
		workspaceRepo:  workspaceRepo,
		connectionRepo: connectionRepo,
		logger:         logger,
	}
}

// Connect creates the connection for an account or reactivates the existing
// one with fresh tokens.
func (s *connectionService) Connect(ctx context.Context, workspaceID, provider, accountEmail, accessToken, refreshToken string, tokenExpiry time.Time) (*model.ChannelConnection, error) {
	if _, err := s.workspaceRepo.FindByID(ctx, workspaceID); err != nil {
		return nil, err
	}
	accountEmail = model.NormalizeAddress(accountEmail)

	existing, err := s.connectionRepo.FindByAccount(ctx, workspaceID, provider, accountEmail)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up connection: %w", err)
		}

		conn := model.NewChannelConnection(workspaceID, provider, accountEmail, accessToken, refreshToken, tokenExpiry)
		if err := s.connectionRepo.Create(ctx, conn); err != nil {
			s.logger.Error("Failed to create connection:", err)
			return nil, err
		}
		s.logger.Info("Connected mailbox:", accountEmail, "connection:", conn.ID)
		return conn, nil
	}

	existing.Status = model.ConnectionStatusActive
	existing.AccessToken = accessToken
	// Providers omit the refresh token on re-consent; keep the stored one.
	if refreshToken != "" {
		existing.RefreshToken = refreshToken
	}
	existing.TokenExpiry = tokenExpiry
	if err := s.connectionRepo.Update(ctx, existing); err != nil {
		s.logger.Error("Failed to update connection:", err)
		return nil, err
	}
	s.logger.Info("Reconnected mailbox:", accountEmail, "connection:", existing.ID)
	return existing, nil
}

func (s *connectionService) Disconnect(ctx context.Context, workspaceID, connectionID string) error {
	if _, err := s.GetConnection(ctx, workspaceID, connectionID); err != nil {
		return err
	}
	if err := s.connectionRepo.UpdateStatus(ctx, connectionID, model.ConnectionStatusDisconnected); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	s.logger.Info("Disconnected connection:", connectionID)
	return nil
}

func (s *connectionService) GetConnection(ctx context.Context, workspaceID, connectionID string) (*model.ChannelConnection, error) {
	conn, err := s.connectionRepo.FindByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.WorkspaceID != workspaceID {
		return nil, fmt.Errorf("connection %s: %w", connectionID, ErrNotFound)
	}
	return conn, nil
}

func (s *connectionService) FindConnection(ctx context.Context, connectionID string) (*model.ChannelConnection, error) {
	return s.connectionRepo.FindByID(ctx, connectionID)
}

func (s *connectionService) ActiveConnections(ctx context.Context) ([]*model.ChannelConnection, error) {
	return s.connectionRepo.FindActive(ctx)
}
