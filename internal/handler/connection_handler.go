package handler

import (
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"

	"aiva/internal/config"
	"aiva/internal/model"
	"aiva/internal/service"
)

const (
	connectSessionName = "aiva_connect"
	workspaceKey       = "workspace_id"
)

// ConnectionHandler runs the mailbox OAuth connect flow and manages
// existing connections.
type ConnectionHandler struct {
	connections service.ConnectionService
	store       sessions.Store
	logger      echo.Logger
}

// NewConnectionHandler registers the Google provider with goth. scopes are
// requested in addition to the profile scopes goth always asks for.
func NewConnectionHandler(connections service.ConnectionService, cfg *config.Config, store sessions.Store, logger echo.Logger, scopes ...string) *ConnectionHandler {
	gothic.Store = store

	provider := google.New(
		cfg.GoogleClientID,
		cfg.GoogleClientSecret,
		cfg.BaseURL+"/auth/google/callback",
		scopes...,
	)
	// Re-consent so Google always returns a refresh token.
	provider.SetPrompt("consent")
	goth.UseProviders(provider)

	return &ConnectionHandler{
		connections: connections,
		store:       store,
		logger:      logger,
	}
}

// BeginConnect starts the OAuth flow for the workspace named in the
// workspace_id query parameter.
func (h *ConnectionHandler) BeginConnect(c echo.Context) error {
	if c.Param("provider") != "google" {
		return badRequest(c, "Invalid provider")
	}
	workspaceID := c.QueryParam(workspaceKey)
	if workspaceID == "" {
		return badRequest(c, "workspace_id is required")
	}

	req := c.Request()
	session, _ := h.store.Get(req, connectSessionName)
	session.Values[workspaceKey] = workspaceID
	if err := session.Save(req, c.Response()); err != nil {
		h.logger.Error("Failed to save session:", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to save session"})
	}

	// Set provider in the request URL so goth can recognize it
	q := req.URL.Query()
	q.Set("provider", "google")
	req.URL.RawQuery = q.Encode()

	gothic.BeginAuthHandler(c.Response(), req)
	return nil
}

// Callback completes the OAuth flow and stores the mailbox connection.
func (h *ConnectionHandler) Callback(c echo.Context) error {
	req := c.Request()
	q := req.URL.Query()
	q.Set("provider", "google")
	req.URL.RawQuery = q.Encode()

	session, _ := h.store.Get(req, connectSessionName)
	workspaceID, ok := session.Values[workspaceKey].(string)
	if !ok || workspaceID == "" {
		return badRequest(c, "No connect flow in progress")
	}

	account, err := gothic.CompleteUserAuth(c.Response(), req)
	if err != nil {
		h.logger.Error("Failed to complete OAuth flow:", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "Authentication failed"})
	}

	conn, err := h.connections.Connect(req.Context(), workspaceID, model.ProviderGmail, account.Email, account.AccessToken, account.RefreshToken, account.ExpiresAt)
	if err != nil {
		return respondError(c, h.logger, err, "Failed to store connection")
	}

	delete(session.Values, workspaceKey)
	if err := session.Save(req, c.Response()); err != nil {
		h.logger.Warn("Failed to clear connect session:", err)
	}

	return c.JSON(http.StatusCreated, conn)
}

// Disconnect stops syncing and sending for a connection.
func (h *ConnectionHandler) Disconnect(c echo.Context) error {
	if err := h.connections.Disconnect(c.Request().Context(), c.Param("workspaceID"), c.Param("connectionID")); err != nil {
		return respondError(c, h.logger, err, "Failed to disconnect")
	}
	return c.NoContent(http.StatusNoContent)
}

// Get returns one connection of the workspace.
func (h *ConnectionHandler) Get(c echo.Context) error {
	conn, err := h.connections.GetConnection(c.Request().Context(), c.Param("workspaceID"), c.Param("connectionID"))
	if err != nil {
		return respondError(c, h.logger, err, "Failed to load connection")
	}
	return c.JSON(http.StatusOK, conn)
}
