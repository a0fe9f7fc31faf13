package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aiva/internal/handler"
	"aiva/internal/middleware"
)

// SetupRoutes registers the HTTP surface. connectionHandler may be nil when
// no OAuth provider is configured; the connect flow is then not served.
func SetupRoutes(
	e *echo.Echo,
	cronHandler *handler.CronHandler,
	messageHandler *handler.MessageHandler,
	connectionHandler *handler.ConnectionHandler,
	cronSecret string,
) {
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Triggers for the external scheduler
	cron := e.Group("/api/cron")
	cron.Use(middleware.CronSecret(cronSecret))
	cron.POST("/autosend", cronHandler.ProcessAutoSend)
	cron.POST("/sync", cronHandler.SyncAll)
	cron.POST("/sync/:connectionID", cronHandler.SyncConnection)

	ws := e.Group("/api/workspaces/:workspaceID")
	ws.POST("/messages/classify", messageHandler.ClassifyBatch)
	ws.POST("/messages/:messageID/classify", messageHandler.Classify)
	ws.POST("/messages/:messageID/draft", messageHandler.GenerateDraft)
	ws.POST("/messages/:messageID/review", messageHandler.FlagMessage)
	ws.DELETE("/messages/:messageID/review", messageHandler.ClearMessage)
	ws.POST("/drafts/:draftID/hold", messageHandler.HoldDraft)
	ws.DELETE("/drafts/:draftID/hold", messageHandler.ReleaseDraft)
	ws.GET("/audit", messageHandler.ListAudit)

	if connectionHandler == nil {
		return
	}
	e.GET("/auth/:provider", connectionHandler.BeginConnect)
	e.GET("/auth/:provider/callback", connectionHandler.Callback)
	ws.GET("/connections/:connectionID", connectionHandler.Get)
	ws.DELETE("/connections/:connectionID", connectionHandler.Disconnect)
}
