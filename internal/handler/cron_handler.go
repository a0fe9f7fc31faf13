package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"aiva/internal/service"
)

// CronHandler exposes the periodic triggers to an external scheduler.
type CronHandler struct {
	autoSend     service.AutoSendService
	pipeline     service.PipelineService
	connections  service.ConnectionService
	defaultLimit int
	logger       echo.Logger
}

func NewCronHandler(autoSend service.AutoSendService, pipeline service.PipelineService, connections service.ConnectionService, defaultLimit int, logger echo.Logger) *CronHandler {
	return &CronHandler{
		autoSend:     autoSend,
		pipeline:     pipeline,
		connections:  connections,
		defaultLimit: defaultLimit,
		logger:       logger,
	}
}

// ProcessAutoSend runs one auto-send batch.
func (h *CronHandler) ProcessAutoSend(c echo.Context) error {
	limit := h.defaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		limit = n
	}

	result, err := h.autoSend.ProcessBatch(c.Request().Context(), limit)
	if err != nil {
		return respondError(c, h.logger, err, "Failed to process auto-send batch")
	}
	return c.JSON(http.StatusOK, result)
}

// SyncConnection ingests one connection and, unless process=false, runs
// classification and drafting on the new messages.
func (h *CronHandler) SyncConnection(c echo.Context) error {
	ctx := c.Request().Context()
	conn, err := h.connections.FindConnection(ctx, c.Param("connectionID"))
	if err != nil {
		return respondError(c, h.logger, err, "Failed to load connection")
	}

	opts := service.SyncOptions{Process: true, Query: c.QueryParam("q")}
	if raw := c.QueryParam("process"); raw != "" {
		process, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "process must be a boolean")
		}
		opts.Process = process
	}
	if raw := c.QueryParam("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return badRequest(c, "max must be a positive integer")
		}
		opts.MaxMessages = n
	}

	result, err := h.pipeline.RunIngestSync(ctx, conn.ID, conn.WorkspaceID, opts)
	if err != nil {
		return respondError(c, h.logger, err, "Failed to sync connection")
	}
	return c.JSON(http.StatusOK, result)
}

// SyncAll ingests every active connection concurrently.
func (h *CronHandler) SyncAll(c echo.Context) error {
	results := h.pipeline.SyncAll(c.Request().Context(), service.SyncOptions{Process: true})
	return c.JSON(http.StatusOK, map[string]interface{}{
		"connections": len(results),
		"results":     results,
	})
}
