package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"aiva/internal/service"
)

type MessageHandler struct {
	classify service.ClassifyService
	drafts   service.DraftService
	review   service.ReviewService
	audit    service.AuditService
	logger   echo.Logger
}

func NewMessageHandler(classify service.ClassifyService, drafts service.DraftService, review service.ReviewService, audit service.AuditService, logger echo.Logger) *MessageHandler {
	return &MessageHandler{
		classify: classify,
		drafts:   drafts,
		review:   review,
		audit:    audit,
		logger:   logger,
	}
}

// Classify classifies a single message.
func (h *MessageHandler) Classify(c echo.Context) error {
	result, err := h.classify.Classify(c.Request().Context(), c.Param("messageID"), c.Param("workspaceID"))
	if err != nil {
		return respondError(c, h.logger, err, "Failed to classify message")
	}
	return c.JSON(http.StatusOK, result)
}

// ClassifyBatch classifies up to 50 messages, reporting per-message errors.
func (h *MessageHandler) ClassifyBatch(c echo.Context) error {
	var req struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	result, err := h.classify.ClassifyBatch(c.Request().Context(), c.Param("workspaceID"), req.MessageIDs)
	if err != nil {
		return respondError(c, h.logger, err, "Failed to classify messages")
	}
	return c.JSON(http.StatusOK, result)
}

// GenerateDraft drafts a reply and queues it when policy allows.
func (h *MessageHandler) GenerateDraft(c echo.Context) error {
	var req struct {
		Tone      string `json:"tone"`
		MaxLength int    `json:"max_length"`
	}
	// An empty body means defaults.
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}

	result, err := h.drafts.GenerateDraft(c.Request().Context(), c.Param("messageID"), c.Param("workspaceID"), service.DraftOptions{
		Tone:      req.Tone,
		MaxLength: req.MaxLength,
	})
	if err != nil {
		return respondError(c, h.logger, err, "Failed to generate draft")
	}
	return c.JSON(http.StatusCreated, result)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *MessageHandler) HoldDraft(c echo.Context) error {
	var req reasonRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}
	if err := h.review.HoldDraft(c.Request().Context(), c.Param("workspaceID"), c.Param("draftID"), req.Reason); err != nil {
		return respondError(c, h.logger, err, "Failed to hold draft")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *MessageHandler) ReleaseDraft(c echo.Context) error {
	if err := h.review.ReleaseDraft(c.Request().Context(), c.Param("workspaceID"), c.Param("draftID")); err != nil {
		return respondError(c, h.logger, err, "Failed to release draft")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *MessageHandler) FlagMessage(c echo.Context) error {
	var req reasonRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}
	if err := h.review.FlagMessage(c.Request().Context(), c.Param("workspaceID"), c.Param("messageID"), req.Reason); err != nil {
		return respondError(c, h.logger, err, "Failed to flag message")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *MessageHandler) ClearMessage(c echo.Context) error {
	if err := h.review.ClearMessage(c.Request().Context(), c.Param("workspaceID"), c.Param("messageID")); err != nil {
		return respondError(c, h.logger, err, "Failed to clear review flag")
	}
	return c.NoContent(http.StatusNoContent)
}

// ListAudit returns the workspace audit trail, newest first, optionally
// narrowed to one message.
func (h *MessageHandler) ListAudit(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return badRequest(c, "limit must be a non-negative integer")
		}
		limit = n
	}

	entries, err := h.audit.List(c.Request().Context(), c.Param("workspaceID"), c.QueryParam("message_id"), limit)
	if err != nil {
		return respondError(c, h.logger, err, "Failed to list audit log")
	}
	return c.JSON(http.StatusOK, entries)
}
