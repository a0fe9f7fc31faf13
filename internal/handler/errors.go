package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"aiva/internal/service"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var capErr *service.CapabilityError
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrFeatureDenied):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrConnectionInactive), errors.Is(err, service.ErrPolicyBlocked):
		return http.StatusConflict
	case errors.As(err, &capErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c echo.Context, logger echo.Logger, err error, message string) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(message+":", err)
		return c.JSON(status, map[string]string{"error": message})
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": message})
}
