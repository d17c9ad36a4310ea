package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opsrelay/opsrelay/cmd/gateway/service"
)

// WebhookHandler receives deliveries for every integration
type WebhookHandler struct {
	intake *service.IntakeService
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(intake *service.IntakeService) *WebhookHandler {
	return &WebhookHandler{intake: intake}
}

// Receive handles one webhook delivery
// POST /webhooks/:source
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	result, err := h.intake.Accept(c.Request().Context(), c.Param("source"), c.Request().Header, body)
	if err != nil {
		return writeError(c, err)
	}

	// Handshake responses echo the challenge verbatim and nothing else
	if result.Status == service.IntakeStatusChallenge {
		return c.JSON(http.StatusOK, map[string]string{"challenge": result.Challenge})
	}

	return c.JSON(http.StatusOK, result)
}
