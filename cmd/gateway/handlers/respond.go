package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/opsrelay/opsrelay/common/apperrors"
)

// writeError maps a service error onto the wire format. Every error body
// carries the taxonomy kind and a human-readable detail.
func writeError(c echo.Context, err error) error {
	status := apperrors.HTTPStatus(err)
	return c.JSON(status, map[string]interface{}{
		"error":   string(apperrors.KindOf(err)),
		"message": apperrors.DetailOf(err),
	})
}
