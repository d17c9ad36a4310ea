package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// BodyLimitMiddleware rejects payloads above maxBytes with 413. A payload of
// exactly maxBytes is accepted; the first byte over the line is not. The body
// is buffered and replaced so later handlers can read it in full.
func BodyLimitMiddleware(maxBytes int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.ContentLength > maxBytes {
				return payloadTooLarge(c, maxBytes)
			}

			// Read one byte past the limit to catch chunked bodies that
			// do not declare a length.
			body, err := io.ReadAll(io.LimitReader(req.Body, maxBytes+1))
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
			}
			if int64(len(body)) > maxBytes {
				return payloadTooLarge(c, maxBytes)
			}

			req.Body = io.NopCloser(bytes.NewReader(body))
			return next(c)
		}
	}
}

func payloadTooLarge(c echo.Context, maxBytes int64) error {
	return c.JSON(http.StatusRequestEntityTooLarge, map[string]interface{}{
		"error":     "payload_too_large",
		"message":   "Request body exceeds the configured limit.",
		"max_bytes": maxBytes,
	})
}
