package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/opsrelay/opsrelay/common/logger"
)

// TraceIDHeader carries the request trace id end to end
const TraceIDHeader = "X-Trace-Id"

// TraceIDMiddleware assigns every request a trace id, honoring one supplied
// by the caller, and threads it through the request context for logging.
func TraceIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			traceID := c.Request().Header.Get(TraceIDHeader)
			if traceID == "" {
				traceID = uuid.NewString()
			}

			ctx := logger.WithTraceID(c.Request().Context(), traceID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Response().Header().Set(TraceIDHeader, traceID)
			return next(c)
		}
	}
}
