package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opsrelay/opsrelay/common/ratelimit"
	"github.com/opsrelay/opsrelay/common/telemetry"
)

// IPRateLimitMiddleware throttles requests per client IP across every route,
// health checks included. Limiter errors fail open so a Redis outage never
// takes intake down with it.
func IPRateLimitMiddleware(limiter *ratelimit.RateLimiter, limit int64, metrics *telemetry.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if limit <= 0 {
				return next(c)
			}

			result, err := limiter.CheckIPLimit(c.Request().Context(), c.RealIP(), limit)
			if err != nil {
				// Fail open for availability
				return next(c)
			}

			if !result.Allowed {
				metrics.RateLimitTrips.WithLabelValues(c.Path()).Inc()
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "rate_limit_exceeded",
					"message": "Too many requests from this client.",
					"details": map[string]interface{}{
						"limit":               result.Limit,
						"window":              "60 seconds",
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
