package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/opsrelay/opsrelay/common/config"
)

// exempt routes skip JWT auth: webhook deliveries authenticate with their own
// signatures, and probes must work before anyone has a token.
func authExempt(path string) bool {
	switch {
	case path == "/health", path == "/ready", path == "/metrics":
		return true
	case strings.HasPrefix(path, "/webhooks/"):
		return true
	}
	return false
}

// JWTAuthMiddleware validates bearer tokens on the management API when auth
// is enabled. Claims land in the echo context under "subject".
func JWTAuthMiddleware(cfg config.AuthConfig) echo.MiddlewareFunc {
	alg := signatureAlgorithm(cfg.JWTAlgorithm)
	key := []byte(cfg.JWTSecretKey)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Enabled || authExempt(c.Path()) {
				return next(c)
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			raw := strings.TrimPrefix(header, "Bearer ")
			if raw == "" || raw == header {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error":   "authentication_required",
					"message": "Missing bearer token.",
				})
			}

			token, err := jwt.Parse([]byte(raw),
				jwt.WithKey(alg, key),
				jwt.WithValidate(true),
			)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error":   "invalid_token",
					"message": "Token is invalid or expired.",
				})
			}

			c.Set("subject", token.Subject())
			return next(c)
		}
	}
}

func signatureAlgorithm(name string) jwa.SignatureAlgorithm {
	switch name {
	case "HS384":
		return jwa.HS384
	case "HS512":
		return jwa.HS512
	default:
		return jwa.HS256
	}
}
