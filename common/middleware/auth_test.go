package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/opsrelay/opsrelay/common/config"
)

const testJWTKey = "0123456789abcdef0123456789abcdef"

func mintToken(t *testing.T, key string, expires time.Time) string {
	t.Helper()
	token, err := jwt.NewBuilder().
		Subject("ops-admin").
		IssuedAt(time.Now()).
		Expiration(expires).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte(key)))
	if err != nil {
		t.Fatal(err)
	}
	return string(signed)
}

func authRequest(t *testing.T, cfg config.AuthConfig, path, authorization string) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()
	e := echo.New()

	var captured echo.Context
	handler := JWTAuthMiddleware(cfg)(func(c echo.Context) error {
		captured = c
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(path)
	if err := handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return rec, captured
}

func TestJWTAuthAcceptsValidToken(t *testing.T) {
	cfg := config.AuthConfig{Enabled: true, JWTSecretKey: testJWTKey, JWTAlgorithm: "HS256"}
	token := mintToken(t, testJWTKey, time.Now().Add(time.Hour))

	rec, c := authRequest(t, cfg, "/v1/approvals", "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := c.Get("subject"); got != "ops-admin" {
		t.Errorf("subject = %v", got)
	}
}

func TestJWTAuthRejectsBadTokens(t *testing.T) {
	cfg := config.AuthConfig{Enabled: true, JWTSecretKey: testJWTKey, JWTAlgorithm: "HS256"}

	cases := []struct {
		name          string
		authorization string
	}{
		{"missing header", ""},
		{"not a bearer scheme", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
		{"wrong key", "Bearer " + mintToken(t, strings.Repeat("x", 32), time.Now().Add(time.Hour))},
		{"expired", "Bearer " + mintToken(t, testJWTKey, time.Now().Add(-time.Hour))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := authRequest(t, cfg, "/v1/approvals", tc.authorization)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestJWTAuthExemptPaths(t *testing.T) {
	cfg := config.AuthConfig{Enabled: true, JWTSecretKey: testJWTKey, JWTAlgorithm: "HS256"}

	for _, path := range []string{"/health", "/ready", "/metrics", "/webhooks/github"} {
		rec, _ := authRequest(t, cfg, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("path %s status = %d, want 200 without a token", path, rec.Code)
		}
	}
}

func TestJWTAuthDisabled(t *testing.T) {
	rec, _ := authRequest(t, config.AuthConfig{Enabled: false}, "/v1/approvals", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", rec.Code)
	}
}
