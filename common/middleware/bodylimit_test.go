package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func postThrough(t *testing.T, limit int64, body string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	e := echo.New()

	var seen string
	handler := BodyLimitMiddleware(limit)(func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		seen = string(b)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(body))
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return rec, seen
}

func TestBodyLimitAcceptsExactLimit(t *testing.T) {
	body := strings.Repeat("a", 64)
	rec, seen := postThrough(t, 64, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen != body {
		t.Error("handler did not receive the full buffered body")
	}
}

func TestBodyLimitRejectsOneByteOver(t *testing.T) {
	rec, seen := postThrough(t, 64, strings.Repeat("a", 65))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if seen != "" {
		t.Error("handler ran for an oversized body")
	}
	if !strings.Contains(rec.Body.String(), "payload_too_large") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestBodyLimitRejectsDeclaredOversize(t *testing.T) {
	e := echo.New()
	handler := BodyLimitMiddleware(10)(func(c echo.Context) error {
		t.Error("handler should not run")
		return nil
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(strings.Repeat("a", 100)))
	req.ContentLength = 100
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}
