package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func run(mw echo.MiddlewareFunc, req *http.Request) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	return rec, err
}

func TestRequestIDGenerated(t *testing.T) {
	rec, err := run(RequestID(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("request id should be generated")
	}
}

func TestRequestIDHonored(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "inbound-id")
	rec, err := run(RequestID(), req)
	if err != nil {
		t.Fatal(err)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "inbound-id" {
		t.Errorf("inbound id should be honored, got %q", got)
	}
}

func TestRateLimitExhaustsBurst(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 2})

	for i := 0; i < 2; i++ {
		if _, err := run(mw, httptest.NewRequest(http.MethodGet, "/", nil)); err != nil {
			t.Fatalf("request %d within burst should pass: %v", i, err)
		}
	}

	_, err := run(mw, httptest.NewRequest(http.MethodGet, "/", nil))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after burst, got %v", err)
	}
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	err := Recovery(zerolog.Nop())(func(c echo.Context) error {
		panic("boom")
	})(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 from recovered panic, got %v", err)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec, err := run(SecurityHeaders(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing frame options header")
	}
}
