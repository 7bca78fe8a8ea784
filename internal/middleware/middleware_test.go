package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/middleware"
)

type stubValidator struct {
	token  string
	claims dto.TokenClaims
}

func (s stubValidator) ValidateToken(_ context.Context, token string) (dto.TokenClaims, error) {
	if token != s.token {
		return dto.TokenClaims{}, errors.New("invalid token")
	}
	return s.claims, nil
}

func perform(t *testing.T, app *fiber.App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func newValidator() stubValidator {
	return stubValidator{token: "good-token", claims: dto.TokenClaims{UserID: uuid.New(), Role: "Learner"}}
}

func TestJWTProtectedRequiresValidToken(t *testing.T) {
	validator := newValidator()
	app := fiber.New()
	app.Get("/", middleware.JWTProtected(validator), func(c *fiber.Ctx) error {
		userID := middleware.UserIDFromContext(c)
		require.NotNil(t, userID)
		require.Equal(t, validator.claims.UserID, *userID)
		claims, ok := middleware.ClaimsFromContext(c)
		require.True(t, ok)
		require.Equal(t, "Learner", claims.Role)
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp := perform(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token good-token")
	require.Equal(t, fiber.StatusUnauthorized, perform(t, app, req).StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	require.Equal(t, fiber.StatusUnauthorized, perform(t, app, req).StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer good-token")
	require.Equal(t, fiber.StatusNoContent, perform(t, app, req).StatusCode)
}

func TestJWTOptionalFallsBackToAnonymous(t *testing.T) {
	app := fiber.New()
	app.Get("/", middleware.JWTOptional(newValidator()), func(c *fiber.Ctx) error {
		if middleware.UserIDFromContext(c) == nil {
			return c.SendString("anonymous")
		}
		return c.SendString("user")
	})

	for header, want := range map[string]string{
		"":                  "anonymous",
		"Bearer expired":    "anonymous",
		"Bearer good-token": "user",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp := perform(t, app, req)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		body := make([]byte, 16)
		n, _ := resp.Body.Read(body)
		require.Equal(t, want, string(body[:n]), header)
	}
}

func TestSessionIDPrefersHeader(t *testing.T) {
	app := fiber.New()
	app.Use(middleware.SessionID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(middleware.SessionIDFromContext(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/?session_id=from-query", nil)
	req.Header.Set(middleware.HeaderSessionID, "from-header")
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "from-cookie"})
	resp := perform(t, app, req)
	body := make([]byte, 32)
	n, _ := resp.Body.Read(body)
	require.Equal(t, "from-header", string(body[:n]))

	req = httptest.NewRequest(http.MethodGet, "/?session_id=from-query", nil)
	resp = perform(t, app, req)
	n, _ = resp.Body.Read(body)
	require.Equal(t, "from-query", string(body[:n]))
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	app := fiber.New()
	app.Use(middleware.CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		require.Equal(t, "abc-123", middleware.CorrelationIDFromContext(c.UserContext()))
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.HeaderCorrelationID, "abc-123")
	resp := perform(t, app, req)
	require.Equal(t, "abc-123", resp.Header.Get(middleware.HeaderCorrelationID))

	resp = perform(t, fiber.New(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Empty(t, resp.Header.Get(middleware.HeaderCorrelationID))
}

func TestRateLimitKeysBySession(t *testing.T) {
	app := fiber.New()
	app.Use(middleware.SessionID())
	app.Get("/", middleware.RateLimit("test", 1, time.Minute), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	request := func(session string) *http.Response {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.HeaderSessionID, session)
		return perform(t, app, req)
	}

	require.Equal(t, fiber.StatusNoContent, request("a").StatusCode)
	limited := request("a")
	require.Equal(t, fiber.StatusTooManyRequests, limited.StatusCode)
	require.Equal(t, "60", limited.Header.Get(fiber.HeaderRetryAfter))
	require.Equal(t, fiber.StatusNoContent, request("b").StatusCode)
}

func TestObservabilityLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)

	app := fiber.New()
	app.Use(middleware.CorrelationID(), middleware.SessionID(), middleware.Observability(logger))
	app.Get("/api/v1/ok", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/api/v1/boom/:id", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusInternalServerError) })
	app.Get("/outside", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusInternalServerError) })

	perform(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/ok", nil))
	perform(t, app, httptest.NewRequest(http.MethodGet, "/outside", nil))
	require.Zero(t, buf.Len(), "successful and non-api requests stay below info")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/boom/7", nil)
	req.Header.Set(middleware.HeaderSessionID, "session_obs")
	perform(t, app, req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "error", entry["level"])
	require.Equal(t, "/api/v1/boom/:id", entry["route"])
	require.Equal(t, "session_obs", entry["session_id"])
	require.EqualValues(t, 500, entry["status"])
}
