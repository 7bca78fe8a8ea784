package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlpractice-api/internal/config"
	"github.com/noah-isme/sqlpractice-api/internal/handler"
)

type healthEnvelope struct {
	Success bool                   `json:"success"`
	Data    handler.HealthResponse `json:"data"`
}

func TestHealthCheck(t *testing.T) {
	cfg := config.Config{
		AppName: "SQL Practice API",
		AppEnv:  "test",
	}

	app := fiber.New()
	app.Get("/api/v1/health", handler.HealthCheck(cfg))

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload healthEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.True(t, payload.Success)
	assert.Equal(t, "ok", payload.Data.Status)
	assert.Equal(t, cfg.AppName, payload.Data.Service)
	assert.Equal(t, cfg.AppEnv, payload.Data.Environment)
	assert.WithinDuration(t, time.Now().UTC(), payload.Data.Timestamp, 2*time.Second)
}

func TestHealthCheckReportsDegradedDependencies(t *testing.T) {
	app := fiber.New()
	app.Get("/health", handler.HealthCheck(config.Config{AppName: "sqlp"},
		handler.HealthProbe{Name: "catalog", Check: func(context.Context) error { return nil }},
		handler.HealthProbe{Name: "sandbox", Check: func(context.Context) error { return errors.New("connection refused") }},
	))

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var payload healthEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.False(t, payload.Success)
	require.Equal(t, "degraded", payload.Data.Status)
	require.Equal(t, "ok", payload.Data.Components["catalog"])
	require.Equal(t, "connection refused", payload.Data.Components["sandbox"])
}
