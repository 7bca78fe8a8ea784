package handler_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/handler"
	"github.com/noah-isme/sqlpractice-api/internal/middleware"
	"github.com/noah-isme/sqlpractice-api/internal/service"
)

func newPerformanceApp(performance *stubPerformance) *fiber.App {
	app := fiber.New()
	app.Use(middleware.SessionID())
	handler.NewPerformanceHandler(performance, zerolog.Nop()).Register(app.Group("/api/v1/performance"))
	return app
}

func TestPerformanceMetricsRoute(t *testing.T) {
	app := newPerformanceApp(&stubPerformance{system: dto.SystemPerformance{
		Overview:    dto.PerformanceOverview{TotalQueries: 12, SuccessRate: 91.7},
		Percentiles: dto.ExecutionPercentiles{P50: 40, P99: 900},
		Health:      dto.PerformanceHealth{Status: "healthy", Issues: []string{}},
	}})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/performance/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeEnvelope(t, resp)
	require.True(t, body.Success)
	require.Contains(t, string(body.Data), `"totalQueries":12`)
	require.Contains(t, string(body.Data), `"p99":900`)
}

func TestPerformanceUserRoute(t *testing.T) {
	performance := &stubPerformance{user: dto.UserPerformance{HasData: true, QueryCount: 3, RecentQueries: []dto.RecentExecution{}}}
	app := newPerformanceApp(performance)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/performance/user", nil)
	req.Header.Set(middleware.HeaderSessionID, "session_perf")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "session_perf", performance.lastOwner.SessionID)

	body := decodeEnvelope(t, resp)
	require.Equal(t, "user performance retrieved", body.Message)
	require.Contains(t, string(body.Data), `"queryCount":3`)
}

func TestPerformanceUserRouteWithoutData(t *testing.T) {
	app := newPerformanceApp(&stubPerformance{user: dto.UserPerformance{RecentQueries: []dto.RecentExecution{}}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/performance/user", nil)
	req.Header.Set(middleware.HeaderSessionID, "session_new")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no performance data available yet", decodeEnvelope(t, resp).Message)
}

func TestPerformanceUserRouteRequiresSession(t *testing.T) {
	app := newPerformanceApp(&stubPerformance{err: service.ErrSessionRequired})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/performance/user", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
