package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/observability"
)

// slowRequest marks requests worth a warning even when they succeed. Sandbox
// statements may legitimately run for seconds, so the bar sits above that.
const slowRequest = 3 * time.Second

// Observability records Prometheus metrics and one structured log line per
// /api request. Websocket upgrades are skipped: their duration is the life of
// the stream.
func Observability(logger zerolog.Logger) fiber.Handler {
	observability.RegisterMetrics()

	return func(c *fiber.Ctx) error {
		if !strings.HasPrefix(c.Path(), "/api/") || websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		route := routeTemplate(c)
		method := c.Method()
		status := c.Response().StatusCode()
		statusLabel := strconv.Itoa(status)

		observability.APIRequests().WithLabelValues(method, route, statusLabel).Inc()
		observability.APILatency().WithLabelValues(method, route).Observe(elapsed.Seconds())
		if status >= fiber.StatusBadRequest {
			observability.APIErrors().WithLabelValues(method, route, statusLabel).Inc()
		}

		event := requestEvent(logger, status, elapsed)
		if event == nil {
			return err
		}
		event = event.
			Str("correlation_id", GetCorrelationID(c)).
			Str("session_id", SessionIDFromContext(c)).
			Str("route", route).
			Str("method", method).
			Int("status", status).
			Dur("latency", elapsed)
		if userID := UserIDFromContext(c); userID != nil {
			event = event.Str("user_id", userID.String())
		}
		if err != nil {
			event = event.Err(err)
		}
		event.Msg("request handled")

		return err
	}
}

func requestEvent(logger zerolog.Logger, status int, elapsed time.Duration) *zerolog.Event {
	switch {
	case status >= fiber.StatusInternalServerError:
		return logger.Error()
	case status == fiber.StatusTooManyRequests, elapsed >= slowRequest:
		return logger.Warn()
	case status >= fiber.StatusBadRequest:
		return logger.Info()
	default:
		return logger.Debug()
	}
}

func routeTemplate(c *fiber.Ctx) string {
	if c.Route() != nil && c.Route().Path != "" {
		return c.Route().Path
	}
	return c.Path()
}
