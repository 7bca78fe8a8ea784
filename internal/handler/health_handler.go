package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/sqlpractice-api/internal/config"
	"github.com/noah-isme/sqlpractice-api/internal/utils"
)

const healthProbeTimeout = 2 * time.Second

// HealthProbe checks one dependency.
type HealthProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Service     string            `json:"service"`
	Environment string            `json:"environment"`
	Components  map[string]string `json:"components,omitempty"`
}

// HealthCheck reports service health. Any failing probe degrades the status
// and turns the response into a 503.
func HealthCheck(cfg config.Config, probes ...HealthProbe) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}

		if len(probes) > 0 {
			payload.Components = make(map[string]string, len(probes))
			ctx, cancel := context.WithTimeout(c.UserContext(), healthProbeTimeout)
			defer cancel()

			for _, probe := range probes {
				if err := probe.Check(ctx); err != nil {
					payload.Status = "degraded"
					payload.Components[probe.Name] = err.Error()
					continue
				}
				payload.Components[probe.Name] = "ok"
			}
		}

		if payload.Status != "ok" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(utils.APIResponse{
				Success: false,
				Data:    payload,
				Message: "service degraded",
			})
		}
		return utils.SendSuccess(c, "service healthy", payload)
	}
}
