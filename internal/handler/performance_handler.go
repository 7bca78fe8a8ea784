package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/service"
	"github.com/noah-isme/sqlpractice-api/internal/utils"
)

// PerformanceHandler exposes execution performance reports.
type PerformanceHandler struct {
	service service.PerformanceService
	logger  zerolog.Logger
}

// NewPerformanceHandler constructs the performance handler.
func NewPerformanceHandler(service service.PerformanceService, logger zerolog.Logger) *PerformanceHandler {
	return &PerformanceHandler{
		service: service,
		logger:  logger.With().Str("component", "performance_handler").Logger(),
	}
}

// Register wires the routes below /performance.
func (h *PerformanceHandler) Register(router fiber.Router) {
	router.Get("/metrics", h.system)
	router.Get("/user", h.user)
}

func (h *PerformanceHandler) system(c *fiber.Ctx) error {
	metrics, err := h.service.SystemMetrics(c.UserContext())
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "performance metrics retrieved", metrics)
}

func (h *PerformanceHandler) user(c *fiber.Ctx) error {
	metrics, err := h.service.UserMetrics(c.UserContext(), ownerFromContext(c))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	if !metrics.HasData {
		return utils.SendSuccess(c, "no performance data available yet", metrics)
	}
	return utils.SendSuccess(c, "user performance retrieved", metrics)
}
