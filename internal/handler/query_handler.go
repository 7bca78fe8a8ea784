package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/service"
	"github.com/noah-isme/sqlpractice-api/internal/utils"
)

// QueryHandler exposes query history and saved queries.
type QueryHandler struct {
	service   service.QueryService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewQueryHandler constructs the query handler.
func NewQueryHandler(service service.QueryService, validator *validator.Validate, logger zerolog.Logger) *QueryHandler {
	return &QueryHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "query_handler").Logger(),
	}
}

// Register wires the routes below /queries.
func (h *QueryHandler) Register(router fiber.Router) {
	router.Get("/history", h.history)
	router.Post("/history", h.recordHistory)
	router.Get("/saved", h.listSaved)
	router.Post("/saved", h.createSaved)
	router.Put("/saved/:id", h.updateSaved)
	router.Delete("/saved/:id", h.deleteSaved)
	router.Get("/popular", h.popular)
}

func (h *QueryHandler) history(c *fiber.Ctx) error {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.History(c.UserContext(), ownerFromContext(c), page, pageSize)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "history retrieved", result)
}

func (h *QueryHandler) recordHistory(c *fiber.Ctx) error {
	var payload dto.HistoryRequest
	if ok, err := bindJSON(c, h.validator, &payload); !ok {
		return err
	}

	entry, err := h.service.RecordHistory(c.UserContext(), ownerFromContext(c), payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "history recorded", entry)
}

func (h *QueryHandler) listSaved(c *fiber.Ctx) error {
	saved, err := h.service.ListSaved(c.UserContext(), ownerFromContext(c))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "saved queries retrieved", saved)
}

func (h *QueryHandler) createSaved(c *fiber.Ctx) error {
	var payload dto.SavedQueryRequest
	if ok, err := bindJSON(c, h.validator, &payload); !ok {
		return err
	}

	saved, err := h.service.CreateSaved(c.UserContext(), ownerFromContext(c), payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "query saved", saved)
}

func (h *QueryHandler) updateSaved(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.SavedQueryRequest
	if ok, err := bindJSON(c, h.validator, &payload); !ok {
		return err
	}

	saved, err := h.service.UpdateSaved(c.UserContext(), ownerFromContext(c), id, payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "saved query updated", saved)
}

func (h *QueryHandler) deleteSaved(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.DeleteSaved(c.UserContext(), ownerFromContext(c), id); err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "saved query deleted", nil)
}

func (h *QueryHandler) popular(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	popular, err := h.service.Popular(c.UserContext(), limit)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "popular queries retrieved", popular)
}
