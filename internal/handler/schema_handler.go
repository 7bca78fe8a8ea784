package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/service"
	"github.com/noah-isme/sqlpractice-api/internal/utils"
)

// SchemaHandler serves editor completions and table listings under /sql.
type SchemaHandler struct {
	service   service.SchemaService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewSchemaHandler constructs the schema handler.
func NewSchemaHandler(service service.SchemaService, validator *validator.Validate, logger zerolog.Logger) *SchemaHandler {
	return &SchemaHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "schema_handler").Logger(),
	}
}

// Register wires the routes below /sql.
func (h *SchemaHandler) Register(router fiber.Router) {
	router.Post("/autocomplete", h.autocomplete)
	router.Get("/schema", h.schema)
	router.Get("/schema/tables", h.tables)
}

func (h *SchemaHandler) autocomplete(c *fiber.Ctx) error {
	var payload dto.AutocompleteRequest
	if ok, err := bindJSON(c, h.validator, &payload); !ok {
		return err
	}

	response, err := h.service.Autocomplete(c.UserContext(), payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "completions generated", response)
}

func (h *SchemaHandler) schema(c *fiber.Ctx) error {
	response, err := h.service.Schema(c.UserContext(), c.Query("problemId"))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "schema retrieved", response)
}

func (h *SchemaHandler) tables(c *fiber.Ctx) error {
	response, err := h.service.Tables(c.UserContext())
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "tables retrieved", response)
}
