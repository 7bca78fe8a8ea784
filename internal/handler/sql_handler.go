package handler

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/middleware"
	"github.com/noah-isme/sqlpractice-api/internal/service"
	"github.com/noah-isme/sqlpractice-api/internal/utils"
)

// SQLHandler exposes query execution and the problem catalog under /sql.
type SQLHandler struct {
	execution service.ExecutionService
	problems  service.ProblemService
	validator *validator.Validate
	limiter   fiber.Handler
	logger    zerolog.Logger
}

// NewSQLHandler constructs the SQL handler.
func NewSQLHandler(execution service.ExecutionService, problems service.ProblemService, validator *validator.Validate, logger zerolog.Logger) *SQLHandler {
	return &SQLHandler{
		execution: execution,
		problems:  problems,
		validator: validator,
		limiter:   func(c *fiber.Ctx) error { return c.Next() },
		logger:    logger.With().Str("component", "sql_handler").Logger(),
	}
}

// WithRateLimit guards the routes that reach the sandbox.
func (h *SQLHandler) WithRateLimit(limiter fiber.Handler) *SQLHandler {
	if limiter != nil {
		h.limiter = limiter
	}
	return h
}

// Register wires the routes below /sql.
func (h *SQLHandler) Register(router fiber.Router) {
	router.Post("/execute", h.limiter, h.execute)
	router.Post("/validate", h.limiter, h.validate)
	router.Get("/problems", h.listProblems)
	router.Get("/problems/:id", h.getProblem)
	router.Post("/problems/:problemId/setup", h.limiter, h.setup)
	router.Get("/companies", h.companies)
}

func (h *SQLHandler) execute(c *fiber.Ctx) error {
	var payload dto.ExecuteRequest
	if err := c.BodyParser(&payload); err != nil {
		return sendExecuteError(c, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return sendExecuteError(c, describeValidation(err))
	}

	response, err := h.execution.Execute(c.UserContext(), h.executeInput(c, payload.Query, payload.Dialect, payload.ProblemID))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return c.JSON(response)
}

func (h *SQLHandler) validate(c *fiber.Ctx) error {
	var payload dto.ValidateRequest
	if err := c.BodyParser(&payload); err != nil {
		return sendExecuteError(c, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return sendExecuteError(c, describeValidation(err))
	}

	verdict, err := h.execution.Validate(c.UserContext(), h.executeInput(c, payload.Query, payload.Dialect, payload.ProblemID))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "solution checked", verdict)
}

func (h *SQLHandler) listProblems(c *fiber.Ctx) error {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	pageSize, err := parseQueryInt(c, "pageSize")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	if pageSize == 0 {
		if pageSize, err = parseQueryInt(c, "limit"); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
	}

	result, err := h.problems.List(c.UserContext(), dto.ProblemListRequest{
		Difficulty: strings.ToLower(strings.TrimSpace(c.Query("difficulty"))),
		Category:   strings.TrimSpace(c.Query("category")),
		Company:    strings.TrimSpace(c.Query("company")),
		Search:     strings.TrimSpace(c.Query("search")),
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "problems retrieved", result)
}

func (h *SQLHandler) getProblem(c *fiber.Ctx) error {
	detail, err := h.problems.Get(c.UserContext(), c.Params("id"), c.Query("dialect"))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "problem retrieved", detail)
}

func (h *SQLHandler) setup(c *fiber.Ctx) error {
	dialectName := c.Query("dialect")
	if dialectName == "" && len(c.Body()) > 0 {
		var payload struct {
			Dialect string `json:"dialect"`
		}
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
		}
		dialectName = payload.Dialect
	}

	response, err := h.problems.Setup(c.UserContext(), c.Params("problemId"), dialectName)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	requestLogger(h.logger, c).Info().
		Str("problem_id", response.ProblemID.String()).
		Strs("tables", response.Tables).
		Msg("problem environment materialised")
	return utils.SendSuccess(c, "problem environment ready", response)
}

func (h *SQLHandler) companies(c *fiber.Ctx) error {
	groups, err := h.problems.Companies(c.UserContext())
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "companies retrieved", groups)
}

func (h *SQLHandler) executeInput(c *fiber.Ctx, query, dialectName, problemID string) service.ExecuteInput {
	return service.ExecuteInput{
		Query:     query,
		Dialect:   dialectName,
		ProblemID: strings.TrimSpace(problemID),
		SessionID: middleware.SessionIDFromContext(c),
		UserID:    middleware.UserIDFromContext(c),
		ClientID:  clientID(c),
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}
}

// clientID identifies the caller in security audit entries.
func clientID(c *fiber.Ctx) string {
	if userID := middleware.UserIDFromContext(c); userID != nil {
		return "user:" + userID.String()
	}
	if session := middleware.SessionIDFromContext(c); session != "" {
		return "session:" + session
	}
	return "ip:" + c.IP()
}

func sendExecuteError(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ExecuteErrorResponse{Success: false, Error: message})
}
