package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/middleware"
	"github.com/noah-isme/sqlpractice-api/internal/service"
	"github.com/noah-isme/sqlpractice-api/internal/utils"
)

// LearningPathHandler exposes curated problem sequences.
type LearningPathHandler struct {
	service service.LearningPathService
	logger  zerolog.Logger
}

// NewLearningPathHandler constructs the learning path handler.
func NewLearningPathHandler(service service.LearningPathService, logger zerolog.Logger) *LearningPathHandler {
	return &LearningPathHandler{
		service: service,
		logger:  logger.With().Str("component", "learning_path_handler").Logger(),
	}
}

// Register wires the routes below /learning-paths.
func (h *LearningPathHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Get("/problems/:problemId", h.pathsForProblem)
	router.Get("/:pathId", h.get)
	router.Post("/:pathId/start", h.start)
	router.Put("/:pathId/steps/:stepId", h.completeStep)
	router.Get("/:pathId/progress", h.progress)
	router.Get("/:pathId/next/:problemId", h.next)
}

func (h *LearningPathHandler) list(c *fiber.Ctx) error {
	paths, err := h.service.List(c.UserContext())
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "learning paths retrieved", paths)
}

func (h *LearningPathHandler) get(c *fiber.Ctx) error {
	pathID, err := parseUintParam(c, "pathId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	path, err := h.service.Get(c.UserContext(), pathID, middleware.SessionIDFromContext(c))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "learning path retrieved", path)
}

func (h *LearningPathHandler) start(c *fiber.Ctx) error {
	pathID, err := parseUintParam(c, "pathId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	progress, err := h.service.Start(c.UserContext(), middleware.SessionIDFromContext(c), middleware.UserIDFromContext(c), pathID)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "learning path started", progress)
}

func (h *LearningPathHandler) completeStep(c *fiber.Ctx) error {
	pathID, err := parseUintParam(c, "pathId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	stepID, err := parseUintParam(c, "stepId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	progress, err := h.service.CompleteStep(c.UserContext(), middleware.SessionIDFromContext(c), pathID, stepID)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "step completed", progress)
}

func (h *LearningPathHandler) progress(c *fiber.Ctx) error {
	pathID, err := parseUintParam(c, "pathId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	progress, err := h.service.Progress(c.UserContext(), middleware.SessionIDFromContext(c), pathID)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "learning path progress retrieved", progress)
}

func (h *LearningPathHandler) next(c *fiber.Ctx) error {
	pathID, err := parseUintParam(c, "pathId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	next, err := h.service.Next(c.UserContext(), pathID, c.Params("problemId"))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "next problem retrieved", next)
}

func (h *LearningPathHandler) pathsForProblem(c *fiber.Ctx) error {
	paths, err := h.service.PathsForProblem(c.UserContext(), c.Params("problemId"))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "learning paths retrieved", paths)
}
