package handler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/grading"
	"github.com/noah-isme/sqlpractice-api/internal/middleware"
	"github.com/noah-isme/sqlpractice-api/internal/service"
	"github.com/noah-isme/sqlpractice-api/internal/utils"
	"github.com/noah-isme/sqlpractice-api/pkg/sandbox"
)

// busyRetryAfter is advertised when the sandbox pool is saturated.
const busyRetryAfter = 2 * time.Second

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return parsed, nil
}

func parseUintParam(c *fiber.Ctx, name string) (uint, error) {
	value := strings.TrimSpace(c.Params(name))
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil || parsed == 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return uint(parsed), nil
}

func ownerFromContext(c *fiber.Ctx) service.Owner {
	return service.Owner{
		SessionID: middleware.SessionIDFromContext(c),
		UserID:    middleware.UserIDFromContext(c),
	}
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := middleware.RequestLogger(c, base)
	return &logger
}

// bindJSON parses and validates the body. It writes the error response itself
// and reports false when the handler should stop.
func bindJSON(c *fiber.Ctx, validate *validator.Validate, payload any) (bool, error) {
	if err := c.BodyParser(payload); err != nil {
		return false, utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if validate == nil {
		return true, nil
	}
	if err := validate.Struct(payload); err != nil {
		return false, sendValidationError(c, err)
	}
	return true, nil
}

func sendValidationError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	details := make(map[string]string, len(validationErrors))
	for _, fieldErr := range validationErrors {
		details[strings.ToLower(fieldErr.Field())] = fieldErr.Tag()
	}
	return utils.SendErrorWithDetails(c, fiber.StatusBadRequest, "validation failed", details)
}

// describeValidation renders the first failing field for flat error bodies.
func describeValidation(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return "invalid payload"
	}
	first := validationErrors[0]
	return fmt.Sprintf("%s failed %s validation", strings.ToLower(first.Field()), first.Tag())
}

// handleError maps service and infrastructure errors onto the envelope.
// Rejections and engine errors are answered in the flat execute shape.
func handleError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	var (
		rejected *service.QueryRejectedError
		failed   *service.ExecutionFailedError
	)

	switch {
	case errors.As(err, &rejected):
		return c.Status(fiber.StatusBadRequest).JSON(rejectionResponse(rejected))
	case errors.As(err, &failed):
		return c.Status(fiber.StatusBadRequest).JSON(failed.Response)
	case errors.Is(err, sandbox.ErrSandboxBusy):
		return utils.SendRetryable(c, busyRetryAfter, "sandbox is busy, retry shortly")
	case errors.Is(err, sandbox.ErrUnavailable):
		requestLogger(logger, c).Error().Err(err).Msg("sandbox unavailable")
		return utils.SendError(c, fiber.StatusServiceUnavailable, "sandbox unavailable")
	case errors.Is(err, sandbox.ErrSetupFailed):
		requestLogger(logger, c).Error().Err(err).Msg("problem setup failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "problem environment could not be prepared")
	case errors.Is(err, grading.ErrMalformedExpectedOutput):
		return utils.SendError(c, fiber.StatusInternalServerError, "problem expected output is misconfigured")
	case errors.Is(err, service.ErrArchiveUnavailable):
		return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrProblemNotFound),
		errors.Is(err, service.ErrSchemaNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrLearningPathNotFound),
		errors.Is(err, service.ErrStepNotFound),
		errors.Is(err, service.ErrSavedQueryNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSessionRequired),
		errors.Is(err, service.ErrUnsupportedDialect),
		errors.Is(err, service.ErrInvalidBackup):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, service.ErrSavedQueryConflict):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrTokenRevoked):
		return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrUserInactive):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	default:
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return sendValidationError(c, err)
		}
		requestLogger(logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func rejectionResponse(rejected *service.QueryRejectedError) dto.ExecuteErrorResponse {
	message := "query rejected"
	if reasons := rejected.Result.Reasons(); len(reasons) > 0 {
		message = reasons[0]
	}
	return dto.ExecuteErrorResponse{
		Success:    false,
		Error:      message,
		RiskLevel:  string(rejected.Result.RiskLevel),
		Violations: rejected.Result.Violations,
	}
}
