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

// SyncHandler exposes backup, restore and session merge endpoints.
type SyncHandler struct {
	service   service.SyncService
	validator *validator.Validate
	protected fiber.Handler
	logger    zerolog.Logger
}

// NewSyncHandler constructs the sync handler. protected guards merge-session.
func NewSyncHandler(service service.SyncService, validator *validator.Validate, protected fiber.Handler, logger zerolog.Logger) *SyncHandler {
	if protected == nil {
		protected = func(c *fiber.Ctx) error {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
	}
	return &SyncHandler{
		service:   service,
		validator: validator,
		protected: protected,
		logger:    logger.With().Str("component", "sync_handler").Logger(),
	}
}

// Register wires the routes below /sync.
func (h *SyncHandler) Register(router fiber.Router) {
	router.Get("/status", h.status)
	router.Get("/backup", h.backup)
	router.Post("/backup/archive", h.archive)
	router.Post("/restore", h.restore)
	router.Post("/merge-session", h.protected, h.mergeSession)
}

func (h *SyncHandler) status(c *fiber.Ctx) error {
	status, err := h.service.Status(c.UserContext(), ownerFromContext(c))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "sync status retrieved", status)
}

func (h *SyncHandler) backup(c *fiber.Ctx) error {
	owner := ownerFromContext(c)
	document, err := h.service.Backup(c.UserContext(), owner)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	if c.QueryBool("download") {
		c.Attachment("sqlpractice-backup-" + owner.SessionID + ".json")
		return c.JSON(document)
	}
	return utils.SendSuccess(c, "backup created", document)
}

func (h *SyncHandler) archive(c *fiber.Ctx) error {
	archive, err := h.service.Archive(c.UserContext(), ownerFromContext(c))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	requestLogger(h.logger, c).Info().Str("public_id", archive.PublicID).Int("bytes", archive.Bytes).Msg("backup archived")
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "backup archived", archive)
}

func (h *SyncHandler) restore(c *fiber.Ctx) error {
	owner := ownerFromContext(c)

	if strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm) {
		file, err := c.FormFile("file")
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "file is required")
		}
		if file.Size > service.MaxBackupBytes {
			return utils.SendError(c, fiber.StatusRequestEntityTooLarge, "backup exceeds the 5 MB limit")
		}
		reader, err := file.Open()
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "file could not be read")
		}
		defer reader.Close()

		result, err := h.service.RestoreUpload(c.UserContext(), owner, reader)
		if err != nil {
			return handleError(c, h.logger, err)
		}
		return utils.SendSuccess(c, "backup restored", result)
	}

	var document dto.BackupDocument
	if err := c.BodyParser(&document); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	result, err := h.service.Restore(c.UserContext(), owner, document)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "backup restored", result)
}

func (h *SyncHandler) mergeSession(c *fiber.Ctx) error {
	userID := middleware.UserIDFromContext(c)
	if userID == nil {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.MergeSessionRequest
	if ok, err := bindJSON(c, h.validator, &payload); !ok {
		return err
	}

	result, err := h.service.MergeSession(c.UserContext(), *userID, middleware.SessionIDFromContext(c), payload.AnonymousSessionID)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "session merged", result)
}
