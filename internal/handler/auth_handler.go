package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/middleware"
	"github.com/noah-isme/sqlpractice-api/internal/service"
	"github.com/noah-isme/sqlpractice-api/internal/utils"
)

// AuthHandler exposes account endpoints.
type AuthHandler struct {
	service   service.AuthService
	validator *validator.Validate
	protected fiber.Handler
	logger    zerolog.Logger
}

// NewAuthHandler constructs the auth handler. protected guards the routes
// that need a signed-in user.
func NewAuthHandler(service service.AuthService, validator *validator.Validate, protected fiber.Handler, logger zerolog.Logger) *AuthHandler {
	if protected == nil {
		protected = middleware.JWTProtected(service)
	}
	return &AuthHandler{
		service:   service,
		validator: validator,
		protected: protected,
		logger:    logger.With().Str("component", "auth_handler").Logger(),
	}
}

// Register wires the routes below /auth.
func (h *AuthHandler) Register(router fiber.Router) {
	router.Post("/register", h.register)
	router.Post("/login", h.login)
	router.Post("/verify-email", h.verifyEmail)
	router.Post("/forgot-password", h.forgotPassword)
	router.Post("/reset-password", h.resetPassword)

	router.Post("/change-password", h.protected, h.changePassword)
	router.Get("/profile", h.protected, h.profile)
	router.Put("/profile", h.protected, h.updateProfile)
	router.Post("/deactivate", h.protected, h.deactivate)
	router.Get("/validate", h.protected, h.validate)
	router.Post("/logout", h.protected, h.logout)
}

func (h *AuthHandler) register(c *fiber.Ctx) error {
	var payload dto.RegisterRequest
	if ok, err := bindJSON(c, h.validator, &payload); !ok {
		return err
	}
	if payload.SessionID == "" {
		payload.SessionID = middleware.SessionIDFromContext(c)
	}

	response, err := h.service.Register(c.UserContext(), payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "account created", response)
}

func (h *AuthHandler) login(c *fiber.Ctx) error {
	var payload dto.LoginRequest
	if ok, err := bindJSON(c, h.validator, &payload); !ok {
		return err
	}
	if payload.SessionID == "" {
		payload.SessionID = middleware.SessionIDFromContext(c)
	}

	response, err := h.service.Login(c.UserContext(), payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "signed in", response)
}

func (h *AuthHandler) verifyEmail(c *fiber.Ctx) error {
	var payload dto.TokenRequest
	if ok, err := bindJSON(c, h.validator, &payload); !ok {
		return err
	}
	if err := h.service.VerifyEmail(c.UserContext(), payload.Token); err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "email verified", nil)
}

func (h *AuthHandler) forgotPassword(c *fiber.Ctx) error {
	var payload dto.ForgotPasswordRequest
	if ok, err := bindJSON(c, h.validator, &payload); !ok {
		return err
	}
	if err := h.service.ForgotPassword(c.UserContext(), payload.Email); err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "if the address is registered a reset link has been sent", nil)
}

func (h *AuthHandler) resetPassword(c *fiber.Ctx) error {
	var payload dto.ResetPasswordRequest
	if ok, err := bindJSON(c, h.validator, &payload); !ok {
		return err
	}
	if err := h.service.ResetPassword(c.UserContext(), payload); err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "password updated", nil)
}

func (h *AuthHandler) changePassword(c *fiber.Ctx) error {
	claims, _ := middleware.ClaimsFromContext(c)

	var payload dto.ChangePasswordRequest
	if ok, err := bindJSON(c, h.validator, &payload); !ok {
		return err
	}
	if err := h.service.ChangePassword(c.UserContext(), claims.UserID, payload); err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "password changed", nil)
}

func (h *AuthHandler) profile(c *fiber.Ctx) error {
	claims, _ := middleware.ClaimsFromContext(c)
	profile, err := h.service.Profile(c.UserContext(), claims.UserID)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "profile retrieved", profile)
}

func (h *AuthHandler) updateProfile(c *fiber.Ctx) error {
	claims, _ := middleware.ClaimsFromContext(c)

	var payload dto.ProfileUpdateRequest
	if ok, err := bindJSON(c, h.validator, &payload); !ok {
		return err
	}
	profile, err := h.service.UpdateProfile(c.UserContext(), claims.UserID, payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "profile updated", profile)
}

func (h *AuthHandler) deactivate(c *fiber.Ctx) error {
	claims, _ := middleware.ClaimsFromContext(c)
	if err := h.service.Deactivate(c.UserContext(), claims); err != nil {
		return handleError(c, h.logger, err)
	}
	requestLogger(h.logger, c).Info().Msg("account deactivated")
	return utils.SendSuccess(c, "account deactivated", nil)
}

func (h *AuthHandler) validate(c *fiber.Ctx) error {
	claims, _ := middleware.ClaimsFromContext(c)
	return utils.SendSuccess(c, "token valid", claims)
}

func (h *AuthHandler) logout(c *fiber.Ctx) error {
	claims, _ := middleware.ClaimsFromContext(c)
	if err := h.service.Logout(c.UserContext(), claims); err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "signed out", nil)
}
