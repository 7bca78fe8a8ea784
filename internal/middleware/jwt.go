package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/utils"
)

const (
	localUserID = "user_id"
	localRole   = "user_role"
	localClaims = "claims"
)

// TokenValidator verifies bearer tokens. The auth service satisfies it.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (dto.TokenClaims, error)
}

// JWTProtected returns a middleware that requires a valid bearer token.
func JWTProtected(validator TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authorization := c.Get(fiber.HeaderAuthorization)
		if authorization == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		tokenString, ok := bearerToken(authorization)
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
		}

		claims, err := validator.ValidateToken(c.UserContext(), tokenString)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		storeClaims(c, claims)
		return c.Next()
	}
}

// JWTOptional attaches the caller's identity when a valid bearer token is
// present and otherwise lets the request through anonymously.
func JWTOptional(validator TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return c.Next()
		}

		if claims, err := validator.ValidateToken(c.UserContext(), tokenString); err == nil {
			storeClaims(c, claims)
		}
		return c.Next()
	}
}

// ClaimsFromContext returns the validated token claims of the request.
func ClaimsFromContext(c *fiber.Ctx) (dto.TokenClaims, bool) {
	claims, ok := c.Locals(localClaims).(dto.TokenClaims)
	return claims, ok
}

// UserIDFromContext returns the authenticated user id, or nil for anonymous
// requests.
func UserIDFromContext(c *fiber.Ctx) *uuid.UUID {
	id, ok := c.Locals(localUserID).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return nil
	}
	return &id
}

func storeClaims(c *fiber.Ctx, claims dto.TokenClaims) {
	c.Locals(localUserID, claims.UserID)
	c.Locals(localRole, strings.ToLower(claims.Role))
	c.Locals(localClaims, claims)
}

func bearerToken(authorization string) (string, bool) {
	const bearer = "bearer "
	if len(authorization) <= len(bearer) || !strings.EqualFold(authorization[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(authorization[len(bearer):])
	return token, token != ""
}
