package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HeaderCorrelationID is echoed on every response.
const HeaderCorrelationID = "X-Correlation-ID"

type correlationIDKey struct{}

const localCorrelationID = "correlation_id"

// CorrelationID accepts X-Correlation-ID or X-Request-ID from the caller and
// generates one otherwise. The id is stored in locals and in the user context.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		incoming := strings.TrimSpace(c.Get(HeaderCorrelationID))
		if incoming == "" {
			incoming = strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		}
		if incoming == "" || len(incoming) > 128 {
			incoming = uuid.NewString()
		}

		c.Locals(localCorrelationID, incoming)
		c.Set(HeaderCorrelationID, incoming)
		c.SetUserContext(context.WithValue(c.UserContext(), correlationIDKey{}, incoming))

		return c.Next()
	}
}

// CorrelationIDFromContext extracts the correlation identifier from context, if present.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// GetCorrelationID returns the correlation identifier bound to the active request.
func GetCorrelationID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals(localCorrelationID).(string); ok {
		return id
	}
	return CorrelationIDFromContext(c.UserContext())
}

// RequestLogger derives a logger tagged with the request's correlation and
// session ids.
func RequestLogger(c *fiber.Ctx, base zerolog.Logger) zerolog.Logger {
	ctx := base.With().Str("correlation_id", GetCorrelationID(c))
	if session := SessionIDFromContext(c); session != "" {
		ctx = ctx.Str("session_id", session)
	}
	if userID := UserIDFromContext(c); userID != nil {
		ctx = ctx.Str("user_id", userID.String())
	}
	return ctx.Logger()
}
