package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	// HeaderSessionID carries the pseudonymous learner session.
	HeaderSessionID = "X-Session-ID"
	sessionCookie   = "session_id"
	localSessionID  = "session_id"
	maxSessionIDLen = 128
)

// SessionID resolves the learner session from the X-Session-ID header, the
// session_id cookie or the session_id query parameter, in that order.
func SessionID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		candidates := []string{
			c.Get(HeaderSessionID),
			c.Cookies(sessionCookie),
			c.Query(sessionCookie),
		}
		for _, candidate := range candidates {
			candidate = strings.TrimSpace(candidate)
			if candidate != "" && len(candidate) <= maxSessionIDLen {
				c.Locals(localSessionID, candidate)
				break
			}
		}
		return c.Next()
	}
}

// SessionIDFromContext returns the session resolved by SessionID, if any.
func SessionIDFromContext(c *fiber.Ctx) string {
	if value, ok := c.Locals(localSessionID).(string); ok {
		return value
	}
	return ""
}
