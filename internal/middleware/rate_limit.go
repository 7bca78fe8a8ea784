package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/sqlpractice-api/internal/utils"
)

// RateLimit creates a limiter keyed by authenticated user, falling back to
// the learner session and then the client IP.
func RateLimit(identifier string, limit int, window time.Duration) fiber.Handler {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Second
	}

	retryAfter := fmt.Sprintf("%d", max(1, int(window.Round(time.Second)/time.Second)))

	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return fmt.Sprintf("%s:%s", identifier, rateLimitKey(c))
		},
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, retryAfter)
			return utils.SendError(c, fiber.StatusTooManyRequests, "too many requests, slow down")
		},
	})
}

func rateLimitKey(c *fiber.Ctx) string {
	if userID := UserIDFromContext(c); userID != nil {
		return "user:" + userID.String()
	}
	if session := SessionIDFromContext(c); session != "" {
		return "session:" + session
	}
	return "ip:" + c.IP()
}
