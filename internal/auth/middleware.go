package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/smartgeocode/geobatch/internal/domain"
	"go.uber.org/zap"
)

const ownerLocalsKey = "owner"

// Middleware authenticates the Authorization bearer token on every request
// and stashes the resolved owner for handlers.
func Middleware(verifier Verifier, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer credential")
		}

		owner, err := verifier.Verify(c.Context(), token)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired credential")
			}
			logger.Error("auth verification failed",
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			return fiber.NewError(fiber.StatusServiceUnavailable, "authentication unavailable")
		}

		c.Locals(ownerLocalsKey, owner)
		return c.Next()
	}
}

// OwnerFromContext returns the account id stashed by Middleware.
func OwnerFromContext(c *fiber.Ctx) (string, bool) {
	owner, ok := c.Locals(ownerLocalsKey).(string)
	if !ok || strings.TrimSpace(owner) == "" {
		return "", false
	}
	return owner, true
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
