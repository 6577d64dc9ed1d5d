package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/utils"
)

// SessionResolver merges the stored profile over the auth identity.
type SessionResolver interface {
	Session(ctx context.Context, identity dto.Identity) (dto.Identity, error)
}

// ResolveSession loads the caller's merged identity. It must run after JWTProtected.
func ResolveSession(resolver SessionResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := ClaimsFromContext(c)
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}

		identity, err := resolver.Session(c.UserContext(), claims.Identity())
		if err != nil {
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to load session")
		}

		c.Locals(LocalIdentity, identity)
		return c.Next()
	}
}

// IdentityFromContext returns the merged identity resolved for the request.
func IdentityFromContext(c *fiber.Ctx) (dto.Identity, bool) {
	identity, ok := c.Locals(LocalIdentity).(dto.Identity)
	return identity, ok && identity.UID != ""
}
