package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/unigigs-api/internal/utils"
)

// AuthOptions configures the WithAuth helper.
type AuthOptions struct {
	// RequireProfile rejects callers without a stored User record.
	RequireProfile bool
	// RequireUniversity rejects callers whose profile has no university yet.
	RequireUniversity bool
}

// WithAuth wraps a handler with identity guards. The identity must have been
// resolved by ResolveSession.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := IdentityFromContext(c)
		if !ok {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}

		if opts.RequireProfile && !identity.HasProfile {
			return utils.Fail(c, fiber.StatusForbidden, "complete your profile first", nil)
		}
		if opts.RequireUniversity && identity.University == "" {
			return utils.Fail(c, fiber.StatusForbidden, "complete your profile first", nil)
		}

		return handler(c)
	}
}

// RequireIdentity is WithAuth as a group middleware.
func RequireIdentity(opts AuthOptions) fiber.Handler {
	return WithAuth(func(c *fiber.Ctx) error { return c.Next() }, opts)
}
