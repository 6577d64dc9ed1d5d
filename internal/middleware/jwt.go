package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/unigigs-api/internal/security"
	"github.com/noah-isme/unigigs-api/internal/utils"
)

// Locals keys populated by the auth middlewares.
const (
	LocalClaims   = "claims"
	LocalUserID   = "user_id"
	LocalIdentity = "identity"
)

// accessTokenQuery carries the token for browser transports that cannot set
// headers (EventSource, WebSocket).
const accessTokenQuery = "access_token"

// Authenticator verifies access tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*security.Claims, error)
}

// JWTProtected returns a middleware that validates bearer access tokens.
func JWTProtected(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, ok := bearerToken(c)
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		claims, err := auth.Authenticate(c.UserContext(), tokenString)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals(LocalClaims, claims)
		c.Locals(LocalUserID, claims.UID())
		return c.Next()
	}
}

// ClaimsFromContext returns the verified token claims of the request.
func ClaimsFromContext(c *fiber.Ctx) (*security.Claims, bool) {
	claims, ok := c.Locals(LocalClaims).(*security.Claims)
	return claims, ok && claims != nil
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	authorization := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if authorization == "" {
		token := strings.TrimSpace(c.Query(accessTokenQuery))
		return token, token != ""
	}

	const bearer = "bearer "
	if len(authorization) <= len(bearer) || !strings.EqualFold(authorization[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(authorization[len(bearer):])
	return token, token != ""
}
