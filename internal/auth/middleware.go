package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"exoweb/internal/api"
)

const claimsKey = "claims"

// Middleware returns a Fiber middleware that validates bearer tokens and
// stores their claims on the request.
func Middleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return api.UnauthorizedError("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return api.UnauthorizedError("Invalid auth header format")
		}

		claims, err := ParseToken(parts[1], secret)
		if err != nil {
			return api.UnauthorizedError("Invalid or expired token")
		}

		c.Locals(claimsKey, claims)
		return c.Next()
	}
}

// GetClaims extracts the claims stored by Middleware.
func GetClaims(c *fiber.Ctx) *Claims {
	claims, _ := c.Locals(claimsKey).(*Claims)
	return claims
}
