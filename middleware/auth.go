// middleware/user_context.go
package middleware

import (
	"log"
	"strings"

	"math-duel-system/utils"

	"github.com/gofiber/fiber/v2"
)

// UserContextMiddleware extracts the acting user for mutating
// operations. The Gateway sets X-User-ID/X-User-Roles after its own
// authentication; direct callers (tooling, session tokens) may instead
// carry a JWT whose claims provide the same context. Secured routes
// without either yield 401.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-ID")
		rolesStr := c.Get("X-User-Roles")

		var roles []string
		if rolesStr != "" {
			for _, r := range strings.Split(rolesStr, ",") {
				r = strings.TrimSpace(r)
				if r != "" {
					roles = append(roles, r)
				}
			}
		}

		// JWT fallback for direct callers
		if userID == "" {
			if authHeader := c.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				if claims, err := utils.ParseToken(strings.TrimPrefix(authHeader, "Bearer ")); err == nil {
					userID = claims.UserID
					roles = claims.Roles
				}
			}
		}

		if userID == "" {
			log.Printf("❌ [USER_CTX] no user context on secured route: %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing user context — request must carry X-User-ID or a valid bearer token",
			})
		}

		// Attach to ctx for handlers
		c.Locals("user_id", userID)
		c.Locals("user_roles", roles)

		return c.Next()
	}
}
