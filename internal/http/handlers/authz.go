package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"lotbuy/internal/domain"
	applog "lotbuy/internal/log"
	"lotbuy/internal/services"
)

const userLocal = "user"

func bearer(c *fiber.Ctx) string {
	h := c.Get(fiber.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// AttachUser resolves the bearer token when present and never rejects.
func AttachUser(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if tok := bearer(c); tok != "" {
			if u, err := auth.CurrentUser(c.UserContext(), tok); err == nil {
				c.Locals(userLocal, u)
				c.Locals(applog.UserKey, u.ID)
			}
		}
		return c.Next()
	}
}

// RequireUser rejects requests without a valid session token.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if currentUser(c) == nil {
			hasToken := bearer(c) != ""
			applog.Security(c, "access.denied.auth", map[string]any{"token": hasToken})
			return fail(c, domain.Unauthorizedf("authentication required"))
		}
		return c.Next()
	}
}

func currentUser(c *fiber.Ctx) *domain.User {
	u, _ := c.Locals(userLocal).(*domain.User)
	return u
}

// userID is "" for anonymous callers.
func userID(c *fiber.Ctx) string {
	if u := currentUser(c); u != nil {
		return u.ID
	}
	return ""
}
