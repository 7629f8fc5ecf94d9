package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"lotbuy/internal/domain"
	"lotbuy/internal/log"
	"lotbuy/internal/services"
	"lotbuy/internal/validate"
)

type AuthHandler struct {
	Auth  *services.AuthService
	Query *services.QueryService
}

type credentials struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var in credentials
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	u, token, err := h.Auth.Register(c.UserContext(), in.Email, in.Name, in.Password)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			log.Security(c, "auth.register.duplicate", nil)
		}
		return fail(c, err)
	}
	c.Locals(log.UserKey, u.ID)
	log.Audit(c, "auth.register", nil)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": u, "token": token})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var in credentials
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	email, ok := validate.Email(in.Email)
	if !ok {
		log.Security(c, "auth.login.fail", map[string]any{"reason": "bad_format"})
		return fail(c, services.ErrBadCreds)
	}
	u, token, err := h.Auth.Login(c.UserContext(), email, in.Password)
	if err != nil {
		log.Security(c, "auth.login.fail", map[string]any{"email": email})
		return fail(c, err)
	}
	c.Locals(log.UserKey, u.ID)
	log.Audit(c, "auth.login.success", map[string]any{"email": email})
	return c.JSON(fiber.Map{"user": u, "token": token})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if err := h.Auth.Logout(c.UserContext(), bearer(c)); err != nil {
		return fail(c, err)
	}
	log.Audit(c, "auth.logout", nil)
	return c.SendStatus(fiber.StatusNoContent)
}

// Me returns the caller with their dashboard figures and live requests.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	view, err := h.Query.Profile(c.UserContext(), currentUser(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(view)
}

type profileInput struct {
	Name      *string `json:"name"`
	FullName  *string `json:"fullName"`
	Location  *string `json:"location"`
	AvatarURL *string `json:"avatarUrl"`
}

func (h *AuthHandler) UpdateMe(c *fiber.Ctx) error {
	var in profileInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	name := in.Name
	if name == nil {
		name = in.FullName
	}
	u, err := h.Auth.UpdateProfile(c.UserContext(), userID(c), services.ProfilePatch{
		Name:      name,
		Location:  in.Location,
		AvatarURL: in.AvatarURL,
	})
	if err != nil {
		return fail(c, err)
	}
	log.Audit(c, "profile.update", nil)
	return c.JSON(u)
}
