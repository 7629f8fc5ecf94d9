package handlers

import (
	"github.com/gofiber/fiber/v2"

	"lotbuy/internal/repos"
	"lotbuy/internal/validate"
)

type NotificationHandler struct {
	Notes *repos.NotificationRepo
}

func (h *NotificationHandler) List(c *fiber.Ctx) error {
	limit := validate.Limit(c.Query("limit"), 50, 200)
	items, err := h.Notes.ListByUser(c.UserContext(), userID(c), c.QueryBool("unread"), limit)
	if err != nil {
		return fail(c, err)
	}
	unread, err := h.Notes.CountUnread(c.UserContext(), userID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"items": items, "unread": unread})
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	if err := h.Notes.MarkRead(c.UserContext(), userID(c), id); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	if err := h.Notes.MarkAllRead(c.UserContext(), userID(c)); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
