package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"lotbuy/internal/domain"
	applog "lotbuy/internal/log"
)

var kindStatus = map[domain.ErrorKind]int{
	domain.KindValidation:   fiber.StatusBadRequest,
	domain.KindUnauthorized: fiber.StatusUnauthorized,
	domain.KindForbidden:    fiber.StatusForbidden,
	domain.KindNotFound:     fiber.StatusNotFound,
	domain.KindInvalidState: fiber.StatusConflict,
	domain.KindOutOfOrder:   fiber.StatusConflict,
	domain.KindConflict:     fiber.StatusConflict,
}

// StatusFor maps a business error kind onto an HTTP status.
func StatusFor(err error) int {
	if s, ok := kindStatus[domain.KindOf(err)]; ok {
		return s
	}
	return fiber.StatusInternalServerError
}

// fail writes the JSON error body. Anything that is not a typed business
// error is logged and reported without details.
func fail(c *fiber.Ctx, err error) error {
	kind := domain.KindOf(err)
	status := StatusFor(err)
	if status == fiber.StatusInternalServerError {
		applog.Error(c, "request.error", err, nil)
		return c.Status(status).JSON(fiber.Map{"error": "Something went wrong. Please try again.", "kind": "internal"})
	}
	if kind == domain.KindForbidden {
		applog.Security(c, "access.denied", map[string]any{"reason": err.Error()})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error(), "kind": string(kind)})
}

// ErrorHandler is the app-wide fallback for errors returned by handlers and
// middleware.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		if fe.Code >= fiber.StatusInternalServerError {
			applog.Error(c, "server.error", err, nil)
			return c.Status(fe.Code).JSON(fiber.Map{"error": "Something went wrong. Please try again.", "kind": "internal"})
		}
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message, "kind": "http"})
	}
	return fail(c, err)
}

func render(c *fiber.Ctx, tmpl string, data fiber.Map) error {
	if data == nil {
		data = fiber.Map{}
	}
	if u := currentUser(c); u != nil {
		data["User"] = u
	}
	return c.Render(tmpl, data)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return fail(c, domain.Validationf("%s", msg))
}
