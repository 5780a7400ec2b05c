package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"secondhand/internal/domain"
	applog "secondhand/internal/log"
)

const internalMessage = "Something went wrong. Please try again."

// fail writes err as a JSON error. Invariant and internal failures are logged
// in full and answered with an opaque message.
func fail(c *fiber.Ctx, action string, err error) error {
	kind := domain.KindOf(err)
	status := fiber.StatusInternalServerError
	msg := internalMessage
	switch kind {
	case domain.KindValidation:
		status, msg = fiber.StatusBadRequest, err.Error()
	case domain.KindBusiness:
		status, msg = fiber.StatusConflict, err.Error()
	case domain.KindNotFound:
		status, msg = fiber.StatusNotFound, err.Error()
	case domain.KindForbidden:
		status, msg = fiber.StatusForbidden, err.Error()
		applog.Security(c, action+".forbidden", nil)
	case domain.KindBusy:
		status, msg = fiber.StatusServiceUnavailable, "Busy, please retry."
		c.Set(fiber.HeaderRetryAfter, "1")
	}
	if status == fiber.StatusInternalServerError {
		applog.Error(c, action+".fail", err, map[string]any{"kind": kind.String()})
	}
	return c.Status(status).JSON(fiber.Map{"error": msg, "code": kind.String()})
}

func badRequest(c *fiber.Ctx, field string) error {
	applog.Security(c, "validation.fail", map[string]any{"field": field})
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid " + field, "code": domain.KindValidation.String()})
}

// ErrorHandler is the app-wide fallback for errors no handler rendered.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	applog.Error(c, "server.error", err, nil)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": internalMessage})
}
