package handlers

import (
	"github.com/gofiber/fiber/v2"

	applog "secondhand/internal/log"
	"secondhand/internal/repos"
	"secondhand/internal/services"
)

type AdminHandler struct {
	Coord *services.Coordinator
	Sales *repos.SalesRepo
}

// POST /api/v1/admin/sweep runs one housekeeping pass now.
func (h *AdminHandler) Sweep(c *fiber.Ctx) error {
	reconciled, rerr := h.Coord.ReconcileSold(c.UserContext())
	cancelled, cerr := h.Coord.CleanupAbandoned(c.UserContext())
	applog.Audit(c, "admin.sweep", map[string]any{"reconciled": reconciled, "cancelled": cancelled})
	for _, err := range []error{rerr, cerr} {
		if err != nil {
			return fail(c, "admin.sweep", err)
		}
	}
	return c.JSON(fiber.Map{"reconciled": reconciled, "cancelled": cancelled})
}

// GET /api/v1/admin/outbox?status=failed
func (h *AdminHandler) Outbox(c *fiber.Ctx) error {
	status := c.Query("status", repos.OutboxFailed)
	switch status {
	case repos.OutboxPending, repos.OutboxInProgress, repos.OutboxSent, repos.OutboxFailed:
	default:
		return badRequest(c, "status")
	}
	rows, err := h.Sales.OutboxByStatus(c.UserContext(), status)
	if err != nil {
		return fail(c, "admin.outbox.list", err)
	}
	if rows == nil {
		rows = []repos.OutboxRow{}
	}
	return c.JSON(fiber.Map{"status": status, "rows": rows})
}
