package handlers

import (
	"github.com/gofiber/fiber/v2"

	"secondhand/internal/services"
	"secondhand/internal/validate"
)

type QueueHandler struct {
	Coord *services.Coordinator
}

// POST /api/v1/queue/:productId
func (h *QueueHandler) Join(c *fiber.Ctx) error {
	pid, ok := validate.ID(c.Params("productId"))
	if !ok {
		return badRequest(c, "productId")
	}
	res, err := h.Coord.JoinQueue(c.UserContext(), currentUser(c).ID, pid)
	if err != nil {
		return fail(c, "queue.join", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"productId": pid, "position": res.Position, "queueSize": res.QueueSize})
}

// DELETE /api/v1/queue/:productId
func (h *QueueHandler) Leave(c *fiber.Ctx) error {
	pid, ok := validate.ID(c.Params("productId"))
	if !ok {
		return badRequest(c, "productId")
	}
	if err := h.Coord.LeaveQueue(c.UserContext(), currentUser(c).ID, services.ItemRef{ProductID: pid}); err != nil {
		return fail(c, "queue.leave", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GET /api/v1/queue/:productId. position is null when not queued.
func (h *QueueHandler) Position(c *fiber.Ctx) error {
	pid, ok := validate.ID(c.Params("productId"))
	if !ok {
		return badRequest(c, "productId")
	}
	pos, size, err := h.Coord.GetPosition(c.UserContext(), currentUser(c).ID, pid)
	if err != nil {
		return fail(c, "queue.position", err)
	}
	return c.JSON(fiber.Map{"productId": pid, "position": pos, "queueSize": size})
}

// GET /api/v1/positions
func (h *QueueHandler) All(c *fiber.Ctx) error {
	ps, err := h.Coord.GetAllPositions(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return fail(c, "queue.positions", err)
	}
	return c.JSON(fiber.Map{"positions": ps})
}
