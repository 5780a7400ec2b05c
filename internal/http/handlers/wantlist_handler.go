package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"secondhand/internal/domain"
	"secondhand/internal/services"
	"secondhand/internal/validate"
)

type WantListHandler struct {
	Coord *services.Coordinator
}

type wantListItemView struct {
	domain.WantListItem
	Position  *int `json:"position"`
	QueueSize int  `json:"queueSize"`
}

// GET /api/v1/wantlist
func (h *WantListHandler) Active(c *fiber.Ctx) error {
	buyer := currentUser(c).ID
	wl, items, err := h.Coord.ActiveWantList(c.UserContext(), buyer)
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(fiber.Map{"wantList": nil, "items": []wantListItemView{}})
	}
	if err != nil {
		return fail(c, "wantlist.view", err)
	}
	positions, err := h.Coord.GetAllPositions(c.UserContext(), buyer)
	if err != nil {
		return fail(c, "wantlist.view", err)
	}
	byProduct := make(map[string]domain.QueuePosition, len(positions))
	for _, p := range positions {
		byProduct[p.ProductID] = p
	}
	views := make([]wantListItemView, 0, len(items))
	for _, it := range items {
		v := wantListItemView{WantListItem: it}
		if p, ok := byProduct[it.ProductID]; ok {
			pos := p.Position
			v.Position, v.QueueSize = &pos, p.QueueSize
		}
		views = append(views, v)
	}
	return c.JSON(fiber.Map{"wantList": wl, "items": views})
}

// DELETE /api/v1/wantlist/items/:itemId
func (h *WantListHandler) RemoveItem(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("itemId"))
	if !ok {
		return badRequest(c, "itemId")
	}
	if err := h.Coord.LeaveQueue(c.UserContext(), currentUser(c).ID, services.ItemRef{ItemID: id}); err != nil {
		return fail(c, "wantlist.item.remove", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// POST /api/v1/wantlists/:id/complete
func (h *WantListHandler) Complete(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "id")
	}
	rec, err := h.Coord.CompleteWantList(c.UserContext(), currentUser(c).ID, id)
	if err != nil {
		return fail(c, "wantlist.complete", err)
	}
	return c.JSON(rec)
}

// POST /api/v1/wantlists/:id/cancel. Sellers of an item's product or admins.
func (h *WantListHandler) Cancel(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "id")
	}
	u := currentUser(c)
	var err error
	if u.IsAdmin() {
		err = h.Coord.AdminCancelWantList(c.UserContext(), u.ID, id)
	} else {
		err = h.Coord.CancelWantList(c.UserContext(), u.ID, id)
	}
	if err != nil {
		return fail(c, "wantlist.cancel", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
