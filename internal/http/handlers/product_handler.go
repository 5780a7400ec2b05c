package handlers

import (
	"github.com/gofiber/fiber/v2"

	"secondhand/internal/domain"
	applog "secondhand/internal/log"
	"secondhand/internal/services"
	"secondhand/internal/validate"
)

type ProductHandler struct {
	Coord *services.Coordinator
}

type createProductRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	PriceCents  int64  `json:"priceCents"`
}

// POST /api/v1/products
func (h *ProductHandler) Create(c *fiber.Ctx) error {
	var req createProductRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body")
	}
	title, ok := validate.Title(req.Title)
	if !ok {
		return badRequest(c, "title")
	}
	if req.PriceCents < 0 || req.PriceCents > validate.MaxPriceCents {
		return badRequest(c, "priceCents")
	}
	p, err := h.Coord.CreateProduct(c.UserContext(), currentUser(c).ID, services.NewProduct{
		Title: title, Description: req.Description, PriceCents: req.PriceCents,
	})
	if err != nil {
		return fail(c, "product.create", err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

// GET /api/v1/products/:id. Drafts are visible to their seller only.
func (h *ProductHandler) Get(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "id")
	}
	p, err := h.Coord.GetProduct(c.UserContext(), id)
	if err != nil {
		return fail(c, "product.get", err)
	}
	if p.Status == domain.StatusDraft && p.SellerID != currentUser(c).ID {
		return fail(c, "product.get", domain.ErrNotFound)
	}
	return c.JSON(p)
}

// GET /api/v1/products
func (h *ProductHandler) Mine(c *fiber.Ctx) error {
	ps, err := h.Coord.SellerProducts(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return fail(c, "product.list", err)
	}
	if ps == nil {
		ps = []domain.Product{}
	}
	return c.JSON(fiber.Map{"products": ps})
}

// POST /api/v1/products/:id/publish
func (h *ProductHandler) Publish(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "id")
	}
	if err := h.Coord.PublishProduct(c.UserContext(), currentUser(c).ID, id); err != nil {
		return fail(c, "product.publish", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// POST /api/v1/products/:id/unpublish
func (h *ProductHandler) Unpublish(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "id")
	}
	n, err := h.Coord.UnpublishProduct(c.UserContext(), currentUser(c).ID, id)
	if err != nil {
		return fail(c, "product.unpublish", err)
	}
	if n > 0 {
		applog.Info(c, "product.unpublish.evicted", map[string]any{"product": id, "evicted": n})
	}
	return c.JSON(fiber.Map{"evicted": n})
}

// DELETE /api/v1/products/:id
func (h *ProductHandler) Delete(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "id")
	}
	if err := h.Coord.DeleteProduct(c.UserContext(), currentUser(c).ID, id); err != nil {
		return fail(c, "product.delete", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
