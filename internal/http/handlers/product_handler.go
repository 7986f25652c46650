package handlers

import (
	"github.com/gofiber/fiber/v2"

	"codeshop/internal/log"
	"codeshop/internal/services"
	"codeshop/internal/validate"
)

type ProductHandler struct {
	Catalog *services.CatalogService
}

func (h *ProductHandler) Detail(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		log.Security(c, "validation.fail", map[string]any{"field": "product"})
		return notFound(c, "This item is no longer available")
	}
	p, err := h.Catalog.GetProduct(c.UserContext(), id)
	if err != nil {
		return notFound(c, "This item is no longer available")
	}
	return render(c, "product", fiber.Map{"P": p, "Err": c.Query("err")})
}
