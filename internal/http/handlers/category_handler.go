package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"codeshop/internal/domain"
	"codeshop/internal/log"
	"codeshop/internal/services"
	"codeshop/internal/validate"
)

type CategoryHandler struct {
	Catalog *services.CatalogService
}

func (h *CategoryHandler) Home(c *fiber.Ctx) error {
	cats, err := h.Catalog.ListCategories(c.UserContext())
	if err != nil {
		return pageError(c, "catalog.categories", err)
	}
	top, err := h.Catalog.Search(c.UserContext(), "", "", 1, 8)
	if err != nil {
		return pageError(c, "catalog.top", err)
	}
	return render(c, "home", fiber.Map{"Categories": cats, "Products": top})
}

func (h *CategoryHandler) List(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		log.Security(c, "validation.fail", map[string]any{"field": "category"})
		return notFound(c, "Category not found")
	}
	cat, err := h.Catalog.GetCategory(c.UserContext(), id)
	if errors.Is(err, domain.ErrNotFound) {
		return notFound(c, "Category not found")
	}
	if err != nil {
		return pageError(c, "catalog.category", err)
	}
	page := c.QueryInt("page", 1)
	products, err := h.Catalog.Search(c.UserContext(), "", id, page, 12)
	if err != nil {
		return pageError(c, "catalog.category", err)
	}
	return render(c, "category", fiber.Map{"Category": cat, "Products": products, "Page": page})
}
