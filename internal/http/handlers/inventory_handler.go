package handlers

import (
	"github.com/gofiber/fiber/v2"

	"codeshop/internal/services"
	"codeshop/internal/validate"
)

type InventoryHandler struct {
	Inv *services.InventoryService
}

// Check reports derived stock for one product: GET /inventory/check?productId=.
func (h *InventoryHandler) Check(c *fiber.Ctx) error {
	productID, ok := validate.ID(c.Query("productId"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "missing productId"})
	}
	avail, err := h.Inv.CheckAvailability(c.UserContext(), productID)
	if err != nil {
		return apiError(c, "inventory.check", err)
	}
	return c.JSON(avail)
}
