package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"codeshop/internal/domain"
	applog "codeshop/internal/log"
)

// statusFor maps domain failures onto HTTP. Anything unknown is a 500 and its
// text is never shown to the client.
func statusFor(err error) (int, string, string) {
	var verr *domain.ValidationError
	var perr *domain.PromoError
	switch {
	case errors.As(err, &verr):
		return fiber.StatusBadRequest, "validation_error", verr.Error()
	case errors.As(err, &perr):
		return fiber.StatusUnprocessableEntity, "promo_" + perr.Reason, perr.Error()
	case errors.Is(err, domain.ErrInsufficientStock):
		return fiber.StatusConflict, "insufficient_stock", "not enough codes in stock"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return fiber.StatusPaymentRequired, "insufficient_balance", "balance too low for this order"
	case errors.Is(err, domain.ErrNotReadyForDelivery):
		return fiber.StatusConflict, "not_ready_for_delivery", "order is not ready for delivery"
	case errors.Is(err, domain.ErrNotCancellable):
		return fiber.StatusConflict, "not_cancellable", "order can no longer be cancelled"
	case errors.Is(err, domain.ErrInvalidTransition):
		return fiber.StatusConflict, "invalid_transition", "order cannot do that in its current state"
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.StatusForbidden, "forbidden", "not allowed"
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, "not_found", "not found"
	}
	return fiber.StatusInternalServerError, "internal_error", "something went wrong"
}

// apiError writes the JSON error body for err and logs by severity.
func apiError(c *fiber.Ctx, action string, err error) error {
	status, code, msg := statusFor(err)
	switch {
	case status >= 500:
		applog.Error(c, action, err, nil)
	case status == fiber.StatusForbidden:
		applog.Security(c, "access.denied", map[string]any{"action": action})
	default:
		applog.Info(c, action+".rejected", map[string]any{"code": code})
	}
	return c.Status(status).JSON(fiber.Map{"error": code, "message": msg})
}

// pageError renders the storefront error page. Forbidden resources are shown
// as missing so ids of other users' orders do not leak.
func pageError(c *fiber.Ctx, action string, err error) error {
	status, _, msg := statusFor(err)
	switch {
	case status >= 500:
		applog.Error(c, action, err, nil)
	case status == fiber.StatusForbidden:
		applog.Security(c, "access.denied", map[string]any{"action": action})
		return notFound(c, "Not found")
	}
	return c.Status(status).Render("notfound", fiber.Map{"Message": msg})
}
