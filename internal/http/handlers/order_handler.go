package handlers

import (
	"github.com/gofiber/fiber/v2"

	"codeshop/internal/domain"
	applog "codeshop/internal/log"
	"codeshop/internal/services"
	"codeshop/internal/validate"
)

// OrderHandler serves the storefront order pages. Every route sits behind
// RequireUser.
type OrderHandler struct {
	Orders   *services.OrderService
	Payments *services.PaymentService
}

// POST /orders
func (h *OrderHandler) Place(c *fiber.Ctx) error {
	u := currentUser(c)
	pid, ok := validate.ID(c.FormValue("product_id"))
	if !ok {
		applog.Security(c, "validation.fail", map[string]any{"field": "product_id"})
		return notFound(c, "This item is no longer available")
	}
	qty, ok := validate.Qty(c.FormValue("qty"))
	if !ok {
		applog.Security(c, "validation.fail", map[string]any{"field": "qty"})
		return c.Status(fiber.StatusBadRequest).Render("notfound", fiber.Map{"Message": "Enter a valid quantity"})
	}
	promo, ok := validate.PromoCode(c.FormValue("promo"))
	if !ok {
		applog.Security(c, "validation.fail", map[string]any{"field": "promo"})
		return c.Status(fiber.StatusBadRequest).Render("notfound", fiber.Map{"Message": "Invalid promo code"})
	}

	o, err := h.Orders.Create(c.UserContext(), u, pid, qty, promo)
	if err != nil {
		return pageError(c, "order.place", err)
	}
	applog.Audit(c, "order.place", map[string]any{
		"order_id": o.ID, "product_id": pid, "qty": qty, "promo": promo, "net": o.NetAmount.StringFixed(2),
	})
	return c.Redirect("/order/" + o.ID)
}

// GET /order/:id
func (h *OrderHandler) View(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return notFound(c, "Order not found")
	}
	u := currentUser(c)
	o, err := h.Orders.Get(c.UserContext(), u, id)
	if err != nil {
		return pageError(c, "order.view", err)
	}
	codes, err := h.Orders.Codes(c.UserContext(), u, id)
	if err != nil {
		return pageError(c, "order.codes", err)
	}
	return render(c, "order", fiber.Map{
		"Order":     o,
		"Codes":     codes,
		"CanPay":    o.Status == domain.StatusPending && !o.IsPaid(),
		"CanCancel": o.CanBeCancelled(),
		"Owner":     o.UserID == u.ID,
		"Err":       c.Query("err"),
	})
}

// POST /order/:id/pay/balance
func (h *OrderHandler) PayBalance(c *fiber.Ctx) error {
	id := c.Params("id")
	o, err := h.Orders.PayWithBalance(c.UserContext(), currentUser(c), id)
	if err != nil {
		return pageError(c, "order.pay.balance", err)
	}
	applog.Audit(c, "order.pay.balance", map[string]any{"order_id": o.ID, "status": o.Status})
	return c.Redirect("/order/" + o.ID)
}

// POST /order/:id/pay/crypto
func (h *OrderHandler) PayCrypto(c *fiber.Ctx) error {
	id := c.Params("id")
	inv, err := h.Payments.PayWithCrypto(c.UserContext(), currentUser(c), id)
	if err != nil {
		return pageError(c, "order.pay.crypto", err)
	}
	applog.Audit(c, "order.pay.crypto", map[string]any{"order_id": id, "reference": inv.Reference})
	return c.Redirect(inv.CheckoutURL)
}

// POST /order/:id/cancel
func (h *OrderHandler) Cancel(c *fiber.Ctx) error {
	id := c.Params("id")
	reason, _ := validate.Text(c.FormValue("reason"), 200)
	if reason == "" {
		reason = "cancelled by customer"
	}
	o, err := h.Orders.Cancel(c.UserContext(), currentUser(c), id, reason)
	if err != nil {
		return pageError(c, "order.cancel", err)
	}
	applog.Audit(c, "order.cancel", map[string]any{"order_id": o.ID})
	return c.Redirect("/order/" + o.ID)
}

// History lists orders and ledger entries for the current user.
func (h *OrderHandler) History(c *fiber.Ctx) error {
	u := currentUser(c)
	orders, err := h.Orders.ListForUser(c.UserContext(), u.ID)
	if err != nil {
		applog.Error(c, "orders.history.fail", err, nil)
		return c.Status(fiber.StatusInternalServerError).Render("notfound", fiber.Map{"Message": "Could not load orders"})
	}
	txns, err := h.Payments.Deposits(c.UserContext(), u.ID)
	if err != nil {
		applog.Error(c, "orders.ledger.fail", err, nil)
		return c.Status(fiber.StatusInternalServerError).Render("notfound", fiber.Map{"Message": "Could not load balance"})
	}
	return render(c, "order_history", fiber.Map{"Orders": orders, "Transactions": txns, "Balance": u.Balance})
}

// POST /deposits
func (h *OrderHandler) Deposit(c *fiber.Ctx) error {
	amount, ok := validate.Amount(c.FormValue("amount"))
	if !ok {
		applog.Security(c, "validation.fail", map[string]any{"field": "amount"})
		return c.Status(fiber.StatusBadRequest).Render("notfound", fiber.Map{"Message": "Enter a valid amount"})
	}
	t, inv, err := h.Payments.CreateDeposit(c.UserContext(), currentUser(c), amount)
	if err != nil {
		return pageError(c, "deposit.create", err)
	}
	applog.Audit(c, "deposit.create", map[string]any{"transaction_id": t.ID, "amount": amount.StringFixed(2)})
	return c.Redirect(inv.CheckoutURL)
}
