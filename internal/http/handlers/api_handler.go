package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	applog "codeshop/internal/log"
	"codeshop/internal/services"
	"codeshop/internal/validate"
)

// APIHandler is the JSON surface under /api/v1. Errors go through apiError so
// every endpoint maps domain failures the same way.
type APIHandler struct {
	Catalog  *services.CatalogService
	Orders   *services.OrderService
	Payments *services.PaymentService
	Tickets  *services.TicketService
}

func badRequest(c *fiber.Ctx, field string) error {
	applog.Security(c, "validation.fail", map[string]any{"field": field})
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "invalid " + field})
}

// parse decodes the body; false means the 400 has already been written.
func parse(c *fiber.Ctx, out any) bool {
	if err := c.BodyParser(out); err != nil {
		_ = badRequest(c, "body")
		return false
	}
	return true
}

// GET /api/v1/products
func (h *APIHandler) Products(c *fiber.Ctx) error {
	q := ""
	if raw := strings.TrimSpace(c.Query("q")); raw != "" {
		var ok bool
		if q, ok = validate.Q(raw); !ok {
			return badRequest(c, "q")
		}
	}
	category := strings.TrimSpace(c.Query("category"))
	if category != "" {
		if _, ok := validate.ID(category); !ok {
			return badRequest(c, "category")
		}
	}
	products, err := h.Catalog.Search(c.UserContext(), q, category, c.QueryInt("page", 1), 20)
	if err != nil {
		return apiError(c, "api.products", err)
	}
	return c.JSON(fiber.Map{"products": products})
}

// GET /api/v1/products/:id
func (h *APIHandler) Product(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "id")
	}
	p, err := h.Catalog.GetProduct(c.UserContext(), id)
	if err != nil {
		return apiError(c, "api.product", err)
	}
	return c.JSON(p)
}

type orderRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	PromoCode string `json:"promo_code"`
}

// invalid normalizes the request and names the first bad field.
func (r *orderRequest) invalid() string {
	var ok bool
	if r.ProductID, ok = validate.ID(r.ProductID); !ok {
		return "product_id"
	}
	if r.Quantity < 1 || r.Quantity > 1000 {
		return "quantity"
	}
	if r.PromoCode, ok = validate.PromoCode(r.PromoCode); !ok {
		return "promo_code"
	}
	return ""
}

// POST /api/v1/promo/validate
func (h *APIHandler) ValidatePromo(c *fiber.Ctx) error {
	var req orderRequest
	if !parse(c, &req) {
		return nil
	}
	if field := req.invalid(); field != "" {
		return badRequest(c, field)
	}
	if req.PromoCode == "" {
		return badRequest(c, "promo_code")
	}
	q, err := h.Orders.Quote(c.UserContext(), currentUser(c), req.ProductID, req.Quantity, req.PromoCode)
	if err != nil {
		return apiError(c, "api.promo.validate", err)
	}
	return c.JSON(q)
}

// POST /api/v1/orders
func (h *APIHandler) CreateOrder(c *fiber.Ctx) error {
	var req orderRequest
	if !parse(c, &req) {
		return nil
	}
	if field := req.invalid(); field != "" {
		return badRequest(c, field)
	}
	o, err := h.Orders.Create(c.UserContext(), currentUser(c), req.ProductID, req.Quantity, req.PromoCode)
	if err != nil {
		return apiError(c, "api.orders.create", err)
	}
	applog.Audit(c, "order.place", map[string]any{"order_id": o.ID, "product_id": o.ProductID, "qty": o.Quantity})
	return c.Status(fiber.StatusCreated).JSON(o)
}

// GET /api/v1/orders
func (h *APIHandler) ListOrders(c *fiber.Ctx) error {
	orders, err := h.Orders.ListForUser(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return apiError(c, "api.orders.list", err)
	}
	return c.JSON(fiber.Map{"orders": orders})
}

// GET /api/v1/orders/:id
func (h *APIHandler) Order(c *fiber.Ctx) error {
	u := currentUser(c)
	o, err := h.Orders.Get(c.UserContext(), u, c.Params("id"))
	if err != nil {
		return apiError(c, "api.orders.get", err)
	}
	codes, err := h.Orders.Codes(c.UserContext(), u, o.ID)
	if err != nil {
		return apiError(c, "api.orders.codes", err)
	}
	return c.JSON(fiber.Map{"order": o, "codes": codes})
}

// POST /api/v1/orders/:id/pay/balance
func (h *APIHandler) PayBalance(c *fiber.Ctx) error {
	o, err := h.Orders.PayWithBalance(c.UserContext(), currentUser(c), c.Params("id"))
	if err != nil {
		return apiError(c, "api.orders.pay.balance", err)
	}
	applog.Audit(c, "order.pay.balance", map[string]any{"order_id": o.ID, "status": o.Status})
	return c.JSON(o)
}

// POST /api/v1/orders/:id/pay/crypto
func (h *APIHandler) PayCrypto(c *fiber.Ctx) error {
	inv, err := h.Payments.PayWithCrypto(c.UserContext(), currentUser(c), c.Params("id"))
	if err != nil {
		return apiError(c, "api.orders.pay.crypto", err)
	}
	applog.Audit(c, "order.pay.crypto", map[string]any{"order_id": c.Params("id"), "reference": inv.Reference})
	return c.JSON(inv)
}

// POST /api/v1/orders/:id/cancel
func (h *APIHandler) CancelOrder(c *fiber.Ctx) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if len(c.Body()) > 0 {
		if !parse(c, &req) {
			return nil
		}
	}
	reason, _ := validate.Text(req.Reason, 200)
	if reason == "" {
		reason = "cancelled by customer"
	}
	o, err := h.Orders.Cancel(c.UserContext(), currentUser(c), c.Params("id"), reason)
	if err != nil {
		return apiError(c, "api.orders.cancel", err)
	}
	applog.Audit(c, "order.cancel", map[string]any{"order_id": o.ID})
	return c.JSON(o)
}

// GET /api/v1/balance
func (h *APIHandler) Balance(c *fiber.Ctx) error {
	u := currentUser(c)
	bal, err := h.Orders.Ledger.Balance(c.UserContext(), u.ID)
	if err != nil {
		return apiError(c, "api.balance", err)
	}
	hist, err := h.Orders.Ledger.History(c.UserContext(), u.ID)
	if err != nil {
		return apiError(c, "api.balance.history", err)
	}
	return c.JSON(fiber.Map{"balance": bal.StringFixed(2), "transactions": hist})
}

// POST /api/v1/deposits
func (h *APIHandler) Deposit(c *fiber.Ctx) error {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if !parse(c, &req) {
		return nil
	}
	amount, ok := validate.Amount(req.Amount.String())
	if !ok {
		return badRequest(c, "amount")
	}
	t, inv, err := h.Payments.CreateDeposit(c.UserContext(), currentUser(c), amount)
	if err != nil {
		return apiError(c, "api.deposits.create", err)
	}
	applog.Audit(c, "deposit.create", map[string]any{"transaction_id": t.ID, "amount": amount.StringFixed(2)})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"transaction": t, "invoice": inv})
}

// GET /api/v1/tickets
func (h *APIHandler) ListTickets(c *fiber.Ctx) error {
	ts, err := h.Tickets.ListForUser(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return apiError(c, "api.tickets.list", err)
	}
	return c.JSON(fiber.Map{"tickets": ts})
}

// POST /api/v1/tickets
func (h *APIHandler) OpenTicket(c *fiber.Ctx) error {
	var req struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
		OrderID string `json:"order_id"`
	}
	if !parse(c, &req) {
		return nil
	}
	subject, ok := validate.Text(req.Subject, 120)
	if !ok {
		return badRequest(c, "subject")
	}
	body, ok := validate.Text(req.Body, 4000)
	if !ok {
		return badRequest(c, "body")
	}
	t, err := h.Tickets.Open(c.UserContext(), currentUser(c), subject, body, req.OrderID)
	if err != nil {
		return apiError(c, "api.tickets.open", err)
	}
	applog.Audit(c, "ticket.open", map[string]any{"ticket_id": t.ID})
	return c.Status(fiber.StatusCreated).JSON(t)
}

// GET /api/v1/tickets/:id
func (h *APIHandler) Ticket(c *fiber.Ctx) error {
	t, err := h.Tickets.Get(c.UserContext(), currentUser(c), c.Params("id"))
	if err != nil {
		return apiError(c, "api.tickets.get", err)
	}
	return c.JSON(t)
}

// POST /api/v1/tickets/:id/messages
func (h *APIHandler) ReplyTicket(c *fiber.Ctx) error {
	var req struct {
		Body string `json:"body"`
	}
	if !parse(c, &req) {
		return nil
	}
	body, ok := validate.Text(req.Body, 4000)
	if !ok {
		return badRequest(c, "body")
	}
	t, err := h.Tickets.Reply(c.UserContext(), currentUser(c), c.Params("id"), body)
	if err != nil {
		return apiError(c, "api.tickets.reply", err)
	}
	return c.JSON(t)
}

// POST /api/v1/tickets/:id/close
func (h *APIHandler) CloseTicket(c *fiber.Ctx) error {
	t, err := h.Tickets.Close(c.UserContext(), currentUser(c), c.Params("id"))
	if err != nil {
		return apiError(c, "api.tickets.close", err)
	}
	applog.Audit(c, "ticket.close", map[string]any{"ticket_id": t.ID})
	return c.JSON(t)
}
