package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"codeshop/internal/domain"
	applog "codeshop/internal/log"
	"codeshop/internal/services"
	"codeshop/internal/validate"
)

type AdminHandler struct {
	Orders  *services.OrderService
	Inv     *services.InventoryService
	Promos  *services.PromoService
	Tickets *services.TicketService
}

// fail logs an admin mutation that did not go through and answers in plain text.
func (h *AdminHandler) fail(c *fiber.Ctx, action string, err error, fields map[string]any) error {
	status, _, msg := statusFor(err)
	applog.Error(c, action+".fail", err, fields)
	return c.Status(status).SendString(msg)
}

var orderStatuses = []string{
	domain.StatusPending, domain.StatusProcessing, domain.StatusPendingDelivery,
	domain.StatusCompleted, domain.StatusCancelled,
}

// GET /admin
func (h *AdminHandler) Dashboard(c *fiber.Ctx) error {
	counts, err := h.Orders.StatusCounts(c.UserContext())
	if err != nil {
		applog.Error(c, "admin.dashboard.fail", err, nil)
		return c.Status(500).Render("notfound", fiber.Map{"Message": "Could not load dashboard"})
	}
	stock, err := h.Inv.Summary(c.UserContext())
	if err != nil {
		applog.Error(c, "admin.dashboard.fail", err, nil)
		return c.Status(500).Render("notfound", fiber.Map{"Message": "Could not load dashboard"})
	}
	open, err := h.Tickets.ListAll(c.UserContext(), domain.TicketOpen)
	if err != nil {
		applog.Error(c, "admin.dashboard.fail", err, nil)
		return c.Status(500).Render("notfound", fiber.Map{"Message": "Could not load dashboard"})
	}
	return render(c, "admin_dashboard", fiber.Map{
		"Counts": counts, "Statuses": orderStatuses, "Stock": stock, "OpenTickets": len(open),
	})
}

// GET /admin/orders?status=
func (h *AdminHandler) OrdersPage(c *fiber.Ctx) error {
	status := strings.TrimSpace(c.Query("status"))
	if status != "" && !isOrderStatus(status) {
		applog.Security(c, "validation.fail", map[string]any{"field": "status"})
		status = ""
	}
	ords, err := h.Orders.ListAll(c.UserContext(), status)
	if err != nil {
		applog.Error(c, "admin.orders.list.fail", err, nil)
		return c.Status(500).Render("notfound", fiber.Map{"Message": "Could not load orders"})
	}
	return render(c, "admin_orders", fiber.Map{"Orders": ords, "Status": status, "Statuses": orderStatuses})
}

func isOrderStatus(s string) bool {
	for _, st := range orderStatuses {
		if st == s {
			return true
		}
	}
	return false
}

func formNote(c *fiber.Ctx, key, def string) string {
	if v, ok := validate.Text(c.FormValue(key), 500); ok {
		return v
	}
	return def
}

// POST /admin/orders/:id/fulfill
func (h *AdminHandler) Fulfill(c *fiber.Ctx) error {
	id := c.Params("id")
	note := formNote(c, "note", "")
	if _, err := h.Orders.FulfillManual(c.UserContext(), id, note); err != nil {
		return h.fail(c, "admin.orders.fulfill", err, map[string]any{"order_id": id})
	}
	applog.Audit(c, "admin.orders.fulfill", map[string]any{"order_id": id})
	return c.Redirect("/admin/orders")
}

// POST /admin/orders/:id/deliver retries automatic delivery after a restock.
func (h *AdminHandler) Deliver(c *fiber.Ctx) error {
	id := c.Params("id")
	o, err := h.Orders.DeliverAccessCodes(c.UserContext(), id)
	if err != nil {
		return h.fail(c, "admin.orders.deliver", err, map[string]any{"order_id": id})
	}
	applog.Audit(c, "admin.orders.deliver", map[string]any{"order_id": id, "codes": len(o.DeliveredCodes)})
	return c.Redirect("/admin/orders")
}

// POST /admin/orders/:id/refund
func (h *AdminHandler) Refund(c *fiber.Ctx) error {
	id := c.Params("id")
	reason := formNote(c, "reason", "refunded by staff")
	o, err := h.Orders.Refund(c.UserContext(), id, reason)
	if err != nil {
		return h.fail(c, "admin.orders.refund", err, map[string]any{"order_id": id})
	}
	applog.Audit(c, "admin.orders.refund", map[string]any{"order_id": id, "amount": o.NetAmount.StringFixed(2)})
	return c.Redirect("/admin/orders")
}

// POST /admin/orders/:id/cancel
func (h *AdminHandler) Cancel(c *fiber.Ctx) error {
	id := c.Params("id")
	reason := formNote(c, "reason", "cancelled by staff")
	if _, err := h.Orders.Cancel(c.UserContext(), currentUser(c), id, reason); err != nil {
		return h.fail(c, "admin.orders.cancel", err, map[string]any{"order_id": id})
	}
	applog.Audit(c, "admin.orders.cancel", map[string]any{"order_id": id})
	return c.Redirect("/admin/orders")
}

// GET /admin/inventory
func (h *AdminHandler) Inventory(c *fiber.Ctx) error {
	rows, err := h.Inv.Summary(c.UserContext())
	if err != nil {
		applog.Error(c, "admin.inventory.list.fail", err, nil)
		return c.Status(500).Render("notfound", fiber.Map{"Message": "Could not load inventory"})
	}
	return render(c, "admin_inventory", fiber.Map{"Rows": rows})
}

// POST /admin/inventory uploads one access code per line.
func (h *AdminHandler) UploadCodes(c *fiber.Ctx) error {
	pid, ok := validate.ID(c.FormValue("product_id"))
	if !ok {
		applog.Security(c, "validation.fail", map[string]any{"field": "product_id"})
		return c.Status(400).SendString("invalid input")
	}
	n, err := h.Inv.Upload(c.UserContext(), pid, c.FormValue("codes"))
	if err != nil {
		return h.fail(c, "admin.inventory.upload", err, map[string]any{"product": pid})
	}
	// Payloads are secrets; only the count is logged.
	applog.Audit(c, "admin.inventory.upload", map[string]any{"product": pid, "count": n})
	return c.Redirect("/admin/inventory")
}

// GET /admin/promos
func (h *AdminHandler) PromosPage(c *fiber.Ctx) error {
	promos, err := h.Promos.List(c.UserContext())
	if err != nil {
		applog.Error(c, "admin.promos.list.fail", err, nil)
		return c.Status(500).Render("notfound", fiber.Map{"Message": "Could not load promo codes"})
	}
	return render(c, "admin_promos", fiber.Map{"Promos": promos})
}

// POST /admin/promos
func (h *AdminHandler) CreatePromo(c *fiber.Ctx) error {
	p, field := promoFromForm(c)
	if field != "" {
		applog.Security(c, "validation.fail", map[string]any{"field": field})
		return c.Status(400).SendString("invalid " + field)
	}
	if err := h.Promos.Create(c.UserContext(), p); err != nil {
		return h.fail(c, "admin.promos.create", err, map[string]any{"code": p.Code})
	}
	applog.Audit(c, "admin.promos.create", map[string]any{"code": p.Code, "type": p.DiscountType, "value": p.Value.String()})
	return c.Redirect("/admin/promos")
}

// POST /admin/promos/:code/active
func (h *AdminHandler) TogglePromo(c *fiber.Ctx) error {
	code, ok := validate.PromoCode(c.Params("code"))
	if !ok || code == "" {
		return c.Status(400).SendString("invalid code")
	}
	active := c.FormValue("active") == "1"
	if err := h.Promos.SetActive(c.UserContext(), code, active); err != nil {
		return h.fail(c, "admin.promos.toggle", err, map[string]any{"code": code})
	}
	applog.Audit(c, "admin.promos.toggle", map[string]any{"code": code, "active": active})
	return c.Redirect("/admin/promos")
}

// promoFromForm reads the create form; the second result names a bad field.
func promoFromForm(c *fiber.Ctx) (domain.PromoCode, string) {
	code, ok := validate.PromoCode(c.FormValue("code"))
	if !ok || code == "" {
		return domain.PromoCode{}, "code"
	}
	p := domain.PromoCode{
		Code:         code,
		DiscountType: strings.ToLower(strings.TrimSpace(c.FormValue("discount_type"))),
		Active:       true,
	}
	val, err := decimal.NewFromString(strings.TrimSpace(c.FormValue("value")))
	if err != nil {
		return p, "value"
	}
	p.Value = val
	if v := strings.TrimSpace(c.FormValue("usage_limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, "usage_limit"
		}
		p.UsageLimit = &n
	}
	if v := strings.TrimSpace(c.FormValue("user_limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, "user_limit"
		}
		p.UserLimit = &n
	}
	if v := strings.TrimSpace(c.FormValue("minimum")); v != "" {
		m, ok := validate.Amount(v)
		if !ok {
			return p, "minimum"
		}
		p.MinimumAmount = &m
	}
	if v := strings.TrimSpace(c.FormValue("starts_at")); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return p, "starts_at"
		}
		p.StartsAt = &t
	}
	if v := strings.TrimSpace(c.FormValue("expires_at")); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return p, "expires_at"
		}
		p.ExpiresAt = &t
	}
	var bad bool
	if p.ProductIDs, bad = idList(c.FormValue("product_ids")); bad {
		return p, "product_ids"
	}
	if p.CategoryIDs, bad = idList(c.FormValue("category_ids")); bad {
		return p, "category_ids"
	}
	return p, ""
}

func idList(s string) ([]string, bool) {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, ok := validate.ID(part)
		if !ok {
			return nil, true
		}
		out = append(out, id)
	}
	return out, false
}

// GET /admin/tickets?status=
func (h *AdminHandler) TicketsPage(c *fiber.Ctx) error {
	status := strings.TrimSpace(c.Query("status"))
	switch status {
	case "", domain.TicketOpen, domain.TicketAnswered, domain.TicketClosed:
	default:
		status = ""
	}
	ts, err := h.Tickets.ListAll(c.UserContext(), status)
	if err != nil {
		applog.Error(c, "admin.tickets.list.fail", err, nil)
		return c.Status(500).Render("notfound", fiber.Map{"Message": "Could not load tickets"})
	}
	return render(c, "admin_tickets", fiber.Map{"Tickets": ts, "Status": status})
}

// GET /admin/tickets/:id
func (h *AdminHandler) Ticket(c *fiber.Ctx) error {
	t, err := h.Tickets.Get(c.UserContext(), currentUser(c), c.Params("id"))
	if err != nil {
		return pageError(c, "admin.tickets.get", err)
	}
	return render(c, "admin_ticket", fiber.Map{"Ticket": t})
}

// POST /admin/tickets/:id/reply
func (h *AdminHandler) ReplyTicket(c *fiber.Ctx) error {
	id := c.Params("id")
	body, ok := validate.Text(c.FormValue("body"), 4000)
	if !ok {
		return c.Status(400).SendString("reply cannot be empty")
	}
	if _, err := h.Tickets.Reply(c.UserContext(), currentUser(c), id, body); err != nil {
		return h.fail(c, "admin.tickets.reply", err, map[string]any{"ticket_id": id})
	}
	applog.Audit(c, "admin.tickets.reply", map[string]any{"ticket_id": id})
	return c.Redirect("/admin/tickets/" + id)
}

// POST /admin/tickets/:id/close
func (h *AdminHandler) CloseTicket(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := h.Tickets.Close(c.UserContext(), currentUser(c), id); err != nil {
		return h.fail(c, "admin.tickets.close", err, map[string]any{"ticket_id": id})
	}
	applog.Audit(c, "admin.tickets.close", map[string]any{"ticket_id": id})
	return c.Redirect("/admin/tickets")
}
