package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	applog "codeshop/internal/log"
	"codeshop/internal/metrics"
)

const csrfHeader = "X-CSRF-Token"

// ErrorHandler logs the failure and renders a friendly page. Client errors
// keep their message; server errors never show internals.
func ErrorHandler(c *fiber.Ctx, err error) error {
	applog.Error(c, "server.error", err, nil)
	status := fiber.StatusInternalServerError
	msg := "Something went wrong. Please try again."
	if fe, ok := err.(*fiber.Error); ok && fe.Code < 500 {
		status, msg = fe.Code, fe.Message
	}
	if rerr := c.Status(status).Render("notfound", fiber.Map{"Message": msg}); rerr != nil {
		return c.Status(status).SendString(msg)
	}
	return nil
}

// NewApp builds the fiber app with middleware and every route mounted.
func NewApp(d *Deps, views fiber.Views) *fiber.App {
	app := fiber.New(fiber.Config{
		Views:        views,
		BodyLimit:    1 << 20,
		ErrorHandler: ErrorHandler,
	})

	// ---------- Middlewares ----------
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(helmet.New())
	app.Use(metrics.Middleware())
	app.Use(LoadUser(d.Auth))
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			p := c.Path()
			return strings.HasPrefix(p, "/webhooks/") || p == "/healthz" || p == "/metrics"
		},
	}))

	// Ops endpoints sit before csrf.
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })
	app.Get("/metrics", metrics.Handler())
	app.Post("/webhooks/payments", limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.webhook.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	}), d.WebhookHandler.HandlePayments)

	mountAPI(app, d)

	app.Use(csrf.New(csrf.Config{
		KeyLookup:      "form:csrf",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		CookieSecure:   d.SecureCookies,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			applog.Security(c, "csrf.fail", map[string]any{"path": c.Path()})
			return c.Status(fiber.StatusForbidden).Render("notfound", fiber.Map{"Message": "Security check failed. Please refresh and try again."})
		},
	}))
	app.Use(func(c *fiber.Ctx) error {
		if tok, ok := c.Locals("csrf").(string); ok {
			c.Locals("CSRFToken", tok)
		}
		return c.Next()
	})

	mountPages(app, d)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(404).Render("notfound", fiber.Map{"Message": "Page not found"})
	})
	return app
}

func mountAPI(app *fiber.App, d *Deps) {
	api := app.Group("/api/v1", csrf.New(csrf.Config{
		KeyLookup:      "header:" + csrfHeader,
		CookieName:     "csrf_api",
		CookieSameSite: "Strict",
		CookieSecure:   d.SecureCookies,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			applog.Security(c, "csrf.fail", map[string]any{"path": c.Path()})
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "csrf", "message": "missing or bad " + csrfHeader})
		},
	}))
	h := d.APIHandler

	api.Get("/products", h.Products)
	api.Get("/products/:id", h.Product)
	api.Get("/availability", limiter.New(limiter.Config{
		Max:        15,
		Expiration: 30 * time.Second,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() + "|avail"
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.availability.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded, retry soon"})
		},
	}), d.InventoryHandler.Check)

	authed := api.Group("", RequireAPIUser(d.Auth))
	authed.Post("/promo/validate", h.ValidatePromo)
	authed.Post("/orders", h.CreateOrder)
	authed.Get("/orders", h.ListOrders)
	authed.Get("/orders/:id", h.Order)
	authed.Post("/orders/:id/pay/balance", h.PayBalance)
	authed.Post("/orders/:id/pay/crypto", h.PayCrypto)
	authed.Post("/orders/:id/cancel", h.CancelOrder)
	authed.Get("/balance", h.Balance)
	authed.Post("/deposits", h.Deposit)
	authed.Get("/tickets", h.ListTickets)
	authed.Post("/tickets", h.OpenTicket)
	authed.Get("/tickets/:id", h.Ticket)
	authed.Post("/tickets/:id/messages", h.ReplyTicket)
	authed.Post("/tickets/:id/close", h.CloseTicket)

	api.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "no such endpoint"})
	})
}

func mountPages(app *fiber.App, d *Deps) {
	app.Get("/", d.CategoryHandler.Home)
	app.Get("/search", limiter.New(limiter.Config{Max: 20, Expiration: time.Minute}), d.SearchHandler.Search)
	app.Get("/category/:id", d.CategoryHandler.List)
	app.Get("/product/:id", d.ProductHandler.Detail)

	app.Get("/login", d.AuthHandler.LoginForm)
	app.Post("/login", limiter.New(limiter.Config{
		Max:        5,
		Expiration: 10 * time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.login.hit", nil)
			c.Status(fiber.StatusTooManyRequests)
			return render(c, "login", fiber.Map{"Err": "Too many attempts. Please try again later."})
		},
	}), d.AuthHandler.Login)
	app.Post("/logout", d.AuthHandler.Logout)

	user := RequireUser(d.Auth)
	oh := d.OrderHandler
	app.Post("/orders", user, oh.Place)
	app.Get("/orders", user, oh.History)
	app.Get("/order/:id", user, oh.View)
	app.Post("/order/:id/pay/balance", user, oh.PayBalance)
	app.Post("/order/:id/pay/crypto", user, oh.PayCrypto)
	app.Post("/order/:id/cancel", user, oh.Cancel)
	app.Post("/deposits", user, oh.Deposit)

	ah := d.AdminHandler
	admin := app.Group("/admin", RequireAdmin(d.Auth))
	admin.Get("/", ah.Dashboard)
	admin.Get("/orders", ah.OrdersPage)
	admin.Post("/orders/:id/fulfill", ah.Fulfill)
	admin.Post("/orders/:id/deliver", ah.Deliver)
	admin.Post("/orders/:id/refund", ah.Refund)
	admin.Post("/orders/:id/cancel", ah.Cancel)
	admin.Get("/inventory", ah.Inventory)
	admin.Post("/inventory", ah.UploadCodes)
	admin.Get("/promos", ah.PromosPage)
	admin.Post("/promos", ah.CreatePromo)
	admin.Post("/promos/:code/active", ah.TogglePromo)
	admin.Get("/tickets", ah.TicketsPage)
	admin.Get("/tickets/:id", ah.Ticket)
	admin.Post("/tickets/:id/reply", ah.ReplyTicket)
	admin.Post("/tickets/:id/close", ah.CloseTicket)
}
