package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"codeshop/internal/metrics"
)

func TestMiddlewareAndHandler(t *testing.T) {
	app := fiber.New()
	app.Use(metrics.Middleware())
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })
	app.Get("/metrics", metrics.Handler())

	if _, err := app.Test(httptest.NewRequest("GET", "/ping", nil)); err != nil {
		t.Fatal(err)
	}
	metrics.OrderEvent("created")
	metrics.Webhook("processed")

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`http_requests_total{endpoint="/ping",method="GET",status="200"}`,
		`codeshop_orders_total{event="created"}`,
		`codeshop_payment_webhooks_total{outcome="processed"}`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}

func TestUnmatchedPathsShareOneLabel(t *testing.T) {
	app := fiber.New()
	app.Use(metrics.Middleware())
	app.Get("/items/:id", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNotFound) })
	app.Get("/metrics", metrics.Handler())
	app.Use(func(c *fiber.Ctx) error { return c.Status(fiber.StatusNotFound).SendString("nope") })

	for _, p := range []string{"/wp-admin/setup.php", "/.env", "/items/42"} {
		if _, err := app.Test(httptest.NewRequest("GET", p, nil)); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	out := string(body)
	for _, leaked := range []string{"/wp-admin/setup.php", "/.env"} {
		if strings.Contains(out, leaked) {
			t.Fatalf("raw path %s became a label", leaked)
		}
	}
	for _, want := range []string{
		`http_requests_total{endpoint="unmatched",method="GET",status="404"}`,
		`http_requests_total{endpoint="/items/:id",method="GET",status="404"}`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
