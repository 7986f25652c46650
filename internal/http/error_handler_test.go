package handlers_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	html "github.com/gofiber/template/html/v2"

	"codeshop/internal/http/handlers"
)

func TestErrorHandlerFriendlyMessage(t *testing.T) {
	app := fiber.New(fiber.Config{
		Views:        html.New("../../web/templates", ".html"),
		ErrorHandler: handlers.ErrorHandler,
	})
	app.Use(requestid.New())
	app.Get("/err", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusInternalServerError, "db timeout: secret trace")
	})
	app.Get("/plain", func(c *fiber.Ctx) error {
		return io.ErrUnexpectedEOF
	})
	app.Get("/teapot", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusTeapot, "short and stout")
	})

	for _, path := range []string{"/err", "/plain"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		if err != nil {
			t.Fatalf("test request failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %d", path, resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		s := string(body)
		if !strings.Contains(s, "Something went wrong") {
			t.Fatalf("friendly message missing; body=%s", s)
		}
		if strings.Contains(s, "db timeout") || strings.Contains(s, "secret") || strings.Contains(s, "unexpected EOF") {
			t.Fatalf("internal details leaked to user; body=%s", s)
		}
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/teapot", nil))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusTeapot || !strings.Contains(string(body), "short and stout") {
		t.Fatalf("client errors keep their status and message: %d %s", resp.StatusCode, body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	c := e.client(t)
	if resp := c.get("/healthz"); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
	c.get("/")
	resp := c.get("/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
	if body := bodyString(t, resp); !strings.Contains(body, "http_requests_total") {
		t.Fatal("request counter not exported")
	}
}
