package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	html "github.com/gofiber/template/html/v2"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"codeshop/internal/config"
	"codeshop/internal/http/handlers"
	applog "codeshop/internal/log"
	"codeshop/internal/repos"
)

const webhookSecret = "whsec-test"

type env struct {
	app  *fiber.App
	db   *sqlx.DB
	logs *observer.ObservedLogs
}

// newEnv boots the full app on a seeded in-memory database and captures the
// action logs written through internal/log.
func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := config.Config{
		DBDSN:         ":memory:",
		WebhookSecret: webhookSecret,
		GatewayURL:    "https://pay.test/checkout",
		ServiceName:   "codeshop-test",
	}
	db, err := repos.OpenDB(cfg.DBDSN)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	core, logs := observer.New(zapcore.InfoLevel)
	prev := applog.L()
	applog.SetLogger(zap.New(core))
	t.Cleanup(func() { applog.SetLogger(prev) })

	deps := handlers.NewDeps(db, cfg, nil, nil, zaptest.NewLogger(t))
	app := handlers.NewApp(deps, html.New("../../web/templates", ".html"))
	return &env{app: app, db: db, logs: logs}
}

// actions lists the logged action names in order.
func (e *env) actions() []string {
	var out []string
	for _, entry := range e.logs.All() {
		out = append(out, entry.Message)
	}
	return out
}

func (e *env) logged(action string) []map[string]any {
	var out []map[string]any
	for _, entry := range e.logs.FilterMessage(action).All() {
		out = append(out, entry.ContextMap())
	}
	return out
}

// client keeps cookies between requests the way a browser would.
type client struct {
	t       *testing.T
	app     *fiber.App
	cookies map[string]string
}

func (e *env) client(t *testing.T) *client {
	return &client{t: t, app: e.app, cookies: map[string]string{}}
}

func (c *client) do(req *http.Request) *http.Response {
	c.t.Helper()
	for k, v := range c.cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}
	resp, err := c.app.Test(req, -1)
	if err != nil {
		c.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	for _, ck := range resp.Cookies() {
		if ck.Value == "" || ck.MaxAge < 0 {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck.Value
	}
	return resp
}

func (c *client) get(path string) *http.Response {
	return c.do(httptest.NewRequest(http.MethodGet, path, nil))
}

// form posts with the csrf token of the page cookie, fetching one first if needed.
func (c *client) form(path string, vals url.Values) *http.Response {
	c.t.Helper()
	if c.cookies["csrf_"] == "" {
		c.get("/login")
	}
	if vals == nil {
		vals = url.Values{}
	}
	vals.Set("csrf", c.cookies["csrf_"])
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(vals.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *client) login(email string) {
	c.t.Helper()
	resp := c.form("/login", url.Values{"email": {email}, "password": {"Passw0rd!"}})
	if resp.StatusCode != http.StatusFound {
		c.t.Fatalf("login %s: status %d", email, resp.StatusCode)
	}
	if c.cookies["sid"] == "" {
		c.t.Fatal("login did not set a session cookie")
	}
}

// api sends a JSON request with the API csrf header and decodes the reply.
func (c *client) api(method, path string, body any) (int, map[string]any) {
	c.t.Helper()
	if method != http.MethodGet && c.cookies["csrf_api"] == "" {
		c.get("/api/v1/products")
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if tok := c.cookies["csrf_api"]; tok != "" {
		req.Header.Set("X-CSRF-Token", tok)
	}
	resp := c.do(req)
	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func bodyString(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

// webhook posts a gateway callback signed with secret.
func (e *env) webhook(t *testing.T, secret string, payload map[string]any) (int, map[string]any) {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", handlers.Sign([]byte(secret), b))
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func obj(m map[string]any, key string) map[string]any {
	o, _ := m[key].(map[string]any)
	return o
}
