package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"codeshop/internal/log"
	"codeshop/internal/services"
	"codeshop/internal/validate"
)

type AuthHandler struct {
	Auth          *services.AuthService
	SecureCookies bool
}

func (h *AuthHandler) ensureSID(c *fiber.Ctx) string {
	sid := c.Cookies("sid")
	if sid == "" {
		sid = uuid.NewString()
		c.Cookie(&fiber.Cookie{
			Name:     "sid",
			Value:    sid,
			Path:     "/",
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
			Secure:   h.SecureCookies,
		})
	}
	return sid
}

func (h *AuthHandler) LoginForm(c *fiber.Ctx) error {
	return render(c, "login", fiber.Map{"Err": ""})
}

func (h *AuthHandler) loginFailed(c *fiber.Ctx, email, reason string) error {
	log.Security(c, "auth.login.fail", map[string]any{"email": email, "reason": reason})
	c.Status(fiber.StatusUnauthorized)
	return render(c, "login", fiber.Map{"Err": "Invalid email or password", "Email": email})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	sid := h.ensureSID(c)
	email := c.FormValue("email")
	pass := c.FormValue("password")
	if _, ok := validate.Email(email); !ok {
		return h.loginFailed(c, email, "bad_format")
	}
	if !validate.Password(pass) {
		return h.loginFailed(c, email, "bad_password_format")
	}
	u, err := h.Auth.Login(c.UserContext(), sid, email, pass)
	if err != nil {
		return h.loginFailed(c, email, "bad_credentials")
	}
	c.Locals("user", u)
	log.Audit(c, "auth.login.success", map[string]any{"email": email})
	if u.IsAdmin() {
		return c.Redirect("/admin")
	}
	return c.Redirect("/")
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	sid := c.Cookies("sid")
	if sid != "" {
		_ = h.Auth.Logout(c.UserContext(), sid)
	}
	c.Cookie(&fiber.Cookie{
		Name:     "sid",
		Value:    "",
		Path:     "/",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Secure:   h.SecureCookies,
		Expires:  time.Now().Add(-1 * time.Hour),
	})
	log.Audit(c, "auth.logout", map[string]any{"sid": sid})
	return c.Redirect("/")
}
