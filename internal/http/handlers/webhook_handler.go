package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"

	applog "codeshop/internal/log"
	"codeshop/internal/services"
)

const signatureHeader = "X-Signature"

// WebhookHandler receives payment gateway callbacks. It is mounted outside
// csrf and session auth; the body signature is the only credential.
type WebhookHandler struct {
	Payments *services.PaymentService
	Secret   []byte
}

// Sign returns hex(HMAC-SHA256(secret, body)), the expected X-Signature.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *WebhookHandler) verify(body []byte, sig string) bool {
	if len(h.Secret) == 0 || sig == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(sig))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.Secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// POST /webhooks/payments
func (h *WebhookHandler) HandlePayments(c *fiber.Ctx) error {
	body := c.Body()
	if !h.verify(body, c.Get(signatureHeader)) {
		applog.Security(c, "webhook.signature.invalid", map[string]any{"len": len(body)})
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}
	var ev services.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		applog.Security(c, "webhook.body.invalid", nil)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "malformed event"})
	}
	outcome, err := h.Payments.HandleWebhook(c.UserContext(), ev)
	if err != nil {
		return apiError(c, "webhook.payments", err)
	}
	applog.Audit(c, "webhook.payments", map[string]any{
		"event_id": ev.ID, "kind": ev.Kind, "status": ev.Status, "reference": ev.Reference, "outcome": outcome,
	})
	return c.JSON(fiber.Map{"outcome": outcome})
}
