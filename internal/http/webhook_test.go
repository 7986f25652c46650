package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestCryptoPaymentWebhookCompletesOrderOnce(t *testing.T) {
	e := newEnv(t)
	bob := e.client(t)
	bob.login("bob@codeshop.test")

	status, o := bob.api(http.MethodPost, "/api/v1/orders", map[string]any{"product_id": "office-lic-001", "quantity": 1})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %v", status, o)
	}
	id := str(o, "id")

	status, inv := bob.api(http.MethodPost, "/api/v1/orders/"+id+"/pay/crypto", nil)
	if status != http.StatusOK || str(inv, "reference") != id {
		t.Fatalf("invoice: %d %v", status, inv)
	}
	checkout, err := url.Parse(str(inv, "checkout_url"))
	if err != nil || checkout.Host != "pay.test" || checkout.Query().Get("amount") != "49.00" {
		t.Fatalf("checkout url: %q", str(inv, "checkout_url"))
	}

	event := map[string]any{"id": "evt-1", "reference": id, "kind": "order", "status": "confirmed", "amount": "49.00"}
	status, res := e.webhook(t, webhookSecret, event)
	if status != http.StatusOK || str(res, "outcome") != "processed" {
		t.Fatalf("webhook: %d %v", status, res)
	}
	status, res = e.webhook(t, webhookSecret, event)
	if status != http.StatusOK || str(res, "outcome") != "duplicate" {
		t.Fatalf("replayed webhook: %d %v", status, res)
	}
	// A new event id for the same order must not pay it twice either.
	event["id"] = "evt-2"
	if status, res = e.webhook(t, webhookSecret, event); status != http.StatusOK || str(res, "outcome") == "processed" {
		t.Fatalf("second confirmation: %d %v", status, res)
	}

	status, got := bob.api(http.MethodGet, "/api/v1/orders/"+id, nil)
	order := obj(got, "order")
	if status != http.StatusOK || str(order, "status") != "completed" || str(order, "payment_method") != "crypto" {
		t.Fatalf("order after webhook: %d %v", status, got)
	}
	if codes, _ := got["codes"].([]any); len(codes) != 1 {
		t.Fatalf("expected one delivered code, got %v", got["codes"])
	}
	if audits := e.logged("webhook.payments"); len(audits) != 3 {
		t.Fatalf("expected 3 audited webhooks, got %d", len(audits))
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	e := newEnv(t)
	event := map[string]any{"id": "evt-x", "reference": "whatever", "kind": "order", "status": "confirmed", "amount": "1"}
	if status, _ := e.webhook(t, "wrong-secret", event); status != http.StatusUnauthorized {
		t.Fatalf("forged signature: expected 401, got %d", status)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(`{"id":"evt-y"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unsigned webhook: expected 401, got %d", resp.StatusCode)
	}
	if n := len(e.logged("webhook.signature.invalid")); n != 2 {
		t.Fatalf("expected 2 signature failures logged, got %d", n)
	}
}

func TestWebhookValidation(t *testing.T) {
	e := newEnv(t)
	cases := []struct {
		name   string
		event  map[string]any
		status int
	}{
		{"missing id", map[string]any{"reference": "r", "kind": "order", "status": "confirmed"}, http.StatusBadRequest},
		{"bad kind", map[string]any{"id": "e1", "reference": "r", "kind": "refund", "status": "confirmed"}, http.StatusBadRequest},
		{"bad status", map[string]any{"id": "e2", "reference": "r", "kind": "order", "status": "maybe"}, http.StatusBadRequest},
		{"unknown order", map[string]any{"id": "e3", "reference": "no-such-order", "kind": "order", "status": "confirmed", "amount": "5"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if status, body := e.webhook(t, webhookSecret, tc.event); status != tc.status {
				t.Fatalf("want %d, got %d %v", tc.status, status, body)
			}
		})
	}
}

func TestUnderpaidWebhookLeavesOrderUnpaid(t *testing.T) {
	e := newEnv(t)
	alice := e.client(t)
	alice.login("alice@codeshop.test")
	_, o := alice.api(http.MethodPost, "/api/v1/orders", map[string]any{"product_id": "steam-key-001", "quantity": 1})
	id := str(o, "id")
	alice.api(http.MethodPost, "/api/v1/orders/"+id+"/pay/crypto", nil)

	status, _ := e.webhook(t, webhookSecret, map[string]any{"id": "evt-low", "reference": id, "kind": "order", "status": "confirmed", "amount": "1.00"})
	if status != http.StatusBadRequest {
		t.Fatalf("underpaid webhook: expected 400, got %d", status)
	}
	_, got := alice.api(http.MethodGet, "/api/v1/orders/"+id, nil)
	if order := obj(got, "order"); str(order, "payment_status") != "pending" || str(order, "status") != "pending" {
		t.Fatalf("underpaid order changed: %v", order)
	}

	// The rolled-back event id can be delivered again with the right amount.
	status, res := e.webhook(t, webhookSecret, map[string]any{"id": "evt-low", "reference": id, "kind": "order", "status": "confirmed", "amount": "19.99"})
	if status != http.StatusOK || str(res, "outcome") != "processed" {
		t.Fatalf("corrected webhook: %d %v", status, res)
	}
}

func TestFailedPaymentWebhookKeepsOrderOpen(t *testing.T) {
	e := newEnv(t)
	alice := e.client(t)
	alice.login("alice@codeshop.test")
	_, o := alice.api(http.MethodPost, "/api/v1/orders", map[string]any{"product_id": "stream-acct-001", "quantity": 1})
	id := str(o, "id")
	alice.api(http.MethodPost, "/api/v1/orders/"+id+"/pay/crypto", nil)

	status, res := e.webhook(t, webhookSecret, map[string]any{"id": "evt-f", "reference": id, "kind": "order", "status": "failed"})
	if status != http.StatusOK || str(res, "outcome") != "processed" {
		t.Fatalf("failed webhook: %d %v", status, res)
	}
	_, got := alice.api(http.MethodGet, "/api/v1/orders/"+id, nil)
	if order := obj(got, "order"); str(order, "payment_status") != "failed" || str(order, "status") != "pending" {
		t.Fatalf("failed payment state: %v", order)
	}
	status, paid := alice.api(http.MethodPost, "/api/v1/orders/"+id+"/pay/balance", nil)
	if status != http.StatusOK || str(paid, "status") != "completed" {
		t.Fatalf("retry with balance: %d %v", status, paid)
	}
}

func TestDepositWebhookCreditsBalance(t *testing.T) {
	e := newEnv(t)
	carol := e.client(t)
	carol.login("carol@codeshop.test")

	if status, _ := carol.api(http.MethodPost, "/api/v1/deposits", map[string]any{"amount": "0.50"}); status != http.StatusBadRequest {
		t.Fatalf("deposit below minimum: expected 400, got %d", status)
	}
	if status, _ := carol.api(http.MethodPost, "/api/v1/deposits", map[string]any{"amount": "1.005"}); status != http.StatusBadRequest {
		t.Fatalf("sub-cent deposit: expected 400, got %d", status)
	}

	status, dep := carol.api(http.MethodPost, "/api/v1/deposits", map[string]any{"amount": "25.00"})
	if status != http.StatusCreated {
		t.Fatalf("deposit: %d %v", status, dep)
	}
	ref := str(obj(dep, "transaction"), "reference")
	if !strings.HasPrefix(ref, "dep_") || str(obj(dep, "transaction"), "status") != "pending" {
		t.Fatalf("deposit transaction: %v", dep)
	}
	if _, bal := carol.api(http.MethodGet, "/api/v1/balance", nil); str(bal, "balance") != "0.00" {
		t.Fatalf("pending deposit must not credit: %v", bal)
	}

	event := map[string]any{"id": "evt-dep", "reference": ref, "kind": "deposit", "status": "confirmed", "amount": "25.00"}
	if status, res := e.webhook(t, webhookSecret, event); status != http.StatusOK || str(res, "outcome") != "processed" {
		t.Fatalf("deposit webhook: %d %v", status, res)
	}
	event["id"] = "evt-dep-again"
	e.webhook(t, webhookSecret, event)

	_, bal := carol.api(http.MethodGet, "/api/v1/balance", nil)
	if str(bal, "balance") != "25.00" {
		t.Fatalf("balance after deposit: %v", bal)
	}

	status, o := carol.api(http.MethodPost, "/api/v1/orders", map[string]any{"product_id": "steam-key-001", "quantity": 1})
	if status != http.StatusCreated {
		t.Fatalf("create: %d", status)
	}
	if status, paid := carol.api(http.MethodPost, "/api/v1/orders/"+str(o, "id")+"/pay/balance", nil); status != http.StatusOK || str(paid, "status") != "completed" {
		t.Fatalf("pay from deposit: %d %v", status, paid)
	}
}
