package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"codeshop/internal/domain"
	"codeshop/internal/events"
	"codeshop/internal/metrics"
	"codeshop/internal/redisx"
	"codeshop/internal/repos"
)

// Invoice asks the payment gateway to collect Amount under Reference.
type Invoice struct {
	Reference   string
	Amount      decimal.Decimal
	Description string
}

type InvoiceResult struct {
	Reference   string `json:"reference"`
	CheckoutURL string `json:"checkout_url"`
}

// Gateway is the external crypto payment provider. Confirmation arrives later
// through HandleWebhook.
type Gateway interface {
	CreateInvoice(ctx context.Context, inv Invoice) (InvoiceResult, error)
}

// HostedCheckout sends buyers to the provider's hosted page; the invoice is
// created implicitly by the query parameters.
type HostedCheckout struct{ BaseURL string }

func (g HostedCheckout) CreateInvoice(_ context.Context, inv Invoice) (InvoiceResult, error) {
	u, err := url.Parse(g.BaseURL)
	if err != nil {
		return InvoiceResult{}, fmt.Errorf("gateway url: %w", err)
	}
	q := u.Query()
	q.Set("reference", inv.Reference)
	q.Set("amount", inv.Amount.StringFixed(2))
	if inv.Description != "" {
		q.Set("description", inv.Description)
	}
	u.RawQuery = q.Encode()
	return InvoiceResult{Reference: inv.Reference, CheckoutURL: u.String()}, nil
}

const (
	WebhookKindOrder   = "order"
	WebhookKindDeposit = "deposit"

	WebhookConfirmed = "confirmed"
	WebhookFailed    = "failed"
)

// WebhookEvent is a gateway callback after signature verification.
type WebhookEvent struct {
	ID        string          `json:"id"`
	Reference string          `json:"reference"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
}

const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

var (
	minDeposit = decimal.NewFromInt(1)
	maxDeposit = decimal.NewFromInt(10000)
)

type PaymentService struct {
	DB      *sqlx.DB
	Orders  *OrderService
	Ledger  *repos.LedgerRepo
	Hooks   *repos.WebhookRepo
	Gateway Gateway
	Dedup   *redisx.Dedup
	Log     *zap.Logger
}

func NewPaymentService(db *sqlx.DB, orders *OrderService, gw Gateway, dedup *redisx.Dedup, log *zap.Logger) *PaymentService {
	return &PaymentService{
		DB:      db,
		Orders:  orders,
		Ledger:  repos.NewLedgerRepo(db),
		Hooks:   repos.NewWebhookRepo(db),
		Gateway: gw,
		Dedup:   dedup,
		Log:     log,
	}
}

// PayWithCrypto stamps the order as awaiting a crypto payment and returns
// the checkout link. The order id is the gateway reference.
func (s *PaymentService) PayWithCrypto(ctx context.Context, user *domain.User, orderID string) (InvoiceResult, error) {
	var o *domain.Order
	err := s.Orders.inTx(ctx, func(t *orderTx) error {
		var err error
		if o, err = t.owned(ctx, user, orderID); err != nil {
			return err
		}
		if o.UserID != user.ID {
			return domain.ErrUnauthorized
		}
		if o.Status != domain.StatusPending || o.IsPaid() {
			return fmt.Errorf("%w: order is %s/%s", domain.ErrInvalidTransition, o.Status, o.PaymentStatus)
		}
		if !o.NetAmount.IsPositive() {
			return domain.Invalid("payment_method", "nothing to pay; use balance")
		}
		o.PaymentMethod = domain.MethodCrypto
		o.PaymentReference = o.ID
		o.UpdatedAt = t.now
		return t.orders.Update(ctx, o)
	})
	if err != nil {
		return InvoiceResult{}, err
	}
	return s.Gateway.CreateInvoice(ctx, Invoice{
		Reference:   o.PaymentReference,
		Amount:      o.NetAmount,
		Description: "Order " + o.ID,
	})
}

// CreateDeposit opens a pending balance top-up and returns its checkout link.
func (s *PaymentService) CreateDeposit(ctx context.Context, user *domain.User, amount decimal.Decimal) (domain.Transaction, InvoiceResult, error) {
	if user == nil {
		return domain.Transaction{}, InvoiceResult{}, domain.ErrUnauthorized
	}
	amount = amount.Round(2)
	if amount.LessThan(minDeposit) || amount.GreaterThan(maxDeposit) {
		return domain.Transaction{}, InvoiceResult{}, domain.Invalid("amount", "must be between 1 and 10000")
	}
	ref := "dep_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	t := domain.Transaction{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Kind:        domain.TxDeposit,
		Amount:      amount,
		Status:      domain.TxPending,
		Reference:   &ref,
		Description: "Balance deposit",
		CreatedAt:   s.Orders.Now(),
	}
	if err := s.Ledger.Insert(ctx, t); err != nil {
		return domain.Transaction{}, InvoiceResult{}, err
	}
	inv, err := s.Gateway.CreateInvoice(ctx, Invoice{Reference: ref, Amount: amount, Description: t.Description})
	if err != nil {
		return t, InvoiceResult{}, err
	}
	s.Log.Info("deposit: created", zap.String("transaction_id", t.ID), zap.String("user_id", user.ID),
		zap.String("amount", amount.StringFixed(2)))
	return t, inv, nil
}

// HandleWebhook applies one gateway callback exactly once. Redis screens
// obvious replays; the webhook_events row written in the same transaction as
// the state change is what guarantees it, so a Redis claim without that row
// (a crash between claim and commit) is processed again.
func (s *PaymentService) HandleWebhook(ctx context.Context, ev WebhookEvent) (string, error) {
	if err := ev.validate(); err != nil {
		return "", err
	}
	first, err := s.Dedup.FirstSeen(ctx, ev.ID)
	if err != nil {
		s.Log.Warn("webhook: redis dedup unavailable", zap.Error(err))
	}
	if !first {
		seen, err := s.Hooks.Seen(ctx, ev.ID)
		if err != nil {
			return "", err
		}
		if seen {
			metrics.Webhook(OutcomeDuplicate)
			return OutcomeDuplicate, nil
		}
		s.Log.Warn("webhook: redis claim without a recorded event, reprocessing", zap.String("event_id", ev.ID))
	}

	outcome := OutcomeProcessed
	err = s.Orders.inTx(ctx, func(t *orderTx) error {
		fresh, err := s.Hooks.Tx(t.tx).Record(ctx, ev.ID, ev.Reference, ev.Kind, ev.Status, t.now)
		if err != nil {
			return err
		}
		if !fresh {
			outcome = OutcomeDuplicate
			return nil
		}
		switch ev.Kind {
		case WebhookKindOrder:
			outcome, err = s.applyOrder(ctx, t, ev)
		case WebhookKindDeposit:
			outcome, err = s.applyDeposit(ctx, t, ev)
		}
		return err
	})
	if err != nil {
		if ferr := s.Dedup.Forget(ctx, ev.ID); ferr != nil {
			s.Log.Warn("webhook: redis forget failed", zap.String("event_id", ev.ID), zap.Error(ferr))
		}
		metrics.Webhook("error")
		return "", err
	}
	metrics.Webhook(outcome)
	s.Log.Info("webhook: handled", zap.String("event_id", ev.ID), zap.String("kind", ev.Kind),
		zap.String("status", ev.Status), zap.String("outcome", outcome))
	return outcome, nil
}

func (s *PaymentService) applyOrder(ctx context.Context, t *orderTx, ev WebhookEvent) (string, error) {
	o, err := t.orders.FindByReference(ctx, ev.Reference)
	if err != nil {
		return "", err
	}
	if ev.Status == WebhookFailed {
		changed, err := o.MarkFailed(t.now)
		if err != nil || !changed {
			return OutcomeIgnored, nil
		}
		return OutcomeProcessed, t.orders.Update(ctx, o)
	}

	if ev.Amount.IsPositive() && ev.Amount.LessThan(o.NetAmount) {
		return "", domain.Invalid("amount", "does not cover the order")
	}
	if o.Status == domain.StatusCancelled && o.PaymentStatus != domain.PaymentRefunded {
		// Paid after the buyer cancelled: the money goes to their balance.
		return s.creditLatePayment(ctx, t, o, ev)
	}
	changed, err := t.settle(ctx, o, domain.MethodCrypto, ev.Reference)
	if err != nil {
		return "", err
	}
	if !changed {
		return OutcomeIgnored, nil
	}
	return OutcomeProcessed, nil
}

func (s *PaymentService) creditLatePayment(ctx context.Context, t *orderTx, o *domain.Order, ev WebhookEvent) (string, error) {
	ref := "late_" + o.ID
	if _, err := t.ledger.Ledger.ByReference(ctx, ref); err == nil {
		return OutcomeIgnored, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	amount := o.NetAmount
	if ev.Amount.IsPositive() {
		amount = ev.Amount
	}
	id := o.ID
	if _, err := t.ledger.AddBalance(ctx, o.UserID, amount, Entry{
		Kind: domain.TxRefund, OrderID: &id, Reference: &ref,
		Description: "Payment received for cancelled order " + o.ID,
	}); err != nil {
		return "", err
	}
	s.Log.Warn("webhook: payment for cancelled order credited to balance",
		zap.String("order_id", o.ID), zap.String("amount", amount.StringFixed(2)))
	return OutcomeProcessed, nil
}

func (s *PaymentService) applyDeposit(ctx context.Context, t *orderTx, ev WebhookEvent) (string, error) {
	ledger := t.ledger.Ledger
	dep, err := ledger.ByReference(ctx, ev.Reference)
	if err != nil {
		return "", err
	}
	if dep.Kind != domain.TxDeposit || dep.Status != domain.TxPending {
		return OutcomeIgnored, nil
	}
	if ev.Status == WebhookFailed {
		_, err := ledger.SettlePending(ctx, dep.ID, domain.TxFailed)
		return OutcomeProcessed, err
	}
	if ev.Amount.IsPositive() && ev.Amount.LessThan(dep.Amount) {
		return "", domain.Invalid("amount", "does not cover the deposit")
	}
	settled, err := ledger.SettlePending(ctx, dep.ID, domain.TxCompleted)
	if err != nil || !settled {
		return OutcomeIgnored, err
	}
	if err := ledger.Credit(ctx, dep.UserID, dep.Amount); err != nil {
		return "", err
	}
	t.outbox = append(t.outbox, outboxItem{eventType: events.DepositCompleted, id: dep.ID, payload: events.DepositPayload{
		TransactionID: dep.ID, UserID: dep.UserID, Amount: dep.Amount.StringFixed(2),
	}})
	return OutcomeProcessed, nil
}

func (ev WebhookEvent) validate() error {
	switch {
	case strings.TrimSpace(ev.ID) == "":
		return domain.Invalid("id", "required")
	case strings.TrimSpace(ev.Reference) == "":
		return domain.Invalid("reference", "required")
	case ev.Kind != WebhookKindOrder && ev.Kind != WebhookKindDeposit:
		return domain.Invalid("kind", "must be order or deposit")
	case ev.Status != WebhookConfirmed && ev.Status != WebhookFailed:
		return domain.Invalid("status", "must be confirmed or failed")
	case ev.Amount.IsNegative():
		return domain.Invalid("amount", "negative")
	}
	return nil
}

// Deposits lists a user's ledger for the balance page.
func (s *PaymentService) Deposits(ctx context.Context, userID string) ([]domain.Transaction, error) {
	return s.Ledger.ListByUser(ctx, userID, 50)
}
