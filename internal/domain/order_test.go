package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"codeshop/internal/domain"
)

func testProduct() domain.Product {
	return domain.Product{
		ID: "p-1", CategoryID: "games", Name: "Key", Price: decimal.RequireFromString("25.50"),
		MinPurchase: 1, MaxPurchase: 5, Active: true,
	}
}

func TestNewOrderTotals(t *testing.T) {
	now := time.Now()
	o := domain.NewOrder("o-1", "u-1", testProduct(), 3, decimal.RequireFromString("10"), nil, now)
	if !o.TotalAmount.Equal(decimal.RequireFromString("76.50")) {
		t.Fatalf("total: got %s", o.TotalAmount)
	}
	if !o.NetAmount.Equal(decimal.RequireFromString("66.50")) {
		t.Fatalf("net: got %s", o.NetAmount)
	}
	if !o.Consistent() {
		t.Fatal("net != total - discount")
	}
	if o.Status != domain.StatusPending || o.PaymentStatus != domain.PaymentPending {
		t.Fatalf("unexpected initial state %s/%s", o.Status, o.PaymentStatus)
	}

	capped := domain.NewOrder("o-2", "u-1", testProduct(), 1, decimal.RequireFromString("999"), nil, now)
	if !capped.NetAmount.IsZero() || !capped.Consistent() {
		t.Fatalf("discount should be capped at total, got net %s", capped.NetAmount)
	}
}

func TestCanPurchase(t *testing.T) {
	p := testProduct()
	if err := p.CanPurchase(2, 10); err != nil {
		t.Fatalf("want ok, got %v", err)
	}
	var verr *domain.ValidationError
	if err := p.CanPurchase(6, 10); !errors.As(err, &verr) {
		t.Fatalf("above max: want ValidationError, got %v", err)
	}
	if err := p.CanPurchase(0, 10); !errors.As(err, &verr) {
		t.Fatalf("zero qty: want ValidationError, got %v", err)
	}
	if err := p.CanPurchase(3, 2); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("want ErrInsufficientStock, got %v", err)
	}
	p.ManualDelivery = true
	if err := p.CanPurchase(3, 0); err != nil {
		t.Fatalf("manual delivery ignores stock, got %v", err)
	}
	p.Active = false
	if err := p.CanPurchase(1, 10); !errors.As(err, &verr) {
		t.Fatalf("inactive: want ValidationError, got %v", err)
	}
}

func TestMarkPaidAdvancesAndIsIdempotent(t *testing.T) {
	now := time.Now()
	o := domain.NewOrder("o-1", "u-1", testProduct(), 1, decimal.Zero, nil, now)

	changed, err := o.MarkPaid(domain.MethodCrypto, "ref-1", now)
	if err != nil || !changed {
		t.Fatalf("first MarkPaid: changed=%v err=%v", changed, err)
	}
	if o.Status != domain.StatusProcessing || o.PaidAt == nil || !o.PaidAt.Equal(now) {
		t.Fatalf("unexpected state after pay: %+v", o)
	}

	later := now.Add(time.Hour)
	changed, err = o.MarkPaid(domain.MethodCrypto, "ref-2", later)
	if err != nil || changed {
		t.Fatalf("second MarkPaid should be a no-op: changed=%v err=%v", changed, err)
	}
	if !o.PaidAt.Equal(now) || o.PaymentReference != "ref-1" {
		t.Fatal("duplicate confirmation must not touch paid_at or reference")
	}
}

func TestDeliveryRequiresPaidProcessing(t *testing.T) {
	now := time.Now()
	o := domain.NewOrder("o-1", "u-1", testProduct(), 1, decimal.Zero, nil, now)
	before := *o

	if err := o.CompleteDelivery([]string{"c-1"}, now); !errors.Is(err, domain.ErrNotReadyForDelivery) {
		t.Fatalf("want ErrNotReadyForDelivery, got %v", err)
	}
	if o.Status != before.Status || o.DeliveredAt != nil || len(o.DeliveredCodes) != 0 {
		t.Fatal("failed delivery must not mutate the order")
	}

	if _, err := o.MarkPaid(domain.MethodBalance, "", now); err != nil {
		t.Fatal(err)
	}
	if err := o.CompleteDelivery([]string{"c-1"}, now); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if o.Status != domain.StatusCompleted || len(o.DeliveredCodes) != 1 {
		t.Fatalf("unexpected state after delivery: %+v", o)
	}
}

func TestCancelRules(t *testing.T) {
	now := time.Now()
	o := domain.NewOrder("o-1", "u-1", testProduct(), 1, decimal.Zero, nil, now)
	if err := o.Cancel("changed my mind", now); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if o.Status != domain.StatusCancelled {
		t.Fatalf("want cancelled, got %s", o.Status)
	}
	if err := o.Cancel("again", now); !errors.Is(err, domain.ErrNotCancellable) {
		t.Fatalf("second cancel: want ErrNotCancellable, got %v", err)
	}

	paid := domain.NewOrder("o-2", "u-1", testProduct(), 1, decimal.Zero, nil, now)
	_, _ = paid.MarkPaid(domain.MethodBalance, "", now)
	if err := paid.Cancel("too late", now); !errors.Is(err, domain.ErrNotCancellable) {
		t.Fatalf("paid order: want ErrNotCancellable, got %v", err)
	}
}

func TestStatusIsMonotonic(t *testing.T) {
	for _, to := range []string{domain.StatusPending, domain.StatusProcessing, domain.StatusPendingDelivery} {
		if domain.CanTransition(domain.StatusCompleted, to) {
			t.Fatalf("completed -> %s must be rejected", to)
		}
		if domain.CanTransition(domain.StatusCancelled, to) {
			t.Fatalf("cancelled -> %s must be rejected", to)
		}
	}
	if domain.CanTransition(domain.StatusProcessing, domain.StatusPending) {
		t.Fatal("processing -> pending must be rejected")
	}
}

func TestRefund(t *testing.T) {
	now := time.Now()
	o := domain.NewOrder("o-1", "u-1", testProduct(), 1, decimal.Zero, nil, now)
	if _, err := o.Refund("x", now); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("unpaid refund: want ErrInvalidTransition, got %v", err)
	}
	_, _ = o.MarkPaid(domain.MethodBalance, "", now)
	if err := o.AwaitManualDelivery(now); err != nil {
		t.Fatal(err)
	}
	release, err := o.Refund("supplier out", now)
	if err != nil || !release {
		t.Fatalf("refund pending_delivery: release=%v err=%v", release, err)
	}
	if o.Status != domain.StatusCancelled || o.PaymentStatus != domain.PaymentRefunded {
		t.Fatalf("unexpected state: %s/%s", o.Status, o.PaymentStatus)
	}
}
