package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending         = "pending"
	StatusProcessing      = "processing"
	StatusPendingDelivery = "pending_delivery"
	StatusCompleted       = "completed"
	StatusCancelled       = "cancelled"
)

const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

const (
	MethodBalance = "balance"
	MethodCrypto  = "crypto"
)

var validNext = map[string]map[string]bool{
	StatusPending:         {StatusProcessing: true, StatusPendingDelivery: true, StatusCancelled: true},
	StatusProcessing:      {StatusPendingDelivery: true, StatusCompleted: true, StatusCancelled: true},
	StatusPendingDelivery: {StatusCompleted: true, StatusCancelled: true},
	StatusCompleted:       {},
	StatusCancelled:       {},
}

func CanTransition(from, to string) bool {
	return validNext[from][to]
}

// Order is a purchase of one product. The methods below only compute the next
// state in memory; persistence is the caller's job.
type Order struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	ProductID        string          `json:"product_id"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	NetAmount        decimal.Decimal `json:"net_amount"`
	PromoCode        *string         `json:"promo_code,omitempty"`
	Status           string          `json:"status"`
	PaymentStatus    string          `json:"payment_status"`
	PaymentMethod    string          `json:"payment_method,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	DeliveredAt      *time.Time      `json:"delivered_at,omitempty"`
	DeliveredCodes   []string        `json:"delivered_codes,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewOrder prices qty units of p at its current price and applies discount,
// which the caller has already capped at the order total.
func NewOrder(id, userID string, p Product, qty int, discount decimal.Decimal, promo *string, now time.Time) *Order {
	total := p.Price.Mul(decimal.NewFromInt(int64(qty))).Round(2)
	if discount.GreaterThan(total) {
		discount = total
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	return &Order{
		ID:             id,
		UserID:         userID,
		ProductID:      p.ID,
		Quantity:       qty,
		UnitPrice:      p.Price,
		TotalAmount:    total,
		DiscountAmount: discount,
		NetAmount:      total.Sub(discount),
		PromoCode:      promo,
		Status:         StatusPending,
		PaymentStatus:  PaymentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Consistent reports whether net = total - discount holds.
func (o *Order) Consistent() bool {
	return o.NetAmount.Equal(o.TotalAmount.Sub(o.DiscountAmount))
}

func (o *Order) IsPaid() bool { return o.PaymentStatus == PaymentPaid }

func (o *Order) CanBeCancelled() bool {
	return (o.Status == StatusPending || o.Status == StatusProcessing) && o.PaymentStatus != PaymentPaid
}

func (o *Order) ReadyForDelivery() error {
	if o.Status != StatusProcessing || o.PaymentStatus != PaymentPaid {
		return fmt.Errorf("%w: status=%s payment=%s", ErrNotReadyForDelivery, o.Status, o.PaymentStatus)
	}
	return nil
}

func (o *Order) setStatus(to string, now time.Time) error {
	if o.Status == to {
		return nil
	}
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

func (o *Order) appendNote(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	if o.Notes != "" {
		o.Notes += "\n"
	}
	o.Notes += note
}

// MarkPaid records a confirmed payment. It returns false when the order was
// already paid so duplicate confirmations change nothing.
func (o *Order) MarkPaid(method, ref string, now time.Time) (bool, error) {
	if o.PaymentStatus == PaymentPaid {
		return false, nil
	}
	if o.PaymentStatus == PaymentRefunded || o.Status == StatusCancelled || o.Status == StatusCompleted {
		return false, fmt.Errorf("%w: cannot pay %s order", ErrInvalidTransition, o.Status)
	}
	o.PaymentStatus = PaymentPaid
	o.PaymentMethod = method
	if ref != "" {
		o.PaymentReference = ref
	}
	paid := now
	o.PaidAt = &paid
	o.UpdatedAt = now
	if o.Status == StatusPending {
		return true, o.setStatus(StatusProcessing, now)
	}
	return true, nil
}

// MarkFailed records a failed payment attempt; the order stays open for retry.
func (o *Order) MarkFailed(now time.Time) (bool, error) {
	switch o.PaymentStatus {
	case PaymentFailed:
		return false, nil
	case PaymentPaid, PaymentRefunded:
		return false, fmt.Errorf("%w: payment already %s", ErrInvalidTransition, o.PaymentStatus)
	}
	o.PaymentStatus = PaymentFailed
	o.UpdatedAt = now
	return true, nil
}

// AwaitManualDelivery hands a paid order to staff for out-of-band fulfillment.
func (o *Order) AwaitManualDelivery(now time.Time) error {
	if !o.IsPaid() {
		return fmt.Errorf("%w: order is not paid", ErrInvalidTransition)
	}
	return o.setStatus(StatusPendingDelivery, now)
}

// CompleteDelivery finalizes an automatic-delivery order with the sold code ids.
func (o *Order) CompleteDelivery(codeIDs []string, now time.Time) error {
	if err := o.ReadyForDelivery(); err != nil {
		return err
	}
	o.DeliveredCodes = append([]string(nil), codeIDs...)
	delivered := now
	o.DeliveredAt = &delivered
	return o.setStatus(StatusCompleted, now)
}

// CompleteManual finalizes an order fulfilled by staff.
func (o *Order) CompleteManual(note string, now time.Time) error {
	if o.Status != StatusPendingDelivery || !o.IsPaid() {
		return fmt.Errorf("%w: status=%s payment=%s", ErrNotReadyForDelivery, o.Status, o.PaymentStatus)
	}
	o.appendNote(note)
	delivered := now
	o.DeliveredAt = &delivered
	return o.setStatus(StatusCompleted, now)
}

func (o *Order) Cancel(reason string, now time.Time) error {
	if !o.CanBeCancelled() {
		return fmt.Errorf("%w: status=%s payment=%s", ErrNotCancellable, o.Status, o.PaymentStatus)
	}
	if reason == "" {
		reason = "no reason given"
	}
	o.appendNote("Cancelled: " + reason)
	return o.setStatus(StatusCancelled, now)
}

// Refund reverses a paid order. Codes must be released unless the order was
// already completed.
func (o *Order) Refund(reason string, now time.Time) (release bool, err error) {
	if o.PaymentStatus != PaymentPaid {
		return false, fmt.Errorf("%w: payment is %s", ErrInvalidTransition, o.PaymentStatus)
	}
	o.PaymentStatus = PaymentRefunded
	o.UpdatedAt = now
	if reason == "" {
		reason = "no reason given"
	}
	o.appendNote("Refunded: " + reason)
	if o.Status == StatusCompleted {
		return false, nil
	}
	return true, o.setStatus(StatusCancelled, now)
}
