package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	OrderCreated         = "order.created"
	OrderPaid            = "order.paid"
	OrderCompleted       = "order.completed"
	OrderPendingDelivery = "order.pending_delivery"
	OrderCancelled       = "order.cancelled"
	OrderRefunded        = "order.refunded"
	DepositCompleted     = "deposit.completed"
	TicketOpened         = "ticket.opened"
	TicketReplied        = "ticket.replied"
	TicketClosed         = "ticket.closed"
)

// Envelope is the wire shape of every event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order, deposit or ticket id
	Payload       json.RawMessage `json:"payload"`
}

// New wraps payload in a fresh envelope.
func New(producer, eventType, correlationID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}

// Publisher delivers notification triggers. Implementations must not block
// the caller for long; a failed publish never undoes the state change.
type Publisher interface {
	Publish(ctx context.Context, e Envelope) error
}

// ---- payloads ----

type OrderPayload struct {
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	NetAmount     string `json:"net_amount"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Reason        string `json:"reason,omitempty"`
}

type DepositPayload struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	Amount        string `json:"amount"`
}

type TicketPayload struct {
	TicketID string `json:"ticket_id"`
	UserID   string `json:"user_id"`
	Status   string `json:"status"`
	Staff    bool   `json:"staff,omitempty"`
}
