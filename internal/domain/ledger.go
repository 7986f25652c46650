package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TxDeposit  = "deposit"
	TxPurchase = "purchase"
	TxRefund   = "refund"
)

const (
	TxPending   = "pending"
	TxCompleted = "completed"
	TxFailed    = "failed"
)

// Transaction is a ledger entry. Amount is signed: debits are negative.
type Transaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Kind        string          `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	OrderID     *string         `json:"order_id,omitempty"`
	Reference   *string         `json:"reference,omitempty"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}
