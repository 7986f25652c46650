package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"codeshop/internal/domain"
	"codeshop/internal/repos"
)

// Entry describes the journal row written next to a balance change.
type Entry struct {
	Kind        string
	OrderID     *string
	Reference   *string
	Description string
}

// LedgerService moves money in and out of user balances. Callers inside a
// transaction use Tx so the balance and journal row commit together.
type LedgerService struct {
	Ledger *repos.LedgerRepo
	Now    func() time.Time
}

func NewLedgerService(ledger *repos.LedgerRepo) *LedgerService {
	return &LedgerService{Ledger: ledger, Now: utcNow}
}

func (s *LedgerService) Tx(tx *sqlx.Tx) *LedgerService {
	return &LedgerService{Ledger: s.Ledger.Tx(tx), Now: s.Now}
}

// DeductBalance fails with ErrInsufficientBalance when the balance is short.
func (s *LedgerService) DeductBalance(ctx context.Context, userID string, amount decimal.Decimal, e Entry) (domain.Transaction, error) {
	if err := s.Ledger.Debit(ctx, userID, amount); err != nil {
		return domain.Transaction{}, err
	}
	return s.record(ctx, userID, amount.Neg(), e)
}

func (s *LedgerService) AddBalance(ctx context.Context, userID string, amount decimal.Decimal, e Entry) (domain.Transaction, error) {
	if err := s.Ledger.Credit(ctx, userID, amount); err != nil {
		return domain.Transaction{}, err
	}
	return s.record(ctx, userID, amount, e)
}

func (s *LedgerService) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.Ledger.Balance(ctx, userID)
}

func (s *LedgerService) History(ctx context.Context, userID string) ([]domain.Transaction, error) {
	return s.Ledger.ListByUser(ctx, userID, 50)
}

func (s *LedgerService) record(ctx context.Context, userID string, signed decimal.Decimal, e Entry) (domain.Transaction, error) {
	t := domain.Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        e.Kind,
		Amount:      signed,
		Status:      domain.TxCompleted,
		OrderID:     e.OrderID,
		Reference:   e.Reference,
		Description: e.Description,
		CreatedAt:   s.Now(),
	}
	return t, s.Ledger.Insert(ctx, t)
}

func utcNow() time.Time { return time.Now().UTC() }
