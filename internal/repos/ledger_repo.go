package repos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"codeshop/internal/domain"
)

// LedgerRepo keeps users.balance_cents and the transactions journal in step.
type LedgerRepo struct{ db sqlx.ExtContext }

func NewLedgerRepo(db sqlx.ExtContext) *LedgerRepo { return &LedgerRepo{db: db} }

func (r *LedgerRepo) Tx(tx *sqlx.Tx) *LedgerRepo { return &LedgerRepo{db: tx} }

const txCols = `id, user_id, kind, amount_cents, status, order_id, reference, description, created_at`

type txRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	Kind        string    `db:"kind"`
	AmountCents int64     `db:"amount_cents"`
	Status      string    `db:"status"`
	OrderID     *string   `db:"order_id"`
	Reference   *string   `db:"reference"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

func (t txRow) toDomain() domain.Transaction {
	return domain.Transaction{
		ID: t.ID, UserID: t.UserID, Kind: t.Kind, Amount: fromCents(t.AmountCents), Status: t.Status,
		OrderID: t.OrderID, Reference: t.Reference, Description: t.Description, CreatedAt: t.CreatedAt,
	}
}

func (r *LedgerRepo) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var c int64
	err := sqlx.GetContext(ctx, r.db, &c, r.db.Rebind(`SELECT balance_cents FROM users WHERE id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, domain.ErrNotFound
	}
	return fromCents(c), err
}

// Debit subtracts amount only if the balance covers it.
func (r *LedgerRepo) Debit(ctx context.Context, userID string, amount decimal.Decimal) error {
	c := toCents(amount)
	if c <= 0 {
		return domain.Invalid("amount", "must be positive")
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE users SET balance_cents = balance_cents - ?
		WHERE id = ? AND balance_cents >= ?
	`), c, userID, c)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Balance(ctx, userID); err != nil {
			return err
		}
		return fmt.Errorf("%w: need %s", domain.ErrInsufficientBalance, amount.StringFixed(2))
	}
	return nil
}

func (r *LedgerRepo) Credit(ctx context.Context, userID string, amount decimal.Decimal) error {
	c := toCents(amount)
	if c <= 0 {
		return domain.Invalid("amount", "must be positive")
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET balance_cents = balance_cents + ? WHERE id = ?`), c, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *LedgerRepo) Insert(ctx context.Context, t domain.Transaction) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO transactions(`+txCols+`) VALUES (?,?,?,?,?,?,?,?,?)`),
		t.ID, t.UserID, t.Kind, toCents(t.Amount), t.Status, t.OrderID, t.Reference, t.Description, t.CreatedAt)
	return err
}

func (r *LedgerRepo) ByReference(ctx context.Context, ref string) (domain.Transaction, error) {
	var row txRow
	err := sqlx.GetContext(ctx, r.db, &row, r.db.Rebind(`SELECT `+txCols+` FROM transactions WHERE reference = ?`), ref)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Transaction{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Transaction{}, err
	}
	return row.toDomain(), nil
}

// SettlePending moves a pending transaction to status. It reports false when
// the transaction had already left pending.
func (r *LedgerRepo) SettlePending(ctx context.Context, id, status string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE transactions SET status = ? WHERE id = ? AND status = 'pending'
	`), status, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *LedgerRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []txRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(`
		SELECT `+txCols+` FROM transactions WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`), userID, limit); err != nil {
		return nil, err
	}
	out := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}
