package repos

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"codeshop/internal/domain"
)

type OrderRepo struct{ db sqlx.ExtContext }

func NewOrderRepo(db sqlx.ExtContext) *OrderRepo { return &OrderRepo{db: db} }

func (r *OrderRepo) Tx(tx *sqlx.Tx) *OrderRepo { return &OrderRepo{db: tx} }

const orderCols = `id, user_id, product_id, quantity, unit_price_cents, total_cents, discount_cents,
	net_cents, promo_code, status, payment_status, payment_method, payment_reference, paid_at,
	delivered_at, delivered_codes, notes, created_at, updated_at`

type orderRow struct {
	ID               string     `db:"id"`
	UserID           string     `db:"user_id"`
	ProductID        string     `db:"product_id"`
	Quantity         int        `db:"quantity"`
	UnitPriceCents   int64      `db:"unit_price_cents"`
	TotalCents       int64      `db:"total_cents"`
	DiscountCents    int64      `db:"discount_cents"`
	NetCents         int64      `db:"net_cents"`
	PromoCode        *string    `db:"promo_code"`
	Status           string     `db:"status"`
	PaymentStatus    string     `db:"payment_status"`
	PaymentMethod    string     `db:"payment_method"`
	PaymentReference string     `db:"payment_reference"`
	PaidAt           *time.Time `db:"paid_at"`
	DeliveredAt      *time.Time `db:"delivered_at"`
	DeliveredCodes   string     `db:"delivered_codes"`
	Notes            string     `db:"notes"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

func (o orderRow) toDomain() domain.Order {
	out := domain.Order{
		ID: o.ID, UserID: o.UserID, ProductID: o.ProductID, Quantity: o.Quantity,
		UnitPrice:        fromCents(o.UnitPriceCents),
		TotalAmount:      fromCents(o.TotalCents),
		DiscountAmount:   fromCents(o.DiscountCents),
		NetAmount:        fromCents(o.NetCents),
		PromoCode:        o.PromoCode,
		Status:           o.Status,
		PaymentStatus:    o.PaymentStatus,
		PaymentMethod:    o.PaymentMethod,
		PaymentReference: o.PaymentReference,
		PaidAt:           o.PaidAt,
		DeliveredAt:      o.DeliveredAt,
		Notes:            o.Notes,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	_ = json.Unmarshal([]byte(o.DeliveredCodes), &out.DeliveredCodes)
	return out
}

// Insert stores a freshly created order.
func (r *OrderRepo) Insert(ctx context.Context, o *domain.Order) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO orders(`+orderCols+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		o.ID, o.UserID, o.ProductID, o.Quantity,
		toCents(o.UnitPrice), toCents(o.TotalAmount), toCents(o.DiscountAmount), toCents(o.NetAmount),
		o.PromoCode, o.Status, o.PaymentStatus, o.PaymentMethod, o.PaymentReference,
		o.PaidAt, o.DeliveredAt, idsJSON(o.DeliveredCodes), o.Notes, o.CreatedAt, o.UpdatedAt)
	return err
}

// Update persists every mutable field of o.
func (r *OrderRepo) Update(ctx context.Context, o *domain.Order) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE orders SET status = ?, payment_status = ?, payment_method = ?, payment_reference = ?,
		       paid_at = ?, delivered_at = ?, delivered_codes = ?, notes = ?, updated_at = ?
		WHERE id = ?`),
		o.Status, o.PaymentStatus, o.PaymentMethod, o.PaymentReference,
		o.PaidAt, o.DeliveredAt, idsJSON(o.DeliveredCodes), o.Notes, o.UpdatedAt, o.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *OrderRepo) Get(ctx context.Context, id string) (*domain.Order, error) {
	return r.getBy(ctx, `SELECT `+orderCols+` FROM orders WHERE id = ?`, id)
}

// GetForUpdate reads the order and, on postgres, locks the row until the
// transaction ends.
func (r *OrderRepo) GetForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	q := `SELECT ` + orderCols + ` FROM orders WHERE id = ?`
	if isPostgres(r.db) {
		q += ` FOR UPDATE`
	}
	return r.getBy(ctx, q, id)
}

// FindByReference looks up the order an external payment invoice was issued for.
func (r *OrderRepo) FindByReference(ctx context.Context, ref string) (*domain.Order, error) {
	return r.getBy(ctx, `SELECT `+orderCols+` FROM orders WHERE payment_reference = ?`, ref)
}

func (r *OrderRepo) getBy(ctx context.Context, q string, arg any) (*domain.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, r.db, &row, r.db.Rebind(q), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o := row.toDomain()
	return &o, nil
}

func (r *OrderRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, `SELECT `+orderCols+` FROM orders WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`, userID, limit)
}

// ListLatest is the admin listing; an empty status means all.
func (r *OrderRepo) ListLatest(ctx context.Context, status string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	if status == "" {
		return r.list(ctx, `SELECT `+orderCols+` FROM orders ORDER BY created_at DESC LIMIT ?`, limit)
	}
	return r.list(ctx, `SELECT `+orderCols+` FROM orders WHERE status = ?
		ORDER BY created_at DESC LIMIT ?`, status, limit)
}

func (r *OrderRepo) list(ctx context.Context, q string, args ...any) ([]domain.Order, error) {
	var rows []orderRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// CountPromoUses counts the user's non-cancelled orders that used code.
func (r *OrderRepo) CountPromoUses(ctx context.Context, code, userID string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, r.db.Rebind(`
		SELECT COUNT(*) FROM orders
		WHERE promo_code = ? AND user_id = ? AND status <> 'cancelled'
	`), code, userID)
	return n, err
}

// CountPromoInFlight counts open orders carrying code. Completed orders are
// already in the code's used_count.
func (r *OrderRepo) CountPromoInFlight(ctx context.Context, code string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, r.db.Rebind(`
		SELECT COUNT(*) FROM orders
		WHERE promo_code = ? AND status NOT IN ('cancelled', 'completed')
	`), code)
	return n, err
}

// StatusCounts feeds the admin dashboard.
func (r *OrderRepo) StatusCounts(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := sqlx.SelectContext(ctx, r.db, &rows, `SELECT status, COUNT(*) AS n FROM orders GROUP BY status`); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}
