package repos

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"codeshop/internal/domain"
)

// InventoryRepo owns the access_codes table. Stock is never stored; it is the
// count of available rows.
type InventoryRepo struct{ db sqlx.ExtContext }

func NewInventoryRepo(db sqlx.ExtContext) *InventoryRepo { return &InventoryRepo{db: db} }

// Tx returns a copy bound to tx.
func (r *InventoryRepo) Tx(tx *sqlx.Tx) *InventoryRepo { return &InventoryRepo{db: tx} }

type codeRow struct {
	ID         string     `db:"id"`
	ProductID  string     `db:"product_id"`
	Status     string     `db:"status"`
	OrderID    *string    `db:"order_id"`
	ReservedAt *time.Time `db:"reserved_at"`
	SoldAt     *time.Time `db:"sold_at"`
	Payload    string     `db:"payload"`
	CreatedAt  time.Time  `db:"created_at"`
}

func (c codeRow) toDomain() domain.AccessCode {
	out := domain.AccessCode{
		ID: c.ID, ProductID: c.ProductID, Status: c.Status, OrderID: c.OrderID,
		ReservedAt: c.ReservedAt, SoldAt: c.SoldAt, CreatedAt: c.CreatedAt,
	}
	if err := json.Unmarshal([]byte(c.Payload), &out.Payload); err != nil {
		out.Payload = map[string]string{"code": c.Payload}
	}
	return out
}

// Row used by admin inventory pages
type InventoryRow struct {
	ProductID      string `db:"product_id"`
	Name           string `db:"name"`
	ManualDelivery bool   `db:"manual_delivery"`
	Available      int    `db:"available"`
	Reserved       int    `db:"reserved"`
	Sold           int    `db:"sold"`
}

const reserveAttempts = 3

// CountAvailable is the product's stock.
func (r *InventoryRepo) CountAvailable(ctx context.Context, productID string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, r.db.Rebind(`
		SELECT COUNT(*) FROM access_codes WHERE product_id = ? AND status = 'available'
	`), productID)
	return n, err
}

// CountAvailableMany returns stock for several products at once; products
// without codes are absent from the map.
func (r *InventoryRepo) CountAvailableMany(ctx context.Context, productIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(`
		SELECT product_id, COUNT(*) AS n FROM access_codes
		WHERE status = 'available' AND product_id IN (?)
		GROUP BY product_id`, productIDs)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ProductID string `db:"product_id"`
		N         int    `db:"n"`
	}
	if err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ProductID] = row.N
	}
	return out, nil
}

// Reserve moves exactly qty available codes of productID to reserved for
// orderID and returns their ids. It either reserves all of them or none; the
// caller must run it inside a transaction so a short count rolls back.
func (r *InventoryRepo) Reserve(ctx context.Context, productID, orderID string, qty int, now time.Time) ([]string, error) {
	if qty <= 0 {
		return nil, domain.Invalid("quantity", "must be positive")
	}
	sel := `SELECT id FROM access_codes
		WHERE product_id = ? AND status = 'available'
		ORDER BY created_at, id
		LIMIT ?`
	attempts := 1
	if isPostgres(r.db) {
		// Rows locked by a concurrent reservation drop out of the result once
		// that transaction commits, so a short read is retried.
		sel += ` FOR UPDATE`
		attempts = reserveAttempts
	}

	var ids []string
	for i := 0; i < attempts; i++ {
		ids = ids[:0]
		if err := sqlx.SelectContext(ctx, r.db, &ids, r.db.Rebind(sel), productID, qty); err != nil {
			return nil, err
		}
		if len(ids) == qty {
			break
		}
	}
	if len(ids) < qty {
		return nil, fmt.Errorf("%w: %d of %d codes available for %s", domain.ErrInsufficientStock, len(ids), qty, productID)
	}

	q, args, err := sqlx.In(`
		UPDATE access_codes SET status = 'reserved', order_id = ?, reserved_at = ?
		WHERE status = 'available' AND id IN (?)`, orderID, now, ids)
	if err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n != int64(qty) {
		return nil, fmt.Errorf("%w: reserved %d of %d codes for %s", domain.ErrInsufficientStock, n, qty, productID)
	}
	return ids, nil
}

// Release returns the order's reserved codes to the pool. Sold codes stay sold.
func (r *InventoryRepo) Release(ctx context.Context, orderID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE access_codes SET status = 'available', order_id = NULL, reserved_at = NULL
		WHERE order_id = ? AND status = 'reserved'
	`), orderID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Deliver marks the order's reserved codes sold and returns their ids.
func (r *InventoryRepo) Deliver(ctx context.Context, orderID string, now time.Time) ([]string, error) {
	var ids []string
	if err := sqlx.SelectContext(ctx, r.db, &ids, r.db.Rebind(`
		SELECT id FROM access_codes WHERE order_id = ? AND status = 'reserved' ORDER BY created_at, id
	`), orderID); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE access_codes SET status = 'sold', sold_at = ?
		WHERE order_id = ? AND status = 'reserved'
	`), now, orderID); err != nil {
		return nil, err
	}
	return ids, nil
}

// CountForOrder counts the order's codes in the given status.
func (r *InventoryRepo) CountForOrder(ctx context.Context, orderID, status string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, r.db.Rebind(`
		SELECT COUNT(*) FROM access_codes WHERE order_id = ? AND status = ?
	`), orderID, status)
	return n, err
}

func (r *InventoryRepo) ListForOrder(ctx context.Context, orderID string) ([]domain.AccessCode, error) {
	var rows []codeRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(`
		SELECT id, product_id, status, order_id, reserved_at, sold_at, payload, created_at
		FROM access_codes WHERE order_id = ?
		ORDER BY created_at, id
	`), orderID); err != nil {
		return nil, err
	}
	out := make([]domain.AccessCode, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// BulkInsert adds available codes to a product's pool.
func (r *InventoryRepo) BulkInsert(ctx context.Context, productID string, payloads []map[string]string, now time.Time) (int, error) {
	q := r.db.Rebind(`
		INSERT INTO access_codes(id, product_id, status, payload, created_at)
		VALUES (?, ?, 'available', ?, ?)`)
	n := 0
	for i, p := range payloads {
		if len(p) == 0 {
			continue
		}
		raw, err := json.Marshal(p)
		if err != nil {
			return n, err
		}
		// Spread creation times so FIFO order follows upload order.
		at := now.Add(time.Duration(i) * time.Microsecond)
		if _, err := r.db.ExecContext(ctx, q, uuid.NewString(), productID, string(raw), at); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Summary returns per-product counts by status (for /admin/inventory).
func (r *InventoryRepo) Summary(ctx context.Context) ([]InventoryRow, error) {
	var rows []InventoryRow
	err := sqlx.SelectContext(ctx, r.db, &rows, `
		SELECT p.id AS product_id, p.name, p.manual_delivery,
		       COALESCE(SUM(CASE WHEN c.status = 'available' THEN 1 ELSE 0 END), 0) AS available,
		       COALESCE(SUM(CASE WHEN c.status = 'reserved'  THEN 1 ELSE 0 END), 0) AS reserved,
		       COALESCE(SUM(CASE WHEN c.status = 'sold'      THEN 1 ELSE 0 END), 0) AS sold
		FROM products p
		LEFT JOIN access_codes c ON c.product_id = p.id
		GROUP BY p.id, p.name, p.manual_delivery
		ORDER BY p.name
	`)
	return rows, err
}
