package repos

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"codeshop/internal/domain"
)

type ProductRepo struct{ db sqlx.ExtContext }

func NewProductRepo(db sqlx.ExtContext) *ProductRepo { return &ProductRepo{db: db} }

func (r *ProductRepo) Tx(tx *sqlx.Tx) *ProductRepo { return &ProductRepo{db: tx} }

const productCols = `id, category_id, name, description, price_cents, min_purchase, max_purchase,
	active, manual_delivery, sold_count, created_at`

type productRow struct {
	ID             string    `db:"id"`
	CategoryID     string    `db:"category_id"`
	Name           string    `db:"name"`
	Description    string    `db:"description"`
	PriceCents     int64     `db:"price_cents"`
	MinPurchase    int       `db:"min_purchase"`
	MaxPurchase    int       `db:"max_purchase"`
	Active         bool      `db:"active"`
	ManualDelivery bool      `db:"manual_delivery"`
	SoldCount      int       `db:"sold_count"`
	CreatedAt      time.Time `db:"created_at"`
}

func (p productRow) toDomain() domain.Product {
	return domain.Product{
		ID: p.ID, CategoryID: p.CategoryID, Name: p.Name, Description: p.Description,
		Price: fromCents(p.PriceCents), MinPurchase: p.MinPurchase, MaxPurchase: p.MaxPurchase,
		Active: p.Active, ManualDelivery: p.ManualDelivery, SoldCount: p.SoldCount, CreatedAt: p.CreatedAt,
	}
}

func toProducts(rows []productRow) []domain.Product {
	out := make([]domain.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

func (r *ProductRepo) Get(ctx context.Context, id string) (domain.Product, error) {
	var row productRow
	err := sqlx.GetContext(ctx, r.db, &row, r.db.Rebind(`SELECT `+productCols+` FROM products WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Product{}, err
	}
	return row.toDomain(), nil
}

// ProductFilter narrows storefront listings. Zero values mean "any".
type ProductFilter struct {
	Query      string
	CategoryID string
	// IncludeInactive is for admin listings only.
	IncludeInactive bool
	Limit, Offset   int
}

func (r *ProductRepo) Search(ctx context.Context, f ProductFilter) ([]domain.Product, error) {
	where := []string{"1 = 1"}
	args := []any{}
	if !f.IncludeInactive {
		where = append(where, "active = TRUE")
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		where = append(where, "(LOWER(name) LIKE ? OR LOWER(description) LIKE ?)")
		args = append(args, "%"+q+"%", "%"+q+"%")
	}
	if f.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	args = append(args, f.Limit, f.Offset)

	var rows []productRow
	err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(`
		SELECT `+productCols+` FROM products
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY sold_count DESC, name
		LIMIT ? OFFSET ?`), args...)
	if err != nil {
		return nil, err
	}
	return toProducts(rows), nil
}

// IncrementSold bumps the popularity counter after a completed delivery.
func (r *ProductRepo) IncrementSold(ctx context.Context, id string, qty int) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE products SET sold_count = sold_count + ? WHERE id = ?`), qty, id)
	return err
}

func (r *ProductRepo) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE products SET active = ? WHERE id = ?`), active, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
