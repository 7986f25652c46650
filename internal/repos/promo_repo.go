package repos

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"codeshop/internal/domain"
)

type PromoRepo struct{ db sqlx.ExtContext }

func NewPromoRepo(db sqlx.ExtContext) *PromoRepo { return &PromoRepo{db: db} }

func (r *PromoRepo) Tx(tx *sqlx.Tx) *PromoRepo { return &PromoRepo{db: tx} }

const promoCols = `code, discount_type, value_cents, usage_limit, user_usage_limit, used_count,
	minimum_cents, starts_at, expires_at, active, product_ids, category_ids, created_at`

type promoRow struct {
	Code         string     `db:"code"`
	DiscountType string     `db:"discount_type"`
	ValueCents   int64      `db:"value_cents"`
	UsageLimit   *int       `db:"usage_limit"`
	UserLimit    *int       `db:"user_usage_limit"`
	UsedCount    int        `db:"used_count"`
	MinimumCents *int64     `db:"minimum_cents"`
	StartsAt     *time.Time `db:"starts_at"`
	ExpiresAt    *time.Time `db:"expires_at"`
	Active       bool       `db:"active"`
	ProductIDs   string     `db:"product_ids"`
	CategoryIDs  string     `db:"category_ids"`
	CreatedAt    time.Time  `db:"created_at"`
}

func (p promoRow) toDomain() domain.PromoCode {
	out := domain.PromoCode{
		Code: p.Code, DiscountType: p.DiscountType, Value: fromCents(p.ValueCents),
		UsageLimit: p.UsageLimit, UserLimit: p.UserLimit, UsedCount: p.UsedCount,
		MinimumAmount: fromCentsPtr(p.MinimumCents), StartsAt: p.StartsAt, ExpiresAt: p.ExpiresAt,
		Active: p.Active, CreatedAt: p.CreatedAt,
	}
	_ = json.Unmarshal([]byte(p.ProductIDs), &out.ProductIDs)
	_ = json.Unmarshal([]byte(p.CategoryIDs), &out.CategoryIDs)
	return out
}

func idsJSON(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

// Get looks a code up case-insensitively; codes are stored upper-case.
func (r *PromoRepo) Get(ctx context.Context, code string) (domain.PromoCode, error) {
	var row promoRow
	err := sqlx.GetContext(ctx, r.db, &row, r.db.Rebind(`SELECT `+promoCols+` FROM promo_codes WHERE code = ?`),
		strings.ToUpper(strings.TrimSpace(code)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PromoCode{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PromoCode{}, err
	}
	return row.toDomain(), nil
}

// GetForUpdate is Get holding the row lock on postgres, so two orders cannot
// both take the last use.
func (r *PromoRepo) GetForUpdate(ctx context.Context, code string) (domain.PromoCode, error) {
	q := `SELECT ` + promoCols + ` FROM promo_codes WHERE code = ?`
	if isPostgres(r.db) {
		q += ` FOR UPDATE`
	}
	var row promoRow
	err := sqlx.GetContext(ctx, r.db, &row, r.db.Rebind(q), strings.ToUpper(strings.TrimSpace(code)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PromoCode{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PromoCode{}, err
	}
	return row.toDomain(), nil
}

func (r *PromoRepo) List(ctx context.Context) ([]domain.PromoCode, error) {
	var rows []promoRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, `SELECT `+promoCols+` FROM promo_codes ORDER BY created_at DESC, code`); err != nil {
		return nil, err
	}
	out := make([]domain.PromoCode, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *PromoRepo) Create(ctx context.Context, p domain.PromoCode) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO promo_codes(`+promoCols+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		strings.ToUpper(p.Code), p.DiscountType, toCents(p.Value), p.UsageLimit, p.UserLimit, p.UsedCount,
		toCentsPtr(p.MinimumAmount), p.StartsAt, p.ExpiresAt, p.Active,
		idsJSON(p.ProductIDs), idsJSON(p.CategoryIDs), p.CreatedAt)
	return err
}

func (r *PromoRepo) SetActive(ctx context.Context, code string, active bool) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE promo_codes SET active = ? WHERE code = ?`),
		active, strings.ToUpper(code))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IncrementUsage consumes one use. The guard makes concurrent redemptions of
// the last use fail instead of exceeding the limit.
func (r *PromoRepo) IncrementUsage(ctx context.Context, code string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE promo_codes SET used_count = used_count + 1
		WHERE code = ? AND (usage_limit IS NULL OR used_count < usage_limit)
	`), code)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.PromoError{Code: code, Reason: domain.PromoUsageLimitReached}
	}
	return nil
}

// DecrementUsage gives a use back; the count never goes below zero.
func (r *PromoRepo) DecrementUsage(ctx context.Context, code string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE promo_codes SET used_count = used_count - 1 WHERE code = ? AND used_count > 0
	`), code)
	return err
}
