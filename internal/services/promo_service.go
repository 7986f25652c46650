package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"codeshop/internal/domain"
	"codeshop/internal/repos"
)

type PromoService struct {
	Promos *repos.PromoRepo
	Orders *repos.OrderRepo
	Now    func() time.Time
}

func NewPromoService(promos *repos.PromoRepo, orders *repos.OrderRepo) *PromoService {
	return &PromoService{Promos: promos, Orders: orders, Now: utcNow}
}

func (s *PromoService) Tx(tx *sqlx.Tx) *PromoService {
	return &PromoService{Promos: s.Promos.Tx(tx), Orders: s.Orders.Tx(tx), Now: s.Now}
}

// Quote is the outcome of applying a code to a prospective order.
type Quote struct {
	Code     string          `json:"code"`
	Total    decimal.Decimal `json:"total"`
	Discount decimal.Decimal `json:"discount"`
	Net      decimal.Decimal `json:"net"`
}

// Apply validates code for userID buying qty of p and computes the discount.
// Rejections are *domain.PromoError.
func (s *PromoService) Apply(ctx context.Context, code, userID string, p domain.Product, qty int) (Quote, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	total := p.Price.Mul(decimal.NewFromInt(int64(qty))).Round(2)

	promo, err := s.Promos.GetForUpdate(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return Quote{}, &domain.PromoError{Code: code, Reason: domain.PromoNotFound}
	}
	if err != nil {
		return Quote{}, err
	}
	uses, err := s.Orders.CountPromoUses(ctx, promo.Code, userID)
	if err != nil {
		return Quote{}, err
	}
	inFlight := 0
	if promo.UsageLimit != nil {
		if inFlight, err = s.Orders.CountPromoInFlight(ctx, promo.Code); err != nil {
			return Quote{}, err
		}
	}
	if err := promo.Validate(domain.PromoCheck{
		UserID:     userID,
		ProductID:  p.ID,
		CategoryID: p.CategoryID,
		Amount:     total,
		UserUses:   uses,
		InFlight:   inFlight,
		Now:        s.Now(),
	}); err != nil {
		return Quote{}, err
	}
	d := promo.CalculateDiscount(total)
	return Quote{Code: promo.Code, Total: total, Discount: d, Net: total.Sub(d)}, nil
}

func (s *PromoService) IncrementUsage(ctx context.Context, code string) error {
	return s.Promos.IncrementUsage(ctx, code)
}

func (s *PromoService) DecrementUsage(ctx context.Context, code string) error {
	return s.Promos.DecrementUsage(ctx, code)
}

// Create is the admin path for new codes.
func (s *PromoService) Create(ctx context.Context, p domain.PromoCode) error {
	p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
	if p.Code == "" {
		return domain.Invalid("code", "required")
	}
	if p.DiscountType != domain.DiscountPercentage && p.DiscountType != domain.DiscountFixed {
		return domain.Invalid("discount_type", "must be percentage or fixed")
	}
	if !p.Value.IsPositive() {
		return domain.Invalid("value", "must be positive")
	}
	if p.DiscountType == domain.DiscountPercentage && p.Value.GreaterThan(decimal.NewFromInt(100)) {
		return domain.Invalid("value", "percentage above 100")
	}
	if p.StartsAt != nil && p.ExpiresAt != nil && !p.ExpiresAt.After(*p.StartsAt) {
		return domain.Invalid("expires_at", "must be after starts_at")
	}
	if _, err := s.Promos.Get(ctx, p.Code); err == nil {
		return domain.Invalid("code", "already exists")
	}
	p.UsedCount = 0
	p.CreatedAt = s.Now()
	return s.Promos.Create(ctx, p)
}

func (s *PromoService) List(ctx context.Context) ([]domain.PromoCode, error) {
	return s.Promos.List(ctx)
}

func (s *PromoService) SetActive(ctx context.Context, code string, active bool) error {
	return s.Promos.SetActive(ctx, code, active)
}
