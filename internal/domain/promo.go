package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

type PromoCode struct {
	Code          string           `json:"code"`
	DiscountType  string           `json:"discount_type"`
	Value         decimal.Decimal  `json:"value"`
	UsageLimit    *int             `json:"usage_limit,omitempty"`
	UserLimit     *int             `json:"user_usage_limit,omitempty"`
	UsedCount     int              `json:"used_count"`
	MinimumAmount *decimal.Decimal `json:"minimum_order_amount,omitempty"`
	StartsAt      *time.Time       `json:"starts_at,omitempty"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
	Active        bool             `json:"active"`
	ProductIDs    []string         `json:"product_ids,omitempty"`
	CategoryIDs   []string         `json:"category_ids,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// PromoCheck is the order context a code is validated against.
type PromoCheck struct {
	UserID     string
	ProductID  string
	CategoryID string
	Amount     decimal.Decimal
	// UserUses is how many of the user's orders already carry the code.
	UserUses int
	// InFlight counts open orders carrying the code; they will consume a use
	// when they complete.
	InFlight int
	Now      time.Time
}

// Validate runs the checks in order; the first failure is the reason.
func (p PromoCode) Validate(in PromoCheck) error {
	reject := func(reason string) error { return &PromoError{Code: p.Code, Reason: reason} }

	if !p.Active {
		return reject(PromoInactive)
	}
	if p.StartsAt != nil && in.Now.Before(*p.StartsAt) {
		return reject(PromoNotStarted)
	}
	if p.ExpiresAt != nil && !in.Now.Before(*p.ExpiresAt) {
		return reject(PromoExpired)
	}
	if p.UsageLimit != nil && p.UsedCount+in.InFlight >= *p.UsageLimit {
		return reject(PromoUsageLimitReached)
	}
	if p.UserLimit != nil && in.UserUses >= *p.UserLimit {
		return reject(PromoUserLimitReached)
	}
	if p.MinimumAmount != nil && in.Amount.LessThan(*p.MinimumAmount) {
		return reject(PromoBelowMinimum)
	}
	if len(p.ProductIDs) > 0 && !contains(p.ProductIDs, in.ProductID) {
		return reject(PromoProductNotEligible)
	}
	if len(p.CategoryIDs) > 0 && !contains(p.CategoryIDs, in.CategoryID) {
		return reject(PromoCategoryNotEligible)
	}
	return nil
}

// CalculateDiscount never returns more than amount.
func (p PromoCode) CalculateDiscount(amount decimal.Decimal) decimal.Decimal {
	if amount.Sign() <= 0 {
		return decimal.Zero
	}
	var d decimal.Decimal
	switch p.DiscountType {
	case DiscountPercentage:
		d = amount.Mul(p.Value).Div(decimal.NewFromInt(100)).Round(2)
	case DiscountFixed:
		d = decimal.Min(p.Value, amount)
	default:
		return decimal.Zero
	}
	if d.GreaterThan(amount) {
		d = amount
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
