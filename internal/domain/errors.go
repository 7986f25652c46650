package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("not allowed to act on this resource")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotReadyForDelivery = errors.New("order is not ready for delivery")
	ErrNotCancellable      = errors.New("order can no longer be cancelled")
	ErrInvalidTransition   = errors.New("invalid order state transition")
	ErrPromoInvalid        = errors.New("promo code rejected")
)

// ValidationError is a bad input shape, rejected before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Promo rejection reasons, in evaluation order.
const (
	PromoNotFound            = "not_found"
	PromoInactive            = "inactive"
	PromoNotStarted          = "not_started"
	PromoExpired             = "expired"
	PromoUsageLimitReached   = "usage_limit_reached"
	PromoUserLimitReached    = "user_limit_reached"
	PromoBelowMinimum        = "below_minimum"
	PromoProductNotEligible  = "product_not_eligible"
	PromoCategoryNotEligible = "category_not_eligible"
)

// PromoError carries the first failing promo check.
type PromoError struct {
	Code   string
	Reason string
}

func (e *PromoError) Error() string {
	return fmt.Sprintf("promo code %q rejected: %s", e.Code, e.Reason)
}

func (e *PromoError) Is(target error) bool { return target == ErrPromoInvalid }
