package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Product struct {
	ID             string          `json:"id"`
	CategoryID     string          `json:"category_id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Price          decimal.Decimal `json:"price"`
	MinPurchase    int             `json:"min_purchase"`
	MaxPurchase    int             `json:"max_purchase"`
	Active         bool            `json:"active"`
	ManualDelivery bool            `json:"manual_delivery"`
	SoldCount      int             `json:"sold_count"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CanPurchase reports whether qty units may be bought given the derived stock.
// Manual-delivery products are fulfilled out-of-band and carry no stock.
func (p Product) CanPurchase(qty, stock int) error {
	if !p.Active {
		return Invalid("product", "not available for purchase")
	}
	if qty < p.MinPurchase || qty < 1 {
		return Invalid("quantity", "below minimum purchase")
	}
	if p.MaxPurchase > 0 && qty > p.MaxPurchase {
		return Invalid("quantity", "above maximum purchase")
	}
	if !p.ManualDelivery && stock < qty {
		return ErrInsufficientStock
	}
	return nil
}

// Availability is the storefront view of derived stock.
type Availability struct {
	Status string `json:"status"` // IN_STOCK | LOW_STOCK | OUT_OF_STOCK | ON_REQUEST
	Qty    int    `json:"qty"`
}

func AvailabilityOf(p Product, stock int) Availability {
	if p.ManualDelivery {
		return Availability{Status: "ON_REQUEST"}
	}
	status := "OUT_OF_STOCK"
	switch {
	case stock >= 5:
		status = "IN_STOCK"
	case stock > 0:
		status = "LOW_STOCK"
	}
	return Availability{Status: status, Qty: stock}
}

// ProductView pairs a product with its derived stock for listings.
type ProductView struct {
	Product
	Stock        int          `json:"stock"`
	Availability Availability `json:"availability"`
}
