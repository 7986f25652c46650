package domain

import (
	"strings"
	"time"
)

const (
	CodeAvailable = "available"
	CodeReserved  = "reserved"
	CodeSold      = "sold"
)

// AccessCode is one sellable credential. Payload is opaque to the shop.
type AccessCode struct {
	ID         string            `json:"id"`
	ProductID  string            `json:"product_id"`
	Status     string            `json:"status"`
	OrderID    *string           `json:"order_id,omitempty"`
	ReservedAt *time.Time        `json:"reserved_at,omitempty"`
	SoldAt     *time.Time        `json:"sold_at,omitempty"`
	Payload    map[string]string `json:"payload"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Consistent checks the order-reference invariant for the code's status.
func (c AccessCode) Consistent() bool {
	switch c.Status {
	case CodeAvailable:
		return c.OrderID == nil
	case CodeReserved, CodeSold:
		return c.OrderID != nil
	}
	return false
}

// ParseCodePayload reads one upload line: "login=a;password=b" becomes a
// key/value payload, anything else is stored under "code".
func ParseCodePayload(line string) map[string]string {
	line = strings.TrimSpace(line)
	out := map[string]string{}
	if strings.Contains(line, "=") {
		for _, part := range strings.Split(line, ";") {
			k, v, ok := strings.Cut(part, "=")
			k = strings.TrimSpace(k)
			if !ok || k == "" {
				continue
			}
			out[k] = strings.TrimSpace(v)
		}
		if len(out) > 0 {
			return out
		}
	}
	out["code"] = line
	return out
}
