package domain

import "github.com/shopspring/decimal"

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

type User struct {
	ID      string          `json:"id"`
	Email   string          `json:"email"`
	Name    string          `json:"name"`
	Hash    string          `json:"-"`
	Role    string          `json:"role"`
	Balance decimal.Decimal `json:"balance"`
}

func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }
