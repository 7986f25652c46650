package repos

import "github.com/shopspring/decimal"

// Amounts are stored as integer hundredths.
func toCents(d decimal.Decimal) int64 { return d.Shift(2).Round(0).IntPart() }

func fromCents(c int64) decimal.Decimal { return decimal.New(c, -2) }

func fromCentsPtr(c *int64) *decimal.Decimal {
	if c == nil {
		return nil
	}
	d := fromCents(*c)
	return &d
}

func toCentsPtr(d *decimal.Decimal) *int64 {
	if d == nil {
		return nil
	}
	c := toCents(*d)
	return &c
}
