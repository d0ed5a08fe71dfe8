// Package pricing holds the money rules shared by invoicing and closeouts.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TaxRate is the flat VAT applied to every line when tax is requested.
var TaxRate = decimal.RequireFromString("0.19")

// LowStockThreshold is the remaining quantity at or below which a sale warns.
const LowStockThreshold = 5

type Line struct {
	Subtotal    decimal.Decimal
	RateApplied decimal.Decimal
	Tax         decimal.Decimal
	Total       decimal.Decimal
}

type Totals struct {
	Subtotal decimal.Decimal
	TaxTotal decimal.Decimal
	Total    decimal.Decimal
}

// LineAmounts prices qty units at unitPrice, adding flat VAT when applyTax is set.
func LineAmounts(unitPrice decimal.Decimal, qty int, applyTax bool) Line {
	subtotal := Round(unitPrice.Mul(decimal.NewFromInt(int64(qty))))
	line := Line{
		Subtotal:    subtotal,
		RateApplied: decimal.Zero,
		Tax:         decimal.Zero,
	}
	if applyTax {
		line.RateApplied = TaxRate
		line.Tax = Round(subtotal.Mul(TaxRate))
	}
	line.Total = line.Subtotal.Add(line.Tax)
	return line
}

func Sum(lines []Line) Totals {
	totals := Totals{Subtotal: decimal.Zero, TaxTotal: decimal.Zero}
	for _, line := range lines {
		totals.Subtotal = totals.Subtotal.Add(line.Subtotal)
		totals.TaxTotal = totals.TaxTotal.Add(line.Tax)
	}
	totals.Total = totals.Subtotal.Add(totals.TaxTotal)
	return totals
}

// Round rounds to cents, half away from zero.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

func IsLowStock(remaining int) bool {
	return remaining <= LowStockThreshold
}

func LowStockWarning(productName string, remaining int) string {
	return fmt.Sprintf("Low stock: %s has %d units remaining", productName, remaining)
}
